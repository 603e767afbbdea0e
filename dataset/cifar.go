package dataset

import (
	"bufio"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// CIFAR-10 binary records: one label byte followed by a 3×32×32 image in
// channel-major order.
const (
	CIFARChannels = 3
	CIFARSide     = 32
	CIFARClasses  = 10

	cifarImageSize = CIFARChannels * CIFARSide * CIFARSide
	cifarRowSize   = 1 + cifarImageSize
)

// ReadCIFAR decodes CIFAR-10 binary records until EOF. Each image becomes a
// (3, 32, 32) float64 tensor scaled to [0, 1].
func ReadCIFAR(r io.Reader) ([]tensor.Tensor, []int, error) {
	var (
		images []tensor.Tensor
		labels []int
	)
	row := make([]byte, cifarRowSize)
	for {
		_, err := io.ReadFull(r, row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading record %d", len(images))
		}
		label := int(row[0])
		if label >= CIFARClasses {
			return nil, nil, errors.Errorf("record %d: label %d", len(images), label)
		}

		norm := make([]float64, cifarImageSize)
		for i, b := range row[1:] {
			norm[i] = float64(b) / 255.0
		}
		images = append(images, tensor.New(tensor.WithShape(CIFARChannels, CIFARSide, CIFARSide), tensor.WithBacking(norm)))
		labels = append(labels, label)
	}
	return images, labels, nil
}

// ReadLabelNames reads one class name per line, as in batches.meta.txt.
// Blank lines are skipped.
func ReadLabelNames(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var names []string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			names = append(names, line)
		}
	}
	return names, errors.Wrap(scanner.Err(), "reading label names")
}

// EncodePNG writes a (channels, height, width) tensor with values in [0, 1]
// as a PNG. One channel gives a greyscale image, three give RGB.
func EncodePNG(w io.Writer, t tensor.Tensor) error {
	shape := t.Shape()
	if len(shape) != 3 || (shape[0] != 1 && shape[0] != 3) {
		return errors.Errorf("want a (1|3, h, w) tensor, got shape %v", shape)
	}
	pixels, err := float64s(t)
	if err != nil {
		return err
	}
	channels, height, width := shape[0], shape[1], shape[2]
	plane := height * width
	channel := func(c, x, y int) uint8 {
		return uint8(clamp01(pixels[c*plane+y*width+x])*255.0 + 0.5)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if channels == 1 {
				v := channel(0, x, y)
				img.Set(x, y, color.RGBA{v, v, v, 255})
				continue
			}
			img.Set(x, y, color.RGBA{channel(0, x, y), channel(1, x, y), channel(2, x, y), 255})
		}
	}
	return errors.Wrap(png.Encode(w, img), "encoding png")
}
