package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"densenet/neuralnet"
)

// Transform describes one affine resampling of a greyscale image followed
// by optional salt noise.
type Transform struct {
	AngleDegrees     float64
	Scale            float64
	OffsetX          float64 // pixels
	OffsetY          float64 // pixels
	NoiseProbability float64
	NoiseStrength    float64
}

// IdentityTransform leaves an image unchanged.
var IdentityTransform = Transform{Scale: 1}

// Apply resamples a row-major width×height image with bilinear filtering.
// Results are clamped to [0, 1]. rng is only consulted when noise is enabled.
func (t Transform) Apply(pixels []float64, width, height int, rng *rand.Rand) ([]float64, error) {
	if width < 2 || height < 2 {
		return nil, errors.Errorf("image must be at least 2x2, got %dx%d", width, height)
	}
	if len(pixels) != width*height {
		return nil, errors.Wrapf(neuralnet.ErrDimensionMismatch, "%d pixels for %dx%d image", len(pixels), width, height)
	}
	if t.Scale == 0 {
		return nil, errors.New("transform scale must be non-zero")
	}

	xDim, yDim := float64(width), float64(height)
	angle := t.AngleDegrees * math.Pi / 180
	iHatX := math.Cos(angle) / t.Scale
	iHatY := math.Sin(angle) / t.Scale
	jHatX, jHatY := -iHatY, iHatX

	out := make([]float64, len(pixels))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			u := float64(x) / (xDim - 1)
			v := float64(y) / (yDim - 1)

			texX := clamp01(iHatX*(u-0.5)+jHatX*(v-0.5)+0.5-t.OffsetX/xDim) * (xDim - 1)
			texY := clamp01(iHatY*(u-0.5)+jHatY*(v-0.5)+0.5-t.OffsetY/yDim) * (yDim - 1)

			xi, yi := int(texX), int(texY)
			xf, yf := texX-float64(xi), texY-float64(yi)

			value := (1-xf)*(1-yf)*pixelAt(pixels, width, height, xi, yi) +
				(1-xf)*yf*pixelAt(pixels, width, height, xi, yi+1) +
				xf*(1-yf)*pixelAt(pixels, width, height, xi+1, yi) +
				xf*yf*pixelAt(pixels, width, height, xi+1, yi+1)

			if t.NoiseProbability > 0 && rng.Float64() <= t.NoiseProbability {
				value += (rng.Float64() - 0.5) * 2 * t.NoiseStrength
			}
			out[y*width+x] = clamp01(value)
		}
	}
	return out, nil
}

// Jitter draws a random small Transform per example, keeping the drawing's
// ink inside the frame.
type Jitter struct {
	Width, Height int

	AngleStdDev     float64 // degrees
	ScaleStdDev     float64
	OffsetReduction float64
	MaxNoise        float64

	rng *rand.Rand
}

// NewJitter returns a Jitter for width×height images with the usual
// handwritten-digit settings. A nil rng uses a fixed seed.
func NewJitter(width, height int, rng *rand.Rand) (*Jitter, error) {
	if width < 2 || height < 2 {
		return nil, errors.Errorf("image must be at least 2x2, got %dx%d", width, height)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(width), uint64(height)))
	}
	return &Jitter{
		Width:           width,
		Height:          height,
		AngleStdDev:     2,
		ScaleStdDev:     0.05,
		OffsetReduction: 0.6,
		MaxNoise:        0.05,
		rng:             rng,
	}, nil
}

// Random draws the transform for one image.
func (j *Jitter) Random(pixels []float64) Transform {
	minX, maxX, minY, maxY := j.Width, 0, j.Height, 0
	for y := 0; y < j.Height; y++ {
		for x := 0; x < j.Width; x++ {
			if pixels[y*j.Width+x] == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}

	t := Transform{
		AngleDegrees: j.rng.NormFloat64() * j.AngleStdDev,
		Scale:        1 + j.rng.NormFloat64()*j.ScaleStdDev,
	}
	t.OffsetX = lerp(float64(-minX), float64(j.Width-maxX), j.rng.Float64()) * j.OffsetReduction
	t.OffsetY = lerp(float64(-minY), float64(j.Height-maxY), j.rng.Float64()) * j.OffsetReduction
	t.NoiseProbability = math.Min(j.rng.Float64(), j.rng.Float64()) * j.MaxNoise
	t.NoiseStrength = math.Min(j.rng.Float64(), j.rng.Float64())
	return t
}

// Augment returns a jittered copy of p. Inputs of the wrong size pass
// through unchanged. Use j.Augment as a neuralnet.Augmenter.
func (j *Jitter) Augment(p neuralnet.DataPoint) neuralnet.DataPoint {
	pixels := p.Inputs()
	if len(pixels) != j.Width*j.Height {
		return p
	}
	out, err := j.Random(pixels).Apply(pixels, j.Width, j.Height, j.rng)
	if err != nil {
		return p
	}
	return neuralnet.NewDataPoint(out, p.Outputs())
}

func pixelAt(pixels []float64, width, height, x, y int) float64 {
	x = min(x, width-1)
	y = min(y, height-1)
	return pixels[y*width+x]
}

func clamp01(v float64) float64 {
	return math.Max(math.Min(v, 1), 0)
}

func lerp(a, b, f float64) float64 {
	return a*(1-f) + b*f
}
