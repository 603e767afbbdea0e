// Package dataset turns tensors into training examples and provides
// augmentation hooks for image data.
package dataset

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"densenet/neuralnet"
)

// OneHot encodes labels as an (n, classes) float64 tensor.
func OneHot(labels []int, classes int) (*tensor.Dense, error) {
	if classes <= 0 {
		return nil, errors.Errorf("class count %d", classes)
	}
	numLabels := len(labels)
	norm := make([]float64, numLabels*classes)
	for i, label := range labels {
		if label < 0 || label >= classes {
			return nil, errors.Errorf("label %d at %d outside [0, %d)", label, i, classes)
		}
		norm[i*classes+label] = 1.0
	}
	return tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(numLabels, classes), tensor.WithBacking(norm)), nil
}

// FromTensor splits a batch tensor along its first axis into one DataPoint
// per row, flattening the remaining axes into the input vector. Outputs are
// the one-hot encoding of labels.
func FromTensor(batch tensor.Tensor, labels []int, classes int) ([]neuralnet.DataPoint, error) {
	shape := batch.Shape()
	if len(shape) < 2 {
		return nil, errors.Errorf("batch tensor needs at least 2 axes, got shape %v", shape)
	}
	n := shape[0]
	if n != len(labels) {
		return nil, errors.Errorf("%d rows but %d labels", n, len(labels))
	}
	flat, err := float64s(batch)
	if err != nil {
		return nil, err
	}
	return splitRows(flat, labels, classes)
}

// splitRows cuts flat into len(labels) equal rows. No labels means no rows.
func splitRows(flat []float64, labels []int, classes int) ([]neuralnet.DataPoint, error) {
	n := len(labels)
	if n == 0 {
		return []neuralnet.DataPoint{}, nil
	}
	if len(flat)%n != 0 {
		return nil, errors.Wrapf(neuralnet.ErrDimensionMismatch, "%d values do not split into %d rows", len(flat), n)
	}
	rowSize := len(flat) / n

	targets, err := OneHot(labels, classes)
	if err != nil {
		return nil, err
	}
	oneHot := targets.Data().([]float64)

	points := make([]neuralnet.DataPoint, n)
	for i := range points {
		points[i] = neuralnet.NewDataPoint(flat[i*rowSize:(i+1)*rowSize], oneHot[i*classes:(i+1)*classes])
	}
	return points, nil
}

// FromTensors builds one DataPoint per tensor, e.g. per decoded image.
// Every tensor must have the same number of elements.
func FromTensors(items []tensor.Tensor, labels []int, classes int) ([]neuralnet.DataPoint, error) {
	if len(items) != len(labels) {
		return nil, errors.Errorf("%d tensors but %d labels", len(items), len(labels))
	}
	if len(items) == 0 {
		return []neuralnet.DataPoint{}, nil
	}
	targets, err := OneHot(labels, classes)
	if err != nil {
		return nil, err
	}
	oneHot := targets.Data().([]float64)

	points := make([]neuralnet.DataPoint, len(items))
	size := -1
	for i, item := range items {
		flat, err := float64s(item)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %d", i)
		}
		if size >= 0 && len(flat) != size {
			return nil, errors.Wrapf(neuralnet.ErrDimensionMismatch, "tensor %d has %d elements, want %d", i, len(flat), size)
		}
		size = len(flat)
		points[i] = neuralnet.NewDataPoint(flat, oneHot[i*classes:(i+1)*classes])
	}
	return points, nil
}

// float64s returns the elements of t in row-major order as float64.
func float64s(t tensor.Tensor) ([]float64, error) {
	size := t.Shape().TotalSize()
	var out []float64
	switch data := t.Data().(type) {
	case []float64:
		out = append([]float64(nil), data...)
	case []float32:
		out = make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
	default:
		return nil, errors.Errorf("unsupported tensor dtype %v", t.Dtype())
	}
	if len(out) != size {
		return nil, errors.Errorf("tensor backing has %d elements for shape %v; views must be materialized", len(out), t.Shape())
	}
	return out, nil
}
