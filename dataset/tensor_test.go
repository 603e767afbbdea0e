package dataset

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"densenet/neuralnet"
)

func TestOneHot(t *testing.T) {
	encoded, err := OneHot([]int{2, 0, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 3}, encoded.Shape())
	assert.Equal(t, []float64{
		0, 0, 1,
		1, 0, 0,
		0, 1, 0,
	}, encoded.Data())

	_, err = OneHot([]int{3}, 3)
	assert.Error(t, err)
	_, err = OneHot([]int{-1}, 3)
	assert.Error(t, err)
	_, err = OneHot([]int{0}, 0)
	assert.Error(t, err)
}

func TestFromTensor(t *testing.T) {
	batch := tensor.New(tensor.WithShape(2, 2, 2), tensor.WithBacking([]float32{
		0, 0.25, 0.5, 0.75,
		1, 0.5, 0, 0.125,
	}))
	points, err := FromTensor(batch, []int{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, points[0].Inputs())
	assert.Equal(t, []float64{0, 1}, points[0].Outputs())
	assert.Equal(t, []float64{1, 0.5, 0, 0.125}, points[1].Inputs())
	assert.Equal(t, []float64{1, 0}, points[1].Outputs())
}

func TestFromTensorRejectsBadInput(t *testing.T) {
	batch := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6}))

	_, err := FromTensor(batch, []int{0}, 2)
	assert.Error(t, err, "label count")

	_, err = FromTensor(batch, []int{0, 2}, 2)
	assert.Error(t, err, "label range")

	ints := tensor.New(tensor.WithShape(2, 1), tensor.WithBacking([]int{1, 2}))
	_, err = FromTensor(ints, []int{0, 1}, 2)
	assert.Error(t, err, "dtype")

	vector := tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{1, 2, 3}))
	_, err = FromTensor(vector, []int{0, 1, 0}, 2)
	assert.Error(t, err, "rank")
}

func TestEmptyBatches(t *testing.T) {
	points, err := splitRows(nil, nil, 3)
	require.NoError(t, err)
	assert.Empty(t, points)

	points, err = FromTensors(nil, nil, 3)
	require.NoError(t, err)
	assert.Empty(t, points)

	_, err = splitRows([]float64{1, 2, 3}, []int{0, 1}, 2)
	assert.ErrorIs(t, err, neuralnet.ErrDimensionMismatch)
}

func TestFromTensors(t *testing.T) {
	a := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))
	b := tensor.New(tensor.WithShape(4), tensor.WithBacking([]float32{5, 6, 7, 8}))

	points, err := FromTensors([]tensor.Tensor{a, b}, []int{0, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, points[0].Inputs())
	assert.Equal(t, []float64{5, 6, 7, 8}, points[1].Inputs())
	assert.Equal(t, []float64{0, 1}, points[1].Outputs())

	short := tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{1, 2, 3}))
	_, err = FromTensors([]tensor.Tensor{a, short}, []int{0, 1}, 2)
	assert.True(t, errors.Is(err, neuralnet.ErrDimensionMismatch))

	_, err = FromTensors([]tensor.Tensor{a}, []int{0, 1}, 2)
	assert.Error(t, err)
}

func TestFromTensorFeedsNetwork(t *testing.T) {
	batch := tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
	}))
	points, err := FromTensor(batch, []int{0, 1, 1, 0}, 2)
	require.NoError(t, err)

	nn, err := neuralnet.NewNeuralNetwork([]int{2, 4, 2}, neuralnet.Tanh{}, neuralnet.Softmax{}, neuralnet.CrossEntropy{}, neuralnet.DefaultParams())
	require.NoError(t, err)
	trainer, err := neuralnet.NewTrainer(nn)
	require.NoError(t, err)
	cost, _, err := trainer.EvaluateModel(points)
	require.NoError(t, err)
	assert.Greater(t, cost, 0.0)
}
