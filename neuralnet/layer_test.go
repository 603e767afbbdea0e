package neuralnet

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func denseOf(r, c int, data ...float64) *mat.Dense {
	return mat.NewDense(r, c, data)
}

func TestLayerIdentityForward(t *testing.T) {
	layer, err := NewLayer(1, 1, Identity{}, nil)
	require.NoError(t, err)
	require.NoError(t, layer.SetWeights(denseOf(1, 1, 1.75), []float64{0}))

	for _, x := range []float64{0, 1, -3.5, 1e10} {
		out, err := layer.ForwardPropagate([]float64{x}, false, 0)
		require.NoError(t, err)
		assert.Equal(t, []float64{x * 1.75}, out)
	}
}

func TestLayerForwardIsInputsTimesWeightsPlusBias(t *testing.T) {
	layer, err := NewLayer(2, 3, Identity{}, nil)
	require.NoError(t, err)
	// weights[i][j] connects input i to unit j
	require.NoError(t, layer.SetWeights(denseOf(2, 3,
		1, 2, 3,
		4, 5, 6,
	), []float64{0.5, -0.5, 1}))

	out, err := layer.ForwardPropagate([]float64{1, 2}, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1 + 8 + 0.5, 2 + 10 - 0.5, 3 + 12 + 1}, out)
}

func TestLayerHeInitialization(t *testing.T) {
	layer, err := NewLayer(200, 50, ReLU{}, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	w := layer.weights.RawMatrix().Data
	var sum, sumSq float64
	for _, v := range w {
		sum += v
		sumSq += v * v
	}
	n := float64(len(w))
	assert.InDelta(t, 0, sum/n, 0.01)
	assert.InDelta(t, 2.0/200, sumSq/n, 0.001)
	assert.Equal(t, make([]float64, 50), layer.Biases())
}

func TestLayerDropout(t *testing.T) {
	layer, err := NewLayer(4, 200, Identity{}, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	inputs := []float64{0.3, -0.2, 0.9, 0.1}

	plain, err := layer.ForwardPropagate(inputs, false, 0.5)
	require.NoError(t, err)
	again, err := layer.ForwardPropagate(inputs, false, 0.5)
	require.NoError(t, err)
	assert.Equal(t, plain, again, "inference is deterministic")

	dropped, err := layer.ForwardPropagate(inputs, true, 0.5)
	require.NoError(t, err)
	zeros := 0
	for i, v := range dropped {
		if v == 0 {
			zeros++
			continue
		}
		assert.InDelta(t, plain[i]*2, v, 1e-12)
	}
	assert.Greater(t, zeros, 50)
	assert.Less(t, zeros, 150)
}

func TestLayerDropoutMasksError(t *testing.T) {
	layer, err := NewLayer(2, 64, Identity{}, rand.New(rand.NewPCG(5, 6)))
	require.NoError(t, err)
	_, err = layer.ForwardPropagate([]float64{1, 1}, true, 0.5)
	require.NoError(t, err)

	next := mat.NewDense(64, 1, nil)
	for i := 0; i < 64; i++ {
		next.Set(i, 0, 1)
	}
	nodeError, err := layer.BackPropagateHiddenLayer([]float64{1}, next)
	require.NoError(t, err)
	for i, e := range nodeError {
		assert.Equal(t, layer.mask.AtVec(i), e)
	}
}

func TestLayerGradientsAccumulateOverBatch(t *testing.T) {
	layer, err := NewLayer(2, 1, Identity{}, nil)
	require.NoError(t, err)
	require.NoError(t, layer.SetWeights(denseOf(2, 1, 1, 1), []float64{0}))

	examples := []struct{ in, expected []float64 }{
		{[]float64{1, 2}, []float64{0}},
		{[]float64{-1, 0.5}, []float64{1}},
	}
	var wantW0, wantW1, wantB float64
	for _, ex := range examples {
		_, err := layer.ForwardPropagate(ex.in, true, 0)
		require.NoError(t, err)
		nodeError, err := layer.BackPropagateOutputLayer(ex.expected, MeanSquaredError{})
		require.NoError(t, err)
		require.NoError(t, layer.UpdateGradients(ex.in))
		wantW0 += ex.in[0] * nodeError[0]
		wantW1 += ex.in[1] * nodeError[0]
		wantB += nodeError[0]
	}
	assert.InDelta(t, wantW0, layer.gradW.At(0, 0), 1e-15)
	assert.InDelta(t, wantW1, layer.gradW.At(1, 0), 1e-15)
	assert.InDelta(t, wantB, layer.gradB.AtVec(0), 1e-15)

	require.NoError(t, layer.UpdateWeightsAndBiases(DefaultParams(), len(examples), 1))
	assert.True(t, mat.Equal(mat.NewDense(2, 1, nil), layer.gradW))
	assert.Equal(t, 0.0, layer.gradB.AtVec(0))
}

func TestLayerDimensionChecks(t *testing.T) {
	layer, err := NewLayer(3, 2, ReLU{}, nil)
	require.NoError(t, err)

	_, err = layer.ForwardPropagate([]float64{1, 2}, false, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = layer.BackPropagateOutputLayer([]float64{1}, MeanSquaredError{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = layer.BackPropagateHiddenLayer([]float64{1}, mat.NewDense(3, 1, nil))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, layer.UpdateGradients([]float64{1}), ErrDimensionMismatch)
	assert.ErrorIs(t, layer.SetWeights(mat.NewDense(2, 2, nil), []float64{0, 0}), ErrDimensionMismatch)

	_, err = NewLayer(0, 2, ReLU{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLayerAccessorsReturnCopies(t *testing.T) {
	layer, err := NewLayer(2, 2, ReLU{}, nil)
	require.NoError(t, err)
	out, err := layer.ForwardPropagate([]float64{1, 1}, false, 0)
	require.NoError(t, err)
	out[0] = 42
	assert.NotEqual(t, 42.0, layer.Outputs()[0])

	w := layer.Weights()
	w.Set(0, 0, 42)
	assert.NotEqual(t, 42.0, layer.weights.At(0, 0))

	b := layer.Biases()
	b[0] = 42
	assert.Equal(t, 0.0, layer.biases.AtVec(0))
}
