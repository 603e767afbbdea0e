package neuralnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateWeightsAndBiasesInvalidBatchSize(t *testing.T) {
	layer, err := NewLayer(1, 1, Identity{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, layer.UpdateWeightsAndBiases(DefaultParams(), 0, 1), ErrInvalidConfig)
	assert.ErrorIs(t, layer.UpdateWeightsAndBiases(DefaultParams(), -1, 1), ErrInvalidConfig)
	assert.ErrorIs(t, layer.UpdateWeightsAndBiases(DefaultParams(), 1, 0), ErrInvalidConfig)
}

func TestAdamSingleStep(t *testing.T) {
	p := Params{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, L2: 0.01}
	a := newAdam(p, 2, 1)

	param := []float64{1.0}
	grad := []float64{0.4} // averaged over a batch of 2: 0.2
	m := []float64{0}
	v := []float64{0}
	a.apply(param, grad, m, v, true)

	g := 0.2
	assert.InDelta(t, 0.1*g, m[0], 1e-15)
	assert.InDelta(t, 0.001*g*g, v[0], 1e-15)
	mHat, vHat := g, g*g
	want := 1.0 - 0.1*(mHat/(math.Sqrt(vHat)+adamEpsilon)+0.01*1.0)
	assert.InDelta(t, want, param[0], 1e-12)
	assert.Equal(t, 0.0, grad[0])
}

func TestAdamSkipsDecayForBiases(t *testing.T) {
	p := Params{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, L2: 0.5}
	a := newAdam(p, 1, 1)

	weights := []float64{2}
	biases := []float64{2}
	a.apply(weights, []float64{0}, []float64{0}, []float64{0}, true)
	a.apply(biases, []float64{0}, []float64{0}, []float64{0}, false)

	assert.InDelta(t, 2-0.1*0.5*2, weights[0], 1e-12)
	assert.Equal(t, 2.0, biases[0])
}

func TestAdamGradientClip(t *testing.T) {
	p := Params{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, GradientClip: 1}
	a := newAdam(p, 1, 1)

	m := []float64{0}
	a.apply([]float64{0}, []float64{10}, m, []float64{0}, true)
	assert.InDelta(t, 0.1, m[0], 1e-15)

	m[0] = 0
	a.apply([]float64{0}, []float64{-10}, m, []float64{0}, true)
	assert.InDelta(t, -0.1, m[0], 1e-15)
}

func TestAdamBiasCorrectedMomentTracksConstantGradient(t *testing.T) {
	p := DefaultParams()
	const gradient = 0.3

	param := []float64{0}
	m := []float64{0}
	v := []float64{0}
	prev := math.Inf(1)
	for step := 1; step <= 200; step++ {
		a := newAdam(p, 1, step)
		a.apply(param, []float64{gradient}, m, v, true)

		mHat := m[0] / a.bc1
		diff := math.Abs(mHat - gradient)
		assert.LessOrEqual(t, diff, prev+1e-15, "step %d", step)
		assert.Less(t, diff, 1e-12, "step %d", step)
		prev = diff
	}
	// With a constant gradient every step moves the parameter by about lr.
	assert.InDelta(t, -200*p.LearningRate, param[0], 1e-6)
}

func TestLayerMomentsPersistAcrossBatches(t *testing.T) {
	layer, err := NewLayer(1, 1, Identity{}, nil)
	require.NoError(t, err)
	require.NoError(t, layer.SetWeights(denseOf(1, 1, 0.5), []float64{0}))
	p := DefaultParams()

	for step := 1; step <= 3; step++ {
		_, err := layer.ForwardPropagate([]float64{1}, true, 0)
		require.NoError(t, err)
		_, err = layer.BackPropagateOutputLayer([]float64{0}, MeanSquaredError{})
		require.NoError(t, err)
		require.NoError(t, layer.UpdateGradients([]float64{1}))
		require.NoError(t, layer.UpdateWeightsAndBiases(p, 1, step))

		assert.Equal(t, 0.0, layer.gradW.At(0, 0), "gradients are cleared after a step")
		assert.Equal(t, 0.0, layer.gradB.AtVec(0))
		assert.NotEqual(t, 0.0, layer.mW.At(0, 0), "moments survive a step")
		assert.NotEqual(t, 0.0, layer.vB.AtVec(0))
	}
}
