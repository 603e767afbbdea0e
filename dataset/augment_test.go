package dataset

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"densenet/neuralnet"
)

// gradientImage is a width×height ramp with distinct pixel values.
func gradientImage(width, height int) []float64 {
	pixels := make([]float64, width*height)
	for i := range pixels {
		pixels[i] = float64(i) / float64(len(pixels)-1)
	}
	return pixels
}

func TestIdentityTransform(t *testing.T) {
	pixels := gradientImage(5, 4)
	out, err := IdentityTransform.Apply(pixels, 5, 4, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, pixels, out, 1e-9)
}

func TestRotateHalfTurn(t *testing.T) {
	const width, height = 4, 3
	pixels := gradientImage(width, height)
	out, err := Transform{AngleDegrees: 180, Scale: 1}.Apply(pixels, width, height, nil)
	require.NoError(t, err)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			want := pixels[(height-1-y)*width+(width-1-x)]
			assert.InDelta(t, want, out[y*width+x], 1e-9, "pixel (%d,%d)", x, y)
		}
	}
}

func TestTransformClampsAndValidates(t *testing.T) {
	pixels := gradientImage(4, 4)
	rng := rand.New(rand.NewPCG(3, 4))
	out, err := Transform{Scale: 0.8, OffsetX: 1.5, NoiseProbability: 1, NoiseStrength: 1}.Apply(pixels, 4, 4, rng)
	require.NoError(t, err)
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	_, err = IdentityTransform.Apply(pixels, 3, 4, nil)
	assert.ErrorIs(t, err, neuralnet.ErrDimensionMismatch)
	_, err = IdentityTransform.Apply(pixels[:1], 1, 1, nil)
	assert.Error(t, err)
	_, err = Transform{}.Apply(pixels, 4, 4, nil)
	assert.Error(t, err)
}

func TestJitterAugment(t *testing.T) {
	const width, height = 6, 6
	pixels := make([]float64, width*height)
	for y := 2; y < 4; y++ {
		for x := 2; x < 4; x++ {
			pixels[y*width+x] = 1
		}
	}
	p := neuralnet.NewDataPoint(pixels, []float64{0, 1})

	augment := func(seed uint64) neuralnet.DataPoint {
		j, err := NewJitter(width, height, rand.New(rand.NewPCG(seed, 0)))
		require.NoError(t, err)
		var fn neuralnet.Augmenter = j.Augment
		return fn(p)
	}

	got := augment(7)
	assert.Len(t, got.Inputs(), width*height)
	assert.Equal(t, []float64{0, 1}, got.Outputs())
	for _, v := range got.Inputs() {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, got.Inputs(), augment(7).Inputs(), "same seed, same jitter")
	assert.Equal(t, pixels, p.Inputs(), "source left untouched")
}

func TestJitterPassesThroughWrongSize(t *testing.T) {
	j, err := NewJitter(4, 4, nil)
	require.NoError(t, err)
	p := neuralnet.NewDataPoint([]float64{1, 2, 3}, []float64{1})
	assert.Equal(t, p.Inputs(), j.Augment(p).Inputs())

	_, err = NewJitter(1, 4, nil)
	assert.Error(t, err)
}

func TestJitterWithTrainer(t *testing.T) {
	const width, height = 4, 4
	data := make([]neuralnet.DataPoint, 8)
	for i := range data {
		pixels := make([]float64, width*height)
		label := []float64{1, 0}
		if i%2 == 1 {
			label = []float64{0, 1}
			pixels[5], pixels[6] = 1, 1
		} else {
			pixels[9], pixels[10] = 1, 1
		}
		data[i] = neuralnet.NewDataPoint(pixels, label)
	}

	nn, err := neuralnet.NewNeuralNetwork([]int{width * height, 8, 2}, neuralnet.ReLU{}, neuralnet.Softmax{}, neuralnet.CrossEntropy{}, neuralnet.DefaultParams())
	require.NoError(t, err)
	j, err := NewJitter(width, height, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	trainer, err := neuralnet.NewTrainer(nn, neuralnet.WithAugmenter(j.Augment))
	require.NoError(t, err)

	metrics, err := trainer.Train(context.Background(), data, 4, 3, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 4, metrics.Len())
}
