package neuralnet

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Layer is one dense layer together with its Adam state.
//
// weights is inDim x outDim: weights[i][j] connects input i to unit j.
// Gradient accumulators are zero between optimizer steps; the moment
// estimates live for the whole life of the layer.
type Layer struct {
	weights *mat.Dense
	biases  *mat.VecDense

	gradW *mat.Dense
	gradB *mat.VecDense

	mW, vW *mat.Dense
	mB, vB *mat.VecDense

	// values is before activation, outputs is after
	values    *mat.VecDense
	outputs   *mat.VecDense
	nodeError *mat.VecDense
	mask      *mat.VecDense
	deriv     []float64

	activation ActivationFunction
	rng        *rand.Rand
}

// NewLayer creates a layer with He-initialized weights, N(0,1)·√(2/inDim),
// and zero biases. rng drives initialization and dropout sampling; nil
// selects a fixed-seed generator.
func NewLayer(inDim, outDim int, activation ActivationFunction, rng *rand.Rand) (*Layer, error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "layer dimensions %dx%d", inDim, outDim)
	}
	if activation == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil activation")
	}
	if rng == nil {
		rng = defaultRand()
	}
	l := newLayer(inDim, outDim, activation, rng)
	std := math.Sqrt(2.0 / float64(inDim))
	w := l.weights.RawMatrix().Data
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
	return l, nil
}

func newLayer(inDim, outDim int, activation ActivationFunction, rng *rand.Rand) *Layer {
	l := &Layer{
		weights:    mat.NewDense(inDim, outDim, nil),
		biases:     mat.NewVecDense(outDim, nil),
		gradW:      mat.NewDense(inDim, outDim, nil),
		gradB:      mat.NewVecDense(outDim, nil),
		mW:         mat.NewDense(inDim, outDim, nil),
		vW:         mat.NewDense(inDim, outDim, nil),
		mB:         mat.NewVecDense(outDim, nil),
		vB:         mat.NewVecDense(outDim, nil),
		values:     mat.NewVecDense(outDim, nil),
		outputs:    mat.NewVecDense(outDim, nil),
		nodeError:  mat.NewVecDense(outDim, nil),
		mask:       mat.NewVecDense(outDim, nil),
		deriv:      make([]float64, outDim),
		activation: activation,
		rng:        rng,
	}
	l.resetMask()
	return l
}

func defaultRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func (l *Layer) InDim() int {
	r, _ := l.weights.Dims()
	return r
}

func (l *Layer) OutDim() int {
	return l.biases.Len()
}

func (l *Layer) Activation() ActivationFunction {
	return l.activation
}

// Weights returns a copy of the weight matrix.
func (l *Layer) Weights() *mat.Dense {
	return mat.DenseCopyOf(l.weights)
}

// Biases returns a copy of the bias vector.
func (l *Layer) Biases() []float64 {
	return copyVec(l.biases)
}

// Outputs returns a copy of the outputs of the last forward pass.
func (l *Layer) Outputs() []float64 {
	return copyVec(l.outputs)
}

// SetWeights overwrites the weights and biases. Optimizer state is kept.
func (l *Layer) SetWeights(weights mat.Matrix, biases []float64) error {
	r, c := weights.Dims()
	if r != l.InDim() || c != l.OutDim() {
		return errors.Wrapf(ErrDimensionMismatch, "weights are %dx%d, want %dx%d", r, c, l.InDim(), l.OutDim())
	}
	if err := checkLen("biases", len(biases), l.OutDim()); err != nil {
		return err
	}
	l.weights.Copy(weights)
	copy(l.biases.RawVector().Data, biases)
	return nil
}

// ForwardPropagate computes the layer outputs for inputs. Dropout is only
// sampled when training is true.
func (l *Layer) ForwardPropagate(inputs []float64, training bool, dropoutRate float64) ([]float64, error) {
	if err := checkLen("layer inputs", len(inputs), l.InDim()); err != nil {
		return nil, err
	}
	l.forward(mat.NewVecDense(len(inputs), inputs), training, dropoutRate)
	return copyVec(l.outputs), nil
}

func (l *Layer) forward(inputs mat.Vector, training bool, dropoutRate float64) {
	l.values.MulVec(l.weights.T(), inputs)
	l.values.AddVec(l.values, l.biases)

	if training && dropoutRate > 0 {
		l.sampleMask(dropoutRate)
		l.values.MulElemVec(l.values, l.mask)
	} else {
		l.resetMask()
	}

	activateAll(l.activation, l.outputs.RawVector().Data, l.values.RawVector().Data)
}

// sampleMask draws inverted dropout: dropped units are 0, survivors are
// scaled by 1/(1-rate).
func (l *Layer) sampleMask(rate float64) {
	scale := 1 / (1 - rate)
	m := l.mask.RawVector().Data
	for i := range m {
		if l.rng.Float64() < rate {
			m[i] = 0
		} else {
			m[i] = scale
		}
	}
}

func (l *Layer) resetMask() {
	m := l.mask.RawVector().Data
	for i := range m {
		m[i] = 1
	}
}

// BackPropagateOutputLayer computes the error signal of an output layer
// against expected.
func (l *Layer) BackPropagateOutputLayer(expected []float64, cost CostFunction) ([]float64, error) {
	if err := checkLen("expected outputs", len(expected), l.OutDim()); err != nil {
		return nil, err
	}
	l.backPropagateOutput(expected, cost, isSoftmaxCrossEntropy(l.activation, cost))
	return copyVec(l.nodeError), nil
}

func (l *Layer) backPropagateOutput(expected []float64, cost CostFunction, softmaxCE bool) {
	out := l.outputs.RawVector().Data
	nodeError := l.nodeError.RawVector().Data
	mask := l.mask.RawVector().Data

	if softmaxCE {
		for i := range nodeError {
			nodeError[i] = (out[i] - expected[i]) * mask[i]
		}
		return
	}

	derivativeAll(l.activation, l.deriv, l.values.RawVector().Data)
	for i := range nodeError {
		nodeError[i] = cost.Derivative(expected[i], out[i]) * l.deriv[i] * mask[i]
	}
}

// BackPropagateHiddenLayer computes the error signal of a hidden layer from
// the error and weights of the layer after it.
func (l *Layer) BackPropagateHiddenLayer(nextLayerError []float64, nextLayerWeights mat.Matrix) ([]float64, error) {
	r, c := nextLayerWeights.Dims()
	if r != l.OutDim() || c != len(nextLayerError) {
		return nil, errors.Wrapf(ErrDimensionMismatch,
			"next layer weights are %dx%d with %d errors, layer width is %d", r, c, len(nextLayerError), l.OutDim())
	}
	l.backPropagateHidden(mat.NewVecDense(len(nextLayerError), nextLayerError), nextLayerWeights)
	return copyVec(l.nodeError), nil
}

func (l *Layer) backPropagateHidden(nextError mat.Vector, nextWeights mat.Matrix) {
	l.nodeError.MulVec(nextWeights, nextError)

	derivativeAll(l.activation, l.deriv, l.values.RawVector().Data)
	nodeError := l.nodeError.RawVector().Data
	mask := l.mask.RawVector().Data
	for i := range nodeError {
		nodeError[i] *= l.deriv[i] * mask[i]
	}
}

// UpdateGradients adds the gradient of the current error signal to the
// accumulators. Call it once per example of a batch.
func (l *Layer) UpdateGradients(layerInputs []float64) error {
	if err := checkLen("layer inputs", len(layerInputs), l.InDim()); err != nil {
		return err
	}
	l.updateGradients(mat.NewVecDense(len(layerInputs), layerInputs))
	return nil
}

func (l *Layer) updateGradients(inputs mat.Vector) {
	l.gradW.RankOne(l.gradW, 1, inputs, l.nodeError)
	l.gradB.AddVec(l.gradB, l.nodeError)
}

// UpdateWeightsAndBiases applies one Adam step using the gradients
// accumulated over a batch of batchSize examples, then zeroes them. step is
// the 1-based count of optimizer steps taken so far.
func (l *Layer) UpdateWeightsAndBiases(p Params, batchSize, step int) error {
	if batchSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "batch size %d", batchSize)
	}
	if step <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "step %d", step)
	}
	l.updateWeightsAndBiases(newAdam(p, batchSize, step))
	return nil
}

func (l *Layer) updateWeightsAndBiases(a adam) {
	a.apply(l.weights.RawMatrix().Data, l.gradW.RawMatrix().Data, l.mW.RawMatrix().Data, l.vW.RawMatrix().Data, true)
	a.apply(l.biases.RawVector().Data, l.gradB.RawVector().Data, l.mB.RawVector().Data, l.vB.RawVector().Data, false)
}

// squaredWeights returns Σw².
func (l *Layer) squaredWeights() float64 {
	var sum float64
	for _, w := range l.weights.RawMatrix().Data {
		sum += w * w
	}
	return sum
}

func copyVec(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	copy(out, v.RawVector().Data)
	return out
}

func isSoftmaxCrossEntropy(a ActivationFunction, c CostFunction) bool {
	_, softmax := a.(Softmax)
	_, ce := c.(CrossEntropy)
	return softmax && ce
}
