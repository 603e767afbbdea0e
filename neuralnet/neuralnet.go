package neuralnet

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NeuralNetwork is an ordered stack of dense layers sharing one cost
// function and one set of optimizer hyperparameters. Only the output layer's
// activation may differ from the hidden activation.
type NeuralNetwork struct {
	layers    []*Layer
	cost      CostFunction
	params    Params
	rng       *rand.Rand
	softmaxCE bool
	// steps is the number of optimizer steps applied so far.
	steps int
}

// Option configures a NeuralNetwork.
type Option func(*NeuralNetwork)

// WithRand sets the generator used for weight initialization and dropout.
func WithRand(rng *rand.Rand) Option {
	return func(nn *NeuralNetwork) {
		nn.rng = rng
	}
}

// NewNeuralNetwork builds a network from a dimension list: dims[0] is the
// input width, dims[len(dims)-1] the output width, and there is one layer
// per consecutive pair.
func NewNeuralNetwork(dims []int, hidden, output ActivationFunction, cost CostFunction, params Params, opts ...Option) (*NeuralNetwork, error) {
	if err := validateTopology(dims, hidden, output, cost); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	nn := &NeuralNetwork{
		cost:      cost,
		params:    params,
		softmaxCE: isSoftmaxCrossEntropy(output, cost),
	}
	for _, opt := range opts {
		opt(nn)
	}
	if nn.rng == nil {
		nn.rng = rand.New(rand.NewPCG(NNSeed(dims), 0))
	}

	nn.layers = make([]*Layer, len(dims)-1)
	for i := range nn.layers {
		activation := hidden
		if i == len(nn.layers)-1 {
			activation = output
		}
		layer, err := NewLayer(dims[i], dims[i+1], activation, nn.rng)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		nn.layers[i] = layer
	}
	return nn, nil
}

// NNSeed derives a default seed from the topology so two networks with the
// same shape start from the same weights.
func NNSeed(dims []int) uint64 {
	var seed uint64
	for _, d := range dims {
		seed = seed*31 + uint64(d)
	}
	return seed
}

func validateTopology(dims []int, hidden, output ActivationFunction, cost CostFunction) error {
	if len(dims) < 2 {
		return errors.Wrapf(ErrInvalidConfig, "need at least 2 dimensions, got %v", dims)
	}
	for i, d := range dims {
		if d <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "dimension %d is %d", i, d)
		}
	}
	if hidden == nil || output == nil || cost == nil {
		return errors.Wrap(ErrInvalidConfig, "activation and cost functions are required")
	}
	if _, ok := hidden.(Softmax); ok && len(dims) > 2 {
		return errors.Wrap(ErrInvalidConfig, "softmax is only supported on the output layer")
	}
	_, softmax := output.(Softmax)
	_, sigmoid := output.(Sigmoid)
	_, ce := cost.(CrossEntropy)
	if softmax && !ce {
		return errors.Wrap(ErrInvalidConfig, "softmax output requires cross-entropy cost")
	}
	if ce && !softmax && !sigmoid {
		return errors.Wrapf(ErrInvalidConfig, "cross-entropy cost requires a sigmoid or softmax output, got %T", output)
	}
	return nil
}

// Dims returns the dimension list the network was built from.
func (nn *NeuralNetwork) Dims() []int {
	dims := make([]int, 0, len(nn.layers)+1)
	dims = append(dims, nn.layers[0].InDim())
	for _, l := range nn.layers {
		dims = append(dims, l.OutDim())
	}
	return dims
}

func (nn *NeuralNetwork) InputSize() int {
	return nn.layers[0].InDim()
}

func (nn *NeuralNetwork) OutputSize() int {
	return nn.layers[len(nn.layers)-1].OutDim()
}

// Layer returns the i-th layer.
func (nn *NeuralNetwork) Layer(i int) *Layer {
	return nn.layers[i]
}

func (nn *NeuralNetwork) NumLayers() int {
	return len(nn.layers)
}

func (nn *NeuralNetwork) CostFunction() CostFunction {
	return nn.cost
}

func (nn *NeuralNetwork) Params() Params {
	return nn.params
}

func (nn *NeuralNetwork) LearningRate() float64 {
	return nn.params.LearningRate
}

func (nn *NeuralNetwork) SetLearningRate(lr float64) {
	nn.params.LearningRate = lr
}

// Steps returns the number of optimizer steps applied so far.
func (nn *NeuralNetwork) Steps() int {
	return nn.steps
}

// ForwardPropagate feeds inputs through every layer. Dropout is applied to
// hidden layers only, and only when training is true.
func (nn *NeuralNetwork) ForwardPropagate(inputs []float64, training bool) ([]float64, error) {
	if err := checkLen("inputs", len(inputs), nn.InputSize()); err != nil {
		return nil, err
	}
	var x mat.Vector = mat.NewVecDense(len(inputs), inputs)
	last := len(nn.layers) - 1
	for i, layer := range nn.layers {
		rate := nn.params.DropoutRate
		if i == last {
			rate = 0
		}
		layer.forward(x, training, rate)
		x = layer.outputs
	}
	return copyVec(nn.layers[last].outputs), nil
}

// Predict runs an inference forward pass.
func (nn *NeuralNetwork) Predict(inputs []float64) ([]float64, error) {
	return nn.ForwardPropagate(inputs, false)
}

// Classify returns the index of the largest output.
func (nn *NeuralNetwork) Classify(inputs []float64) (int, error) {
	out, err := nn.Predict(inputs)
	if err != nil {
		return 0, err
	}
	return floats.MaxIdx(out), nil
}

// BackPropagate computes every layer's error signal for the last forward
// pass and accumulates the parameter gradients. inputs must be the inputs of
// that forward pass.
func (nn *NeuralNetwork) BackPropagate(inputs, expectedOutputs []float64) error {
	if err := checkLen("inputs", len(inputs), nn.InputSize()); err != nil {
		return err
	}
	if err := checkLen("expected outputs", len(expectedOutputs), nn.OutputSize()); err != nil {
		return err
	}

	x := mat.NewVecDense(len(inputs), inputs)
	layerInputs := func(i int) mat.Vector {
		if i == 0 {
			return x
		}
		return nn.layers[i-1].outputs
	}

	last := len(nn.layers) - 1
	out := nn.layers[last]
	out.backPropagateOutput(expectedOutputs, nn.cost, nn.softmaxCE)
	out.updateGradients(layerInputs(last))

	for i := last - 1; i >= 0; i-- {
		next := nn.layers[i+1]
		nn.layers[i].backPropagateHidden(next.nodeError, next.weights)
		nn.layers[i].updateGradients(layerInputs(i))
	}
	return nil
}

// UpdateWeightsAndBiases applies one Adam step to every layer. step must be
// greater than every step applied before.
func (nn *NeuralNetwork) UpdateWeightsAndBiases(batchSize, step int) error {
	if batchSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "batch size %d", batchSize)
	}
	if step <= nn.steps {
		return errors.Wrapf(ErrInvalidConfig, "step %d does not follow step %d", step, nn.steps)
	}
	a := newAdam(nn.params, batchSize, step)
	for _, layer := range nn.layers {
		layer.updateWeightsAndBiases(a)
	}
	nn.steps = step
	return nil
}

// Cost returns the cost of predicted against expected, plus the L2 penalty
// λ/2·Σw² when Params.IncludeL2InCost is set.
func (nn *NeuralNetwork) Cost(expected, predicted []float64) float64 {
	cost := nn.cost.Cost(expected, predicted)
	if nn.params.IncludeL2InCost && nn.params.L2 > 0 {
		var sum float64
		for _, layer := range nn.layers {
			sum += layer.squaredWeights()
		}
		cost += nn.params.L2 / 2 * sum
	}
	return cost
}

// Debug
func (l *Layer) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Dense %dx%d %T\n", l.InDim(), l.OutDim(), l.activation))
	sb.WriteString(fmt.Sprintf("Outputs: %.4g\n", l.outputs.RawVector().Data))
	sb.WriteString(fmt.Sprintf("Errors: %.4g\n", l.nodeError.RawVector().Data))
	return sb.String()
}

func (nn *NeuralNetwork) String() string {
	var sb strings.Builder
	for i, layer := range nn.layers {
		sb.WriteString(fmt.Sprintf("Layer %d:\n%s\n", i, layer.String()))
	}
	return sb.String()
}
