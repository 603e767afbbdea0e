package neuralnet

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// DefaultLeakySlope is the negative-side slope used by NewLeakyReLU callers
// that have no preference.
const DefaultLeakySlope = 0.01

type ActivationFunction interface {
	Activate(x float64) float64
	Derivative(x float64) float64
}

// vectorActivation is implemented by activations that normalize across a
// whole layer instead of acting on each unit independently.
type vectorActivation interface {
	activateVec(dst, x []float64)
	derivativeVec(dst, x []float64)
}

// activateAll writes f(x) into dst.
func activateAll(a ActivationFunction, dst, x []float64) {
	if va, ok := a.(vectorActivation); ok {
		va.activateVec(dst, x)
		return
	}
	for i, v := range x {
		dst[i] = a.Activate(v)
	}
}

// derivativeAll writes f'(x) into dst.
func derivativeAll(a ActivationFunction, dst, x []float64) {
	if va, ok := a.(vectorActivation); ok {
		va.derivativeVec(dst, x)
		return
	}
	for i, v := range x {
		dst[i] = a.Derivative(v)
	}
}

type Identity struct{}

func (Identity) Activate(x float64) float64 {
	return x
}

func (Identity) Derivative(x float64) float64 {
	return 1
}

type ReLU struct{}

func (r ReLU) Activate(x float64) float64 {
	return math.Max(x, 0)
}

func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

type LeakyReLU struct {
	alpha float64
}

func NewLeakyReLU(alpha float64) LeakyReLU {
	return LeakyReLU{alpha: alpha}
}

func (l LeakyReLU) Alpha() float64 {
	return l.alpha
}

func (l LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.alpha * x
}

func (l LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.alpha
}

type Sigmoid struct{}

// Activate branches on the sign of x so exp never overflows.
func (s Sigmoid) Activate(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func (s Sigmoid) Derivative(x float64) float64 {
	sigmoid := s.Activate(x)
	return sigmoid * (1 - sigmoid)
}

type Tanh struct{}

func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

func (t Tanh) Derivative(x float64) float64 {
	tanh := t.Activate(x)
	return 1 - tanh*tanh
}

// SiLU is x * sigmoid(x).
type SiLU struct{}

func (SiLU) Activate(x float64) float64 {
	return x * Sigmoid{}.Activate(x)
}

func (SiLU) Derivative(x float64) float64 {
	s := Sigmoid{}.Activate(x)
	return s + x*s*(1-s)
}

// Softmax normalizes a whole layer into a probability distribution. The
// scalar methods treat x as a layer with a single unit.
//
// Its derivative is the diagonal of the softmax Jacobian, p_i * (1 - p_i),
// which only yields a correct gradient when the network pairs it with
// CrossEntropy. NewNetwork enforces that pairing.
type Softmax struct{}

func (Softmax) Activate(x float64) float64 {
	return 1
}

func (Softmax) Derivative(x float64) float64 {
	return 0
}

func (Softmax) activateVec(dst, x []float64) {
	peak := floats.Max(x)
	for i, v := range x {
		dst[i] = math.Exp(v - peak)
	}
	sum := floats.Sum(dst)
	floats.Scale(1/sum, dst)
}

func (s Softmax) derivativeVec(dst, x []float64) {
	s.activateVec(dst, x)
	for i, p := range dst {
		dst[i] = p * (1 - p)
	}
}

// Activation names used by configuration files and saved networks.
const (
	ActivationIdentity  = "identity"
	ActivationReLU      = "relu"
	ActivationLeakyReLU = "leaky_relu"
	ActivationSigmoid   = "sigmoid"
	ActivationTanh      = "tanh"
	ActivationSiLU      = "silu"
	ActivationSoftmax   = "softmax"
)

// ActivationName returns the registered name of a.
func ActivationName(a ActivationFunction) (string, error) {
	switch a.(type) {
	case Identity:
		return ActivationIdentity, nil
	case ReLU:
		return ActivationReLU, nil
	case LeakyReLU:
		return ActivationLeakyReLU, nil
	case Sigmoid:
		return ActivationSigmoid, nil
	case Tanh:
		return ActivationTanh, nil
	case SiLU:
		return ActivationSiLU, nil
	case Softmax:
		return ActivationSoftmax, nil
	}
	return "", errors.Wrapf(ErrInvalidConfig, "unknown activation %T", a)
}

// ParseActivation looks an activation up by name. alpha is only read for
// leaky_relu; zero selects DefaultLeakySlope.
func ParseActivation(name string, alpha float64) (ActivationFunction, error) {
	switch name {
	case ActivationIdentity:
		return Identity{}, nil
	case ActivationReLU:
		return ReLU{}, nil
	case ActivationLeakyReLU:
		if alpha == 0 {
			alpha = DefaultLeakySlope
		}
		return NewLeakyReLU(alpha), nil
	case ActivationSigmoid:
		return Sigmoid{}, nil
	case ActivationTanh:
		return Tanh{}, nil
	case ActivationSiLU:
		return SiLU{}, nil
	case ActivationSoftmax:
		return Softmax{}, nil
	}
	return nil, errors.Wrapf(ErrInvalidConfig, "unknown activation %q", name)
}
