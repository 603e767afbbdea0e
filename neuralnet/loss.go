package neuralnet

import (
	"math"

	"github.com/pkg/errors"
)

// CostFunction defines the loss of one example and its per-unit derivative.
// The loss must decompose additively over output units.
type CostFunction interface {
	// Cost returns the loss of predicted against expected.
	Cost(expected, predicted []float64) float64
	// Derivative returns ∂cost/∂predicted for a single output unit.
	Derivative(expected, predicted float64) float64
}

// MeanSquaredError is Σ(p-e)²/2.
type MeanSquaredError struct{}

func (MeanSquaredError) Cost(expected, predicted []float64) float64 {
	var cost float64
	for i := range predicted {
		d := predicted[i] - expected[i]
		cost += d * d
	}
	return cost / 2
}

func (MeanSquaredError) Derivative(expected, predicted float64) float64 {
	return predicted - expected
}

// CrossEntropy is the per-unit binary cross-entropy summed over outputs.
//
// Terms that evaluate to a non-finite value (a prediction of exactly 0 or 1
// on the wrong side) count as zero, and the derivative at those boundaries is
// zero. Saturated predictions are therefore under-counted on purpose.
type CrossEntropy struct{}

func (CrossEntropy) Cost(expected, predicted []float64) float64 {
	var cost float64
	for i := range predicted {
		p := predicted[i]
		var v float64
		if expected[i] == 1 {
			v = -math.Log(p)
		} else {
			v = -math.Log(1 - p)
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		cost += v
	}
	return cost
}

func (CrossEntropy) Derivative(expected, predicted float64) float64 {
	if predicted == 0 || predicted == 1 {
		return 0
	}
	return (predicted - expected) / (predicted * (1 - predicted))
}

// Cost names used by configuration files and saved networks.
const (
	CostMeanSquaredError = "mse"
	CostCrossEntropy     = "cross_entropy"
)

// CostName returns the registered name of c.
func CostName(c CostFunction) (string, error) {
	switch c.(type) {
	case MeanSquaredError:
		return CostMeanSquaredError, nil
	case CrossEntropy:
		return CostCrossEntropy, nil
	}
	return "", errors.Wrapf(ErrInvalidConfig, "unknown cost function %T", c)
}

// ParseCost looks a cost function up by name.
func ParseCost(name string) (CostFunction, error) {
	switch name {
	case CostMeanSquaredError:
		return MeanSquaredError{}, nil
	case CostCrossEntropy:
		return CrossEntropy{}, nil
	}
	return nil, errors.Wrapf(ErrInvalidConfig, "unknown cost function %q", name)
}
