package neuralnet

import (
	"math"

	"github.com/pkg/errors"
)

// Params holds the hyperparameters shared by every layer of a network.
type Params struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Beta1        float64 `json:"beta1" yaml:"beta1"`
	Beta2        float64 `json:"beta2" yaml:"beta2"`
	// L2 is the weight decay coefficient λ. Biases are never decayed.
	L2 float64 `json:"l2" yaml:"l2"`
	// DropoutRate applies to hidden layers only.
	DropoutRate float64 `json:"dropout_rate" yaml:"dropout_rate"`
	// GradientClip bounds every averaged gradient to [-clip, clip]. Zero
	// disables clipping.
	GradientClip float64 `json:"gradient_clip" yaml:"gradient_clip"`
	// IncludeL2InCost adds λ/2·Σw² to Network.Cost.
	IncludeL2InCost bool `json:"include_l2_in_cost" yaml:"include_l2_in_cost"`
}

func DefaultParams() Params {
	return Params{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
	}
}

func (p Params) Validate() error {
	switch {
	case !(p.LearningRate >= 0) || math.IsInf(p.LearningRate, 0):
		return errors.Wrapf(ErrInvalidConfig, "learning rate %v", p.LearningRate)
	case !(p.Beta1 >= 0 && p.Beta1 < 1):
		return errors.Wrapf(ErrInvalidConfig, "beta1 %v outside [0, 1)", p.Beta1)
	case !(p.Beta2 >= 0 && p.Beta2 < 1):
		return errors.Wrapf(ErrInvalidConfig, "beta2 %v outside [0, 1)", p.Beta2)
	case !(p.L2 >= 0):
		return errors.Wrapf(ErrInvalidConfig, "l2 %v is negative", p.L2)
	case !(p.DropoutRate >= 0 && p.DropoutRate < 1):
		return errors.Wrapf(ErrInvalidConfig, "dropout rate %v outside [0, 1)", p.DropoutRate)
	case !(p.GradientClip >= 0):
		return errors.Wrapf(ErrInvalidConfig, "gradient clip %v is negative", p.GradientClip)
	}
	return nil
}
