package neuralnet

import "math"

// adamEpsilon keeps the update finite when the second moment is zero.
const adamEpsilon = 1e-8

// adam performs one Adam step over flat parameter slices. A value is built
// per optimizer step and shared by every layer so all of them use the same
// bias correction.
//
//	g     = grad / batchSize, clipped to [-clip, clip] when clip > 0
//	m     = beta1*m + (1-beta1)*g
//	v     = beta2*v + (1-beta2)*g²
//	param = param - lr*(m̂/(√v̂+eps) + λ*param)
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	l2    float64
	clip  float64
	bc1   float64
	bc2   float64
	scale float64
}

func newAdam(p Params, batchSize, step int) adam {
	return adam{
		lr:    p.LearningRate,
		beta1: p.Beta1,
		beta2: p.Beta2,
		l2:    p.L2,
		clip:  p.GradientClip,
		bc1:   1 - math.Pow(p.Beta1, float64(step)),
		bc2:   1 - math.Pow(p.Beta2, float64(step)),
		scale: 1 / float64(batchSize),
	}
}

// apply updates param in place and zeroes grad. decay selects whether the
// L2 term is applied.
func (a adam) apply(param, grad, m, v []float64, decay bool) {
	for i := range param {
		g := grad[i] * a.scale
		if a.clip > 0 {
			g = math.Max(-a.clip, math.Min(a.clip, g))
		}
		m[i] = a.beta1*m[i] + (1-a.beta1)*g
		v[i] = a.beta2*v[i] + (1-a.beta2)*g*g

		mHat := m[i] / a.bc1
		vHat := v[i] / a.bc2
		update := mHat / (math.Sqrt(vHat) + adamEpsilon)
		if decay {
			update += a.l2 * param[i]
		}
		param[i] -= a.lr * update
		grad[i] = 0
	}
}
