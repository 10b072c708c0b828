package ml

import "math"

// IActivationFn returns the activation at x together with its derivative.
type IActivationFn interface {
	Activate(x float64) (y, prime float64)
}

type IdentityActivation struct{}

func (*IdentityActivation) Activate(x float64) (float64, float64) { return x, 1 }

type ReLuActivation struct{}

func (*ReLuActivation) Activate(x float64) (float64, float64) {
	if x > 0 {
		return x, 1
	}
	return 0, 0
}

type SigmoidActivation struct{}

func (*SigmoidActivation) Activate(x float64) (float64, float64) {
	var y = Sigmoid(x)
	return y, y * (1 - y)
}

// Sigmoid is shared with the binary cross-entropy loss.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
