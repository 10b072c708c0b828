package nn

import "github.com/ChizhovVadim/ecgpretrain/internal/ml"

// Layer is a differentiable building block. Forward caches what Backward
// needs, so a Layer value must not be shared between goroutines: use
// ThreadCopy to get a replica that shares weights but owns its buffers
// and gradients.
//
// The slice returned by Forward and Backward is owned by the layer and is
// overwritten by the next call.
type Layer interface {
	InputSize() int
	OutputSize() int
	Forward(input []float64) []float64
	Backward(outputGrad []float64) []float64
	ThreadCopy() Layer
	AddGradients(main Layer)
	ApplyGradients(opt *ml.Optimizer)
	DiscardGradients()
	Params() []*ml.Matrix
}

type Neuron struct {
	Activation float64
	Error      float64
	Prime      float64
}

func CountParams(layer Layer) int {
	var n int
	for _, p := range layer.Params() {
		n += p.Size()
	}
	return n
}
