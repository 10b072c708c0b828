package nn

import (
	"fmt"
	"math/rand"

	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
)

// Conv1D is a valid (unpadded) strided 1D convolution over channel-major
// input: input[c*length+t].
type Conv1D struct {
	inChannels   int
	outChannels  int
	length       int
	kernel       int
	stride       int
	outLength    int
	activationFn ml.IActivationFn
	input        []float64
	primes       []float64
	activations  []float64
	inputGrad    []float64
	weights      ml.Matrix // outChannels x (inChannels*kernel)
	biases       ml.Matrix
	wGradients   ml.Gradients
	bGradients   ml.Gradients
}

func NewConv1D(
	inChannels, length, outChannels, kernel, stride int,
	activationFn ml.IActivationFn,
) (*Conv1D, error) {
	if kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("conv1d: kernel and stride must be positive, got %v and %v", kernel, stride)
	}
	if length < kernel {
		return nil, fmt.Errorf("conv1d: input length %v shorter than kernel %v", length, kernel)
	}
	var outLength = (length-kernel)/stride + 1
	return &Conv1D{
		inChannels:   inChannels,
		outChannels:  outChannels,
		length:       length,
		kernel:       kernel,
		stride:       stride,
		outLength:    outLength,
		activationFn: activationFn,
		primes:       make([]float64, outChannels*outLength),
		activations:  make([]float64, outChannels*outLength),
		inputGrad:    make([]float64, inChannels*length),
		weights:      ml.NewMatrix(outChannels, inChannels*kernel),
		biases:       ml.NewMatrix(outChannels, 1),
		wGradients:   ml.NewGradients(outChannels, inChannels*kernel),
		bGradients:   ml.NewGradients(outChannels, 1),
	}, nil
}

func (layer *Conv1D) InitWeightsReLU(rnd *rand.Rand) *Conv1D {
	var fanIn = layer.inChannels * layer.kernel
	ml.InitUniform(rnd, layer.weights.Data, 2.0/float64(fanIn))
	return layer
}

func (layer *Conv1D) InputSize() int  { return layer.inChannels * layer.length }
func (layer *Conv1D) OutputSize() int { return layer.outChannels * layer.outLength }
func (layer *Conv1D) OutChannels() int {
	return layer.outChannels
}
func (layer *Conv1D) OutLength() int { return layer.outLength }

func (layer *Conv1D) ThreadCopy() Layer {
	var c = *layer
	c.input = nil
	c.primes = make([]float64, len(layer.primes))
	c.activations = make([]float64, len(layer.activations))
	c.inputGrad = make([]float64, len(layer.inputGrad))
	c.wGradients = ml.NewGradients(layer.wGradients.Rows, layer.wGradients.Cols)
	c.bGradients = ml.NewGradients(layer.bGradients.Rows, layer.bGradients.Cols)
	return &c
}

func (layer *Conv1D) Forward(input []float64) []float64 {
	layer.input = input
	for o := 0; o < layer.outChannels; o++ {
		for p := 0; p < layer.outLength; p++ {
			var x = layer.biases.Data[o]
			var start = p * layer.stride
			for c := 0; c < layer.inChannels; c++ {
				var in = input[c*layer.length+start : c*layer.length+start+layer.kernel]
				for k, v := range in {
					x += layer.weights.Get(o, c*layer.kernel+k) * v
				}
			}
			var index = o*layer.outLength + p
			layer.activations[index], layer.primes[index] = layer.activationFn.Activate(x)
		}
	}
	return layer.activations
}

func (layer *Conv1D) Backward(outputGrad []float64) []float64 {
	for i := range layer.inputGrad {
		layer.inputGrad[i] = 0
	}
	for o := 0; o < layer.outChannels; o++ {
		for p := 0; p < layer.outLength; p++ {
			var index = o*layer.outLength + p
			var x = outputGrad[index] * layer.primes[index]
			if x == 0 {
				continue
			}
			layer.bGradients.Add(o, 0, x)
			var start = p * layer.stride
			for c := 0; c < layer.inChannels; c++ {
				var offset = c*layer.length + start
				for k := 0; k < layer.kernel; k++ {
					var col = c*layer.kernel + k
					layer.wGradients.Add(o, col, x*layer.input[offset+k])
					layer.inputGrad[offset+k] += layer.weights.Get(o, col) * x
				}
			}
		}
	}
	return layer.inputGrad
}

func (layer *Conv1D) AddGradients(main Layer) {
	var m = main.(*Conv1D)
	if m == layer {
		return
	}
	layer.wGradients.AddTo(&m.wGradients)
	layer.bGradients.AddTo(&m.bGradients)
}

func (layer *Conv1D) ApplyGradients(opt *ml.Optimizer) {
	layer.wGradients.Apply(&layer.weights, opt, true)
	layer.bGradients.Apply(&layer.biases, opt, false)
}

func (layer *Conv1D) DiscardGradients() {
	layer.wGradients.Discard()
	layer.bGradients.Discard()
}

func (layer *Conv1D) Params() []*ml.Matrix {
	return []*ml.Matrix{&layer.weights, &layer.biases}
}
