package nn

import (
	"math/rand"

	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
)

type Dense struct {
	activationFn ml.IActivationFn
	input        []float64
	outputs      []Neuron
	activations  []float64
	inputGrad    []float64
	weights      ml.Matrix
	biases       ml.Matrix
	wGradients   ml.Gradients
	bGradients   ml.Gradients
}

func NewDense(
	inputSize int,
	outputSize int,
	activationFn ml.IActivationFn,
) *Dense {
	return &Dense{
		activationFn: activationFn,
		outputs:      make([]Neuron, outputSize),
		activations:  make([]float64, outputSize),
		inputGrad:    make([]float64, inputSize),
		weights:      ml.NewMatrix(outputSize, inputSize),
		biases:       ml.NewMatrix(outputSize, 1),
		wGradients:   ml.NewGradients(outputSize, inputSize),
		bGradients:   ml.NewGradients(outputSize, 1),
	}
}

func (layer *Dense) InitWeightsSigmoid(rnd *rand.Rand) *Dense {
	var outputSize = layer.weights.Rows
	var inputSize = layer.weights.Cols
	var variance = 2.0 / float64(inputSize+outputSize)
	ml.InitUniform(rnd, layer.weights.Data, variance)
	return layer
}

func (layer *Dense) InitWeightsReLU(rnd *rand.Rand) *Dense {
	var inputSize = layer.weights.Cols
	var variance = 2.0 / float64(inputSize)
	ml.InitUniform(rnd, layer.weights.Data, variance)
	return layer
}

func (layer *Dense) InputSize() int  { return layer.weights.Cols }
func (layer *Dense) OutputSize() int { return layer.weights.Rows }

func (layer *Dense) ThreadCopy() Layer {
	return &Dense{
		activationFn: layer.activationFn,
		outputs:      make([]Neuron, len(layer.outputs)),
		activations:  make([]float64, len(layer.activations)),
		inputGrad:    make([]float64, len(layer.inputGrad)),
		weights:      layer.weights,
		biases:       layer.biases,
		wGradients:   ml.NewGradients(layer.wGradients.Rows, layer.wGradients.Cols),
		bGradients:   ml.NewGradients(layer.bGradients.Rows, layer.bGradients.Cols),
	}
}

func (layer *Dense) Forward(input []float64) []float64 {
	layer.input = input
	for outputIndex := range layer.outputs {
		var x = layer.biases.Data[outputIndex]
		for inputIndex, inputValue := range input {
			x += layer.weights.Get(outputIndex, inputIndex) * inputValue
		}
		var n = &layer.outputs[outputIndex]
		n.Activation, n.Prime = layer.activationFn.Activate(x)
		layer.activations[outputIndex] = n.Activation
	}
	return layer.activations
}

func (layer *Dense) Backward(outputGrad []float64) []float64 {
	for inputIndex := range layer.inputGrad {
		layer.inputGrad[inputIndex] = 0
	}
	for outputIndex := range layer.outputs {
		var n = &layer.outputs[outputIndex]
		n.Error = outputGrad[outputIndex]
		var x = n.Error * n.Prime
		if x == 0 {
			continue
		}
		layer.bGradients.Add(outputIndex, 0, x)
		for inputIndex, inputValue := range layer.input {
			layer.inputGrad[inputIndex] += layer.weights.Get(outputIndex, inputIndex) * x
			layer.wGradients.Add(outputIndex, inputIndex, x*inputValue)
		}
	}
	return layer.inputGrad
}

func (layer *Dense) AddGradients(main Layer) {
	var m = main.(*Dense)
	if m == layer {
		return
	}
	layer.wGradients.AddTo(&m.wGradients)
	layer.bGradients.AddTo(&m.bGradients)
}

func (layer *Dense) ApplyGradients(opt *ml.Optimizer) {
	layer.wGradients.Apply(&layer.weights, opt, true)
	layer.bGradients.Apply(&layer.biases, opt, false)
}

func (layer *Dense) DiscardGradients() {
	layer.wGradients.Discard()
	layer.bGradients.Discard()
}

func (layer *Dense) Params() []*ml.Matrix {
	return []*ml.Matrix{&layer.weights, &layer.biases}
}
