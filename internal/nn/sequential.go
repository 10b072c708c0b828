package nn

import (
	"fmt"

	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
)

type Sequential struct {
	layers []Layer
}

func NewSequential(layers ...Layer) (*Sequential, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("sequential: no layers")
	}
	for i := 1; i < len(layers); i++ {
		if layers[i-1].OutputSize() != layers[i].InputSize() {
			return nil, fmt.Errorf("sequential: layer %v outputs %v values, layer %v expects %v",
				i-1, layers[i-1].OutputSize(), i, layers[i].InputSize())
		}
	}
	return &Sequential{layers: layers}, nil
}

func (s *Sequential) InputSize() int  { return s.layers[0].InputSize() }
func (s *Sequential) OutputSize() int { return s.layers[len(s.layers)-1].OutputSize() }

func (s *Sequential) Forward(input []float64) []float64 {
	var x = input
	for _, layer := range s.layers {
		x = layer.Forward(x)
	}
	return x
}

func (s *Sequential) Backward(outputGrad []float64) []float64 {
	var g = outputGrad
	for i := len(s.layers) - 1; i >= 0; i-- {
		g = s.layers[i].Backward(g)
	}
	return g
}

func (s *Sequential) ThreadCopy() Layer {
	var layers = make([]Layer, len(s.layers))
	for i, layer := range s.layers {
		layers[i] = layer.ThreadCopy()
	}
	return &Sequential{layers: layers}
}

func (s *Sequential) AddGradients(main Layer) {
	var m = main.(*Sequential)
	if m == s {
		return
	}
	for i, layer := range s.layers {
		layer.AddGradients(m.layers[i])
	}
}

func (s *Sequential) ApplyGradients(opt *ml.Optimizer) {
	for _, layer := range s.layers {
		layer.ApplyGradients(opt)
	}
}

func (s *Sequential) DiscardGradients() {
	for _, layer := range s.layers {
		layer.DiscardGradients()
	}
}

func (s *Sequential) Params() []*ml.Matrix {
	var result []*ml.Matrix
	for _, layer := range s.layers {
		result = append(result, layer.Params()...)
	}
	return result
}
