package nn

import "github.com/ChizhovVadim/ecgpretrain/internal/ml"

// GlobalAvgPool1D averages every channel of channel-major input over time.
type GlobalAvgPool1D struct {
	channels  int
	length    int
	output    []float64
	inputGrad []float64
}

func NewGlobalAvgPool1D(channels, length int) *GlobalAvgPool1D {
	return &GlobalAvgPool1D{
		channels:  channels,
		length:    length,
		output:    make([]float64, channels),
		inputGrad: make([]float64, channels*length),
	}
}

func (p *GlobalAvgPool1D) InputSize() int  { return p.channels * p.length }
func (p *GlobalAvgPool1D) OutputSize() int { return p.channels }

func (p *GlobalAvgPool1D) Forward(input []float64) []float64 {
	for c := 0; c < p.channels; c++ {
		var sum float64
		for _, v := range input[c*p.length : (c+1)*p.length] {
			sum += v
		}
		p.output[c] = sum / float64(p.length)
	}
	return p.output
}

func (p *GlobalAvgPool1D) Backward(outputGrad []float64) []float64 {
	for c := 0; c < p.channels; c++ {
		var g = outputGrad[c] / float64(p.length)
		for t := 0; t < p.length; t++ {
			p.inputGrad[c*p.length+t] = g
		}
	}
	return p.inputGrad
}

func (p *GlobalAvgPool1D) ThreadCopy() Layer {
	return NewGlobalAvgPool1D(p.channels, p.length)
}

func (p *GlobalAvgPool1D) AddGradients(main Layer)          {}
func (p *GlobalAvgPool1D) ApplyGradients(opt *ml.Optimizer) {}
func (p *GlobalAvgPool1D) DiscardGradients()                {}
func (p *GlobalAvgPool1D) Params() []*ml.Matrix             { return nil }
