// Package backbone holds the ECG signal encoders. Every encoder reads a
// flattened lead-major window (nleads*window values) and produces a
// FeaturesDim representation.
package backbone

import (
	"fmt"
	"math/rand"

	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"github.com/ChizhovVadim/ecgpretrain/internal/nn"
)

type Encoder interface {
	nn.Layer
	Name() string
}

type Config struct {
	NLeads      int
	Window      int
	HiddenDim   int
	FeaturesDim int
	Channels    [2]int
	Kernel      int
	Stride      int
}

func DefaultConfig() Config {
	return Config{
		NLeads:      12,
		Window:      250,
		HiddenDim:   256,
		FeaturesDim: 128,
		Channels:    [2]int{32, 64},
		Kernel:      7,
		Stride:      3,
	}
}

func (c Config) Validate() error {
	if c.NLeads <= 0 || c.Window <= 0 {
		return fmt.Errorf("backbone: bad input shape %vx%v", c.NLeads, c.Window)
	}
	if c.HiddenDim <= 0 || c.FeaturesDim <= 0 {
		return fmt.Errorf("backbone: hidden and features dims must be positive")
	}
	return nil
}

type sequentialEncoder struct {
	name string
	net  *nn.Sequential
}

func (e *sequentialEncoder) Name() string      { return e.name }
func (e *sequentialEncoder) InputSize() int    { return e.net.InputSize() }
func (e *sequentialEncoder) OutputSize() int   { return e.net.OutputSize() }
func (e *sequentialEncoder) DiscardGradients() { e.net.DiscardGradients() }
func (e *sequentialEncoder) Params() []*ml.Matrix {
	return e.net.Params()
}

func (e *sequentialEncoder) Forward(input []float64) []float64 {
	return e.net.Forward(input)
}

func (e *sequentialEncoder) Backward(outputGrad []float64) []float64 {
	return e.net.Backward(outputGrad)
}

func (e *sequentialEncoder) ThreadCopy() nn.Layer {
	return &sequentialEncoder{
		name: e.name,
		net:  e.net.ThreadCopy().(*nn.Sequential),
	}
}

func (e *sequentialEncoder) AddGradients(main nn.Layer) {
	e.net.AddGradients(main.(*sequentialEncoder).net)
}

func (e *sequentialEncoder) ApplyGradients(opt *ml.Optimizer) {
	e.net.ApplyGradients(opt)
}

// NewMLP flattens the window and applies two ReLU dense layers.
func NewMLP(cfg Config, rnd *rand.Rand) (Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var inputSize = cfg.NLeads * cfg.Window
	net, err := nn.NewSequential(
		nn.NewDense(inputSize, cfg.HiddenDim, &ml.ReLuActivation{}).InitWeightsReLU(rnd),
		nn.NewDense(cfg.HiddenDim, cfg.FeaturesDim, &ml.ReLuActivation{}).InitWeightsReLU(rnd),
	)
	if err != nil {
		return nil, err
	}
	return &sequentialEncoder{name: "mlp", net: net}, nil
}

// NewCNN1D treats leads as input channels: two strided convolutions,
// global average pooling over time and a dense projection.
func NewCNN1D(cfg Config, rnd *rand.Rand) (Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conv1, err := nn.NewConv1D(cfg.NLeads, cfg.Window, cfg.Channels[0], cfg.Kernel, cfg.Stride, &ml.ReLuActivation{})
	if err != nil {
		return nil, err
	}
	conv1.InitWeightsReLU(rnd)
	conv2, err := nn.NewConv1D(conv1.OutChannels(), conv1.OutLength(), cfg.Channels[1], cfg.Kernel, cfg.Stride, &ml.ReLuActivation{})
	if err != nil {
		return nil, err
	}
	conv2.InitWeightsReLU(rnd)
	var pool = nn.NewGlobalAvgPool1D(conv2.OutChannels(), conv2.OutLength())
	var dense = nn.NewDense(pool.OutputSize(), cfg.FeaturesDim, &ml.ReLuActivation{}).InitWeightsReLU(rnd)
	net, err := nn.NewSequential(conv1, conv2, pool, dense)
	if err != nil {
		return nil, err
	}
	return &sequentialEncoder{name: "cnn1d", net: net}, nil
}
