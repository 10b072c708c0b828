package method

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/ChizhovVadim/ecgpretrain/internal/backbone"
	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"github.com/ChizhovVadim/ecgpretrain/internal/nn"
)

// SimCLR trains the encoder so that two views of the same record land close
// together after a projection head, contrasted against every other view in
// the batch.
type SimCLR struct {
	encoder     backbone.Encoder
	projector   *nn.Sequential
	temperature float64
	logger      *log.Logger
}

func NewSimCLR(encoder backbone.Encoder, cfg Config, rnd *rand.Rand) (*SimCLR, error) {
	if cfg.Temperature <= 0 {
		return nil, fmt.Errorf("simclr: temperature must be positive, got %v", cfg.Temperature)
	}
	if cfg.ProjHiddenDim <= 0 || cfg.ProjOutputDim <= 0 {
		return nil, fmt.Errorf("simclr: projector dims must be positive")
	}
	projector, err := nn.NewSequential(
		nn.NewDense(encoder.OutputSize(), cfg.ProjHiddenDim, &ml.ReLuActivation{}).InitWeightsReLU(rnd),
		nn.NewDense(cfg.ProjHiddenDim, cfg.ProjOutputDim, &ml.IdentityActivation{}).InitWeightsSigmoid(rnd),
	)
	if err != nil {
		return nil, err
	}
	var m = &SimCLR{
		encoder:     encoder,
		projector:   projector,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
	if cfg.PretrainedPath != "" {
		if err := LoadEncoder(cfg.PretrainedPath, encoder); err != nil {
			return nil, err
		}
		logf(cfg.Logger, "Loaded encoder weights from %v", cfg.PretrainedPath)
	}
	return m, nil
}

func (m *SimCLR) Name() string              { return "simclr" }
func (m *SimCLR) Encoder() backbone.Encoder { return m.encoder }
func (m *SimCLR) Head() nn.Layer            { return m.projector }
func (m *SimCLR) UsesPairs() bool           { return true }

func (m *SimCLR) Forward(view []float64) []float64 {
	return m.projector.Forward(m.encoder.Forward(view))
}

func (m *SimCLR) Backward(outputGrad []float64) {
	m.encoder.Backward(m.projector.Backward(outputGrad))
}

func (m *SimCLR) Loss(out1, out2 [][]float64, targets []domain.Target) (float64, [][]float64, [][]float64, error) {
	if len(out1) != len(out2) {
		return 0, nil, nil, fmt.Errorf("simclr: %v first views, %v second views", len(out1), len(out2))
	}
	if len(out1) < 2 {
		return 0, nil, nil, fmt.Errorf("simclr: batch needs at least 2 samples for negatives, got %v", len(out1))
	}
	loss, g1, g2 := ml.NTXent(out1, out2, m.temperature)
	return loss, g1, g2, nil
}

func (m *SimCLR) ThreadCopy() Model {
	return &SimCLR{
		encoder:     m.encoder.ThreadCopy().(backbone.Encoder),
		projector:   m.projector.ThreadCopy().(*nn.Sequential),
		temperature: m.temperature,
		logger:      m.logger,
	}
}

func (m *SimCLR) AddGradients(main Model) {
	var mm = main.(*SimCLR)
	if mm == m {
		return
	}
	m.encoder.AddGradients(mm.encoder)
	m.projector.AddGradients(mm.projector)
}

func (m *SimCLR) ApplyGradients(opt *ml.Optimizer) {
	m.encoder.ApplyGradients(opt)
	m.projector.ApplyGradients(opt)
}

func (m *SimCLR) DiscardGradients() {
	m.encoder.DiscardGradients()
	m.projector.DiscardGradients()
}

func logf(logger *log.Logger, format string, v ...interface{}) {
	if logger != nil {
		logger.Printf(format, v...)
	}
}
