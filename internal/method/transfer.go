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

// Transfer puts a linear classifier on top of the encoder and trains on the
// dataset labels. With FreezeEncoder only the classifier learns (linear
// evaluation of a pretrained encoder).
type Transfer struct {
	encoder       backbone.Encoder
	classifier    *nn.Dense
	nClasses      int
	targetType    domain.TargetType
	freezeEncoder bool
	logger        *log.Logger
}

func NewTransfer(encoder backbone.Encoder, cfg Config, rnd *rand.Rand) (*Transfer, error) {
	if cfg.NClasses <= 0 {
		return nil, fmt.Errorf("transfer: number of classes must be positive, got %v", cfg.NClasses)
	}
	var m = &Transfer{
		encoder:       encoder,
		classifier:    nn.NewDense(encoder.OutputSize(), cfg.NClasses, &ml.IdentityActivation{}).InitWeightsSigmoid(rnd),
		nClasses:      cfg.NClasses,
		targetType:    cfg.TargetType,
		freezeEncoder: cfg.FreezeEncoder,
		logger:        cfg.Logger,
	}
	if cfg.PretrainedPath != "" {
		if err := LoadEncoder(cfg.PretrainedPath, encoder); err != nil {
			return nil, err
		}
		logf(cfg.Logger, "Loaded encoder weights from %v", cfg.PretrainedPath)
	}
	if m.freezeEncoder {
		logf(cfg.Logger, "Encoder %v is frozen", encoder.Name())
	}
	return m, nil
}

func (m *Transfer) Name() string              { return "transfer" }
func (m *Transfer) Encoder() backbone.Encoder { return m.encoder }
func (m *Transfer) Head() nn.Layer            { return m.classifier }
func (m *Transfer) UsesPairs() bool           { return false }

func (m *Transfer) Forward(view []float64) []float64 {
	return m.classifier.Forward(m.encoder.Forward(view))
}

func (m *Transfer) Backward(outputGrad []float64) {
	var g = m.classifier.Backward(outputGrad)
	if !m.freezeEncoder {
		m.encoder.Backward(g)
	}
}

func (m *Transfer) Loss(out1, out2 [][]float64, targets []domain.Target) (float64, [][]float64, [][]float64, error) {
	if len(out1) != len(targets) {
		return 0, nil, nil, fmt.Errorf("transfer: %v outputs, %v targets", len(out1), len(targets))
	}
	if len(out1) == 0 {
		return 0, nil, nil, fmt.Errorf("transfer: empty batch")
	}
	var total float64
	var grads = make([][]float64, len(out1))
	for i, logits := range out1 {
		var loss float64
		var grad []float64
		switch m.targetType {
		case domain.Single:
			if len(targets[i].Classes) != 1 {
				return 0, nil, nil, fmt.Errorf("%w: single target with %v classes", ErrBadTarget, len(targets[i].Classes))
			}
			var class = targets[i].Classes[0]
			if class < 0 || class >= m.nClasses {
				return 0, nil, nil, fmt.Errorf("%w: class %v out of range [0, %v)", ErrBadTarget, class, m.nClasses)
			}
			loss, grad = ml.SoftmaxCrossEntropy(logits, class)
		case domain.Multilabel:
			var multiHot = make([]float64, m.nClasses)
			for _, class := range targets[i].Classes {
				if class < 0 || class >= m.nClasses {
					return 0, nil, nil, fmt.Errorf("%w: class %v out of range [0, %v)", ErrBadTarget, class, m.nClasses)
				}
				multiHot[class] = 1
			}
			loss, grad = ml.BinaryCrossEntropyLogits(logits, multiHot)
		default:
			return 0, nil, nil, fmt.Errorf("%w: unknown target type %v", ErrBadTarget, m.targetType)
		}
		total += loss
		grads[i] = grad
	}
	var n = float64(len(out1))
	scale(grads, 1/n)
	return total / n, grads, nil, nil
}

func (m *Transfer) ThreadCopy() Model {
	return &Transfer{
		encoder:       m.encoder.ThreadCopy().(backbone.Encoder),
		classifier:    m.classifier.ThreadCopy().(*nn.Dense),
		nClasses:      m.nClasses,
		targetType:    m.targetType,
		freezeEncoder: m.freezeEncoder,
		logger:        m.logger,
	}
}

func (m *Transfer) AddGradients(main Model) {
	var mm = main.(*Transfer)
	if mm == m {
		return
	}
	m.encoder.AddGradients(mm.encoder)
	m.classifier.AddGradients(mm.classifier)
}

func (m *Transfer) ApplyGradients(opt *ml.Optimizer) {
	if m.freezeEncoder {
		m.encoder.DiscardGradients()
	} else {
		m.encoder.ApplyGradients(opt)
	}
	m.classifier.ApplyGradients(opt)
}

func (m *Transfer) DiscardGradients() {
	m.encoder.DiscardGradients()
	m.classifier.DiscardGradients()
}
