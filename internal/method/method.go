// Package method implements the pretraining objectives that wrap an encoder.
package method

import (
	"errors"
	"log"

	"github.com/ChizhovVadim/ecgpretrain/internal/backbone"
	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"github.com/ChizhovVadim/ecgpretrain/internal/nn"
)

var ErrBadTarget = errors.New("method: bad target")

// Model is what the trainer drives. Forward and Backward work on a single
// view; Loss couples the whole batch. Like nn.Layer, a Model caches the
// last Forward for Backward and must be replicated with ThreadCopy.
type Model interface {
	Name() string
	Encoder() backbone.Encoder
	Head() nn.Layer
	UsesPairs() bool
	Forward(view []float64) []float64
	Backward(outputGrad []float64)
	Loss(out1, out2 [][]float64, targets []domain.Target) (float64, [][]float64, [][]float64, error)
	ThreadCopy() Model
	AddGradients(main Model)
	ApplyGradients(opt *ml.Optimizer)
	DiscardGradients()
}

type Config struct {
	NClasses       int
	TargetType     domain.TargetType
	Temperature    float64
	ProjHiddenDim  int
	ProjOutputDim  int
	PretrainedPath string
	FreezeEncoder  bool
	Logger         *log.Logger
}

func Params(m Model) []*ml.Matrix {
	var result = append([]*ml.Matrix(nil), m.Encoder().Params()...)
	return append(result, m.Head().Params()...)
}

func NumParams(m Model) int {
	return nn.CountParams(m.Encoder()) + nn.CountParams(m.Head())
}

func scale(grads [][]float64, k float64) {
	for _, g := range grads {
		for i := range g {
			g[i] *= k
		}
	}
}
