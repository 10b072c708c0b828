package ml

import (
	"fmt"
	"math"
)

// IScheduler returns the learning rate to use for a zero-based epoch.
type IScheduler interface {
	LearningRate(epoch int) float64
	Name() string
}

type ConstantSchedule struct {
	Base float64
}

func (s *ConstantSchedule) LearningRate(epoch int) float64 { return s.Base }
func (s *ConstantSchedule) Name() string                   { return "none" }

// CosineSchedule anneals from Base to Min over MaxEpochs.
type CosineSchedule struct {
	Base      float64
	Min       float64
	MaxEpochs int
}

func (s *CosineSchedule) LearningRate(epoch int) float64 {
	if s.MaxEpochs <= 1 {
		return s.Base
	}
	var t = math.Min(float64(epoch)/float64(s.MaxEpochs-1), 1)
	return s.Min + 0.5*(s.Base-s.Min)*(1+math.Cos(math.Pi*t))
}

func (s *CosineSchedule) Name() string { return "cosine" }

// StepSchedule multiplies Base by Gamma every StepSize epochs.
type StepSchedule struct {
	Base     float64
	StepSize int
	Gamma    float64
}

func (s *StepSchedule) LearningRate(epoch int) float64 {
	if s.StepSize <= 0 {
		return s.Base
	}
	return s.Base * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepSchedule) Name() string { return "step" }

func NewScheduler(name string, base float64, maxEpochs int, stepSize int, gamma float64) (IScheduler, error) {
	switch name {
	case "", "none":
		return &ConstantSchedule{Base: base}, nil
	case "cosine":
		return &CosineSchedule{Base: base, Min: 0, MaxEpochs: maxEpochs}, nil
	case "step":
		return &StepSchedule{Base: base, StepSize: stepSize, Gamma: gamma}, nil
	}
	return nil, fmt.Errorf("unknown scheduler %q", name)
}
