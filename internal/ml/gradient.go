package ml

import "math"

const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Optimizer holds Adam hyperparameters. LearningRate is changed by the
// trainer between epochs when a schedule is configured.
type Optimizer struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

func NewAdam(learningRate, weightDecay float64) *Optimizer {
	return &Optimizer{
		LearningRate: learningRate,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
		WeightDecay:  weightDecay,
	}
}

type Gradient struct {
	Value float64
	M1    float64
	M2    float64
}

type Gradients struct {
	Data []Gradient
	Rows int
	Cols int
}

func (g *Gradient) Calculate(opt *Optimizer) float64 {

	if g.Value == 0 {
		// nothing to calculate
		return 0
	}

	g.M1 = g.M1*opt.Beta1 + g.Value*(1-opt.Beta1)
	g.M2 = g.M2*opt.Beta2 + (g.Value*g.Value)*(1-opt.Beta2)

	return opt.LearningRate * g.M1 / (math.Sqrt(g.M2) + opt.Epsilon)
}

func NewGradients(rows, cols int) Gradients {
	return Gradients{
		Data: make([]Gradient, cols*rows),
		Rows: rows,
		Cols: cols,
	}
}

func (g *Gradients) Add(row, col int, delta float64) {
	g.Data[col*g.Rows+row].Value += delta
}

func (g *Gradients) AddTo(parent *Gradients) {
	for i := range g.Data {
		parent.Data[i].Value += g.Data[i].Value
		g.Data[i].Value = 0
	}
}

// Apply performs one Adam step on m. Decoupled weight decay is applied
// only when decay is true (weights, not biases).
func (g *Gradients) Apply(m *Matrix, opt *Optimizer, decay bool) {
	var shrink = 1.0
	if decay && opt.WeightDecay != 0 {
		shrink = 1 - opt.LearningRate*opt.WeightDecay
	}
	for i := range g.Data {
		m.Data[i] = m.Data[i]*shrink - g.Data[i].Calculate(opt)
		g.Data[i].Value = 0
	}
}

// Discard drops accumulated values without touching moments.
func (g *Gradients) Discard() {
	for i := range g.Data {
		g.Data[i].Value = 0
	}
}

func (g *Gradients) Norm2() float64 {
	var s float64
	for i := range g.Data {
		s += g.Data[i].Value * g.Data[i].Value
	}
	return s
}
