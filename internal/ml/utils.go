package ml

import (
	"math"
	"math/rand"
)

func InitUniform(rnd *rand.Rand, data []float64, variance float64) {
	var uniformVariance = 1.0 / 12
	var scale = math.Sqrt(variance / uniformVariance)
	for i := range data {
		data[i] = (rnd.Float64() - 0.5) * scale
	}
}

func InitNorm(rnd *rand.Rand, data []float64, mean, stDev float64) {
	for i := range data {
		data[i] = rnd.NormFloat64()*stDev + mean
	}
}

func Dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func L2Norm(a []float64) float64 {
	return math.Sqrt(Dot(a, a))
}

func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
