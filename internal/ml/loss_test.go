package ml

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmaxCrossEntropy(t *testing.T) {
	loss, grad := SoftmaxCrossEntropy([]float64{0, 0, 0, 0}, 2)
	assert.InDelta(t, math.Log(4), loss, 1e-12)

	var sum float64
	for _, g := range grad {
		sum += g
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.InDelta(t, 0.25-1, grad[2], 1e-12)
}

func TestSoftmaxLargeLogits(t *testing.T) {
	var p = Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.InDelta(t, 0.5, p[1], 1e-12)
}

func TestBinaryCrossEntropyLogits(t *testing.T) {
	tests := []struct {
		name    string
		logits  []float64
		targets []float64
		want    float64
	}{
		{"zero logits", []float64{0, 0}, []float64{1, 0}, math.Log(2)},
		{"confident right", []float64{50, -50}, []float64{1, 0}, 0},
		{"confident wrong", []float64{-50}, []float64{1}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loss, grad := BinaryCrossEntropyLogits(tt.logits, tt.targets)
			assert.InDelta(t, tt.want, loss, 1e-9)
			require.Len(t, grad, len(tt.logits))
		})
	}
}

func randomEmbeddings(rnd *rand.Rand, n, dim int) [][]float64 {
	var result = make([][]float64, n)
	for i := range result {
		result[i] = make([]float64, dim)
		InitNorm(rnd, result[i], 0, 1)
	}
	return result
}

func TestNTXentGradient(t *testing.T) {
	var rnd = rand.New(rand.NewSource(1))
	const temperature = 0.5
	var z1 = randomEmbeddings(rnd, 3, 4)
	var z2 = randomEmbeddings(rnd, 3, 4)

	_, g1, g2 := NTXent(z1, z2, temperature)

	const h = 1e-6
	for _, side := range []struct {
		z    [][]float64
		grad [][]float64
	}{{z1, g1}, {z2, g2}} {
		for i := range side.z {
			for d := range side.z[i] {
				var orig = side.z[i][d]
				side.z[i][d] = orig + h
				plus, _, _ := NTXent(z1, z2, temperature)
				side.z[i][d] = orig - h
				minus, _, _ := NTXent(z1, z2, temperature)
				side.z[i][d] = orig
				var numeric = (plus - minus) / (2 * h)
				assert.InDelta(t, numeric, side.grad[i][d], 1e-5, "i=%v d=%v", i, d)
			}
		}
	}
}

func TestNTXentPrefersAlignedViews(t *testing.T) {
	var rnd = rand.New(rand.NewSource(2))
	var z1 = randomEmbeddings(rnd, 4, 8)
	var aligned = make([][]float64, len(z1))
	for i := range z1 {
		aligned[i] = append([]float64(nil), z1[i]...)
	}
	var unrelated = randomEmbeddings(rnd, 4, 8)

	lossAligned, _, _ := NTXent(z1, aligned, 0.1)
	lossRandom, _, _ := NTXent(z1, unrelated, 0.1)
	assert.Less(t, lossAligned, lossRandom)
}

func TestActivationDerivatives(t *testing.T) {
	const h = 1e-6
	var fns = []IActivationFn{&IdentityActivation{}, &ReLuActivation{}, &SigmoidActivation{}}
	for _, fn := range fns {
		for _, x := range []float64{-2, -0.3, 0.4, 1.5} {
			y, prime := fn.Activate(x)
			hi, _ := fn.Activate(x + h)
			lo, _ := fn.Activate(x - h)
			assert.InDelta(t, (hi-lo)/(2*h), prime, 1e-6)
			assert.False(t, math.IsNaN(y))
		}
	}
	y, _ := (&SigmoidActivation{}).Activate(0)
	assert.Equal(t, 0.5, y)
}
