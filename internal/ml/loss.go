package ml

import "math"

const normEpsilon = 1e-8

// SoftmaxCrossEntropy returns the cross entropy of softmax(logits) against
// class and its gradient with respect to logits.
func SoftmaxCrossEntropy(logits []float64, class int) (float64, []float64) {
	var probs = Softmax(logits)
	var loss = -math.Log(math.Max(probs[class], 1e-12))
	var grad = probs
	grad[class] -= 1
	return loss, grad
}

func Softmax(logits []float64) []float64 {
	var maxLogit = math.Inf(-1)
	for _, x := range logits {
		maxLogit = math.Max(maxLogit, x)
	}
	var result = make([]float64, len(logits))
	var sum float64
	for i, x := range logits {
		result[i] = math.Exp(x - maxLogit)
		sum += result[i]
	}
	for i := range result {
		result[i] /= sum
	}
	return result
}

// BinaryCrossEntropyLogits averages the per-class binary cross entropy
// of sigmoid(logits) against targets in [0, 1].
func BinaryCrossEntropyLogits(logits, targets []float64) (float64, []float64) {
	var n = float64(len(logits))
	var loss float64
	var grad = make([]float64, len(logits))
	for i, x := range logits {
		var y = targets[i]
		// max(x,0) - x*y + log(1+exp(-|x|)) is stable for large |x|
		loss += math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
		grad[i] = (Sigmoid(x) - y) / n
	}
	return loss / n, grad
}

// NTXent is the normalized temperature-scaled cross entropy used by SimCLR.
// z1[i] and z2[i] are embeddings of the two views of sample i; every other
// embedding in the batch is a negative. The loss is averaged over all 2N
// anchors and the returned gradients are with respect to the raw embeddings.
func NTXent(z1, z2 [][]float64, temperature float64) (float64, [][]float64, [][]float64) {
	var n = len(z1)
	var total = 2 * n
	var u = make([][]float64, total)
	var norms = make([]float64, total)
	for k := 0; k < total; k++ {
		var h = z1[k%n]
		if k >= n {
			h = z2[k-n]
		}
		norms[k] = math.Max(L2Norm(h), normEpsilon)
		u[k] = make([]float64, len(h))
		for d := range h {
			u[k][d] = h[d] / norms[k]
		}
	}

	var sim = make([][]float64, total)
	for k := range sim {
		sim[k] = make([]float64, total)
		for j := range sim[k] {
			if j != k {
				sim[k][j] = Dot(u[k], u[j]) / temperature
			}
		}
	}

	// coef[k][j] = dL/dsim[k][j]
	var loss float64
	var coef = make([][]float64, total)
	for k := 0; k < total; k++ {
		var positive = (k + n) % total
		var maxSim = math.Inf(-1)
		for j := 0; j < total; j++ {
			if j != k {
				maxSim = math.Max(maxSim, sim[k][j])
			}
		}
		var sum float64
		for j := 0; j < total; j++ {
			if j != k {
				sum += math.Exp(sim[k][j] - maxSim)
			}
		}
		loss += -sim[k][positive] + maxSim + math.Log(sum)

		coef[k] = make([]float64, total)
		for j := 0; j < total; j++ {
			if j == k {
				continue
			}
			var p = math.Exp(sim[k][j]-maxSim) / sum
			if j == positive {
				p -= 1
			}
			coef[k][j] = p / float64(total)
		}
	}
	loss /= float64(total)

	var g1 = make([][]float64, n)
	var g2 = make([][]float64, n)
	for k := 0; k < total; k++ {
		var gu = make([]float64, len(u[k]))
		for j := 0; j < total; j++ {
			var c = (coef[k][j] + coef[j][k]) / temperature
			if c == 0 {
				continue
			}
			for d := range gu {
				gu[d] += c * u[j][d]
			}
		}
		// back through u = h / |h|
		var proj = Dot(gu, u[k])
		var gh = make([]float64, len(gu))
		for d := range gh {
			gh[d] = (gu[d] - proj*u[k][d]) / norms[k]
		}
		if k < n {
			g1[k] = gh
		} else {
			g2[k-n] = gh
		}
	}
	return loss, g1, g2
}
