package nn

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNetwork(t *testing.T, rnd *rand.Rand) *Sequential {
	const channels, length = 2, 9
	conv, err := NewConv1D(channels, length, 3, 3, 2, &ml.SigmoidActivation{})
	require.NoError(t, err)
	conv.InitWeightsReLU(rnd)
	var pool = NewGlobalAvgPool1D(conv.OutChannels(), conv.OutLength())
	var dense = NewDense(pool.OutputSize(), 2, &ml.IdentityActivation{}).InitWeightsSigmoid(rnd)
	net, err := NewSequential(conv, pool, dense)
	require.NoError(t, err)
	return net
}

func weightedSum(out, coef []float64) float64 {
	var s float64
	for i := range out {
		s += out[i] * coef[i]
	}
	return s
}

func TestSequentialGradients(t *testing.T) {
	var rnd = rand.New(rand.NewSource(7))
	var net = newTestNetwork(t, rnd)
	var input = make([]float64, net.InputSize())
	ml.InitNorm(rnd, input, 0, 1)
	var coef = []float64{0.7, -1.3}

	net.Forward(input)
	var inputGrad = append([]float64(nil), net.Backward(coef)...)

	const h = 1e-6
	for i := range input {
		var orig = input[i]
		input[i] = orig + h
		var plus = weightedSum(net.Forward(input), coef)
		input[i] = orig - h
		var minus = weightedSum(net.Forward(input), coef)
		input[i] = orig
		assert.InDelta(t, (plus-minus)/(2*h), inputGrad[i], 1e-6, "input %v", i)
	}

	var conv = net.layers[0].(*Conv1D)
	for i := range conv.weights.Data {
		var orig = conv.weights.Data[i]
		conv.weights.Data[i] = orig + h
		var plus = weightedSum(net.Forward(input), coef)
		conv.weights.Data[i] = orig - h
		var minus = weightedSum(net.Forward(input), coef)
		conv.weights.Data[i] = orig
		assert.InDelta(t, (plus-minus)/(2*h), conv.wGradients.Data[i].Value, 1e-6, "conv weight %v", i)
	}
}

func TestSequentialRejectsShapeMismatch(t *testing.T) {
	_, err := NewSequential(
		NewDense(4, 3, &ml.ReLuActivation{}),
		NewDense(5, 1, &ml.IdentityActivation{}))
	assert.Error(t, err)
}

func TestConv1DRejectsShortInput(t *testing.T) {
	_, err := NewConv1D(1, 3, 1, 5, 1, &ml.ReLuActivation{})
	assert.Error(t, err)
}

func TestThreadCopySharesWeightsAndFoldsGradients(t *testing.T) {
	var rnd = rand.New(rand.NewSource(3))
	var main = NewDense(3, 2, &ml.IdentityActivation{}).InitWeightsReLU(rnd)
	var replica = main.ThreadCopy().(*Dense)

	assert.Same(t, &main.weights.Data[0], &replica.weights.Data[0])

	replica.Forward([]float64{1, 2, 3})
	replica.Backward([]float64{1, 1})
	replica.AddGradients(main)

	assert.Zero(t, replica.wGradients.Norm2())
	assert.InDelta(t, 1+4+9+1+4+9, main.wGradients.Norm2(), 1e-12)
}

func TestParamsRoundTrip(t *testing.T) {
	var rnd = rand.New(rand.NewSource(5))
	var src = newTestNetwork(t, rnd)
	var dst = newTestNetwork(t, rand.New(rand.NewSource(6)))

	var buf bytes.Buffer
	require.NoError(t, WriteParams(&buf, src.Params()))
	require.NoError(t, ReadParams(&buf, dst.Params()))

	var srcParams, dstParams = src.Params(), dst.Params()
	for i := range srcParams {
		assert.InDeltaSlice(t, srcParams[i].Data, dstParams[i].Data, 1e-6)
	}
}

func TestReadParamsErrors(t *testing.T) {
	var net = newTestNetwork(t, rand.New(rand.NewSource(1)))

	err := ReadParams(bytes.NewReader([]byte{1, 2, 1, 0}), net.Params())
	assert.ErrorIs(t, err, ErrBadMagic)

	var buf bytes.Buffer
	require.NoError(t, WriteParams(&buf, net.Params()[:1]))
	err = ReadParams(&buf, net.Params())
	assert.ErrorIs(t, err, ErrParamsMismatch)

	var other = NewDense(2, 2, &ml.IdentityActivation{})
	buf.Reset()
	require.NoError(t, WriteParams(&buf, other.Params()))
	err = ReadParams(&buf, []*ml.Matrix{net.Params()[0], net.Params()[1]})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestCountParams(t *testing.T) {
	assert.Equal(t, 4*3+4, CountParams(NewDense(3, 4, &ml.ReLuActivation{})))
}
