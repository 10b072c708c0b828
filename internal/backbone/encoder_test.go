package backbone

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	var cfg = DefaultConfig()
	cfg.Window = 40
	cfg.HiddenDim = 16
	cfg.FeaturesDim = 8
	cfg.Channels = [2]int{4, 6}
	cfg.Kernel = 5
	cfg.Stride = 2
	return cfg
}

func TestEncodersShape(t *testing.T) {
	tests := []struct {
		name string
		new  func(Config, *rand.Rand) (Encoder, error)
	}{
		{"mlp", NewMLP},
		{"cnn1d", NewCNN1D},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg = smallConfig()
			enc, err := tt.new(cfg, rand.New(rand.NewSource(1)))
			require.NoError(t, err)
			assert.Equal(t, tt.name, enc.Name())
			assert.Equal(t, cfg.NLeads*cfg.Window, enc.InputSize())
			assert.Equal(t, cfg.FeaturesDim, enc.OutputSize())

			var input = make([]float64, enc.InputSize())
			for i := range input {
				input[i] = float64(i%7) - 3
			}
			var out = enc.Forward(input)
			assert.Len(t, out, cfg.FeaturesDim)

			var grad = enc.Backward(make([]float64, cfg.FeaturesDim))
			assert.Len(t, grad, enc.InputSize())

			var replica = enc.ThreadCopy().(Encoder)
			assert.Equal(t, out, replica.Forward(input))
		})
	}
}

func TestEncodersAreSeeded(t *testing.T) {
	a, err := NewCNN1D(smallConfig(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := NewCNN1D(smallConfig(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, a.Params()[0].Data, b.Params()[0].Data)
}

func TestCNN1DWindowTooShort(t *testing.T) {
	var cfg = smallConfig()
	cfg.Window = 8
	_, err := NewCNN1D(cfg, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	var cfg = smallConfig()
	cfg.FeaturesDim = 0
	assert.Error(t, cfg.Validate())
}
