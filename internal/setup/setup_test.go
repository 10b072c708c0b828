package setup

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsDefaults(t *testing.T) {
	args, err := ParseArgsPretrain(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultArgs(), *args)
}

func TestParseArgsFlags(t *testing.T) {
	args, err := ParseArgsPretrain([]string{
		"-seed", "7",
		"-dataset", "chapman",
		"-encoder_name", "mlp",
		"-method", "transfer",
		"-batch_size", "16",
		"-wandb",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), args.Seed)
	assert.Equal(t, "chapman", args.Dataset)
	assert.Equal(t, "mlp", args.EncoderName)
	assert.Equal(t, "transfer", args.Method)
	assert.Equal(t, 16, args.BatchSize)
	assert.True(t, args.Wandb)
}

func TestParseArgsConfigFileThenFlags(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: cpsc2018\nbatch_size: 32\nlr: 0.01\n"), 0o644))

	args, err := ParseArgsPretrain([]string{"-config", path, "-batch_size", "8"})
	require.NoError(t, err)
	assert.Equal(t, "cpsc2018", args.Dataset)
	assert.Equal(t, 8, args.BatchSize)
	assert.Equal(t, 0.01, args.LR)
	assert.Equal(t, path, args.Config)
}

func TestParseArgsConfigUnknownField(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batchsize: 32\n"), 0o644))
	_, err := ParseArgsPretrain([]string{"-config", path})
	assert.Error(t, err)
}

func TestParseArgsRejectsBadValues(t *testing.T) {
	var tests = []struct {
		name string
		argv []string
		err  error
	}{
		{"batch size", []string{"-batch_size", "0"}, nil},
		{"pairing", []string{"-positive_pairing", "shuffle"}, nil},
		{"scheduler", []string{"-scheduler", "linear"}, nil},
		{"encoder", []string{"-encoder_name", "resnet"}, ErrUnknownBackbone},
		{"method", []string{"-method", "byol"}, ErrUnknownMethod},
		{"dataset", []string{"-dataset", "mitbih"}, ErrUnknownDataset},
		{"positional", []string{"extra"}, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseArgsPretrain(test.argv)
			require.Error(t, err)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
			}
		})
	}
}

func TestDatasetInfo(t *testing.T) {
	n, tt, err := DatasetInfo("ptbxl")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, domain.Multilabel, tt)

	n, tt, err = DatasetInfo("chapman")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, domain.Single, tt)

	for name := range NumClasses {
		_, ok := TargetTypes[name]
		assert.True(t, ok, name)
	}
}

func TestRegistriesBuildModels(t *testing.T) {
	var logger = log.New(io.Discard, "", 0)
	for encoderName := range Backbones {
		for methodName := range Methods {
			var args = DefaultArgs()
			args.EncoderName = encoderName
			args.Method = methodName
			args.Window = 40
			args.HiddenDim = 8
			args.FeaturesDim = 4
			args.ProjHiddenDim = 6
			args.ProjOutputDim = 3

			var rnd = SeedEverything(args.Seed)
			encoder, err := NewEncoder(&args, rnd)
			require.NoError(t, err, encoderName)
			assert.Equal(t, encoderName, encoder.Name())
			assert.Equal(t, NLeads*args.Window, encoder.InputSize())

			model, err := NewMethod(encoder, logger, &args, rnd)
			require.NoError(t, err, methodName)
			assert.Equal(t, methodName, model.Name())
		}
	}
}

func TestLookupErrors(t *testing.T) {
	var args = DefaultArgs()
	args.EncoderName = "vit"
	_, err := NewEncoder(&args, SeedEverything(1))
	assert.ErrorIs(t, err, ErrUnknownBackbone)

	args = DefaultArgs()
	args.Method = "moco"
	_, err = NewMethod(nil, nil, &args, SeedEverything(1))
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestSeedEverythingIsDeterministic(t *testing.T) {
	var a, b = SeedEverything(3), SeedEverything(3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
}
