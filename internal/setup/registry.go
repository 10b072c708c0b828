package setup

import (
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/ChizhovVadim/ecgpretrain/internal/backbone"
	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
	"github.com/ChizhovVadim/ecgpretrain/internal/method"
)

var (
	ErrUnknownBackbone = errors.New("setup: unknown encoder")
	ErrUnknownMethod   = errors.New("setup: unknown method")
	ErrUnknownDataset  = errors.New("setup: unknown dataset")
)

type BackboneFactory func(args *Args, rnd *rand.Rand) (backbone.Encoder, error)

type MethodFactory func(
	encoder backbone.Encoder,
	logger *log.Logger,
	nClasses int,
	targetType domain.TargetType,
	args *Args,
	rnd *rand.Rand,
) (method.Model, error)

var Backbones = map[string]BackboneFactory{
	"mlp": func(args *Args, rnd *rand.Rand) (backbone.Encoder, error) {
		return backbone.NewMLP(encoderConfig(args), rnd)
	},
	"cnn1d": func(args *Args, rnd *rand.Rand) (backbone.Encoder, error) {
		return backbone.NewCNN1D(encoderConfig(args), rnd)
	},
}

var Methods = map[string]MethodFactory{
	"simclr": func(encoder backbone.Encoder, logger *log.Logger, nClasses int, targetType domain.TargetType, args *Args, rnd *rand.Rand) (method.Model, error) {
		return method.NewSimCLR(encoder, methodConfig(logger, nClasses, targetType, args), rnd)
	},
	"transfer": func(encoder backbone.Encoder, logger *log.Logger, nClasses int, targetType domain.TargetType, args *Args, rnd *rand.Rand) (method.Model, error) {
		return method.NewTransfer(encoder, methodConfig(logger, nClasses, targetType, args), rnd)
	},
}

var NumClasses = map[string]int{
	"ptbxl":     5,
	"cpsc2018":  9,
	"chapman":   4,
	"synthetic": 3,
}

var TargetTypes = map[string]domain.TargetType{
	"ptbxl":     domain.Multilabel,
	"cpsc2018":  domain.Multilabel,
	"chapman":   domain.Single,
	"synthetic": domain.Single,
}

func DatasetInfo(dataset string) (int, domain.TargetType, error) {
	nClasses, ok := NumClasses[dataset]
	if !ok {
		return 0, 0, fmt.Errorf("%w %q", ErrUnknownDataset, dataset)
	}
	targetType, ok := TargetTypes[dataset]
	if !ok {
		return 0, 0, fmt.Errorf("%w %q: no target type", ErrUnknownDataset, dataset)
	}
	return nClasses, targetType, nil
}

func NewEncoder(args *Args, rnd *rand.Rand) (backbone.Encoder, error) {
	factory, ok := Backbones[args.EncoderName]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBackbone, args.EncoderName)
	}
	return factory(args, rnd)
}

func NewMethod(encoder backbone.Encoder, logger *log.Logger, args *Args, rnd *rand.Rand) (method.Model, error) {
	factory, ok := Methods[args.Method]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMethod, args.Method)
	}
	nClasses, targetType, err := DatasetInfo(args.Dataset)
	if err != nil {
		return nil, err
	}
	return factory(encoder, logger, nClasses, targetType, args, rnd)
}

func encoderConfig(args *Args) backbone.Config {
	var cfg = backbone.DefaultConfig()
	cfg.NLeads = NLeads
	cfg.Window = args.Window
	cfg.HiddenDim = args.HiddenDim
	cfg.FeaturesDim = args.FeaturesDim
	return cfg
}

func methodConfig(logger *log.Logger, nClasses int, targetType domain.TargetType, args *Args) method.Config {
	return method.Config{
		NClasses:       nClasses,
		TargetType:     targetType,
		Temperature:    args.Temperature,
		ProjHiddenDim:  args.ProjHiddenDim,
		ProjOutputDim:  args.ProjOutputDim,
		PretrainedPath: args.PretrainedPath,
		FreezeEncoder:  args.FreezeEncoder,
		Logger:         logger,
	}
}

// SeedEverything returns the root random source. Every other source in a
// run is derived from it so the same seed reproduces the run.
func SeedEverything(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
