// Package setup parses the pretraining arguments and maps names from the
// command line to encoders, methods and dataset properties.
package setup

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ChizhovVadim/ecgpretrain/internal/data"
	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"gopkg.in/yaml.v3"
)

// NLeads is the number of leads every dataset is read with.
const NLeads = 12

type Args struct {
	Config string `yaml:"-" json:"-"`

	Seed       int64  `yaml:"seed" json:"seed"`
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	Dataset    string `yaml:"dataset" json:"dataset"`
	NumWorkers int    `yaml:"num_workers" json:"num_workers"`
	Window     int    `yaml:"window" json:"window"`

	EncoderName string `yaml:"encoder_name" json:"encoder_name"`
	HiddenDim   int    `yaml:"hidden_dim" json:"hidden_dim"`
	FeaturesDim int    `yaml:"features_dim" json:"features_dim"`

	Method          string  `yaml:"method" json:"method"`
	PositivePairing string  `yaml:"positive_pairing" json:"positive_pairing"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	ProjHiddenDim   int     `yaml:"proj_hidden_dim" json:"proj_hidden_dim"`
	ProjOutputDim   int     `yaml:"proj_output_dim" json:"proj_output_dim"`
	PretrainedPath  string  `yaml:"pretrained_path" json:"pretrained_path"`
	FreezeEncoder   bool    `yaml:"freeze_encoder" json:"freeze_encoder"`

	BatchSize   int     `yaml:"batch_size" json:"batch_size"`
	NumDevices  int     `yaml:"num_devices" json:"num_devices"`
	MaxEpochs   int     `yaml:"max_epochs" json:"max_epochs"`
	LR          float64 `yaml:"lr" json:"lr"`
	WeightDecay float64 `yaml:"weight_decay" json:"weight_decay"`
	Scheduler   string  `yaml:"scheduler" json:"scheduler"`
	StepSize    int     `yaml:"step_size" json:"step_size"`
	Gamma       float64 `yaml:"gamma" json:"gamma"`
	Patience    int     `yaml:"patience" json:"patience"`

	CheckpointDir       string `yaml:"checkpoint_dir" json:"checkpoint_dir"`
	CheckpointFrequency int    `yaml:"checkpoint_frequency" json:"checkpoint_frequency"`
	Wandb               bool   `yaml:"wandb" json:"wandb"`
	Name                string `yaml:"name" json:"name"`
	Project             string `yaml:"project" json:"project"`
	Entity              string `yaml:"entity" json:"entity"`
	Debug               bool   `yaml:"debug" json:"debug"`
}

func DefaultArgs() Args {
	return Args{
		Seed:                42,
		DataDir:             "data",
		Dataset:             "ptbxl",
		NumWorkers:          4,
		Window:              250,
		EncoderName:         "cnn1d",
		HiddenDim:           256,
		FeaturesDim:         128,
		Method:              "simclr",
		PositivePairing:     "augment",
		Temperature:         0.1,
		ProjHiddenDim:       256,
		ProjOutputDim:       64,
		BatchSize:           64,
		NumDevices:          1,
		MaxEpochs:           100,
		LR:                  1e-3,
		WeightDecay:         1e-6,
		Scheduler:           "cosine",
		StepSize:            30,
		Gamma:               0.1,
		Patience:            10,
		CheckpointDir:       "trained_models",
		CheckpointFrequency: 1,
		Name:                "pretrain",
		Project:             "ecg-pretrain",
	}
}

func (a *Args) String() string {
	return fmt.Sprintf("%+v", *a)
}

func bindFlags(fs *flag.FlagSet, a *Args) {
	fs.StringVar(&a.Config, "config", a.Config, "YAML file with arguments; explicit flags override it")

	fs.Int64Var(&a.Seed, "seed", a.Seed, "Random seed")
	fs.StringVar(&a.DataDir, "data_dir", a.DataDir, "Folder with datasets")
	fs.StringVar(&a.Dataset, "dataset", a.Dataset, "Dataset name")
	fs.IntVar(&a.NumWorkers, "num_workers", a.NumWorkers, "Number of record loading workers")
	fs.IntVar(&a.Window, "window", a.Window, "Samples per lead in one view")

	fs.StringVar(&a.EncoderName, "encoder_name", a.EncoderName, "Encoder: mlp or cnn1d")
	fs.IntVar(&a.HiddenDim, "hidden_dim", a.HiddenDim, "Encoder hidden size")
	fs.IntVar(&a.FeaturesDim, "features_dim", a.FeaturesDim, "Encoder output size")

	fs.StringVar(&a.Method, "method", a.Method, "Pretraining method: simclr or transfer")
	fs.StringVar(&a.PositivePairing, "positive_pairing", a.PositivePairing, "Positive pairs: augment, time or lead")
	fs.Float64Var(&a.Temperature, "temperature", a.Temperature, "Contrastive loss temperature")
	fs.IntVar(&a.ProjHiddenDim, "proj_hidden_dim", a.ProjHiddenDim, "Projector hidden size")
	fs.IntVar(&a.ProjOutputDim, "proj_output_dim", a.ProjOutputDim, "Projector output size")
	fs.StringVar(&a.PretrainedPath, "pretrained_path", a.PretrainedPath, "Checkpoint with encoder weights")
	fs.BoolVar(&a.FreezeEncoder, "freeze_encoder", a.FreezeEncoder, "Train only the head")

	fs.IntVar(&a.BatchSize, "batch_size", a.BatchSize, "Batch size")
	fs.IntVar(&a.NumDevices, "num_devices", a.NumDevices, "Data parallel replicas, 0 for all cores")
	fs.IntVar(&a.MaxEpochs, "max_epochs", a.MaxEpochs, "Number of epochs")
	fs.Float64Var(&a.LR, "lr", a.LR, "Learning rate")
	fs.Float64Var(&a.WeightDecay, "weight_decay", a.WeightDecay, "Weight decay")
	fs.StringVar(&a.Scheduler, "scheduler", a.Scheduler, "Learning rate schedule: none, cosine or step")
	fs.IntVar(&a.StepSize, "step_size", a.StepSize, "Epochs between step schedule decays")
	fs.Float64Var(&a.Gamma, "gamma", a.Gamma, "Step schedule decay factor")
	fs.IntVar(&a.Patience, "patience", a.Patience, "Early stopping patience in epochs")

	fs.StringVar(&a.CheckpointDir, "checkpoint_dir", a.CheckpointDir, "Folder for checkpoints")
	fs.IntVar(&a.CheckpointFrequency, "checkpoint_frequency", a.CheckpointFrequency, "Epochs between checkpoints")
	fs.BoolVar(&a.Wandb, "wandb", a.Wandb, "Enable offline experiment tracking and checkpoints")
	fs.StringVar(&a.Name, "name", a.Name, "Run name")
	fs.StringVar(&a.Project, "project", a.Project, "Tracking project")
	fs.StringVar(&a.Entity, "entity", a.Entity, "Tracking entity")
	fs.BoolVar(&a.Debug, "debug", a.Debug, "Run a single train and validation batch")
}

// ParseArgsPretrain parses argv (without the program name). Values come
// from defaults, then the -config file, then explicit flags.
func ParseArgsPretrain(argv []string) (*Args, error) {
	var configOnly = DefaultArgs()
	var configFlags = flag.NewFlagSet("pretrain", flag.ContinueOnError)
	bindFlags(configFlags, &configOnly)
	if err := configFlags.Parse(argv); err != nil {
		return nil, err
	}

	var args = DefaultArgs()
	if configOnly.Config != "" {
		if err := LoadArgsFile(configOnly.Config, &args); err != nil {
			return nil, err
		}
	}
	var fs = flag.NewFlagSet("pretrain", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bindFlags(fs, &args)
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return &args, nil
}

func LoadArgsFile(path string, args *Args) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var dec = yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(args); err != nil && err != io.EOF {
		return fmt.Errorf("config %v: %w", path, err)
	}
	return nil
}

func (a *Args) Validate() error {
	if a.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %v", a.BatchSize)
	}
	if a.MaxEpochs <= 0 {
		return fmt.Errorf("max_epochs must be positive, got %v", a.MaxEpochs)
	}
	if a.LR <= 0 {
		return fmt.Errorf("lr must be positive, got %v", a.LR)
	}
	if a.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must not be negative, got %v", a.WeightDecay)
	}
	if a.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", a.Window)
	}
	if a.CheckpointFrequency <= 0 {
		return fmt.Errorf("checkpoint_frequency must be positive, got %v", a.CheckpointFrequency)
	}
	if a.Patience <= 0 {
		return fmt.Errorf("patience must be positive, got %v", a.Patience)
	}
	if _, err := data.ParsePairing(a.PositivePairing); err != nil {
		return err
	}
	if _, err := ml.NewScheduler(a.Scheduler, a.LR, a.MaxEpochs, a.StepSize, a.Gamma); err != nil {
		return err
	}
	if _, ok := Backbones[a.EncoderName]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownBackbone, a.EncoderName)
	}
	if _, ok := Methods[a.Method]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownMethod, a.Method)
	}
	if _, _, err := DatasetInfo(a.Dataset); err != nil {
		return err
	}
	return nil
}
