package trainer

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/ChizhovVadim/ecgpretrain/internal/method"
)

type Callback interface {
	OnTrainStart(model method.Model) error
	// OnEpochEnd returns true to stop training after this epoch.
	OnEpochEnd(model method.Model, epoch int, metrics Metrics) (bool, error)
	OnTrainEnd(model method.Model) error
}

// EarlyStopping stops training when the monitored metric has not improved
// by more than MinDelta for Patience epochs, or became NaN or infinite.
// Epochs without the metric are ignored.
type EarlyStopping struct {
	Monitor  string
	Mode     string
	Patience int
	MinDelta float64
	Logger   *log.Logger

	best         float64
	wait         int
	StoppedEpoch int
}

func NewEarlyStopping(monitor, mode string, patience int) (*EarlyStopping, error) {
	if mode != "min" && mode != "max" {
		return nil, fmt.Errorf("early stopping mode must be min or max, got %q", mode)
	}
	if patience <= 0 {
		return nil, fmt.Errorf("early stopping patience must be positive, got %v", patience)
	}
	return &EarlyStopping{Monitor: monitor, Mode: mode, Patience: patience, StoppedEpoch: -1}, nil
}

func (es *EarlyStopping) OnTrainStart(model method.Model) error {
	es.wait = 0
	es.StoppedEpoch = -1
	es.best = math.Inf(1)
	if es.Mode == "max" {
		es.best = math.Inf(-1)
	}
	return nil
}

func (es *EarlyStopping) OnEpochEnd(model method.Model, epoch int, metrics Metrics) (bool, error) {
	value, ok := metrics[es.Monitor]
	if !ok {
		return false, nil
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		es.stop(epoch, "is not finite")
		return true, nil
	}
	var improved bool
	if es.Mode == "max" {
		improved = value > es.best+es.MinDelta
	} else {
		improved = value < es.best-es.MinDelta
	}
	if improved {
		es.best = value
		es.wait = 0
		return false, nil
	}
	es.wait++
	if es.wait >= es.Patience {
		es.stop(epoch, fmt.Sprintf("did not improve for %v epochs, best %.6f", es.wait, es.best))
		return true, nil
	}
	return false, nil
}

func (es *EarlyStopping) stop(epoch int, reason string) {
	es.StoppedEpoch = epoch
	if es.Logger != nil {
		es.Logger.Println("Early stopping:", es.Monitor, reason)
	}
}

func (es *EarlyStopping) OnTrainEnd(model method.Model) error { return nil }

// LearningRateMonitor sends the learning rate of every epoch to a tracker.
type LearningRateMonitor struct {
	Tracker ITracker
	Key     string
}

func NewLearningRateMonitor(tracker ITracker, interval string) (*LearningRateMonitor, error) {
	if interval != "epoch" {
		return nil, fmt.Errorf("learning rate monitor supports epoch interval only, got %q", interval)
	}
	return &LearningRateMonitor{Tracker: tracker, Key: "lr-Adam"}, nil
}

func (lm *LearningRateMonitor) OnTrainStart(model method.Model) error { return nil }
func (lm *LearningRateMonitor) OnTrainEnd(model method.Model) error   { return nil }

func (lm *LearningRateMonitor) OnEpochEnd(model method.Model, epoch int, metrics Metrics) (bool, error) {
	lr, ok := metrics["lr"]
	if !ok {
		return false, nil
	}
	return false, lm.Tracker.LogMetrics(epoch, map[string]float64{lm.Key: lr})
}

const ArgsFile = "args.json"

// Checkpointer writes the run arguments to args.json at start and keeps the
// last checkpoint of the model: one every Frequency epochs and one at the end.
type Checkpointer struct {
	Args      interface{}
	LogDir    string
	Frequency int
	Name      string
	Version   string
	Logger    *log.Logger

	lastPath  string
	lastEpoch int
	saved     int
}

func NewCheckpointer(args interface{}, logDir string, frequency int, name, version string) *Checkpointer {
	return &Checkpointer{
		Args:      args,
		LogDir:    logDir,
		Frequency: max(1, frequency),
		Name:      name,
		Version:   version,
		lastEpoch: -1,
		saved:     -1,
	}
}

func (c *Checkpointer) LastPath() string { return c.lastPath }

func (c *Checkpointer) OnTrainStart(model method.Model) error {
	if err := os.MkdirAll(c.LogDir, os.ModePerm); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(c.Args, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.LogDir, ArgsFile), buf, 0o644)
}

func (c *Checkpointer) OnEpochEnd(model method.Model, epoch int, metrics Metrics) (bool, error) {
	c.lastEpoch = epoch
	if epoch%c.Frequency == 0 {
		return false, c.save(model, epoch)
	}
	return false, nil
}

func (c *Checkpointer) OnTrainEnd(model method.Model) error {
	if c.lastEpoch < 0 || c.saved == c.lastEpoch {
		return nil
	}
	return c.save(model, c.lastEpoch)
}

func (c *Checkpointer) CheckpointPath(epoch int) string {
	var name = c.Name
	if c.Version != "" {
		name += "-" + c.Version
	}
	return filepath.Join(c.LogDir, fmt.Sprintf("%v-ep=%v.ckpt", name, epoch))
}

func (c *Checkpointer) save(model method.Model, epoch int) error {
	var path = c.CheckpointPath(epoch)
	if err := method.SaveCheckpoint(path, model); err != nil {
		return err
	}
	if c.lastPath != "" && c.lastPath != path {
		if err := os.Remove(c.lastPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	c.lastPath = path
	c.saved = epoch
	if c.Logger != nil {
		c.Logger.Println("Saved checkpoint", path)
	}
	return nil
}
