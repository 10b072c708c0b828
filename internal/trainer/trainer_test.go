package trainer

import (
	"context"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChizhovVadim/ecgpretrain/internal/backbone"
	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
	"github.com/ChizhovVadim/ecgpretrain/internal/method"
	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"github.com/ChizhovVadim/ecgpretrain/internal/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLeads  = 2
	testWindow = 8
)

var quiet = log.New(io.Discard, "", 0)

type fakeDataModule struct {
	train  [][]domain.Batch
	val    []domain.Batch
	setups int
}

func (dm *fakeDataModule) Setup(ctx context.Context) error {
	dm.setups++
	return nil
}

func (dm *fakeDataModule) TrainBatches(epoch int) ([]domain.Batch, error) {
	return dm.train[epoch%len(dm.train)], nil
}

func (dm *fakeDataModule) ValBatches() ([]domain.Batch, error) { return dm.val, nil }

func randomBatch(rnd *rand.Rand, size int, pairs bool) domain.Batch {
	var batch domain.Batch
	for i := 0; i < size; i++ {
		var s = domain.Sample{
			View1:  make([]float64, testLeads*testWindow),
			Target: domain.Target{Classes: []int{rnd.Intn(3)}},
		}
		ml.InitNorm(rnd, s.View1, 0, 1)
		if pairs {
			s.View2 = append([]float64(nil), s.View1...)
			for j := range s.View2 {
				s.View2[j] += 0.1 * rnd.NormFloat64()
			}
		}
		batch.Samples = append(batch.Samples, s)
	}
	return batch
}

func newFakeDataModule(seed int64, pairs bool) *fakeDataModule {
	var rnd = rand.New(rand.NewSource(seed))
	var dm = &fakeDataModule{}
	for epoch := 0; epoch < 2; epoch++ {
		dm.train = append(dm.train, []domain.Batch{
			randomBatch(rnd, 6, pairs),
			randomBatch(rnd, 6, pairs),
		})
	}
	dm.val = []domain.Batch{randomBatch(rnd, 5, pairs)}
	return dm
}

func newModel(t *testing.T, name string, seed int64) method.Model {
	var cfg = backbone.DefaultConfig()
	cfg.NLeads = testLeads
	cfg.Window = testWindow
	cfg.HiddenDim = 8
	cfg.FeaturesDim = 4
	var rnd = rand.New(rand.NewSource(seed))
	enc, err := backbone.NewMLP(cfg, rnd)
	require.NoError(t, err)
	var mcfg = method.Config{
		NClasses:      3,
		TargetType:    domain.Single,
		Temperature:   0.5,
		ProjHiddenDim: 6,
		ProjOutputDim: 3,
	}
	if name == "simclr" {
		m, err := method.NewSimCLR(enc, mcfg, rnd)
		require.NoError(t, err)
		return m
	}
	m, err := method.NewTransfer(enc, mcfg, rnd)
	require.NoError(t, err)
	return m
}

func TestFitRecordsMetrics(t *testing.T) {
	for _, name := range []string{"simclr", "transfer"} {
		t.Run(name, func(t *testing.T) {
			var model = newModel(t, name, 1)
			var dm = newFakeDataModule(2, model.UsesPairs())
			var before = append([]float64(nil), method.Params(model)[0].Data...)
			var tracker = &memTracker{}

			var tr = &Trainer{
				MaxEpochs:      3,
				Devices:        2,
				TerminateOnNaN: true,
				Optimizer:      ml.NewAdam(0.01, 0),
				Scheduler:      &ml.StepSchedule{Base: 0.01, StepSize: 1, Gamma: 0.5},
				Logger:         quiet,
				Tracker:        tracker,
			}
			require.NoError(t, tr.Fit(context.Background(), model, dm))
			assert.Equal(t, 1, dm.setups)
			require.Len(t, tr.History(), 3)
			for epoch, m := range tr.History() {
				assert.Equal(t, float64(epoch), m["epoch"])
				assert.True(t, ml.IsFinite(m["train_loss"]))
				assert.True(t, ml.IsFinite(m["val_loss"]))
				assert.InDelta(t, 0.01*math.Pow(0.5, float64(epoch)), m["lr"], 1e-15)
			}
			assert.NotEqual(t, before, method.Params(model)[0].Data)
			require.Len(t, tracker.steps, 3)
			assert.Contains(t, tracker.metrics[0], "val_loss")
		})
	}
}

func TestFitTransferLearns(t *testing.T) {
	var model = newModel(t, "transfer", 3)
	var rnd = rand.New(rand.NewSource(4))
	var batch = randomBatch(rnd, 8, false)
	var dm = &fakeDataModule{train: [][]domain.Batch{{batch}}, val: []domain.Batch{batch}}

	var tr = &Trainer{MaxEpochs: 60, Devices: 3, Optimizer: ml.NewAdam(0.01, 0), Logger: quiet}
	require.NoError(t, tr.Fit(context.Background(), model, dm))
	var history = tr.History()
	assert.Less(t, history[len(history)-1]["val_loss"], history[0]["val_loss"])
}

func trainedParams(t *testing.T, devices int) []*ml.Matrix {
	var model = newModel(t, "simclr", 5)
	var tr = &Trainer{MaxEpochs: 2, Devices: devices, Optimizer: ml.NewAdam(0.01, 1e-4), Logger: quiet}
	require.NoError(t, tr.Fit(context.Background(), model, newFakeDataModule(6, true)))
	return method.Params(model)
}

func TestFitIsDeterministic(t *testing.T) {
	var a, b = trainedParams(t, 3), trainedParams(t, 3)
	for i := range a {
		assert.Equal(t, a[i].Data, b[i].Data)
	}
}

func TestBatchLossDoesNotDependOnDevices(t *testing.T) {
	var batch = randomBatch(rand.New(rand.NewSource(20)), 7, true)
	var losses []float64
	for _, devices := range []int{1, 3, 7} {
		var model = newModel(t, "simclr", 21)
		var replicas = []method.Model{model}
		for len(replicas) < devices {
			replicas = append(replicas, model.ThreadCopy())
		}
		var tr = &Trainer{Optimizer: ml.NewAdam(0.01, 0), Logger: quiet}
		loss, err := tr.trainBatch(context.Background(), replicas, &batch)
		require.NoError(t, err)
		losses = append(losses, loss)
	}
	assert.InDelta(t, losses[0], losses[1], 1e-12)
	assert.InDelta(t, losses[0], losses[2], 1e-12)
}

func TestFastDevRunRunsOneEpoch(t *testing.T) {
	var model = newModel(t, "simclr", 7)
	var tr = &Trainer{MaxEpochs: 10, FastDevRun: true, Logger: quiet}
	require.NoError(t, tr.Fit(context.Background(), model, newFakeDataModule(8, true)))
	assert.Len(t, tr.History(), 1)
}

func TestFitStopsOnCancel(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	cancel()
	var tr = &Trainer{MaxEpochs: 2, Logger: quiet}
	var err = tr.Fit(ctx, newModel(t, "simclr", 9), newFakeDataModule(10, true))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitRejectsEmptyEpoch(t *testing.T) {
	var tr = &Trainer{MaxEpochs: 1, Logger: quiet}
	var dm = &fakeDataModule{train: [][]domain.Batch{nil}}
	assert.ErrorIs(t, tr.Fit(context.Background(), newModel(t, "simclr", 1), dm), ErrNoBatches)
}

// nanModel reports a NaN loss for every batch.
type nanModel struct {
	method.Model
}

func (m *nanModel) Loss(out1, out2 [][]float64, targets []domain.Target) (float64, [][]float64, [][]float64, error) {
	_, g1, g2, err := m.Model.Loss(out1, out2, targets)
	return math.NaN(), g1, g2, err
}

func (m *nanModel) ThreadCopy() method.Model { return &nanModel{Model: m.Model.ThreadCopy()} }

func (m *nanModel) AddGradients(main method.Model) { m.Model.AddGradients(main.(*nanModel).Model) }

func TestTerminateOnNaN(t *testing.T) {
	var model = &nanModel{Model: newModel(t, "simclr", 11)}
	var tr = &Trainer{MaxEpochs: 1, TerminateOnNaN: true, Logger: quiet}
	var err = tr.Fit(context.Background(), model, newFakeDataModule(12, true))
	assert.ErrorIs(t, err, ErrNaNLoss)
}

// valNaNModel reports a NaN loss on the nanCall-th loss evaluation.
type valNaNModel struct {
	method.Model
	calls   *int
	nanCall int
}

func (m *valNaNModel) Loss(out1, out2 [][]float64, targets []domain.Target) (float64, [][]float64, [][]float64, error) {
	*m.calls++
	loss, g1, g2, err := m.Model.Loss(out1, out2, targets)
	if *m.calls == m.nanCall {
		loss = math.NaN()
	}
	return loss, g1, g2, err
}

func (m *valNaNModel) ThreadCopy() method.Model {
	return &valNaNModel{Model: m.Model.ThreadCopy(), calls: m.calls, nanCall: m.nanCall}
}

func (m *valNaNModel) AddGradients(main method.Model) {
	m.Model.AddGradients(main.(*valNaNModel).Model)
}

func TestNaNValidationLossStopsEarly(t *testing.T) {
	// Two train batches and one val batch per epoch: call 6 is the val loss of epoch 1.
	var model = &valNaNModel{Model: newModel(t, "simclr", 23), calls: new(int), nanCall: 6}
	var dir = filepath.Join(t.TempDir(), "run", "seed1")
	var ckpt = NewCheckpointer(map[string]int{"seed": 1}, dir, 5, "run", "")
	es, err := NewEarlyStopping("val_loss", "min", 10)
	require.NoError(t, err)

	var tr = &Trainer{
		MaxEpochs:      5,
		Devices:        2,
		TerminateOnNaN: true,
		Logger:         quiet,
		Callbacks:      []Callback{es, ckpt},
	}
	require.NoError(t, tr.Fit(context.Background(), model, newFakeDataModule(24, true)))

	var history = tr.History()
	require.Len(t, history, 2)
	assert.True(t, ml.IsFinite(history[1]["train_loss"]))
	assert.True(t, math.IsNaN(history[1]["val_loss"]))
	assert.Equal(t, 1, es.StoppedEpoch)

	files, err := filepath.Glob(filepath.Join(dir, "*.ckpt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "run-ep=1.ckpt")}, files)
}

type memTracker struct {
	steps   []int
	metrics []map[string]float64
}

func (mt *memTracker) LogMetrics(step int, metrics map[string]float64) error {
	mt.steps = append(mt.steps, step)
	mt.metrics = append(mt.metrics, metrics)
	return nil
}

func TestEarlyStopping(t *testing.T) {
	es, err := NewEarlyStopping("val_loss", "min", 2)
	require.NoError(t, err)
	require.NoError(t, es.OnTrainStart(nil))

	var losses = []float64{1.0, 0.8, 0.9, 0.85, 0.7}
	var stops []bool
	for epoch, loss := range losses {
		stop, err := es.OnEpochEnd(nil, epoch, Metrics{"val_loss": loss})
		require.NoError(t, err)
		stops = append(stops, stop)
	}
	assert.Equal(t, []bool{false, false, false, true, false}, stops)
	assert.Equal(t, 4, es.StoppedEpoch+1)

	stop, err := es.OnEpochEnd(nil, 5, Metrics{"train_loss": 0.1})
	require.NoError(t, err)
	assert.False(t, stop)

	stop, err = es.OnEpochEnd(nil, 6, Metrics{"val_loss": math.NaN()})
	require.NoError(t, err)
	assert.True(t, stop)

	_, err = NewEarlyStopping("val_loss", "avg", 10)
	assert.Error(t, err)
}

func TestEarlyStoppingStopsFit(t *testing.T) {
	var model = newModel(t, "simclr", 13)
	var dm = newFakeDataModule(14, true)
	es, err := NewEarlyStopping("val_loss", "max", 1)
	require.NoError(t, err)
	es.MinDelta = 1e9

	var tr = &Trainer{MaxEpochs: 10, Logger: quiet, Callbacks: []Callback{es}}
	require.NoError(t, tr.Fit(context.Background(), model, dm))
	assert.Len(t, tr.History(), 2)
	assert.Equal(t, 1, es.StoppedEpoch)
}

func TestLearningRateMonitor(t *testing.T) {
	var tracker = &memTracker{}
	lm, err := NewLearningRateMonitor(tracker, "epoch")
	require.NoError(t, err)
	_, err = NewLearningRateMonitor(tracker, "step")
	assert.Error(t, err)

	var tr = &Trainer{
		MaxEpochs: 2,
		Logger:    quiet,
		Optimizer: ml.NewAdam(0.1, 0),
		Scheduler: &ml.CosineSchedule{Base: 0.1, MaxEpochs: 2},
		Callbacks: []Callback{lm},
	}
	require.NoError(t, tr.Fit(context.Background(), newModel(t, "simclr", 15), newFakeDataModule(16, true)))
	require.Len(t, tracker.metrics, 2)
	assert.InDelta(t, 0.1, tracker.metrics[0]["lr-Adam"], 1e-12)
	assert.InDelta(t, 0, tracker.metrics[1]["lr-Adam"], 1e-12)
}

func TestCheckpointerKeepsLastCheckpoint(t *testing.T) {
	var dir = filepath.Join(t.TempDir(), "run", "seed1")
	var args = map[string]interface{}{"method": "simclr", "seed": 1}
	var ckpt = NewCheckpointer(args, dir, 2, "run", "abc")
	var model = newModel(t, "simclr", 17)

	var tr = &Trainer{MaxEpochs: 4, Logger: quiet, Callbacks: []Callback{ckpt}}
	require.NoError(t, tr.Fit(context.Background(), model, newFakeDataModule(18, true)))

	_, err := os.Stat(filepath.Join(dir, ArgsFile))
	require.NoError(t, err)
	files, err := filepath.Glob(filepath.Join(dir, "*.ckpt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "run-abc-ep=3.ckpt")}, files)
	assert.Equal(t, files[0], ckpt.LastPath())

	var restored = newModel(t, "simclr", 19)
	require.NoError(t, method.LoadCheckpoint(ckpt.LastPath(), restored))
	for i, p := range method.Params(model) {
		assert.InDeltaSlice(t, p.Data, method.Params(restored)[i].Data, 1e-6)
	}
	assert.Equal(t, nn.CountParams(model.Encoder()), nn.CountParams(restored.Encoder()))
}
