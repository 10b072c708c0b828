// Package trainer runs the epoch loop: data parallel steps over thread
// copies of the model, validation, callbacks and metric logging.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
	"github.com/ChizhovVadim/ecgpretrain/internal/method"
	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNaNLoss   = errors.New("trainer: loss is not finite")
	ErrNoBatches = errors.New("trainer: no training batches")
)

type IDataModule interface {
	Setup(ctx context.Context) error
	TrainBatches(epoch int) ([]domain.Batch, error)
	ValBatches() ([]domain.Batch, error)
}

type ITracker interface {
	LogMetrics(step int, metrics map[string]float64) error
}

// Metrics of one epoch. Keys: epoch, train_loss, val_loss (when there are
// validation batches) and lr.
type Metrics map[string]float64

type Trainer struct {
	MaxEpochs      int
	Devices        int
	FastDevRun     bool
	TerminateOnNaN bool
	Optimizer      *ml.Optimizer
	Scheduler      ml.IScheduler
	Logger         *log.Logger
	Callbacks      []Callback
	Tracker        ITracker

	history []Metrics
}

func (t *Trainer) History() []Metrics { return t.history }

func (t *Trainer) Fit(ctx context.Context, model method.Model, dm IDataModule) error {
	if t.Logger == nil {
		t.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if t.Optimizer == nil {
		t.Optimizer = ml.NewAdam(1e-3, 0)
	}
	if t.Scheduler == nil {
		t.Scheduler = &ml.ConstantSchedule{Base: t.Optimizer.LearningRate}
	}
	var maxEpochs = t.MaxEpochs
	if t.FastDevRun {
		maxEpochs = 1
	}

	if err := dm.Setup(ctx); err != nil {
		return fmt.Errorf("datamodule setup: %w", err)
	}

	var replicas = make([]method.Model, max(1, t.Devices))
	replicas[0] = model
	for i := 1; i < len(replicas); i++ {
		replicas[i] = model.ThreadCopy()
	}
	t.Logger.Println("Train started",
		"model", model.Name(),
		"params", method.NumParams(model),
		"devices", len(replicas),
		"epochs", maxEpochs)
	defer t.Logger.Println("Train finished")

	for _, cb := range t.Callbacks {
		if err := cb.OnTrainStart(model); err != nil {
			return err
		}
	}

	t.history = nil
	for epoch := 0; epoch < maxEpochs; epoch++ {
		metrics, err := t.runEpoch(ctx, replicas, dm, epoch)
		if err != nil {
			return err
		}
		t.history = append(t.history, metrics)
		t.Logger.Printf("Finished epoch %v train_loss %.6f val_loss %.6f lr %g",
			epoch, metrics["train_loss"], metrics["val_loss"], metrics["lr"])

		if t.Tracker != nil {
			var logged = map[string]float64{"epoch": float64(epoch), "train_loss": metrics["train_loss"]}
			if v, ok := metrics["val_loss"]; ok {
				logged["val_loss"] = v
			}
			if err := t.Tracker.LogMetrics(epoch, logged); err != nil {
				return err
			}
		}

		var stop bool
		for _, cb := range t.Callbacks {
			cbStop, err := cb.OnEpochEnd(model, epoch, metrics)
			if err != nil {
				return err
			}
			stop = stop || cbStop
		}
		if stop {
			t.Logger.Println("Stopped after epoch", epoch)
			break
		}
	}

	for _, cb := range t.Callbacks {
		if err := cb.OnTrainEnd(model); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) runEpoch(ctx context.Context, replicas []method.Model, dm IDataModule, epoch int) (Metrics, error) {
	var lr = t.Scheduler.LearningRate(epoch)
	t.Optimizer.LearningRate = lr

	batches, err := dm.TrainBatches(epoch)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, ErrNoBatches
	}
	var trainLoss float64
	for i := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loss, err := t.trainBatch(ctx, replicas, &batches[i])
		if err != nil {
			return nil, fmt.Errorf("epoch %v batch %v: %w", epoch, i, err)
		}
		trainLoss += loss
	}

	var metrics = Metrics{
		"epoch":      float64(epoch),
		"train_loss": trainLoss / float64(len(batches)),
		"lr":         lr,
	}

	valBatches, err := dm.ValBatches()
	if err != nil {
		return nil, err
	}
	if len(valBatches) != 0 {
		var valLoss float64
		for i := range valBatches {
			loss, err := t.evalBatch(ctx, replicas, &valBatches[i])
			if err != nil {
				return nil, fmt.Errorf("epoch %v validation batch %v: %w", epoch, i, err)
			}
			valLoss += loss
		}
		metrics["val_loss"] = valLoss / float64(len(valBatches))
	}
	return metrics, nil
}

// trainBatch makes one optimizer step. The loss couples all samples of the
// batch, so the step runs in phases: forward everything, compute the loss,
// then forward again and backpropagate the loss gradients per sample.
func (t *Trainer) trainBatch(ctx context.Context, replicas []method.Model, batch *domain.Batch) (float64, error) {
	var mainModel = replicas[0]
	out1, out2, err := forwardBatch(ctx, replicas, batch)
	if err != nil {
		return 0, err
	}
	loss, g1, g2, err := mainModel.Loss(out1, out2, targets(batch))
	if err != nil {
		return 0, err
	}
	if t.TerminateOnNaN && !ml.IsFinite(loss) {
		return 0, ErrNaNLoss
	}

	var pairs = mainModel.UsesPairs()
	err = parallel(ctx, replicas, batch.Len(), func(m method.Model, i int) {
		var sample = &batch.Samples[i]
		m.Forward(sample.View1)
		m.Backward(g1[i])
		if pairs {
			m.Forward(sample.View2)
			m.Backward(g2[i])
		}
	})
	if err != nil {
		for _, m := range replicas {
			m.DiscardGradients()
		}
		return 0, err
	}

	for i := 1; i < len(replicas); i++ {
		replicas[i].AddGradients(mainModel)
	}
	mainModel.ApplyGradients(t.Optimizer)
	return loss, nil
}

func (t *Trainer) evalBatch(ctx context.Context, replicas []method.Model, batch *domain.Batch) (float64, error) {
	out1, out2, err := forwardBatch(ctx, replicas, batch)
	if err != nil {
		return 0, err
	}
	// A non-finite validation loss is reported, not fatal. Callbacks decide.
	loss, _, _, err := replicas[0].Loss(out1, out2, targets(batch))
	if err != nil {
		return 0, err
	}
	return loss, nil
}

func forwardBatch(ctx context.Context, replicas []method.Model, batch *domain.Batch) ([][]float64, [][]float64, error) {
	var pairs = replicas[0].UsesPairs()
	var out1 = make([][]float64, batch.Len())
	var out2 [][]float64
	if pairs {
		out2 = make([][]float64, batch.Len())
	}
	var err = parallel(ctx, replicas, batch.Len(), func(m method.Model, i int) {
		var sample = &batch.Samples[i]
		out1[i] = append([]float64(nil), m.Forward(sample.View1)...)
		if pairs {
			out2[i] = append([]float64(nil), m.Forward(sample.View2)...)
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return out1, out2, nil
}

func targets(batch *domain.Batch) []domain.Target {
	var result = make([]domain.Target, batch.Len())
	for i := range batch.Samples {
		result[i] = batch.Samples[i].Target
	}
	return result
}

// parallel splits [0, n) into contiguous chunks, one per replica. The split
// only depends on n and the number of replicas, so runs are reproducible.
func parallel(ctx context.Context, replicas []method.Model, n int, fn func(m method.Model, i int)) error {
	g, ctx := errgroup.WithContext(ctx)
	var chunk = (n + len(replicas) - 1) / len(replicas)
	for r := range replicas {
		var m = replicas[r]
		var from, to = r * chunk, min((r+1)*chunk, n)
		if from >= to {
			break
		}
		g.Go(func() error {
			for i := from; i < to; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				fn(m, i)
			}
			return nil
		})
	}
	return g.Wait()
}
