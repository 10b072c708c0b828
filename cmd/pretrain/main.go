package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/ChizhovVadim/ecgpretrain/internal/data"
	"github.com/ChizhovVadim/ecgpretrain/internal/device"
	"github.com/ChizhovVadim/ecgpretrain/internal/method"
	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
	"github.com/ChizhovVadim/ecgpretrain/internal/nn"
	"github.com/ChizhovVadim/ecgpretrain/internal/setup"
	"github.com/ChizhovVadim/ecgpretrain/internal/tracking"
	"github.com/ChizhovVadim/ecgpretrain/internal/trainer"
)

func main() {
	var logger = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)

	var ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err = run(ctx, os.Args[1:], logger)
	if err != nil {
		logger.Println(err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, logger *log.Logger) (err error) {
	args, err := setup.ParseArgsPretrain(argv)
	if err != nil {
		return err
	}
	var rnd = setup.SeedEverything(args.Seed)
	logger.Printf("Beginning pretrain main() with seed %v and arguments %v", args.Seed, args)

	var cpu = device.Detect()
	var devices = device.ResolveDevices(args.NumDevices, cpu, logger)
	logger.Println("CPU", cpu, "devices", devices)

	encoder, err := setup.NewEncoder(args, rnd)
	if err != nil {
		return err
	}
	model, err := setup.NewMethod(encoder, logger, args, rnd)
	if err != nil {
		return err
	}
	logger.Printf("Loaded %v model.", args.Method)

	nClasses, targetType, err := setup.DatasetInfo(args.Dataset)
	if err != nil {
		return err
	}
	dm, err := data.NewECGDataModule(data.Options{
		DataDir:         args.DataDir,
		Dataset:         args.Dataset,
		BatchSize:       args.BatchSize,
		Method:          args.Method,
		UsePairs:        model.UsesPairs(),
		Seed:            args.Seed,
		PositivePairing: args.PositivePairing,
		NLeads:          setup.NLeads,
		Window:          args.Window,
		NumWorkers:      args.NumWorkers,
		DoTest:          false,
		Debug:           args.Debug,
		NClasses:        nClasses,
		TargetType:      targetType,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	logger.Printf("Loaded datamodule with dataset %v.", args.Dataset)

	earlyStop, err := trainer.NewEarlyStopping("val_loss", "min", args.Patience)
	if err != nil {
		return err
	}
	earlyStop.Logger = logger
	var callbacks = []trainer.Callback{earlyStop}

	var tracker trainer.ITracker
	if args.Wandb {
		logger.Println("Initiating tracking configs.")
		var trackingRun *tracking.Run
		var extra []trainer.Callback
		trackingRun, extra, err = setupTracking(args, model, logger)
		if err != nil {
			return err
		}
		defer func() {
			if finishErr := trackingRun.Finish(); err == nil {
				err = finishErr
			}
		}()
		tracker = trackingRun
		callbacks = append(callbacks, extra...)
	}

	scheduler, err := ml.NewScheduler(args.Scheduler, args.LR, args.MaxEpochs, args.StepSize, args.Gamma)
	if err != nil {
		return err
	}
	var tr = &trainer.Trainer{
		MaxEpochs:      args.MaxEpochs,
		Devices:        devices,
		FastDevRun:     args.Debug,
		TerminateOnNaN: true,
		Optimizer:      ml.NewAdam(args.LR, args.WeightDecay),
		Scheduler:      scheduler,
		Logger:         logger,
		Callbacks:      callbacks,
		Tracker:        tracker,
	}
	logger.Println("Created trainer and starting training.")

	return tr.Fit(ctx, model, dm)
}

// setupTracking starts an offline run and builds the callbacks that need it:
// the learning rate monitor and the checkpointer.
func setupTracking(args *setup.Args, model method.Model, logger *log.Logger) (*tracking.Run, []trainer.Callback, error) {
	cfg, err := tracking.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	trackingRun, err := tracking.NewRun(cfg, args.Name, args.Project, args.Entity, true)
	if err != nil {
		return nil, nil, err
	}
	trackingRun.Watch(map[string]int{
		"encoder": nn.CountParams(model.Encoder()),
		"head":    nn.CountParams(model.Head()),
	})
	if err := trackingRun.LogHyperparams(args); err != nil {
		trackingRun.Finish()
		return nil, nil, err
	}
	logger.Println("Tracking run", trackingRun.Dir())

	lrMonitor, err := trainer.NewLearningRateMonitor(trackingRun, "epoch")
	if err != nil {
		trackingRun.Finish()
		return nil, nil, err
	}
	var ckpt = trainer.NewCheckpointer(
		args,
		filepath.Join(args.CheckpointDir, args.Name, fmt.Sprintf("seed%v", args.Seed)),
		args.CheckpointFrequency,
		args.Name,
		trackingRun.ID(),
	)
	ckpt.Logger = logger
	return trackingRun, []trainer.Callback{lrMonitor, ckpt}, nil
}
