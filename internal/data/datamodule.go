package data

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
)

const (
	LabelsFile        = "labels.csv"
	TrainSplit        = "train"
	ValSplit          = "val"
	TestSplit         = "test"
	defaultStoreBytes = 1 << 30
)

type Options struct {
	DataDir         string
	Dataset         string
	BatchSize       int
	Method          string
	UsePairs        bool
	Seed            int64
	PositivePairing string
	NLeads          int
	Window          int
	NumWorkers      int
	DoTest          bool
	Debug           bool
	NClasses        int
	TargetType      domain.TargetType
	StoreBytes      int
	Logger          *log.Logger
}

// ECGDataModule turns a dataset folder into training and validation batches.
//
// Layout: <DataDir>/<Dataset>/{train,val,test}/<record>.{ecg,csv} and an
// optional <DataDir>/<Dataset>/labels.csv. Without a val folder a fifth of
// the training records is held out.
type ECGDataModule struct {
	opts       Options
	pairing    Pairing
	aug        Augmentation
	store      *RecordStore
	labels     map[string]domain.Target
	train      []recordInfo
	val        []recordInfo
	test       []recordInfo
	valBatches []domain.Batch
	skipped    int
	logger     *log.Logger
}

func NewECGDataModule(opts Options) (*ECGDataModule, error) {
	pairing, err := ParsePairing(opts.PositivePairing)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %v", opts.BatchSize)
	}
	if opts.UsePairs && opts.BatchSize < 2 {
		return nil, fmt.Errorf("contrastive batches need at least 2 samples, got batch size %v", opts.BatchSize)
	}
	if opts.NLeads <= 0 || opts.Window <= 0 {
		return nil, fmt.Errorf("bad window shape %vx%v", opts.NLeads, opts.Window)
	}
	if opts.StoreBytes == 0 {
		opts.StoreBytes = defaultStoreBytes
	}
	var logger = opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &ECGDataModule{
		opts:    opts,
		pairing: pairing,
		aug:     DefaultAugmentation,
		logger:  logger,
	}, nil
}

func (dm *ECGDataModule) NumTrain() int  { return len(dm.train) }
func (dm *ECGDataModule) NumVal() int    { return len(dm.val) }
func (dm *ECGDataModule) NumTest() int   { return len(dm.test) }
func (dm *ECGDataModule) Skipped() int   { return dm.skipped }
func (dm *ECGDataModule) InputSize() int { return dm.opts.NLeads * dm.opts.Window }

func (dm *ECGDataModule) root() string {
	return filepath.Join(dm.opts.DataDir, dm.opts.Dataset)
}

func (dm *ECGDataModule) Setup(ctx context.Context) error {
	dm.logger.Println("datamodule setup started",
		"dataset", dm.opts.Dataset,
		"pairing", dm.pairing)
	if dm.store != nil {
		dm.store.Reset()
	}
	dm.store = NewRecordStore(dm.opts.StoreBytes)
	dm.skipped = 0

	labels, err := LoadLabels(filepath.Join(dm.root(), LabelsFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if !dm.opts.UsePairs {
			return fmt.Errorf("method %v needs labels: %w", dm.opts.Method, err)
		}
		labels = make(map[string]domain.Target)
	}
	dm.labels = labels

	train, err := dm.loadSplit(ctx, TrainSplit)
	if err != nil {
		return err
	}
	val, err := dm.loadSplit(ctx, ValSplit)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		train, val = holdOut(train, dm.opts.Seed)
		dm.logger.Println("no validation folder, held out", len(val), "training records")
	}
	if dm.opts.DoTest {
		dm.test, err = dm.loadSplit(ctx, TestSplit)
		if err != nil {
			return err
		}
	}

	if dm.opts.Debug {
		train = truncate(train, 2*dm.opts.BatchSize)
		val = truncate(val, 2*dm.opts.BatchSize)
	}
	if len(train) < dm.opts.BatchSize {
		return fmt.Errorf("training split has %v usable records, fewer than batch size %v", len(train), dm.opts.BatchSize)
	}
	dm.train = train
	dm.val = val

	dm.valBatches, err = dm.makeBatches(dm.val, rand.New(rand.NewSource(dm.opts.Seed)), false)
	if err != nil {
		return err
	}

	var stats = dm.store.Stats()
	dm.logger.Println("datamodule setup finished",
		"train", len(dm.train),
		"val", len(dm.val),
		"test", len(dm.test),
		"skipped", dm.skipped,
		"cached", stats.EntriesCount,
		"cache_bytes", stats.BytesSize)
	return nil
}

func (dm *ECGDataModule) loadSplit(ctx context.Context, split string) ([]recordInfo, error) {
	var folder = filepath.Join(dm.root(), split)
	if _, err := os.Stat(folder); err != nil {
		return nil, err
	}
	infos, err := loadRecords(ctx, folder, dm.opts.NumWorkers, dm.store)
	if err != nil {
		return nil, err
	}
	var span = dm.pairing.Span(dm.opts.Window)
	if !dm.opts.UsePairs {
		span = dm.opts.Window
	}
	var result = infos[:0]
	for _, info := range infos {
		if info.NLeads != dm.opts.NLeads {
			return nil, fmt.Errorf("%w: %v has %v leads, expected %v", ErrBadRecord, info.Path, info.NLeads, dm.opts.NLeads)
		}
		if info.NSamples < span {
			dm.skipped++
			continue
		}
		if err := dm.checkTarget(info.ID); err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	dm.logger.Println("loaded split", split, "records", len(result))
	return result, nil
}

func (dm *ECGDataModule) checkTarget(id string) error {
	target, found := dm.labels[id]
	if !found {
		if dm.opts.UsePairs {
			return nil
		}
		return fmt.Errorf("record %v has no labels", id)
	}
	if dm.opts.TargetType == domain.Single && len(target.Classes) != 1 {
		return fmt.Errorf("record %v: single target dataset needs exactly one label, got %v", id, len(target.Classes))
	}
	for _, c := range target.Classes {
		if c < 0 || (dm.opts.NClasses > 0 && c >= dm.opts.NClasses) {
			return fmt.Errorf("record %v: class %v out of range [0, %v)", id, c, dm.opts.NClasses)
		}
	}
	return nil
}

// TrainBatches reshuffles the training records for epoch and drops the last
// incomplete batch. The same seed and epoch give the same batches.
func (dm *ECGDataModule) TrainBatches(epoch int) ([]domain.Batch, error) {
	var rnd = rand.New(rand.NewSource(dm.opts.Seed*1_000_003 + int64(epoch)))
	var order = make([]recordInfo, len(dm.train))
	copy(order, dm.train)
	rnd.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	var batches, err = dm.makeBatches(order, rnd, true)
	if err != nil {
		return nil, err
	}
	if dm.opts.Debug && len(batches) > 1 {
		batches = batches[:1]
	}
	return batches, nil
}

// ValBatches are built once in Setup so validation loss is comparable
// between epochs.
func (dm *ECGDataModule) ValBatches() ([]domain.Batch, error) {
	if dm.opts.Debug && len(dm.valBatches) > 1 {
		return dm.valBatches[:1], nil
	}
	return dm.valBatches, nil
}

func (dm *ECGDataModule) TestBatches() ([]domain.Batch, error) {
	return dm.makeBatches(dm.test, rand.New(rand.NewSource(dm.opts.Seed)), false)
}

func (dm *ECGDataModule) makeBatches(infos []recordInfo, rnd *rand.Rand, dropLast bool) ([]domain.Batch, error) {
	var minSize = 1
	if dm.opts.UsePairs {
		minSize = 2
	}
	var result []domain.Batch
	for i := 0; i < len(infos); i += dm.opts.BatchSize {
		var end = min(i+dm.opts.BatchSize, len(infos))
		if end-i < dm.opts.BatchSize && (dropLast || end-i < minSize) {
			break
		}
		var batch = domain.Batch{Samples: make([]domain.Sample, 0, end-i)}
		for _, info := range infos[i:end] {
			rec, err := dm.record(info)
			if err != nil {
				return nil, err
			}
			view1, view2 := makeViews(rnd, &rec, dm.opts.Window, dm.pairing, dm.opts.UsePairs, &dm.aug)
			batch.Samples = append(batch.Samples, domain.Sample{
				RecordID: info.ID,
				View1:    view1,
				View2:    view2,
				Target:   dm.labels[info.ID],
			})
		}
		result = append(result, batch)
	}
	return result, nil
}

// record returns the normalized signal, reloading it from disk when the
// store has evicted it.
func (dm *ECGDataModule) record(info recordInfo) (Record, error) {
	if rec, ok := dm.store.Get(info.Path); ok {
		return rec, nil
	}
	rec, err := readNormalized(info.Path)
	if err != nil {
		return Record{}, err
	}
	dm.store.Put(info.Path, &rec)
	return rec, nil
}

func holdOut(infos []recordInfo, seed int64) (training, validation []recordInfo) {
	var shuffled = make([]recordInfo, len(infos))
	copy(shuffled, infos)
	var rnd = rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	var validationSize = max(1, len(shuffled)/5)
	if len(shuffled) < 2 {
		validationSize = 0
	}
	return shuffled[validationSize:], shuffled[:validationSize]
}

func truncate(infos []recordInfo, n int) []recordInfo {
	if len(infos) > n {
		return infos[:n]
	}
	return infos
}
