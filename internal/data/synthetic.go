package data

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
)

type SyntheticConfig struct {
	Dir      string
	Dataset  string
	Train    int
	Val      int
	Test     int
	NLeads   int
	NSamples int
	NClasses int
	Seed     int64
}

var DefaultSyntheticConfig = SyntheticConfig{
	Dataset:  "synthetic",
	Train:    64,
	Val:      16,
	NLeads:   12,
	NSamples: 1000,
	NClasses: 3,
	Seed:     42,
}

// WriteSynthetic writes a labelled dataset of sinusoid plus noise records in
// the data module layout. Class c sets the base frequency of every lead, so a
// classifier can separate the classes.
func WriteSynthetic(cfg SyntheticConfig) error {
	if cfg.NLeads <= 0 || cfg.NSamples <= 0 || cfg.NClasses <= 0 {
		return fmt.Errorf("bad synthetic shape leads=%v samples=%v classes=%v", cfg.NLeads, cfg.NSamples, cfg.NClasses)
	}
	var root = filepath.Join(cfg.Dir, cfg.Dataset)
	var rnd = rand.New(rand.NewSource(cfg.Seed))
	var labels = make(map[string]domain.Target)

	var splits = []struct {
		name  string
		count int
	}{
		{TrainSplit, cfg.Train},
		{ValSplit, cfg.Val},
		{TestSplit, cfg.Test},
	}
	for _, split := range splits {
		if split.count == 0 {
			continue
		}
		var folder = filepath.Join(root, split.name)
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return err
		}
		for i := 0; i < split.count; i++ {
			var id = fmt.Sprintf("%v_%05d", split.name, i)
			var class = rnd.Intn(cfg.NClasses)
			var rec = syntheticRecord(rnd, id, class, cfg.NLeads, cfg.NSamples)
			if err := SaveRecord(filepath.Join(folder, id+".ecg"), &rec); err != nil {
				return err
			}
			labels[id] = domain.Target{Classes: []int{class}}
		}
	}

	var order = make([]string, 0, len(labels))
	for id := range labels {
		order = append(order, id)
	}
	sort.Strings(order)

	f, err := os.Create(filepath.Join(root, LabelsFile))
	if err != nil {
		return err
	}
	err = WriteLabels(f, labels, order)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func syntheticRecord(rnd *rand.Rand, id string, class, nleads, nsamples int) Record {
	const sampleRate = 100.0
	var freq = 1.0 + 0.5*float64(class)
	var rec = Record{ID: id, Signal: make([][]float64, nleads)}
	for l := range rec.Signal {
		var phase = rnd.Float64() * 2 * math.Pi
		var amp = 0.5 + rnd.Float64()
		var lead = make([]float64, nsamples)
		for t := range lead {
			var x = float64(t) / sampleRate
			lead[t] = amp*math.Sin(2*math.Pi*freq*x+phase) + 0.1*rnd.NormFloat64()
		}
		rec.Signal[l] = lead
	}
	return rec
}
