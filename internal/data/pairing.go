package data

import (
	"fmt"
	"math/rand"
)

// Pairing decides how the two views of a record are built.
type Pairing int

const (
	// PairAugment takes one window and augments it twice.
	PairAugment Pairing = iota
	// PairTime takes two adjacent non-overlapping windows of the same record.
	PairTime
	// PairLead takes one window and splits the leads: limb leads in the first
	// view, precordial leads in the second.
	PairLead
)

func (p Pairing) String() string {
	switch p {
	case PairAugment:
		return "augment"
	case PairTime:
		return "time"
	case PairLead:
		return "lead"
	}
	return fmt.Sprintf("Pairing(%d)", int(p))
}

func ParsePairing(s string) (Pairing, error) {
	switch s {
	case "augment", "":
		return PairAugment, nil
	case "time":
		return PairTime, nil
	case "lead":
		return PairLead, nil
	}
	return 0, fmt.Errorf("unknown positive pairing %q", s)
}

// Span is the number of samples a record needs for this pairing.
func (p Pairing) Span(window int) int {
	if p == PairTime {
		return 2 * window
	}
	return window
}

type Augmentation struct {
	NoiseStd float64
	MinScale float64
	MaxScale float64
}

var DefaultAugmentation = Augmentation{
	NoiseStd: 0.05,
	MinScale: 0.9,
	MaxScale: 1.1,
}

// window copies signal[:, start:start+length] into a flat lead-major slice.
func window(rec *Record, start, length int) []float64 {
	var result = make([]float64, rec.NLeads()*length)
	for l, lead := range rec.Signal {
		copy(result[l*length:(l+1)*length], lead[start:start+length])
	}
	return result
}

func (a *Augmentation) apply(rnd *rand.Rand, view []float64) {
	var scale = a.MinScale + rnd.Float64()*(a.MaxScale-a.MinScale)
	for i := range view {
		view[i] = view[i]*scale + rnd.NormFloat64()*a.NoiseStd
	}
}

// maskLeads zeroes every lead not in [from, to).
func maskLeads(view []float64, nleads, length, from, to int) {
	for l := 0; l < nleads; l++ {
		if l >= from && l < to {
			continue
		}
		for t := 0; t < length; t++ {
			view[l*length+t] = 0
		}
	}
}

// makeViews builds the views of one training sample. With pairs false only
// the first view is produced. The record must be at least p.Span(length) long.
func makeViews(
	rnd *rand.Rand,
	rec *Record,
	length int,
	p Pairing,
	pairs bool,
	aug *Augmentation,
) (view1, view2 []float64) {
	var span = p.Span(length)
	if !pairs {
		span = length
	}
	var start = 0
	if extra := rec.NSamples() - span; extra > 0 {
		start = rnd.Intn(extra + 1)
	}
	view1 = window(rec, start, length)
	if !pairs {
		return view1, nil
	}

	switch p {
	case PairTime:
		view2 = window(rec, start+length, length)
	case PairLead:
		view2 = append([]float64(nil), view1...)
		var half = rec.NLeads() / 2
		maskLeads(view1, rec.NLeads(), length, 0, half)
		maskLeads(view2, rec.NLeads(), length, half, rec.NLeads())
	default:
		view2 = append([]float64(nil), view1...)
		aug.apply(rnd, view1)
		aug.apply(rnd, view2)
	}
	return view1, view2
}
