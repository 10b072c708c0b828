package domain

import "fmt"

type TargetType int

const (
	Single TargetType = iota
	Multilabel
)

func (tt TargetType) String() string {
	switch tt {
	case Single:
		return "single"
	case Multilabel:
		return "multilabel"
	default:
		return fmt.Sprintf("TargetType(%d)", int(tt))
	}
}

// Target is the list of class indices assigned to a record.
// Single target type records carry exactly one class.
type Target struct {
	Classes []int
}

// Sample is one training example: two views of the same record and its target.
// View2 is nil when the method does not use pairs.
type Sample struct {
	RecordID string
	View1    []float64
	View2    []float64
	Target   Target
}

type Batch struct {
	Samples []Sample
}

func (b *Batch) Len() int { return len(b.Samples) }
