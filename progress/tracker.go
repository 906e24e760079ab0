// Package progress keeps weighted batch progress that any goroutine may
// advance or read.
package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Unit selects what one unit of progress weight means.
type Unit int

const (
	// UnitBytes weighs each pair by its binary size.
	UnitBytes Unit = iota
	// UnitCount weighs each pair as one.
	UnitCount
)

func (u Unit) String() string {
	if u == UnitCount {
		return "count"
	}
	return "bytes"
}

// ParseUnit accepts "bytes" or "count".
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bytes":
		return UnitBytes, nil
	case "count":
		return UnitCount, nil
	}
	return UnitBytes, fmt.Errorf("invalid progress unit %q (expected bytes or count)", s)
}

// Weight returns the progress weight of a pair whose binary is size bytes.
func (u Unit) Weight(size int64) int64 {
	if u == UnitCount {
		return 1
	}
	if size < 0 {
		return 0
	}
	return size
}

// State is a point-in-time copy of the tracker.
type State struct {
	Total     int64
	Completed int64
	Label     string
}

// Fraction returns completed/total clamped to [0,1]. An empty batch is
// complete.
func (s State) Fraction() float64 {
	if s.Total <= 0 {
		return 1
	}
	f := float64(s.Completed) / float64(s.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Tracker accumulates completed weight. Completed never decreases.
type Tracker struct {
	unit      Unit
	reporter  Reporter
	total     atomic.Int64
	completed atomic.Int64
	label     atomic.Pointer[string]
}

// NewTracker returns a tracker forwarding to reporter; nil means no
// display.
func NewTracker(unit Unit, reporter Reporter) *Tracker {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Tracker{unit: unit, reporter: reporter}
}

func (t *Tracker) Unit() Unit {
	return t.unit
}

// Initialize resets the tracker for a new batch of the given total weight.
func (t *Tracker) Initialize(total int64) {
	if total < 0 {
		total = 0
	}
	t.total.Store(total)
	t.completed.Store(0)
	empty := ""
	t.label.Store(&empty)
	t.reporter.Start(total, t.unit)
}

// Advance adds weight and records label as the most recent item.
// Negative weights are ignored.
func (t *Tracker) Advance(weight int64, label string) {
	if weight < 0 {
		return
	}
	t.completed.Add(weight)
	t.label.Store(&label)
	t.reporter.Advance(weight, label)
}

// Finalize marks the batch done.
func (t *Tracker) Finalize() {
	t.reporter.Finish()
}

func (t *Tracker) Snapshot() State {
	s := State{
		Total:     t.total.Load(),
		Completed: t.completed.Load(),
	}
	if l := t.label.Load(); l != nil {
		s.Label = *l
	}
	return s
}
