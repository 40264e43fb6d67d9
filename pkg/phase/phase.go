// Package phase tracks the writing workflow the co-writing session moves
// through. Each phase supplies the topic tag stamped on threads
// initialized while it is current.
package phase

import (
	"errors"
	"fmt"
	"sync"
)

// Phase is one stage of the co-writing workflow.
type Phase string

const (
	Premise              Phase = "premise"
	CharacterDevelopment Phase = "character-development"
	PlotOutline          Phase = "plot-outline"
	Drafting             Phase = "drafting"
	Rating               Phase = "rating"
	Editing              Phase = "editing"
)

// order defines forward progression through the workflow.
var order = []Phase{Premise, CharacterDevelopment, PlotOutline, Drafting, Rating, Editing}

var (
	ErrFinalPhase   = errors.New("already at final phase")
	ErrInitialPhase = errors.New("already at initial phase")
	ErrUnknownPhase = errors.New("unknown phase")
)

// Tracker holds the current workflow position.
type Tracker struct {
	mu  sync.Mutex
	idx int
}

// NewTracker starts at the first phase.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Current returns the current phase.
func (t *Tracker) Current() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return order[t.idx]
}

// Topic returns the topic tag new threads should carry.
func (t *Tracker) Topic() string {
	return string(t.Current())
}

// Advance moves to the next phase.
func (t *Tracker) Advance() (Phase, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idx == len(order)-1 {
		return order[t.idx], ErrFinalPhase
	}
	t.idx++
	return order[t.idx], nil
}

// Retreat moves to the previous phase.
func (t *Tracker) Retreat() (Phase, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idx == 0 {
		return order[t.idx], ErrInitialPhase
	}
	t.idx--
	return order[t.idx], nil
}

// Set jumps directly to a phase.
func (t *Tracker) Set(p Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, ph := range order {
		if ph == p {
			t.idx = i
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownPhase, p)
}

// Reset returns to the first phase.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idx = 0
}

// Phases lists the workflow in order.
func Phases() []Phase {
	return append([]Phase(nil), order...)
}
