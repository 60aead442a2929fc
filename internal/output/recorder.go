package output

import (
	"sync"

	"keydance/internal/action"
)

// Recorder is an Output that remembers every step it was given.
type Recorder struct {
	mu    sync.Mutex
	steps []action.Step
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Assert(a action.Action) {
	r.mu.Lock()
	r.steps = append(r.steps, action.Step{Op: action.Assert, Action: a})
	r.mu.Unlock()
}

func (r *Recorder) Deassert(a action.Action) {
	r.mu.Lock()
	r.steps = append(r.steps, action.Step{Op: action.Deassert, Action: a})
	r.mu.Unlock()
}

// Steps returns a copy of the recorded steps.
func (r *Recorder) Steps() []action.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]action.Step(nil), r.steps...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.steps = nil
	r.mu.Unlock()
}

// Held returns the multiset of actions asserted and not yet deasserted.
func (r *Recorder) Held() map[action.Action]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := make(map[action.Action]int)
	for _, s := range r.steps {
		switch s.Op {
		case action.Assert:
			held[s.Action]++
		case action.Deassert:
			held[s.Action]--
			if held[s.Action] == 0 {
				delete(held, s.Action)
			}
		}
	}
	return held
}

// Balanced reports whether every assert has a matching deassert and no
// deassert came before its assert.
func (r *Recorder) Balanced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	open := make(map[action.Action]int)
	for _, s := range r.steps {
		switch s.Op {
		case action.Assert:
			open[s.Action]++
		case action.Deassert:
			if open[s.Action] == 0 {
				return false
			}
			open[s.Action]--
		}
	}
	for _, n := range open {
		if n != 0 {
			return false
		}
	}
	return true
}
