package run

import (
	"sync"

	"github.com/espejodata/espejo/domain"
	"github.com/pkg/errors"
)

// ErrRunActive is returned when a run is requested while any other run holds
// the global concurrency gate. Only one synchronization runs at a time,
// regardless of domain.
var ErrRunActive = errors.New("another synchronization run is already active")

// ErrBadTransition is returned when a stage change is requested that the state
// machine does not allow.
var ErrBadTransition = errors.New("illegal run stage transition")

// Registry tracks the most recent run per domain and owns the global gate that
// serializes runs. All access goes through the mutex so handlers can read state
// while a run mutates it.
type Registry struct {
	mu      sync.RWMutex
	current map[domain.Domain]*RunState
	active  string // jobId of the run holding the gate, empty when idle.
}

func NewRegistry() *Registry {
	return &Registry{current: make(map[domain.Domain]*RunState)}
}

// TryAcquire claims the global gate for the given run state, registering it as
// the current run for its domain. It returns ErrRunActive if any run already
// holds the gate.
func (r *Registry) TryAcquire(state RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" {
		return errors.Wrapf(ErrRunActive, "job %v", r.active)
	}
	r.active = state.JobID
	s := state.Clone()
	r.current[state.Domain] = &s
	return nil
}

// Release frees the gate if the given job holds it. Safe to call more than once.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == jobID {
		r.active = ""
	}
}

// ActiveJob returns the jobId holding the gate, or empty when no run is active.
func (r *Registry) ActiveJob() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Load returns a copy of the most recent run state for the domain.
func (r *Registry) Load(d domain.Domain) (RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.current[d]
	if !ok {
		return RunState{}, false
	}
	return s.Clone(), true
}

// Update applies fn to the current state for the domain under the write lock
// and returns the resulting copy. The no-op when the domain has no run keeps
// late goroutines from resurrecting released state.
func (r *Registry) Update(d domain.Domain, fn func(*RunState)) (RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.current[d]
	if !ok {
		return RunState{}, false
	}
	fn(s)
	return s.Clone(), true
}

// Transition moves the domain's run to the next stage, enforcing the state
// machine, and logs the change on the run itself.
func (r *Registry) Transition(d domain.Domain, next Stage) (RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.current[d]
	if !ok {
		return RunState{}, errors.Errorf("no run registered for domain %v", d)
	}
	if !s.Stage.CanTransition(next) {
		return RunState{}, errors.Wrapf(ErrBadTransition, "%v -> %v", s.Stage, next)
	}
	s.Stage = next
	s.AppendLog("stage: " + string(next))
	if next.IsTerminal() {
		s.Running = false
	}
	return s.Clone(), nil
}
