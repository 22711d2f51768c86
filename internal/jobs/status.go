// Package jobs tracks the lifecycle of pipeline runs so interested
// clients (logs, the websocket feed) can follow a job from receipt to a
// terminal state.
package jobs

import (
	"fmt"
	"sync"
	"time"
)

// State is a pipeline job's position in its lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateConverting   State = "converting"
	StateTranscribing State = "transcribing"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// legalTransitions maps each state to the states it may move to.
var legalTransitions = map[State][]State{
	StateReceived:     {StateConverting, StateTranscribing, StateFailed},
	StateConverting:   {StateTranscribing, StateFailed},
	StateTranscribing: {StateComplete, StateFailed},
	StateComplete:     {},
	StateFailed:       {},
}

// Event is one job status change.
type Event struct {
	JobID    string    `json:"job_id"`
	Filename string    `json:"filename"`
	State    State     `json:"state"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Observer receives job events. Callbacks run outside the tracker lock and
// must not block for long.
type Observer func(Event)

// Tracker holds current job states and fans events out to observers.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]State
	observers []Observer
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]State)}
}

// Subscribe registers an observer for all subsequent events.
func (t *Tracker) Subscribe(obs Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, obs)
}

// Start registers a new job in the received state and emits the event.
func (t *Tracker) Start(jobID, filename string) {
	t.mu.Lock()
	t.jobs[jobID] = StateReceived
	obs := t.snapshot()
	t.mu.Unlock()

	notify(obs, Event{JobID: jobID, Filename: filename, State: StateReceived, At: time.Now()})
}

// Transition moves a job to next, enforcing the legal-transition table.
// Terminal states are removed from the tracker after the event is emitted.
func (t *Tracker) Transition(jobID, filename string, next State, jobErr error) error {
	t.mu.Lock()
	current, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("jobs: unknown job %q", jobID)
	}
	if !canTransition(current, next) {
		t.mu.Unlock()
		return fmt.Errorf("jobs: illegal transition %s -> %s for job %q", current, next, jobID)
	}
	if next == StateComplete || next == StateFailed {
		delete(t.jobs, jobID)
	} else {
		t.jobs[jobID] = next
	}
	obs := t.snapshot()
	t.mu.Unlock()

	ev := Event{JobID: jobID, Filename: filename, State: next, At: time.Now()}
	if jobErr != nil {
		ev.Error = jobErr.Error()
	}
	notify(obs, ev)
	return nil
}

// Active returns the number of jobs not yet in a terminal state.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// snapshot copies the observer list. Caller holds t.mu.
func (t *Tracker) snapshot() []Observer {
	obs := make([]Observer, len(t.observers))
	copy(obs, t.observers)
	return obs
}

func notify(obs []Observer, ev Event) {
	for _, o := range obs {
		o(ev)
	}
}

func canTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
