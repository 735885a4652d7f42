/*Package work runs long operations in the background, one at a time per
named slot.

A slot models a resource that cannot be shared, like the render pipeline
or an acquisition sequence.  Submitting to a busy slot is refused
immediately rather than queued; the caller is expected to surface the
refusal to whoever clicked the button twice.

Each task gets a channel of events: zero or more progress events followed
by exactly one terminal event, in submission order, after which the
channel is closed and the slot is free again.  Events are emitted from the
task's own goroutine, so a consumer that reads the channel sees progress
in the order the task reported it.
*/
package work

import (
	"sync"

	"github.com/google/uuid"

	"github.jpl.nasa.gov/bdube/thermacq/camera"
)

// Event is one update from a running task.  Terminal is true exactly once
// per task, on the last event before the channel closes; Err is only
// meaningful on that event.
type Event struct {
	// Task is the task's ID
	Task string

	// Slot is the slot the task runs in
	Slot string

	// Seq numbers events from zero within one task
	Seq int

	// Payload is the task-defined progress body, nil on terminal events
	Payload interface{}

	// Terminal marks the final event
	Terminal bool

	// Err is the task's outcome, nil for success
	Err error
}

// Task is a handle to a submitted task.
type Task struct {
	// ID is a unique identifier for this run
	ID string

	// Slot is the slot the task occupies
	Slot string

	// Events carries progress and the terminal event; closed afterward
	Events <-chan Event
}

// Func is the body of a task.  report emits a progress event; it must not
// be called after the function returns.  The returned error becomes the
// terminal event's Err.
type Func func(report func(payload interface{})) error

// Runner owns the slots.  The zero value is not usable; create with
// NewRunner.
type Runner struct {
	mu   sync.Mutex
	busy map[string]string // slot -> task ID
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{busy: make(map[string]string)}
}

// Busy reports whether slot currently runs a task, and which one.
func (r *Runner) Busy(slot string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.busy[slot]
	return id, ok
}

// Submit starts fn in the background in slot.  If the slot already runs a
// task the submission is refused with a DuplicateOperation failure and fn
// never starts.
func (r *Runner) Submit(slot string, fn Func) (Task, error) {
	id := uuid.New().String()

	r.mu.Lock()
	if other, ok := r.busy[slot]; ok {
		r.mu.Unlock()
		return Task{}, camera.Failure{
			Kind:   camera.DuplicateOperation,
			Detail: "slot " + slot + " is running task " + other,
		}
	}
	r.busy[slot] = id
	r.mu.Unlock()

	events := make(chan Event, 16)
	t := Task{ID: id, Slot: slot, Events: events}
	go r.run(t, events, fn)
	return t, nil
}

// run executes one task, emitting its events and freeing the slot.  The
// slot is freed before the terminal event is sent so a consumer that sees
// the terminal can immediately resubmit.
func (r *Runner) run(t Task, events chan<- Event, fn Func) {
	seq := 0
	report := func(payload interface{}) {
		events <- Event{Task: t.ID, Slot: t.Slot, Seq: seq, Payload: payload}
		seq++
	}
	err := fn(report)

	r.mu.Lock()
	delete(r.busy, t.Slot)
	r.mu.Unlock()

	events <- Event{Task: t.ID, Slot: t.Slot, Seq: seq, Terminal: true, Err: err}
	close(events)
}
