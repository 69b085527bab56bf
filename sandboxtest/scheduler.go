package sandboxtest

import (
	"sync"
	"time"

	"github.com/layer-3/passport-sandbox/ports"
)

// Scheduler records scheduled tasks and runs them only when the test fires them
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
}

// Task is a task held by Scheduler
type Task struct {
	Delay time.Duration

	mu        sync.Mutex
	fn        func()
	done      bool
	cancelled bool
}

var _ ports.Scheduler = (*Scheduler)(nil)

// Schedule records fn
func (s *Scheduler) Schedule(delay time.Duration, fn func()) ports.Task {
	t := &Task{Delay: delay, fn: fn}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return t
}

// Cancel stops the task if it has not run
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.cancelled = true
	return true
}

// Cancelled reports whether the task was cancelled
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Tasks returns every task scheduled so far
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.tasks...)
}

// Pending returns the tasks that neither ran nor were cancelled
func (s *Scheduler) Pending() []*Task {
	var out []*Task
	for _, t := range s.Tasks() {
		t.mu.Lock()
		if !t.done {
			out = append(out, t)
		}
		t.mu.Unlock()
	}
	return out
}

// Fire runs every pending task and returns how many ran
func (s *Scheduler) Fire() int {
	ran := 0
	for _, t := range s.Pending() {
		t.mu.Lock()
		if t.done {
			t.mu.Unlock()
			continue
		}
		t.done = true
		fn := t.fn
		t.mu.Unlock()

		fn()
		ran++
	}
	return ran
}
