package scheduler

import (
	"time"

	"github.com/layer-3/passport-sandbox/ports"
)

// Timer schedules tasks on the runtime timer heap
type Timer struct{}

// New returns a time.AfterFunc backed scheduler
func New() Timer {
	return Timer{}
}

var _ ports.Scheduler = Timer{}

// Schedule runs fn once after delay unless the task is cancelled first
func (Timer) Schedule(delay time.Duration, fn func()) ports.Task {
	return timerTask{t: time.AfterFunc(delay, fn)}
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Cancel() bool {
	return t.t.Stop()
}
