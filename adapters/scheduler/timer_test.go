package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer_RunsAndCancels(t *testing.T) {
	ran := make(chan struct{})
	New().Schedule(5*time.Millisecond, func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	cancelled := make(chan struct{})
	task := New().Schedule(time.Hour, func() { close(cancelled) })
	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel())
}
