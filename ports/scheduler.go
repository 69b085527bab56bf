package ports

import "time"

// Task is a scheduled function that has not necessarily run yet
type Task interface {
	// Cancel stops the task. It reports false if the task already ran or was cancelled.
	Cancel() bool
}

// Scheduler runs functions after a delay
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Task
}
