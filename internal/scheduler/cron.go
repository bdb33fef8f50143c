package scheduler

import (
	"github.com/robfig/cron/v3"
)

// TaskRunner schedules recurring tasks by cron expression. It exists so the
// scheduler logic can run against a fake runner in tests.
type TaskRunner interface {
	// Schedule registers a task under a cron spec and returns its id
	Schedule(spec string, task func()) (int, error)

	// Remove unregisters a task by id
	Remove(id int)

	// Start begins firing scheduled tasks
	Start()

	// Stop halts future firings without interrupting a running task
	Stop()
}

// cronRunner implements TaskRunner on robfig/cron
type cronRunner struct {
	cron *cron.Cron
}

// NewCronRunner creates a TaskRunner backed by the standard 5-field cron parser
func NewCronRunner() TaskRunner {
	return &cronRunner{cron: cron.New()}
}

// Schedule registers a task under a cron spec and returns its id
func (r *cronRunner) Schedule(spec string, task func()) (int, error) {
	id, err := r.cron.AddFunc(spec, task)
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// Remove unregisters a task by id
func (r *cronRunner) Remove(id int) {
	r.cron.Remove(cron.EntryID(id))
}

// Start begins firing scheduled tasks
func (r *cronRunner) Start() {
	r.cron.Start()
}

// Stop halts future firings without interrupting a running task
func (r *cronRunner) Stop() {
	r.cron.Stop()
}
