// Package refresh runs the periodic jobs of the server: re-fetching cached
// calendar ranges and re-rendering the notice-board snapshot.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "clubcal/internal/log"
)

// ErrBusy is returned by Run while another run is in progress.
var ErrBusy = errors.New("refresh already running")

// Task is one named step of a run.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Status describes the last completed run.
type Status struct {
	LastRun  time.Time     `json:"lastRun"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Runs     int           `json:"runs"`
}

// Runner executes its tasks in order. A failing task does not stop the
// ones after it.
type Runner struct {
	tasks []Task
	now   func() time.Time

	running sync.Mutex
	mu      sync.RWMutex
	status  Status
}

func NewRunner(tasks ...Task) *Runner {
	return &Runner{tasks: tasks, now: time.Now}
}

// Run executes every task once and returns their joined errors.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.TryLock() {
		return ErrBusy
	}
	defer r.running.Unlock()

	started := r.now()
	var errs []error
	for _, t := range r.tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.Run(ctx); err != nil {
			appLog.Error("refresh: task failed", err, "task", t.Name)
			errs = append(errs, err)
			continue
		}
		appLog.Debug("refresh: task done", "task", t.Name)
	}
	err := errors.Join(errs...)

	r.mu.Lock()
	r.status.LastRun = started
	r.status.Duration = r.now().Sub(started)
	r.status.Runs++
	r.status.Error = ""
	if err != nil {
		r.status.Error = err.Error()
	}
	r.mu.Unlock()

	appLog.Info("refresh: run finished", "tasks", len(r.tasks), "failed", len(errs))
	return err
}

func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Schedule starts a cron scheduler running r on spec (five fields) in loc.
// The scheduler stops when ctx is done; the returned channel closes once
// the last run has returned.
func Schedule(ctx context.Context, spec string, loc *time.Location, r *Runner) (<-chan struct{}, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := r.Run(ctx); err != nil && !errors.Is(err, ErrBusy) {
			appLog.Warn("refresh: scheduled run had failures", "err", err)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("refresh: scheduled", "spec", spec, "timezone", loc.String())

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh: scheduler stopped")
		close(done)
	}()
	return done, nil
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
