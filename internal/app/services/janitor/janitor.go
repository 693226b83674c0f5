// Package janitor runs periodic housekeeping on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Sivtheng/message-maxy/internal/app/system"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

var _ system.Service = (*Janitor)(nil)

// DefaultSchedule runs housekeeping every ten minutes.
const DefaultSchedule = "@every 10m"

// Task is one housekeeping job. Run returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Janitor runs its tasks on a schedule.
type Janitor struct {
	log      *logger.Logger
	schedule cron.Schedule
	expr     string
	timeout  time.Duration

	mu      sync.Mutex
	tasks   []Task
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New parses expr, a standard five-field cron expression or a descriptor
// such as "@every 5m". An empty expr means DefaultSchedule.
func New(expr string, log *logger.Logger) (*Janitor, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", expr, err)
	}
	if log == nil {
		log = logger.NewDefault("janitor")
	}
	return &Janitor{log: log, schedule: schedule, expr: expr, timeout: time.Minute}, nil
}

// Add registers a task. Tasks added after Start run from the next tick.
func (j *Janitor) Add(task Task) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks = append(j.tasks, task)
}

func (j *Janitor) Name() string { return "janitor" }

func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}

	j.ctx, j.cancel = context.WithCancel(context.WithoutCancel(ctx))
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	j.cron.Schedule(j.schedule, cron.FuncJob(j.RunOnce))
	j.cron.Start()
	j.running = true

	j.log.WithField("schedule", j.expr).Info("janitor started")
	return nil
}

func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	c, cancel := j.cron, j.cancel
	j.running = false
	j.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	j.log.Info("janitor stopped")
	return nil
}

// RunOnce runs every task now. A failing task is logged and does not stop
// the others.
func (j *Janitor) RunOnce() {
	j.mu.Lock()
	tasks := append([]Task(nil), j.tasks...)
	parent := j.ctx
	j.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	for _, task := range tasks {
		ctx, cancel := context.WithTimeout(parent, j.timeout)
		removed, err := task.Run(ctx)
		cancel()

		entry := j.log.WithField("task", task.Name)
		if err != nil {
			entry.WithError(err).Warn("janitor task failed")
			continue
		}
		if removed > 0 {
			entry.WithField("removed", removed).Info("janitor task cleaned up")
		}
	}
}

// Next reports when the schedule fires after t.
func (j *Janitor) Next(t time.Time) time.Time {
	return j.schedule.Next(t)
}
