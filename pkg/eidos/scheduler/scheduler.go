// Package scheduler implements timed heartbeat tasks for Eidos.
// Uses robfig/cron for cron expression parsing and execution. Each task
// injects a synthetic message into the agent pipeline on its schedule, so
// the agent can act without a user prompting it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTaskTimeout bounds a single task execution.
const DefaultTaskTimeout = 5 * time.Minute

// Task is one scheduled heartbeat.
type Task struct {
	// ID is the unique task identifier.
	ID string `yaml:"id"`

	// Schedule is the cron expression or shorthand.
	// Supports standard 5-field cron, @daily, @hourly, @every 5m, etc.
	Schedule string `yaml:"schedule"`

	// Prompt is the synthetic message text handed to the agent.
	Prompt string `yaml:"prompt"`

	// Channel is the channel the agent's reply is delivered on.
	Channel string `yaml:"channel"`

	// ChatID is the target chat in that channel.
	ChatID string `yaml:"chat_id"`

	// Enabled indicates if the task is active.
	Enabled bool `yaml:"enabled"`
}

// Config holds scheduler configuration.
type Config struct {
	// Enabled toggles the scheduler.
	Enabled bool `yaml:"enabled"`

	// Tasks are the configured heartbeats.
	Tasks []Task `yaml:"tasks"`
}

// Handler is called when a task fires.
type Handler func(ctx context.Context, task *Task) error

// Scheduler runs heartbeat tasks on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	cronIDs map[string]cron.EntryID

	// running prevents overlapping executions of the same task when a
	// schedule fires while the previous run is still active.
	running map[string]bool

	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler that calls handler when a task fires.
func New(handler Handler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		cronIDs: make(map[string]cron.EntryID),
		running: make(map[string]bool),
		handler: handler,
		logger:  logger.With("component", "scheduler"),
	}
}

// Add registers a task. Disabled tasks are registered but not scheduled.
func (s *Scheduler) Add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("scheduler: task ID is required")
	}
	if task.Schedule == "" {
		return fmt.Errorf("scheduler: task %q has no schedule", task.ID)
	}
	if _, exists := s.cronIDs[task.ID]; exists {
		return fmt.Errorf("scheduler: task %q already exists", task.ID)
	}
	if !task.Enabled {
		return nil
	}

	t := *task
	entryID, err := s.cron.AddFunc(t.Schedule, func() { s.fire(&t) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.ID, err)
	}
	s.cronIDs[task.ID] = entryID
	s.logger.Info("task registered", "id", task.ID, "schedule", task.Schedule)
	return nil
}

// Start begins running schedules.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("started", "tasks", len(s.cronIDs))
}

// Stop halts the scheduler and waits for in-flight tasks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("stopped")
}

func (s *Scheduler) fire(task *Task) {
	s.mu.Lock()
	if s.running[task.ID] {
		s.mu.Unlock()
		s.logger.Warn("task still running, skipping", "id", task.ID)
		return
	}
	s.running[task.ID] = true
	parent := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(parent, DefaultTaskTimeout)
	defer cancel()

	start := time.Now()
	if err := s.handler(ctx, task); err != nil {
		s.logger.Warn("task failed", "id", task.ID, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("task completed", "id", task.ID, "duration", time.Since(start))
}
