// Package monitor moves in-progress tasks to review once their whole
// session tree has settled.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/opencode"
	"github.com/frak-id/atelier-sub002/internal/progress"
	"github.com/frak-id/atelier-sub002/internal/tasks"
)

// TaskSource lists and transitions tasks.
type TaskSource interface {
	ListByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)
	MoveToReview(ctx context.Context, id string) (*models.Task, error)
}

// ProgressSource computes a task's live progress.
type ProgressSource interface {
	ForTask(ctx context.Context, task *models.Task) *progress.TaskProgress
}

// Monitor advances an in_progress task to pending_review after every
// session in its tree was idle, with nothing awaiting a human and every
// source reachable, for idleTicks consecutive checks.
type Monitor struct {
	tasks     TaskSource
	progress  ProgressSource
	interval  time.Duration
	idleTicks int
	logger    *slog.Logger

	nudge chan struct{}

	mu      sync.Mutex
	streaks map[string]int
}

func New(taskSource TaskSource, progressSource ProgressSource, interval time.Duration, idleTicks int, logger *slog.Logger) *Monitor {
	if idleTicks < 1 {
		idleTicks = 1
	}
	return &Monitor{
		tasks:     taskSource,
		progress:  progressSource,
		interval:  interval,
		idleTicks: idleTicks,
		logger:    logger.With("component", "monitor"),
		nudge:     make(chan struct{}, 1),
		streaks:   make(map[string]int),
	}
}

// Run checks on every interval and on every nudge until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("auto-advance monitor started", "interval", m.interval.String(), "idle_ticks", m.idleTicks)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		case <-m.nudge:
			m.Tick(ctx)
		}
	}
}

// Nudge requests an early check. It never blocks.
func (m *Monitor) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// OnEvent is a live event hook: a session falling idle triggers a check.
func (m *Monitor) OnEvent(_ string, ev opencode.Event) {
	if ev.Type == opencode.EventSessionIdle || ev.Type == opencode.EventSessionStatus {
		m.Nudge()
	}
}

// Tick runs one check over every in_progress task and returns the ids of
// the tasks it moved to review.
func (m *Monitor) Tick(ctx context.Context) []string {
	list, err := m.tasks.ListByStatus(ctx, models.TaskStatusInProgress)
	if err != nil {
		m.logger.Error("list in-progress tasks", "error", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[string]bool, len(list))
	var advanced []string
	for _, task := range list {
		active[task.ID] = true
		if task.Data.SandboxID == "" || len(task.Data.Sessions) == 0 {
			delete(m.streaks, task.ID)
			continue
		}

		p := m.progress.ForTask(ctx, task)
		if !settled(p) {
			delete(m.streaks, task.ID)
			continue
		}

		m.streaks[task.ID]++
		if m.streaks[task.ID] < m.idleTicks {
			continue
		}

		delete(m.streaks, task.ID)
		if _, err := m.tasks.MoveToReview(ctx, task.ID); err != nil {
			var serr *tasks.InvalidStateError
			var nf *tasks.NotFoundError
			if errors.As(err, &serr) || errors.As(err, &nf) {
				m.logger.Debug("task changed before auto-advance", "task", task.ID, "error", err)
				continue
			}
			m.logger.Error("auto-advance task", "task", task.ID, "error", err)
			continue
		}
		m.logger.Info("task moved to review", "task", task.ID, "sessions", p.TotalSessionCount)
		advanced = append(advanced, task.ID)
	}

	for id := range m.streaks {
		if !active[id] {
			delete(m.streaks, id)
		}
	}
	return advanced
}

func settled(p *progress.TaskProgress) bool {
	return p.AllIdle() && !p.NeedsAttention && len(p.Unavailable) == 0
}
