// Package worker drains pending send tasks in the background. Claims are
// made with row locks (FOR UPDATE SKIP LOCKED in the Postgres repository),
// and the drain loop itself runs under a distributed lock so only one
// process works the queue at a time.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/distlock"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/service/automation"
	"github.com/nichepass/nichepass/internal/service/member"
)

// TaskSource claims and completes send tasks.
type TaskSource interface {
	// ClaimPending atomically moves up to limit pending tasks to
	// processing and returns them. Concurrent claimers never receive the
	// same task.
	ClaimPending(ctx context.Context, limit int) ([]domain.SendTask, error)

	// Complete finalizes a claimed task as done or failed.
	Complete(ctx context.Context, id string, status domain.SendTaskStatus) error
}

// MemberSource loads the member a task targets.
type MemberSource interface {
	GetByID(ctx context.Context, storeID, id string) (*domain.Member, error)
}

// RuleSource loads the automation a task belongs to.
type RuleSource interface {
	Get(ctx context.Context, storeID, id string) (*domain.Automation, error)
}

// AutomationSender delivers one automation email.
type AutomationSender interface {
	SendAutomation(ctx context.Context, storeID string, m *domain.Member) error
}

// Worker polls for pending send tasks and delivers them.
type Worker struct {
	tasks   TaskSource
	members MemberSource
	rules   RuleSource
	sender  AutomationSender
	lock    distlock.DistLock

	interval  time.Duration
	batchSize int
}

// New creates a send-task worker. lock may be nil in single-process
// deployments.
func New(tasks TaskSource, members MemberSource, rules RuleSource, sender AutomationSender, lock distlock.DistLock, interval time.Duration, batchSize int) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Worker{
		tasks:     tasks,
		members:   members,
		rules:     rules,
		sender:    sender,
		lock:      lock,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled. One drain pass runs immediately on
// start so restarts don't wait a full interval.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("send-task worker started",
		"interval", w.interval, "batch_size", w.batchSize)

	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			logger.Info("send-task worker stopped")
			return
		}
	}
}

// tick drains the queue once, if this process wins the drain lock.
func (w *Worker) tick(ctx context.Context) {
	if w.lock != nil {
		ok, err := w.lock.Acquire(ctx)
		if err != nil {
			logger.Error("drain lock acquire", "error", err)
			return
		}
		if !ok {
			// Another process is draining.
			return
		}
		defer w.lock.Release(context.WithoutCancel(ctx))
	}

	for {
		n, err := w.Drain(ctx)
		if err != nil {
			logger.Error("drain send tasks", "error", err)
			return
		}
		if n < w.batchSize {
			return
		}
	}
}

// Drain claims and processes one batch. Returns how many tasks it claimed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	tasks, err := w.tasks.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		w.process(ctx, &tasks[i])
	}
	return len(tasks), nil
}

// process delivers one task. A task whose member or rule has gone away is
// completed as done: the event genuinely happened, there's just nothing
// left to send.
func (w *Worker) process(ctx context.Context, t *domain.SendTask) {
	rule, err := w.rules.Get(ctx, t.StoreID, t.AutomationID)
	switch {
	case errors.Is(err, automation.ErrNotFound):
		w.complete(ctx, t, domain.SendTaskDone)
		return
	case err != nil:
		logger.Error("load automation", "task_id", t.ID, "error", err)
		w.complete(ctx, t, domain.SendTaskFailed)
		return
	}
	if !rule.Active {
		w.complete(ctx, t, domain.SendTaskDone)
		return
	}

	m, err := w.members.GetByID(ctx, t.StoreID, t.MemberID)
	switch {
	case errors.Is(err, member.ErrNotFound):
		w.complete(ctx, t, domain.SendTaskDone)
		return
	case err != nil:
		logger.Error("load member", "task_id", t.ID, "error", err)
		w.complete(ctx, t, domain.SendTaskFailed)
		return
	}
	if m.Status != domain.MemberActive {
		w.complete(ctx, t, domain.SendTaskDone)
		return
	}

	if err := w.sender.SendAutomation(ctx, t.StoreID, m); err != nil {
		logger.Warn("automation send failed",
			"task_id", t.ID, "email", m.Email, "error", err)
		w.complete(ctx, t, domain.SendTaskFailed)
		return
	}
	w.complete(ctx, t, domain.SendTaskDone)
}

func (w *Worker) complete(ctx context.Context, t *domain.SendTask, status domain.SendTaskStatus) {
	if err := w.tasks.Complete(ctx, t.ID, status); err != nil {
		logger.Error("complete send task", "task_id", t.ID, "error", err)
	}
}
