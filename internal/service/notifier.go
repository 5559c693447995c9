package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jmhodges/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stembot/internal/model"
	"stembot/internal/repository"
)

// NotifierConfig holds the loop timings.
type NotifierConfig struct {
	PollInterval time.Duration // sleep after every cycle
	Pause        time.Duration // minimum gap between two deliveries
}

// CycleStats summarises one pass over the due set.
type CycleStats struct {
	Due      int
	Sent     int
	Unlinked int
	Failed   int
}

// Notifier delivers due reminders. A reminder is pending until a delivery
// succeeds and the sent flag is written; a crash in between means it is
// delivered again on the next cycle.
type Notifier struct {
	tasks      TaskStore
	recipients RecipientResolver
	sender     Sender
	clk        clock.Clock
	cfg        NotifierConfig
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
}

func NewNotifier(tasks TaskStore, recipients RecipientResolver, sender Sender, clk clock.Clock, cfg NotifierConfig, logger *zap.SugaredLogger) *Notifier {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	limit := rate.Inf
	if cfg.Pause > 0 {
		limit = rate.Every(cfg.Pause)
	}
	return &Notifier{
		tasks:      tasks,
		recipients: recipients,
		sender:     sender,
		clk:        clk,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Run polls until ctx is cancelled. Cycle failures are logged and the loop
// sleeps and tries again; it only returns ctx.Err().
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Infow("reminder notifier started", "poll_interval", n.cfg.PollInterval, "pause", n.cfg.Pause)

	for {
		stats, err := n.safeCycle(ctx)
		switch {
		case ctx.Err() != nil:
			// shutting down, the cycle was interrupted on purpose
		case err != nil:
			n.logger.Errorw("notification cycle failed", "err", err)
			sentry.CaptureException(err)
		case stats.Due > 0:
			n.logger.Infow("notification cycle done",
				"due", stats.Due, "sent", stats.Sent, "unlinked", stats.Unlinked, "failed", stats.Failed)
		}

		timer := n.clk.NewTimer(n.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			n.logger.Info("reminder notifier stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (n *Notifier) safeCycle(ctx context.Context) (stats CycleStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			err = fmt.Errorf("notification cycle panicked: %v", r)
		}
	}()
	return n.RunCycle(ctx)
}

// DueFilter selects reminders that should be delivered at now, oldest first.
func DueFilter(now time.Time) repository.TaskFilter {
	now = now.UTC()
	return repository.TaskFilter{
		HasReminder:        repository.Ref(true),
		ReminderAtOrBefore: &now,
		NotificationSent:   repository.Ref(false),
		Completed:          repository.Ref(false),
		Order:              "reminder_time ASC, id ASC",
	}
}

// RunCycle performs one pass: load the due set, deliver each reminder to its
// owner's chat and mark it sent. A failed delivery never stops the pass.
func (n *Notifier) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	due, err := n.tasks.Find(ctx, DueFilter(n.clk.Now()))
	if err != nil {
		return stats, fmt.Errorf("load due reminders: %w", err)
	}
	stats.Due = len(due)

	// nil entries mark owners without a linked chat
	recipients := make(map[uint]*Recipient)

	for _, task := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		r, seen := recipients[task.OwnerID]
		if !seen {
			r, err = n.recipients.Recipient(ctx, task.OwnerID)
			if err != nil {
				n.logger.Errorw("resolve recipient", "task", task.ID, "owner", task.OwnerID, "err", err)
				stats.Failed++
				continue
			}
			recipients[task.OwnerID] = r
		}
		if r == nil {
			n.logger.Debugw("owner not linked; reminder stays pending", "task", task.ID, "owner", task.OwnerID)
			stats.Unlinked++
			continue
		}

		if err := n.pace(ctx); err != nil {
			return stats, err
		}

		if err := n.deliver(ctx, task, r); err != nil {
			if errors.Is(err, context.Canceled) {
				return stats, err
			}
			n.logger.Warnw("reminder delivery failed", "task", task.ID, "owner", task.OwnerID, "endpoint", r.Endpoint, "err", err)
			stats.Failed++
			continue
		}
		stats.Sent++
	}

	return stats, nil
}

// pace blocks until the limiter allows the next delivery. Time is read from
// the injected clock so fake clocks drive the pause too.
func (n *Notifier) pace(ctx context.Context) error {
	now := n.clk.Now()
	r := n.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	timer := n.clk.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.CancelAt(n.clk.Now())
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (n *Notifier) deliver(ctx context.Context, task model.Task, r *Recipient) error {
	if err := n.sender.Send(ctx, r.Endpoint, FormatNotification(task, r.Location)); err != nil {
		return err
	}

	marked, err := n.tasks.UpdateWhere(ctx, repository.TaskFilter{
		ID:               &task.ID,
		NotificationSent: repository.Ref(false),
	}, map[string]any{"notification_sent": true})
	if err != nil {
		// Delivered but not recorded: the next cycle sends it again.
		return fmt.Errorf("mark sent: %w", err)
	}

	n.logger.Infow("reminder delivered", "task", task.ID, "owner", task.OwnerID, "user", r.Username, "marked", marked == 1)
	return nil
}
