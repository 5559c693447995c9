package service

import (
	"context"
	"time"

	"github.com/jmhodges/clock"

	"stembot/internal/repository"
)

// OverdueEvaluator flags open reminders whose time has passed. The flag only
// ever goes from false to true here; completing a task clears it.
type OverdueEvaluator struct {
	tasks TaskStore
	clk   clock.Clock
}

func NewOverdueEvaluator(tasks TaskStore, clk clock.Clock) *OverdueEvaluator {
	return &OverdueEvaluator{tasks: tasks, clk: clk}
}

// Evaluate marks the owner's reminders older than now-grace as overdue and
// returns how many changed.
func (e *OverdueEvaluator) Evaluate(ctx context.Context, ownerID uint, grace time.Duration) (int64, error) {
	cutoff := e.clk.Now().UTC().Add(-grace)
	return e.tasks.UpdateWhere(ctx, repository.TaskFilter{
		OwnerID:        &ownerID,
		Completed:      repository.Ref(false),
		Overdue:        repository.Ref(false),
		HasReminder:    repository.Ref(true),
		ReminderBefore: &cutoff,
	}, map[string]any{"overdue": true})
}
