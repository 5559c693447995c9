package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"stembot/internal/model"
)

// ErrNotFound is returned when a targeted write matched no row.
var ErrNotFound = errors.New("record not found")

// TaskFilter narrows task queries and conditional updates. Nil fields are
// ignored. gorm refuses an UpdateWhere with an empty filter.
type TaskFilter struct {
	ID               *uint
	OwnerID          *uint
	Completed        *bool
	Overdue          *bool
	NotificationSent *bool
	HasReminder      *bool

	ReminderBefore     *time.Time // reminder_time < t
	ReminderAtOrBefore *time.Time // reminder_time <= t

	Order string // defaults to newest first
}

// Ref returns a pointer to v, handy for filter literals.
func Ref[T any](v T) *T {
	return &v
}

func (f TaskFilter) apply(db *gorm.DB) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OwnerID != nil {
		db = db.Where("owner_id = ?", *f.OwnerID)
	}
	if f.Completed != nil {
		db = db.Where("completed = ?", *f.Completed)
	}
	if f.Overdue != nil {
		db = db.Where("overdue = ?", *f.Overdue)
	}
	if f.NotificationSent != nil {
		db = db.Where("notification_sent = ?", *f.NotificationSent)
	}
	if f.HasReminder != nil {
		if *f.HasReminder {
			db = db.Where("reminder_time IS NOT NULL")
		} else {
			db = db.Where("reminder_time IS NULL")
		}
	}
	if f.ReminderBefore != nil {
		db = db.Where("reminder_time < ?", f.ReminderBefore.UTC())
	}
	if f.ReminderAtOrBefore != nil {
		db = db.Where("reminder_time <= ?", f.ReminderAtOrBefore.UTC())
	}
	return db
}

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Find(ctx context.Context, f TaskFilter) ([]model.Task, error) {
	order := f.Order
	if order == "" {
		order = "created_at DESC, id DESC"
	}

	var tasks []model.Task
	if err := f.apply(r.db.WithContext(ctx)).Order(order).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	return tasks, nil
}

// UpdateWhere applies changes to every task matching f in a single statement
// and returns the number of rows touched. The filter doubles as the update
// condition, so `ID + NotificationSent=false` makes a write idempotent.
func (r *TaskRepository) UpdateWhere(ctx context.Context, f TaskFilter, changes map[string]any) (int64, error) {
	res := f.apply(r.db.WithContext(ctx).Model(&model.Task{})).Updates(changes)
	if res.Error != nil {
		return 0, fmt.Errorf("update tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes a task owned by the given user.
func (r *TaskRepository) Delete(ctx context.Context, ownerID, taskID uint) error {
	res := r.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, taskID).Delete(&model.Task{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
