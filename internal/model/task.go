package model

import (
	"time"

	"gorm.io/gorm"
)

// Task is either a note (no ReminderTime) or a reminder.
type Task struct {
	ID               uint   `gorm:"primaryKey"`
	OwnerID          uint   `gorm:"index;not null"`
	Title            string `gorm:"size:200;not null"`
	Description      string
	CreatedAt        time.Time
	ReminderTime     *time.Time `gorm:"index"`
	Completed        bool       `gorm:"not null;default:false"`
	Overdue          bool       `gorm:"not null;default:false"`
	NotificationSent bool       `gorm:"not null;default:false"`
	UpdatedAt        time.Time
}

// IsReminder reports whether the task carries a reminder time.
func (t Task) IsReminder() bool {
	return t.ReminderTime != nil
}

// BeforeSave stores instants in UTC. SQLite compares times as text, so mixed
// offsets would break the reminder_time range filters and ordering.
func (t *Task) BeforeSave(*gorm.DB) error {
	if !t.CreatedAt.IsZero() {
		t.CreatedAt = t.CreatedAt.UTC()
	}
	if t.ReminderTime != nil {
		at := t.ReminderTime.UTC()
		t.ReminderTime = &at
	}
	return nil
}
