package service

import (
	"context"
	"time"

	"stembot/internal/model"
	"stembot/internal/repository"
)

// TaskStore is the slice of the task repository the services rely on.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	Find(ctx context.Context, f repository.TaskFilter) ([]model.Task, error)
	UpdateWhere(ctx context.Context, f repository.TaskFilter, changes map[string]any) (int64, error)
	Delete(ctx context.Context, ownerID, taskID uint) error
}

// Sender delivers a formatted message to a chat endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint, text string) error
}

// Recipient is where and how an owner's notifications are delivered.
type Recipient struct {
	OwnerID  uint
	Username string
	Endpoint string
	Location *time.Location
}

// RecipientResolver maps an owner to a linked chat. A nil recipient with a
// nil error means the owner is not linked.
type RecipientResolver interface {
	Recipient(ctx context.Context, ownerID uint) (*Recipient, error)
}
