package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmhodges/clock"

	"stembot/internal/model"
	"stembot/internal/repository"
)

var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrReminderTimeRequired = errors.New("reminder time is required")
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title        string `validate:"required,max=200"`
	Description  string
	ReminderTime *time.Time
}

// Board groups an owner's tasks the way the profile page shows them.
type Board struct {
	Active    []model.Task
	Overdue   []model.Task
	Completed []model.Task
}

func (b Board) Total() int {
	return len(b.Active) + len(b.Overdue) + len(b.Completed)
}

// TaskService wraps task-related business logic.
type TaskService struct {
	tasks    TaskStore
	overdue  *OverdueEvaluator
	clk      clock.Clock
	grace    time.Duration
	validate *validator.Validate
}

func NewTaskService(tasks TaskStore, overdue *OverdueEvaluator, clk clock.Clock, grace time.Duration) *TaskService {
	return &TaskService{
		tasks:    tasks,
		overdue:  overdue,
		clk:      clk,
		grace:    grace,
		validate: validator.New(),
	}
}

// CreateNote stores a task without a reminder time.
func (s *TaskService) CreateNote(ctx context.Context, ownerID uint, input TaskInput) (*model.Task, error) {
	input.ReminderTime = nil
	return s.createTask(ctx, ownerID, input)
}

// CreateReminder stores a task that will be delivered at ReminderTime.
func (s *TaskService) CreateReminder(ctx context.Context, ownerID uint, input TaskInput) (*model.Task, error) {
	if input.ReminderTime == nil {
		return nil, ErrReminderTimeRequired
	}
	return s.createTask(ctx, ownerID, input)
}

func (s *TaskService) createTask(ctx context.Context, ownerID uint, input TaskInput) (*model.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	task := model.Task{
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		CreatedAt:   s.clk.Now().UTC(),
	}
	if input.ReminderTime != nil {
		at := input.ReminderTime.UTC()
		task.ReminderTime = &at
	}

	if err := s.tasks.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Complete marks a task as done and clears its overdue flag. Completing an
// already completed task is allowed.
func (s *TaskService) Complete(ctx context.Context, ownerID, taskID uint) (*model.Task, error) {
	f := repository.TaskFilter{ID: &taskID, OwnerID: &ownerID}
	n, err := s.tasks.UpdateWhere(ctx, f, map[string]any{"completed": true, "overdue": false})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrTaskNotFound
	}

	tasks, err := s.tasks.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrTaskNotFound
	}
	return &tasks[0], nil
}

// DeleteTask removes a task completely.
func (s *TaskService) DeleteTask(ctx context.Context, ownerID, taskID uint) error {
	err := s.tasks.Delete(ctx, ownerID, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTaskNotFound
	}
	return err
}

// Notes lists open notes, newest first.
func (s *TaskService) Notes(ctx context.Context, ownerID uint) ([]model.Task, error) {
	return s.tasks.Find(ctx, repository.TaskFilter{
		OwnerID:     &ownerID,
		Completed:   repository.Ref(false),
		HasReminder: repository.Ref(false),
	})
}

// Reminders lists open reminders, soonest first, after refreshing overdue flags.
func (s *TaskService) Reminders(ctx context.Context, ownerID uint) ([]model.Task, error) {
	if _, err := s.overdue.Evaluate(ctx, ownerID, s.grace); err != nil {
		return nil, err
	}
	return s.tasks.Find(ctx, repository.TaskFilter{
		OwnerID:     &ownerID,
		Completed:   repository.Ref(false),
		HasReminder: repository.Ref(true),
		Order:       "reminder_time ASC, id ASC",
	})
}

// Board refreshes overdue flags and groups all of the owner's tasks.
func (s *TaskService) Board(ctx context.Context, ownerID uint) (Board, error) {
	var board Board
	if _, err := s.overdue.Evaluate(ctx, ownerID, s.grace); err != nil {
		return board, err
	}

	tasks, err := s.tasks.Find(ctx, repository.TaskFilter{OwnerID: &ownerID})
	if err != nil {
		return board, err
	}
	for _, task := range tasks {
		switch {
		case task.Completed:
			board.Completed = append(board.Completed, task)
		case task.Overdue:
			board.Overdue = append(board.Overdue, task)
		default:
			board.Active = append(board.Active, task)
		}
	}
	return board, nil
}
