package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"stembot/internal/model"
	"stembot/internal/repository"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type env struct {
	db       *gorm.DB
	clk      clock.FakeClock
	taskRepo *repository.TaskRepository
	linkRepo *repository.LinkRepository
	users    *repository.UserRepository
	links    *LinkService
	tasks    *TaskService
	overdue  *OverdueEvaluator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	logger := zaptest.NewLogger(t)
	db, err := repository.NewDB(dsn, logger)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	clk := clock.NewFake()
	clk.Set(base)

	e := &env{
		db:       db,
		clk:      clk,
		taskRepo: repository.NewTaskRepository(db),
		linkRepo: repository.NewLinkRepository(db),
		users:    repository.NewUserRepository(db),
	}
	e.links = NewLinkService(e.linkRepo, clk, LinkConfig{TokenDigits: 10}, logger.Sugar())
	e.overdue = NewOverdueEvaluator(e.taskRepo, clk)
	e.tasks = NewTaskService(e.taskRepo, e.overdue, clk, 2*time.Minute)
	return e
}

func (e *env) user(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

// linkedUser creates a user whose chat endpoint is already attached.
func (e *env) linkedUser(t *testing.T, name, endpoint string) *model.User {
	t.Helper()
	ctx := context.Background()
	u := e.user(t, name)
	link, err := e.links.EnsureLink(ctx, u.ID)
	require.NoError(t, err)
	owner, err := e.links.Pair(ctx, link.PairingToken, endpoint)
	require.NoError(t, err)
	require.NotNil(t, owner)
	return u
}

func (e *env) reminder(t *testing.T, ownerID uint, title string, at time.Time) *model.Task {
	t.Helper()
	task, err := e.tasks.CreateReminder(context.Background(), ownerID, TaskInput{Title: title, ReminderTime: &at})
	require.NoError(t, err)
	return task
}

func (e *env) get(t *testing.T, id uint) model.Task {
	t.Helper()
	tasks, err := e.taskRepo.Find(context.Background(), repository.TaskFilter{ID: &id})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

type sentMessage struct {
	endpoint string
	text     string
	at       time.Time
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[string]error
}

func (s *fakeSender) Send(_ context.Context, endpoint, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[endpoint]; ok {
		return err
	}
	s.sent = append(s.sent, sentMessage{endpoint: endpoint, text: text, at: time.Now()})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

// flakyStore fails every Find until healthy is set.
type flakyStore struct {
	TaskStore
	mu      sync.Mutex
	healthy bool
	finds   int
}

func (s *flakyStore) Find(ctx context.Context, f repository.TaskFilter) ([]model.Task, error) {
	s.mu.Lock()
	s.finds++
	healthy := s.healthy
	s.mu.Unlock()
	if !healthy {
		return nil, errors.New("database is locked")
	}
	return s.TaskStore.Find(ctx, f)
}

func (s *flakyStore) heal() {
	s.mu.Lock()
	s.healthy = true
	s.mu.Unlock()
}

func (s *flakyStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

// failingMarkStore fails the first `failures` UpdateWhere calls.
type failingMarkStore struct {
	TaskStore
	mu       sync.Mutex
	failures int
}

func (s *failingMarkStore) UpdateWhere(ctx context.Context, f repository.TaskFilter, changes map[string]any) (int64, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return 0, errors.New("disk I/O error")
	}
	return s.TaskStore.UpdateWhere(ctx, f, changes)
}

type staticRecipients map[uint]*Recipient

func (r staticRecipients) Recipient(_ context.Context, ownerID uint) (*Recipient, error) {
	return r[ownerID], nil
}
