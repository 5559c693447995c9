package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stembot/internal/config"
	"stembot/internal/repository"
	"stembot/internal/service"
)

func testApp(t *testing.T) *app {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repository.NewDB(dsn, logger)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	clk := clock.NewFake()
	clk.Set(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	cfg := config.Config{TokenDigits: 10, OverdueGrace: 2 * time.Minute}
	return newApp(repository.NewUserRepository(db), repository.NewTaskRepository(db), repository.NewLinkRepository(db),
		clk, cfg, time.UTC, logger)
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*app, error) { return a, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserAdd(t *testing.T) {
	a := testApp(t)

	out, err := run(t, a, "user", "add", "ann", "--tz", "Asia/Tokyo")
	require.NoError(t, err)
	assert.Contains(t, out, "created user ann (id 1)")
	assert.Contains(t, out, "pairing token: ")

	_, err = run(t, a, "user", "add", "bob", "--tz", "Nowhere/Land")
	assert.ErrorContains(t, err, "invalid time zone")

	_, err = run(t, a, "board", "bob")
	assert.ErrorContains(t, err, `user "bob" not found`)
}

func TestTaskLifecycle(t *testing.T) {
	a := testApp(t)
	_, err := run(t, a, "user", "add", "ann", "--tz", "Asia/Tokyo")
	require.NoError(t, err)

	// 20:00 in Tokyo is 11:00 UTC, an hour before the fake now.
	out, err := run(t, a, "reminder", "add", "ann", "call mom", "--at", "2024-03-10 20:00")
	require.NoError(t, err)
	assert.Contains(t, out, "reminder #1 created for 2024-03-10 20:00 (Asia/Tokyo)")

	_, err = run(t, a, "reminder", "add", "ann", "no time")
	assert.Error(t, err)
	_, err = run(t, a, "reminder", "add", "ann", "bad time", "--at", "tomorrow")
	assert.ErrorContains(t, err, "--at must look like")

	out, err = run(t, a, "note", "add", "ann", "buy milk", "--desc", "2 litres")
	require.NoError(t, err)
	assert.Contains(t, out, "note #2 created")

	out, err = run(t, a, "notify", "due")
	require.NoError(t, err)
	assert.Contains(t, out, "call mom")
	assert.Contains(t, out, "2024-03-10 11:00")
	assert.NotContains(t, out, "buy milk")

	out, err = run(t, a, "board", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, "overdue")
	assert.Contains(t, out, "2024-03-10 20:00")
	assert.Contains(t, out, "Total: 2 | Active: 1 | Overdue: 1 | Completed: 0")

	out, err = run(t, a, "task", "complete", "ann", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "task #1 completed")

	out, err = run(t, a, "notify", "due")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing due")

	_, err = run(t, a, "task", "delete", "ann", "2")
	require.NoError(t, err)
	_, err = run(t, a, "task", "delete", "ann", "2")
	assert.ErrorIs(t, err, service.ErrTaskNotFound)
	_, err = run(t, a, "task", "complete", "ann", "x")
	assert.ErrorContains(t, err, "task id must be a number")
}

func TestLinkCommands(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	_, err := run(t, a, "user", "add", "ann")
	require.NoError(t, err)

	out, err := run(t, a, "link", "token", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, "status: not linked")

	user, err := a.users.FindByUsername(ctx, "ann")
	require.NoError(t, err)
	link, err := a.links.EnsureLink(ctx, user.ID)
	require.NoError(t, err)
	assert.Contains(t, out, link.PairingToken)

	_, err = a.links.Pair(ctx, link.PairingToken, "42")
	require.NoError(t, err)

	out, err = run(t, a, "link", "token", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, "status: linked to chat 42")

	out, err = run(t, a, "link", "drop", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, "chat detached from ann")

	out, err = run(t, a, "link", "drop", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, "ann has no linked chat")
}
