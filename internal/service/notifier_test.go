package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stembot/internal/model"
)

func (e *env) notifier(t *testing.T, sender Sender, pause time.Duration) *Notifier {
	t.Helper()
	cfg := NotifierConfig{PollInterval: time.Minute, Pause: pause}
	return NewNotifier(e.taskRepo, e.links, sender, e.clk, cfg, zaptest.NewLogger(t).Sugar())
}

func TestNotifierDeliversOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")
	task := e.reminder(t, u.ID, "call mom", base.Add(-time.Minute))

	sender := &fakeSender{}
	n := e.notifier(t, sender, 0)

	stats, err := n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Due: 1, Sent: 1}, stats)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chat-1", msgs[0].endpoint)
	assert.Contains(t, msgs[0].text, "call mom")
	assert.True(t, e.get(t, task.ID).NotificationSent)

	stats, err = n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
	assert.Len(t, sender.messages(), 1)
}

func TestNotifierUnlinkedOwnerStaysPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "ann")
	task := e.reminder(t, u.ID, "water plants", base.Add(-time.Hour))

	sender := &fakeSender{}
	n := e.notifier(t, sender, 0)

	stats, err := n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Due: 1, Unlinked: 1}, stats)
	assert.Empty(t, sender.messages())
	assert.False(t, e.get(t, task.ID).NotificationSent)

	link, err := e.links.EnsureLink(ctx, u.ID)
	require.NoError(t, err)
	_, err = e.links.Pair(ctx, link.PairingToken, "chat-7")
	require.NoError(t, err)

	stats, err = n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	require.Len(t, sender.messages(), 1)
	assert.Equal(t, "chat-7", sender.messages()[0].endpoint)
}

func TestNotifierFailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ann := e.linkedUser(t, "ann", "chat-a")
	bob := e.linkedUser(t, "bob", "chat-b")
	failed := e.reminder(t, ann.ID, "first", base.Add(-2*time.Minute))
	ok := e.reminder(t, bob.ID, "second", base.Add(-time.Minute))

	sender := &fakeSender{failOn: map[string]error{"chat-a": errors.New("Forbidden: bot was blocked by the user")}}
	n := e.notifier(t, sender, 0)

	stats, err := n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Due: 2, Sent: 1, Failed: 1}, stats)
	assert.False(t, e.get(t, failed.ID).NotificationSent)
	assert.True(t, e.get(t, ok.ID).NotificationSent)

	sender.failOn = nil
	stats, err = n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Due: 1, Sent: 1}, stats)
	assert.True(t, e.get(t, failed.ID).NotificationSent)
}

func TestNotifierSkipsNotDueTasks(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")

	_, err := e.tasks.CreateNote(ctx, u.ID, TaskInput{Title: "note"})
	require.NoError(t, err)
	e.reminder(t, u.ID, "future", base.Add(time.Minute))
	done := e.reminder(t, u.ID, "done", base.Add(-time.Minute))
	_, err = e.tasks.Complete(ctx, u.ID, done.ID)
	require.NoError(t, err)

	sender := &fakeSender{}
	stats, err := e.notifier(t, sender, 0).RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
	assert.Empty(t, sender.messages())
}

func TestNotifierDeliversDueAtExactInstant(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")
	e.reminder(t, u.ID, "now", base)

	sender := &fakeSender{}
	stats, err := e.notifier(t, sender, 0).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
}

func TestNotifierOrdersByReminderTime(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")
	e.reminder(t, u.ID, "third", base.Add(-time.Minute))
	e.reminder(t, u.ID, "first", base.Add(-time.Hour))
	e.reminder(t, u.ID, "second", base.Add(-10*time.Minute))

	sender := &fakeSender{}
	_, err := e.notifier(t, sender, 0).RunCycle(ctx)
	require.NoError(t, err)

	msgs := sender.messages()
	require.Len(t, msgs, 3)
	for i, want := range []string{"first", "second", "third"} {
		assert.Contains(t, msgs[i].text, want)
	}
}

func TestNotifierPacesDeliveries(t *testing.T) {
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")
	for i := 0; i < 3; i++ {
		e.reminder(t, u.ID, "r", base.Add(-time.Duration(i+1)*time.Minute))
	}

	pause := time.Second
	sender := &fakeSender{}
	n := e.notifier(t, sender, pause)

	done := make(chan CycleStats, 1)
	go func() {
		stats, err := n.RunCycle(context.Background())
		assert.NoError(t, err)
		done <- stats
	}()

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return len(sender.messages()) > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"second delivery waits for the pause")

	require.Eventually(t, func() bool {
		e.clk.Add(pause)
		return len(sender.messages()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case stats := <-done:
		assert.Equal(t, 3, stats.Sent)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}
}

func TestNotifierCancelledWhilePacing(t *testing.T) {
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")
	e.reminder(t, u.ID, "first", base.Add(-2*time.Minute))
	e.reminder(t, u.ID, "second", base.Add(-time.Minute))

	sender := &fakeSender{}
	n := e.notifier(t, sender, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := n.RunCycle(ctx)
		errc <- err
	}()

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle ignored cancellation")
	}
	assert.Len(t, sender.messages(), 1)
}

func TestNotifierRetriesWhenMarkSentFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")
	task := e.reminder(t, u.ID, "pay rent", base.Add(-time.Minute))

	store := &failingMarkStore{TaskStore: e.taskRepo, failures: 1}
	sender := &fakeSender{}
	n := NewNotifier(store, e.links, sender, e.clk, NotifierConfig{}, zaptest.NewLogger(t).Sugar())

	stats, err := n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Due: 1, Failed: 1}, stats)
	assert.Len(t, sender.messages(), 1, "message went out before the write failed")
	assert.False(t, e.get(t, task.ID).NotificationSent)

	stats, err = n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Due: 1, Sent: 1}, stats)
	assert.Len(t, sender.messages(), 2)
	assert.True(t, e.get(t, task.ID).NotificationSent)

	stats, err = n.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
}

func TestNotifierFormatsInOwnerZone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := &model.User{Username: "ann", TimeZone: "Asia/Tokyo"}
	require.NoError(t, e.users.Create(ctx, u))
	link, err := e.links.EnsureLink(ctx, u.ID)
	require.NoError(t, err)
	_, err = e.links.Pair(ctx, link.PairingToken, "chat-1")
	require.NoError(t, err)
	e.reminder(t, u.ID, "standup", base)

	sender := &fakeSender{}
	_, err = e.notifier(t, sender, 0).RunCycle(ctx)
	require.NoError(t, err)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "10.03.2024 21:00")
}

func TestRunSurvivesStoreErrors(t *testing.T) {
	e := newEnv(t)
	u := e.linkedUser(t, "ann", "chat-1")
	e.reminder(t, u.ID, "eventually", base.Add(-time.Minute))

	store := &flakyStore{TaskStore: e.taskRepo}
	sender := &fakeSender{}
	n := NewNotifier(store, e.links, sender, e.clk, NotifierConfig{PollInterval: time.Minute}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		e.clk.Add(time.Minute)
		return store.calls() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.messages())

	store.heal()
	require.Eventually(t, func() bool {
		e.clk.Add(time.Minute)
		return len(sender.messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	e := newEnv(t)
	n := e.notifier(t, &fakeSender{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Run(ctx), context.Canceled)
}

func TestRunCycleFindError(t *testing.T) {
	e := newEnv(t)
	store := &flakyStore{TaskStore: e.taskRepo}
	n := NewNotifier(store, staticRecipients{}, &fakeSender{}, e.clk, NotifierConfig{}, zaptest.NewLogger(t).Sugar())

	_, err := n.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load due reminders")
}
