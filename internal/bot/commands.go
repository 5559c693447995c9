package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"stembot/internal/model"
	"stembot/internal/service"
)

const (
	unknownInputText  = "I only understand commands. See /help."
	unknownCmdText    = "Unknown command. See /help."
	internalErrorText = "⚠️ Something went wrong. Please try again later."
	sampleDigits      = "123456789012345678"
)

// respond handles one command from a chat and returns the reply text.
func (b *Bot) respond(ctx context.Context, endpoint, command, args string) string {
	var (
		text string
		err  error
	)

	switch command {
	case "start":
		text, err = b.handleStart(ctx, endpoint)
	case "login":
		text, err = b.handleLogin(ctx, endpoint, strings.TrimSpace(args))
	case "logout":
		text, err = b.handleLogout(ctx, endpoint)
	case "tasks":
		text, err = b.withOwner(ctx, endpoint, func(user *model.User) (string, error) {
			notes, err := b.tasks.Notes(ctx, user.ID)
			if err != nil {
				return "", err
			}
			return service.FormatNotes(notes, b.links.Location(user)), nil
		})
	case "tasksTime":
		text, err = b.withOwner(ctx, endpoint, func(user *model.User) (string, error) {
			reminders, err := b.tasks.Reminders(ctx, user.ID)
			if err != nil {
				return "", err
			}
			return service.FormatReminders(reminders, b.links.Location(user)), nil
		})
	case "taskAll":
		text, err = b.withOwner(ctx, endpoint, func(user *model.User) (string, error) {
			board, err := b.tasks.Board(ctx, user.ID)
			if err != nil {
				return "", err
			}
			return service.FormatBoard(board), nil
		})
	case "complete":
		text, err = b.withOwner(ctx, endpoint, func(user *model.User) (string, error) {
			return b.handleComplete(ctx, user, strings.TrimSpace(args))
		})
	case "help":
		text = b.helpText()
	default:
		text = unknownCmdText
	}

	if err != nil {
		b.logger.Errorw("command failed", "endpoint", endpoint, "command", command, "err", err)
		return internalErrorText
	}
	return text
}

func (b *Bot) withOwner(ctx context.Context, endpoint string, fn func(user *model.User) (string, error)) (string, error) {
	user, err := b.links.Resolve(ctx, endpoint)
	if err != nil {
		return "", err
	}
	if user == nil {
		return b.notLinkedText(), nil
	}
	return fn(user)
}

func (b *Bot) handleStart(ctx context.Context, endpoint string) (string, error) {
	user, err := b.links.Resolve(ctx, endpoint)
	if err != nil {
		return "", err
	}
	if user == nil {
		return fmt.Sprintf(
			"🤖 <b>Welcome to STEM Bot!</b>\n\n"+
				"❌ <b>Not connected</b>\n\n"+
				"Link this chat to your account to receive your notes and reminders.\n\n"+
				"📋 <b>How to connect:</b>\n"+
				"1. Open your profile\n"+
				"2. Copy your %d-digit ID\n"+
				"3. Send <code>/login YOUR_ID</code>\n\n"+
				"Example: <code>/login %s</code>",
			b.links.TokenDigits(), b.sampleToken(),
		), nil
	}

	return fmt.Sprintf("🤖 <b>Welcome, %s!</b>\n\n✅ <b>Connected</b>\n\n%s", html.EscapeString(user.Username), commandList), nil
}

func (b *Bot) handleLogin(ctx context.Context, endpoint, token string) (string, error) {
	digits := b.links.TokenDigits()
	example := fmt.Sprintf("Example: <code>/login %s</code>", b.sampleToken())

	switch {
	case token == "":
		return fmt.Sprintf("❌ <b>Error!</b> Provide your %d-digit ID.\n\n%s", digits, example), nil
	case !isDigits(token):
		return fmt.Sprintf("❌ <b>Error!</b> The ID must contain digits only.\n\n%s", example), nil
	case len(token) != digits:
		return fmt.Sprintf("❌ <b>Error!</b> The ID must be exactly %d digits.\n\n%s", digits, example), nil
	}

	user, err := b.links.Pair(ctx, token, endpoint)
	if errors.Is(err, service.ErrTokenClaimed) {
		return "❌ <b>This ID is already connected to another chat.</b>\n\nSend /logout from that chat first.", nil
	}
	if err != nil {
		return "", err
	}
	if user == nil {
		return fmt.Sprintf("❌ <b>Invalid ID!</b>\n\nCheck the %d-digit ID in your profile.", digits), nil
	}

	return fmt.Sprintf("✅ <b>Connected!</b>\n\nWelcome, %s! Reminders will arrive in this chat.\n\n%s",
		html.EscapeString(user.Username), commandList), nil
}

func (b *Bot) handleLogout(ctx context.Context, endpoint string) (string, error) {
	user, err := b.links.Unpair(ctx, endpoint)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "❌ <b>Not connected</b>\n\nThis chat is not linked to any account.\nUse <code>/login YOUR_ID</code> to connect.", nil
	}
	return fmt.Sprintf(
		"✅ <b>Disconnected.</b>\n\n%s, this chat no longer receives your reminders.\n"+
			"Your tasks are untouched. Use <code>/login YOUR_ID</code> to connect again.",
		html.EscapeString(user.Username),
	), nil
}

func (b *Bot) handleComplete(ctx context.Context, user *model.User, args string) (string, error) {
	if args == "" {
		return "Provide the task ID: <code>/complete 12</code>", nil
	}
	taskID, err := strconv.ParseUint(args, 10, 64)
	if err != nil {
		return "The task ID must be a number.", nil
	}

	task, err := b.tasks.Complete(ctx, user.ID, uint(taskID))
	if errors.Is(err, service.ErrTaskNotFound) {
		return fmt.Sprintf("Task #%d not found.", taskID), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Task #%d completed: %s", task.ID, html.EscapeString(task.Title)), nil
}

func (b *Bot) notLinkedText() string {
	return fmt.Sprintf("❌ This chat is not connected.\nSend <code>/login YOUR_ID</code> with the %d-digit ID from your profile.", b.links.TokenDigits())
}

func (b *Bot) helpText() string {
	return fmt.Sprintf(
		"🤖 <b>STEM Bot help</b>\n\n"+
			"📋 <b>Commands:</b>\n"+
			"/start - connection status\n"+
			"/login ID - connect this chat (%d digits)\n"+
			"/tasks - notes (no time)\n"+
			"/tasksTime - reminders (with time)\n"+
			"/taskAll - all tasks by status\n"+
			"/complete ID - mark a task done\n"+
			"/logout - disconnect this chat\n"+
			"/help - this help\n\n"+
			"📝 <b>Task types:</b>\n"+
			"• <b>Notes</b> have no time\n"+
			"• <b>Reminders</b> have a time and arrive here when due",
		b.links.TokenDigits(),
	)
}

func (b *Bot) sampleToken() string {
	n := b.links.TokenDigits()
	if n > len(sampleDigits) {
		n = len(sampleDigits)
	}
	return sampleDigits[:n]
}

const commandList = "📋 <b>Commands:</b>\n" +
	"/tasks - notes (no time)\n" +
	"/tasksTime - reminders (with time)\n" +
	"/taskAll - all tasks\n" +
	"/complete ID - mark a task done\n" +
	"/logout - disconnect this chat\n" +
	"/help - help"

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
