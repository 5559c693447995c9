package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"stembot/internal/model"
)

const stampLayout = "02.01.2006 15:04"

// FormatNotification renders the message sent when a reminder comes due.
func FormatNotification(task model.Task, loc *time.Location) string {
	var sb strings.Builder

	sb.WriteString("⏰ <b>REMINDER!</b>\n\n")
	sb.WriteString(fmt.Sprintf("🔔 <b>%s</b>\n", escape(task.Title)))
	if desc := strings.TrimSpace(task.Description); desc != "" {
		sb.WriteString(fmt.Sprintf("📝 <i>%s</i>\n", escape(desc)))
	}
	sb.WriteString(fmt.Sprintf("\n📅 Created: %s\n", task.CreatedAt.In(loc).Format(stampLayout)))
	if task.ReminderTime != nil {
		sb.WriteString(fmt.Sprintf("⏰ Time: %s\n", task.ReminderTime.In(loc).Format(stampLayout)))
	}
	sb.WriteString("\n💡 /tasksTime shows all reminders")

	return sb.String()
}

// FormatNotes renders open notes.
func FormatNotes(tasks []model.Task, loc *time.Location) string {
	if len(tasks) == 0 {
		return "📝 <b>Notes:</b>\n\nYou have no active notes."
	}

	var sb strings.Builder
	sb.WriteString("📝 <b>Your notes:</b>\n\n")
	for _, task := range tasks {
		sb.WriteString(fmt.Sprintf("📝 <b>#%d</b> %s\n", task.ID, escape(task.Title)))
		if task.Description != "" {
			sb.WriteString(fmt.Sprintf("<i>%s</i>\n", escape(task.Description)))
		}
		sb.WriteString(fmt.Sprintf("📅 Created: %s\n\n", task.CreatedAt.In(loc).Format(stampLayout)))
	}
	return strings.TrimSpace(sb.String())
}

// FormatReminders renders open reminders with their status.
func FormatReminders(tasks []model.Task, loc *time.Location) string {
	if len(tasks) == 0 {
		return "⏰ <b>Reminders:</b>\n\nYou have no active reminders."
	}

	var sb strings.Builder
	sb.WriteString("⏰ <b>Your reminders:</b>\n\n")
	for _, task := range tasks {
		icon, status := "⏰", "Active"
		if task.Overdue {
			icon, status = "❗️", "Overdue"
		}
		sb.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(task.Title)))
		if task.Description != "" {
			sb.WriteString(fmt.Sprintf("<i>%s</i>\n", escape(task.Description)))
		}
		sb.WriteString(fmt.Sprintf("📅 Created: %s\n", task.CreatedAt.In(loc).Format(stampLayout)))
		if task.ReminderTime != nil {
			sb.WriteString(fmt.Sprintf("⏰ Reminder: %s\n", task.ReminderTime.In(loc).Format(stampLayout)))
		}
		sb.WriteString(fmt.Sprintf("Status: %s\n\n", status))
	}
	return strings.TrimSpace(sb.String())
}

// FormatBoard renders all tasks grouped by status plus counters.
func FormatBoard(board Board) string {
	if board.Total() == 0 {
		return "📋 <b>All tasks:</b>\n\nYou have no tasks yet."
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>All your tasks:</b>\n\n")
	if len(board.Active) > 0 {
		sb.WriteString("🟢 <b>ACTIVE:</b>\n")
		for _, task := range board.Active {
			icon := "📝"
			if task.IsReminder() {
				icon = "⏰"
			}
			sb.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(task.Title)))
		}
		sb.WriteByte('\n')
	}
	if len(board.Overdue) > 0 {
		sb.WriteString("🔴 <b>OVERDUE:</b>\n")
		for _, task := range board.Overdue {
			sb.WriteString(fmt.Sprintf("❗️ <b>#%d</b> %s\n", task.ID, escape(task.Title)))
		}
		sb.WriteByte('\n')
	}
	if len(board.Completed) > 0 {
		sb.WriteString("✅ <b>COMPLETED:</b>\n")
		for _, task := range board.Completed {
			sb.WriteString(fmt.Sprintf("✅ <b>#%d</b> %s\n", task.ID, escape(task.Title)))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(fmt.Sprintf("📊 <b>Stats:</b> Total: %d | Active: %d | Overdue: %d | Completed: %d",
		board.Total(), len(board.Active), len(board.Overdue), len(board.Completed)))

	return sb.String()
}

func escape(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
