package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stembot/internal/model"
	"stembot/internal/service"
)

const atLayout = "2006-01-02 15:04"

func (c *cli) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user and its pairing token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tz, _ := cmd.Flags().GetString("tz")
			if tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("invalid time zone %q: %w", tz, err)
				}
			}

			user := &model.User{Username: strings.TrimSpace(args[0]), TimeZone: tz}
			if user.Username == "" {
				return fmt.Errorf("username must not be empty")
			}
			if err := c.app.users.Create(ctx, user); err != nil {
				return err
			}
			link, err := c.app.links.EnsureLink(ctx, user.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\npairing token: %s\n", user.Username, user.ID, link.PairingToken)
			return nil
		},
	}
	add.Flags().String("tz", "", "IANA time zone used to display times, e.g. Europe/Berlin")

	cmd.AddCommand(add)
	return cmd
}

func (c *cli) noteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes",
	}

	add := &cobra.Command{
		Use:   "add <username> <title>",
		Short: "Add a note without a reminder time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.owner(ctx, args[0])
			if err != nil {
				return err
			}
			desc, _ := cmd.Flags().GetString("desc")
			task, err := c.app.tasks.CreateNote(ctx, user.ID, service.TaskInput{Title: args[1], Description: desc})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "note #%d created\n", task.ID)
			return nil
		},
	}
	add.Flags().String("desc", "", "Description")

	cmd.AddCommand(add)
	return cmd
}

func (c *cli) reminderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminder",
		Short: "Manage reminders",
	}

	add := &cobra.Command{
		Use:   "add <username> <title>",
		Short: "Add a reminder delivered to the user's chat at the given time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.owner(ctx, args[0])
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetString("at")
			loc := c.app.links.Location(user)
			at, err := time.ParseInLocation(atLayout, raw, loc)
			if err != nil {
				return fmt.Errorf("--at must look like %q: %w", atLayout, err)
			}
			desc, _ := cmd.Flags().GetString("desc")

			task, err := c.app.tasks.CreateReminder(ctx, user.ID, service.TaskInput{Title: args[1], Description: desc, ReminderTime: &at})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reminder #%d created for %s (%s)\n", task.ID, at.Format(atLayout), loc)
			return nil
		},
	}
	add.Flags().String("at", "", "Reminder time in the user's zone, "+atLayout)
	add.Flags().String("desc", "", "Description")
	_ = add.MarkFlagRequired("at")

	cmd.AddCommand(add)
	return cmd
}

func (c *cli) taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Complete or delete tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <username> <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, taskID, err := c.ownerAndTask(ctx, args)
			if err != nil {
				return err
			}
			task, err := c.app.tasks.Complete(ctx, user.ID, taskID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task #%d completed\n", task.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <username> <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, taskID, err := c.ownerAndTask(ctx, args)
			if err != nil {
				return err
			}
			if err := c.app.tasks.DeleteTask(ctx, user.ID, taskID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task #%d deleted\n", taskID)
			return nil
		},
	})

	return cmd
}

func (c *cli) boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board <username>",
		Short: "Show a user's tasks grouped by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.owner(ctx, args[0])
			if err != nil {
				return err
			}
			board, err := c.app.tasks.Board(ctx, user.ID)
			if err != nil {
				return err
			}

			loc := c.app.links.Location(user)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tREMINDER\tTITLE")
			writeRows(w, "active", board.Active, loc)
			writeRows(w, "overdue", board.Overdue, loc)
			writeRows(w, "completed", board.Completed, loc)
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d | Active: %d | Overdue: %d | Completed: %d\n",
				board.Total(), len(board.Active), len(board.Overdue), len(board.Completed))
			return nil
		},
	}
}

func (c *cli) linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Inspect or drop chat links",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "token <username>",
		Short: "Print the user's pairing token and link status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.owner(ctx, args[0])
			if err != nil {
				return err
			}
			link, err := c.app.links.EnsureLink(ctx, user.ID)
			if err != nil {
				return err
			}
			status := "not linked"
			if link.Linked() {
				status = "linked to chat " + *link.ChannelEndpoint
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pairing token: %s\nstatus: %s\n", link.PairingToken, status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <username>",
		Short: "Detach the user's chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.owner(ctx, args[0])
			if err != nil {
				return err
			}
			ok, err := c.app.links.UnpairOwner(ctx, user.ID)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no linked chat\n", user.Username)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chat detached from %s\n", user.Username)
			return nil
		},
	})

	return cmd
}

func (c *cli) notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Inspect the reminder notifier",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "due",
		Short: "List reminders the next notification cycle would deliver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := c.app.taskRepo.Find(cmd.Context(), service.DueFilter(c.app.clk.Now()))
			if err != nil {
				return err
			}
			if len(due) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing due")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tREMINDER (UTC)\tTITLE")
			for _, task := range due {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", task.ID, task.OwnerID, task.ReminderTime.UTC().Format(atLayout), task.Title)
			}
			return w.Flush()
		},
	})

	return cmd
}

func (c *cli) owner(ctx context.Context, username string) (*model.User, error) {
	user, err := c.app.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return user, nil
}

func (c *cli) ownerAndTask(ctx context.Context, args []string) (*model.User, uint, error) {
	taskID, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("task id must be a number: %w", err)
	}
	user, err := c.owner(ctx, args[0])
	if err != nil {
		return nil, 0, err
	}
	return user, uint(taskID), nil
}

func writeRows(w io.Writer, status string, tasks []model.Task, loc *time.Location) {
	for _, task := range tasks {
		reminder := "-"
		if task.ReminderTime != nil {
			reminder = task.ReminderTime.In(loc).Format(atLayout)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", task.ID, status, reminder, task.Title)
	}
}
