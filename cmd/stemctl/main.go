package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stembot/internal/config"
	"stembot/internal/logging"
	"stembot/internal/repository"
	"stembot/internal/service"
)

var Version = "dev"

// app bundles the stores and services a command works with.
type app struct {
	clk      clock.Clock
	users    *repository.UserRepository
	taskRepo *repository.TaskRepository
	tasks    *service.TaskService
	links    *service.LinkService
	close    func() error
}

func main() {
	root := newRootCmd(openApp)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openApp(context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New("stemctl", cfg.Debug)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	db, err := repository.NewDB(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	a := newApp(repository.NewUserRepository(db), repository.NewTaskRepository(db), repository.NewLinkRepository(db),
		clock.New(), cfg, loc, logger)
	a.close = func() error {
		_ = logger.Sync()
		return sqlDB.Close()
	}
	return a, nil
}

func newApp(users *repository.UserRepository, taskRepo *repository.TaskRepository, linkRepo *repository.LinkRepository,
	clk clock.Clock, cfg config.Config, loc *time.Location, logger *zap.Logger) *app {
	overdue := service.NewOverdueEvaluator(taskRepo, clk)
	return &app{
		clk:      clk,
		users:    users,
		taskRepo: taskRepo,
		tasks:    service.NewTaskService(taskRepo, overdue, clk, cfg.OverdueGrace),
		links: service.NewLinkService(linkRepo, clk, service.LinkConfig{
			TokenDigits:     cfg.TokenDigits,
			AllowRelink:     cfg.AllowRelink,
			DefaultLocation: loc,
		}, logger.Sugar().Named("link")),
		close: func() error { return nil },
	}
}

// cli holds the app opened for the running command.
type cli struct {
	open func(context.Context) (*app, error)
	app  *app
}

func newRootCmd(open func(context.Context) (*app, error)) *cobra.Command {
	c := &cli{open: open}

	rootCmd := &cobra.Command{
		Use:           "stemctl",
		Short:         "Manage stem bot users, tasks and chat links",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.close()
		},
	}

	rootCmd.AddCommand(c.userCmd())
	rootCmd.AddCommand(c.noteCmd())
	rootCmd.AddCommand(c.reminderCmd())
	rootCmd.AddCommand(c.taskCmd())
	rootCmd.AddCommand(c.boardCmd())
	rootCmd.AddCommand(c.linkCmd())
	rootCmd.AddCommand(c.notifyCmd())

	return rootCmd
}
