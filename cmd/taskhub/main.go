package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"taskhub/internal/app"
	"taskhub/internal/config"
	"taskhub/internal/logging"
	"taskhub/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "taskhub",
		Usage: "multi-user task tracking API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config",
				Value:   config.DefaultPath,
				EnvVars: []string{"TASKHUB_CONFIG"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema and exit",
				Action: migrate,
			},
			{
				Name:  "create-admin",
				Usage: "create an administrator account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"ADMIN_PASSWORD"}},
				},
				Action: createAdmin,
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "taskhub:", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg), nil
}

func serve(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	a, err := app.New(c.Context, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(c.Context)
}

func migrate(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	stores, err := app.OpenStores(c.Context, cfg.Database, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.Migrate(c.Context); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("[db] schema is up to date")
	return nil
}

func createAdmin(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	a, err := app.New(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Users.CreateAdmin(c.Context, services.RegisterInput{
		Username: c.String("username"),
		Email:    c.String("email"),
		Password: c.String("password"),
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.WithFields(logrus.Fields{"id": user.ID, "email": user.Email}).Info("admin created")
	return nil
}
