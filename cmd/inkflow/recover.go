package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func recoverCmd() *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Resume executions left running by a previous process, then exit",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.coordinator.Recover(ctx)
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			logger.Info("recovery finished", zap.Int("count", n))
			fmt.Fprintf(c.App.Writer, "Recovered %d execution(s)\n", n)
			return nil
		},
	}
}
