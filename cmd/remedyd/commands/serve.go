package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"remedyd/internal/app"
)

func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the remediation daemon",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			instance, err := app.New(app.Options{
				ConfigPath: cmd.String("config"),
				Version:    a.Version,
			})
			if err != nil {
				return err
			}

			if err := instance.Initialize(ctx); err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}

			instance.Logger.Info("starting remedyd",
				"version", a.Version, "commit", a.Commit, "built", a.Date)

			errCh := make(chan error, 1)
			go func() { errCh <- instance.Start(ctx) }()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return instance.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			}
		},
	}
}
