package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crowdnav/internal/app"
)

func RunServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, app.Options{
		Config: cfg,
		Logger: commandLogger(cmd),
		Stdout: cmd.OutOrStdout(),
	})
}
