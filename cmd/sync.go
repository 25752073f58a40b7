package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization and exit",
		Long: `Fetches every comic missing from the local store, appends them, and
exits. The exit status is non-zero when the latest comic cannot be fetched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runErr := app.SyncOnce(cmd.Context())

			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
			defer cancel()
			if err := app.Close(closeCtx); err != nil {
				return fmt.Errorf("close: %w", err)
			}
			if runErr != nil {
				return fmt.Errorf("sync: %w", runErr)
			}
			return nil
		},
	}
}
