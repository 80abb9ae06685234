package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/logger"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <discussion-id>",
		Short: "Stop a running discussion",
		Long: `Request a cooperative stop of a running discussion.

The current turn finishes before the loop exits; the discussion can be
resumed later with create --start or the REST start endpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			entry, err := ctx.Client().Stop(ctx, args[0])
			if err != nil {
				return err
			}
			logger.Write(ctx, fmt.Sprintf("Stop requested for discussion %s", entry.ID))
			return nil
		},
	}
}
