package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/logger"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [flags] <discussion-id>",
		Short: "Export a completed discussion",
		Long: `Download a completed discussion as JSON or plain text.

Examples:
  parley export 550e8400-e29b-41d4-a716-446655440000
  parley export --format txt --output transcript.txt <id>
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			return runExport(ctx, args[0])
		},
	}
	cmd.Flags().String("format", "json", "export format: json or txt")
	cmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	return cmd
}

func runExport(ctx *Context, id string) error {
	format, _ := ctx.Command.Flags().GetString("format")
	data, err := ctx.Client().Export(ctx, id, format)
	if err != nil {
		return err
	}

	if out, _ := ctx.Command.Flags().GetString("output"); out != "" {
		if err := os.WriteFile(out, data, 0600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		logger.Write(ctx, fmt.Sprintf("Exported discussion %s to %s", id, out))
		return nil
	}
	logger.Write(ctx, string(data))
	return nil
}
