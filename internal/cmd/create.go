package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
)

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [flags] <topic>",
		Short: "Create a discussion",
		Long: `Create a discussion on a running server.

The topic and participants come either from flags or from a YAML spec
file given with --file. With --start the discussion begins immediately.

Examples:
  parley create "Is tabs vs spaces settled?" --models llama3,mistral
  parley create --file discussion.yaml --start
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			return runCreate(ctx, args)
		},
	}
	cmd.Flags().StringP("file", "f", "", "YAML spec file describing the discussion")
	cmd.Flags().StringSlice("models", nil, "participating models, comma separated")
	cmd.Flags().String("summary-model", "", "model that writes the final summary (default: first participant)")
	cmd.Flags().Int("max-rounds", 0, fmt.Sprintf("rounds to run, 1..%d (default %d)", models.MaxRoundsLimit, models.DefaultMaxRounds))
	cmd.Flags().Bool("start", false, "start the discussion after creating it")
	return cmd
}

func runCreate(ctx *Context, args []string) error {
	req, err := createRequest(ctx.Command, args)
	if err != nil {
		return err
	}

	api := ctx.Client()
	entry, err := api.Create(ctx, req)
	if err != nil {
		return err
	}
	logger.Write(ctx, fmt.Sprintf("Created discussion %s", entry.ID))

	if start, _ := ctx.Command.Flags().GetBool("start"); start {
		if _, err := api.Start(ctx, entry.ID); err != nil {
			return err
		}
		logger.Write(ctx, fmt.Sprintf("Started discussion %s", entry.ID))
	}
	return nil
}

// createRequest merges the spec file and flags into a create request.
// Flags win over the file; the topic argument wins over both.
func createRequest(cmd *cobra.Command, args []string) (models.CreateRequest, error) {
	var req models.CreateRequest

	if path, _ := cmd.Flags().GetString("file"); path != "" {
		spec, err := models.LoadDiscussionSpec(path)
		if err != nil {
			return req, err
		}
		req = spec.CreateRequest()
	}

	if len(args) > 0 {
		req.Topic = args[0]
	}
	if cmd.Flags().Changed("models") {
		req.Models, _ = cmd.Flags().GetStringSlice("models")
	}
	if v, _ := cmd.Flags().GetString("summary-model"); v != "" {
		req.SummaryModel = v
	}
	if cmd.Flags().Changed("max-rounds") {
		req.MaxRounds, _ = cmd.Flags().GetInt("max-rounds")
	}

	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
