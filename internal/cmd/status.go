package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/stringutil"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <discussion-id>",
		Short: "Show a discussion's state",
		Long:  `Show the current state of a discussion, including its summary when one exists.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			return runStatus(ctx, args[0])
		},
	}
}

func runStatus(ctx *Context, id string) error {
	d, err := ctx.Client().Get(ctx, id)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ID:        %s\n", d.ID)
	fmt.Fprintf(&b, "Topic:     %s\n", d.Topic)
	fmt.Fprintf(&b, "Status:    %s\n", colorStatus(d.Status))
	fmt.Fprintf(&b, "Models:    %s\n", strings.Join(d.Models, ", "))
	fmt.Fprintf(&b, "Round:     %d/%d\n", d.CurrentRound, d.MaxRounds)
	fmt.Fprintf(&b, "Messages:  %d\n", len(d.Messages))
	fmt.Fprintf(&b, "Created:   %s\n", stringutil.FormatTime(d.CreatedAt))
	if d.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", stringutil.FormatTime(*d.CompletedAt))
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "Error:     %s\n", d.Error)
	}
	if d.Summary != nil {
		fmt.Fprintf(&b, "\nSummary (by %s):\n%s\n", d.Summary.GeneratedBy, d.Summary.Content)
	}
	logger.Write(ctx, strings.TrimRight(b.String(), "\n"))
	return nil
}
