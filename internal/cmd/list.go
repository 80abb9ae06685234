package cmd

import (
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/stringutil"
)

const topicColumnWidth = 48

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discussions",
		Long:  `List all discussions on a running server, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			return runList(ctx)
		},
	}
}

func runList(ctx *Context) error {
	entries, err := ctx.Client().List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		logger.Write(ctx, "No discussions found")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Topic", "Status", "Models", "Messages", "Updated"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.ID,
			stringutil.TruncateWithEllipsis(e.Topic, topicColumnWidth),
			colorStatus(e.Status),
			len(e.Models),
			e.MessageCount,
			stringutil.FormatTime(e.UpdatedAt),
		})
	}
	logger.Write(ctx, t.Render())
	return nil
}

func colorStatus(s models.Status) string {
	switch s {
	case models.StatusRunning, models.StatusSummarizing:
		return color.GreenString(string(s))
	case models.StatusCompleted:
		return color.CyanString(string(s))
	case models.StatusStopped:
		return color.YellowString(string(s))
	case models.StatusError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}
