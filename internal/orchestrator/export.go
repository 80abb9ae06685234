package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/stringutil"
)

// ExportFormat selects the export rendering.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportText ExportFormat = "txt"
)

// ParseExportFormat validates a format string from the API or CLI.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(s)) {
	case ExportJSON, "":
		return ExportJSON, nil
	case ExportText:
		return ExportText, nil
	default:
		return "", &models.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported export format %q", s)}
	}
}

// Export renders a completed discussion in the requested format. Only
// completed discussions can be exported.
func (o *Orchestrator) Export(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	d, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: status is %q", ErrNotCompleted, d.Status)
	}

	switch format {
	case ExportText:
		return exportText(d), nil
	default:
		return json.MarshalIndent(d, "", "  ")
	}
}

// exportText renders the human-readable transcript.
func exportText(d *models.Discussion) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "Discussion: %s\n", d.Topic)
	fmt.Fprintf(&b, "Models: %s\n", strings.Join(d.Models, ", "))
	fmt.Fprintf(&b, "Rounds: %d\n", d.CurrentRound)
	fmt.Fprintf(&b, "Created: %s\n", stringutil.FormatTime(d.CreatedAt))
	if d.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", stringutil.FormatTime(*d.CompletedAt))
	}
	b.WriteString(strings.Repeat("=", 72) + "\n\n")

	for _, msg := range d.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "[Round %d] %s:\n%s\n\n", msg.Round, msg.ModelName, msg.Content)
	}

	if d.Summary != nil {
		b.WriteString(strings.Repeat("=", 72) + "\n")
		fmt.Fprintf(&b, "Summary (by %s):\n%s\n", d.Summary.GeneratedBy, d.Summary.Content)
	}
	return []byte(b.String())
}
