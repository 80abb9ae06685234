package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle phase of a discussion.
type Status string

const (
	StatusCreated     Status = "created"
	StatusRunning     Status = "running"
	StatusSummarizing Status = "summarizing"
	StatusCompleted   Status = "completed"
	StatusStopped     Status = "stopped"
	StatusError       Status = "error"
)

// IsActive reports whether a discussion in this status occupies the
// active set.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusSummarizing
}

// IsTerminal reports whether the status ends the lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusSummarizing, StatusCompleted, StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// Discussion is the root entity: a topic debated by an ordered set of
// models over a bounded number of rounds.
type Discussion struct {
	ID                string     `json:"id"`
	Topic             string     `json:"topic"`
	Models            []string   `json:"models"`
	SummaryModel      string     `json:"summaryModel"`
	MaxRounds         int        `json:"maxRounds"`
	CurrentRound      int        `json:"currentRound"`
	CurrentModelIndex int        `json:"currentModelIndex"`
	Status            Status     `json:"status"`
	Messages          []Message  `json:"messages"`
	Summary           *Summary   `json:"summary,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Error             string     `json:"error,omitempty"`

	// Extra preserves unknown JSON fields across read-modify-write so
	// files written by newer versions survive a round-trip.
	Extra map[string]json.RawMessage `json:"-"`
}

// discussionAlias avoids recursing into the custom JSON methods.
type discussionAlias Discussion

// knownDiscussionFields mirrors the json tags above; anything else in a
// stored file lands in Extra.
var knownDiscussionFields = map[string]struct{}{
	"id": {}, "topic": {}, "models": {}, "summaryModel": {},
	"maxRounds": {}, "currentRound": {}, "currentModelIndex": {},
	"status": {}, "messages": {}, "summary": {},
	"createdAt": {}, "updatedAt": {}, "completedAt": {}, "error": {},
}

// UnmarshalJSON decodes the known fields and stashes the rest in Extra.
func (d *Discussion) UnmarshalJSON(data []byte) error {
	var alias discussionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range knownDiscussionFields {
		delete(raw, key)
	}
	if len(raw) == 0 {
		raw = nil
	}

	*d = Discussion(alias)
	d.Extra = raw
	return nil
}

// MarshalJSON writes the known fields plus anything preserved in Extra.
// Known fields always win on key collision.
func (d Discussion) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(discussionAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, val := range d.Extra {
		if _, ok := knownDiscussionFields[key]; ok {
			continue
		}
		merged[key] = val
	}
	return json.Marshal(merged)
}

// NewDiscussion builds a created discussion with the opening system
// message describing the debate.
func NewDiscussion(req CreateRequest) (*Discussion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	d := &Discussion{
		ID:           uuid.NewString(),
		Topic:        req.Topic,
		Models:       append([]string(nil), req.Models...),
		SummaryModel: req.SummaryModel,
		MaxRounds:    req.MaxRounds,
		Status:       StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d.Messages = []Message{NewSystemMessage(introContent(d), now)}
	return d, nil
}

func introContent(d *Discussion) string {
	return fmt.Sprintf(
		"This is a discussion on the topic: %q. Participants: %s. The discussion runs for %d round(s); each participant speaks once per round.",
		d.Topic, strings.Join(d.Models, ", "), d.MaxRounds,
	)
}

// Clone returns a deep copy safe to serialize while the original keeps
// mutating under its own lock.
func (d *Discussion) Clone() *Discussion {
	cp := *d
	cp.Models = append([]string(nil), d.Models...)
	cp.Messages = append([]Message(nil), d.Messages...)
	if d.Summary != nil {
		summary := *d.Summary
		cp.Summary = &summary
	}
	if d.CompletedAt != nil {
		ts := *d.CompletedAt
		cp.CompletedAt = &ts
	}
	if d.Extra != nil {
		cp.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

// Touch advances UpdatedAt.
func (d *Discussion) Touch() {
	d.UpdatedAt = time.Now()
}

// AppendMessage adds a message and advances UpdatedAt.
func (d *Discussion) AppendMessage(msg Message) {
	d.Messages = append(d.Messages, msg)
	d.Touch()
}

// AssistantMessages returns the non-system messages in order.
func (d *Discussion) AssistantMessages() []Message {
	out := make([]Message, 0, len(d.Messages))
	for _, m := range d.Messages {
		if m.Role == RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// CheckInvariants verifies the structural invariants of a loaded
// discussion. Violations indicate a corrupt or hand-edited file.
func (d *Discussion) CheckInvariants() error {
	if d.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !d.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", d.Status)}
	}
	if d.CurrentRound < 0 || d.CurrentRound > d.MaxRounds {
		return &ValidationError{Field: "currentRound", Reason: fmt.Sprintf("%d outside 0..%d", d.CurrentRound, d.MaxRounds)}
	}
	if len(d.Models) > 0 && (d.CurrentModelIndex < 0 || d.CurrentModelIndex >= len(d.Models)) {
		return &ValidationError{Field: "currentModelIndex", Reason: fmt.Sprintf("%d outside 0..%d", d.CurrentModelIndex, len(d.Models)-1)}
	}
	if d.Status == StatusCompleted && d.Summary == nil {
		return &ValidationError{Field: "summary", Reason: "completed discussion has no summary"}
	}
	return nil
}

// IndexEntry is the listing projection of a discussion, kept separate
// so List never loads message bodies.
type IndexEntry struct {
	ID           string     `json:"id"`
	Topic        string     `json:"topic"`
	Status       Status     `json:"status"`
	Models       []string   `json:"models"`
	SummaryModel string     `json:"summaryModel"`
	MessageCount int        `json:"messageCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// IndexEntryOf projects a discussion onto its index entry.
func IndexEntryOf(d *Discussion) IndexEntry {
	return IndexEntry{
		ID:           d.ID,
		Topic:        d.Topic,
		Status:       d.Status,
		Models:       append([]string(nil), d.Models...),
		SummaryModel: d.SummaryModel,
		MessageCount: len(d.Messages),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		CompletedAt:  d.CompletedAt,
	}
}
