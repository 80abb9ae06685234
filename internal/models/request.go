package models

import (
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"github.com/goccy/go-yaml"
)

// MaxRoundsLimit bounds how many rounds a discussion may run.
const MaxRoundsLimit = 20

// DefaultMaxRounds is used when a create request leaves maxRounds
// unset.
const DefaultMaxRounds = 3

// CreateRequest carries the parameters for a new discussion.
type CreateRequest struct {
	Topic        string   `json:"topic"`
	Models       []string `json:"models"`
	SummaryModel string   `json:"summaryModel,omitempty"`
	MaxRounds    int      `json:"maxRounds,omitempty"`
}

// ApplyDefaults fills unset fields: maxRounds and the summary model,
// which defaults to the first participant.
func (r *CreateRequest) ApplyDefaults() {
	defaults := CreateRequest{MaxRounds: DefaultMaxRounds}
	if len(r.Models) > 0 {
		defaults.SummaryModel = r.Models[0]
	}
	_ = mergo.Merge(r, defaults)
}

// Validate checks the request after defaults were applied.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return &ValidationError{Field: "topic", Reason: "must not be empty"}
	}
	if len(r.Models) < 2 {
		return &ValidationError{Field: "models", Reason: "at least two models are required"}
	}
	for i, m := range r.Models {
		if strings.TrimSpace(m) == "" {
			return &ValidationError{Field: "models", Reason: fmt.Sprintf("model %d is empty", i)}
		}
	}
	if r.SummaryModel == "" {
		return &ValidationError{Field: "summaryModel", Reason: "must not be empty"}
	}
	if r.MaxRounds < 1 || r.MaxRounds > MaxRoundsLimit {
		return &ValidationError{Field: "maxRounds", Reason: fmt.Sprintf("%d outside 1..%d", r.MaxRounds, MaxRoundsLimit)}
	}
	return nil
}

// DiscussionSpec is the YAML shape accepted by `parley create -f`.
type DiscussionSpec struct {
	Topic        string   `yaml:"topic"`
	Models       []string `yaml:"models"`
	SummaryModel string   `yaml:"summaryModel"`
	MaxRounds    int      `yaml:"maxRounds"`
}

// LoadDiscussionSpec reads and parses a spec file.
func LoadDiscussionSpec(path string) (*DiscussionSpec, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	var spec DiscussionSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}
	return &spec, nil
}

// CreateRequest converts the spec into a create request with defaults
// applied.
func (s *DiscussionSpec) CreateRequest() CreateRequest {
	req := CreateRequest{
		Topic:        s.Topic,
		Models:       append([]string(nil), s.Models...),
		SummaryModel: s.SummaryModel,
		MaxRounds:    s.MaxRounds,
	}
	req.ApplyDefaults()
	return req
}
