package models

import (
	"time"

	"github.com/google/uuid"
)

// Message role constants.
const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
)

// Message is a single utterance in a discussion. The first message of
// every discussion is the system intro with Round 0; assistant messages
// carry the round they belong to.
type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	ModelName  string    `json:"modelName,omitempty"`
	Round      int       `json:"round,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"tokenCount,omitempty"`
}

// NewSystemMessage builds the round-zero system intro.
func NewSystemMessage(content string, ts time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleSystem,
		Content:   content,
		Timestamp: ts,
	}
}

// NewAssistantMessage builds an assistant turn for the given model and
// round.
func NewAssistantMessage(modelName string, round int, content string, tokenCount int) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleAssistant,
		ModelName:  modelName,
		Round:      round,
		Content:    content,
		Timestamp:  time.Now(),
		TokenCount: tokenCount,
	}
}

// Summary is the closing synthesis of a discussion. GeneratedBy is the
// producing model id, or "system" when the fallback ladder ran dry.
type Summary struct {
	ID          string    `json:"id"`
	GeneratedBy string    `json:"generatedBy"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generatedAt"`
	TokenCount  int       `json:"tokenCount,omitempty"`
	Fallback    bool      `json:"fallback,omitempty"`
}

// SummaryGeneratedBySystem marks a fallback summary not produced by any
// model.
const SummaryGeneratedBySystem = "system"

// NewSummary builds a model-generated summary.
func NewSummary(generatedBy, content string, tokenCount int) *Summary {
	return &Summary{
		ID:          uuid.NewString(),
		GeneratedBy: generatedBy,
		Content:     content,
		GeneratedAt: time.Now(),
		TokenCount:  tokenCount,
	}
}

// NewFallbackSummary builds the system summary used when every ladder
// rung failed.
func NewFallbackSummary(content string) *Summary {
	return &Summary{
		ID:          uuid.NewString(),
		GeneratedBy: SummaryGeneratedBySystem,
		Content:     content,
		GeneratedAt: time.Now(),
		Fallback:    true,
	}
}
