// Package eventbus carries orchestrator events to live subscribers.
// Delivery is best-effort: publishers never block, and a subscriber
// that cannot keep up loses events rather than slowing anyone down.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/parley-org/parley/internal/models"
)

// EventType tags an event. The strings are the wire values seen by
// WebSocket subscribers.
type EventType string

const (
	EventDiscussionStarted   EventType = "discussion_started"
	EventModelThinking       EventType = "model_thinking"
	EventMessageStarted      EventType = "message_started"
	EventMessageToken        EventType = "message_token"
	EventMessageStreaming    EventType = "message_streaming"
	EventMessageComplete     EventType = "message_complete"
	EventRoundCompleted      EventType = "round_completed"
	EventGeneratingSummary   EventType = "generating_summary"
	EventSummaryToken        EventType = "summary_token"
	EventSummaryStreaming    EventType = "summary_streaming"
	EventSummaryComplete     EventType = "summary_complete"
	EventDiscussionCompleted EventType = "discussion_completed"
	EventDiscussionStopped   EventType = "discussion_stopped"
	EventDiscussionDeleted   EventType = "discussion_deleted"
	EventDiscussionError     EventType = "discussion_error"
)

// Event is one broadcast item. Payload keys are merged into the JSON
// frame next to type, discussionId and timestamp.
type Event struct {
	Type         EventType
	DiscussionID string
	Timestamp    time.Time
	Payload      map[string]any
}

// MarshalJSON flattens the event into a single frame:
// {"type": ..., "discussionId": ..., "timestamp": ..., <payload keys>}.
// Reserved keys always win over payload keys of the same name.
func (e Event) MarshalJSON() ([]byte, error) {
	frame := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		frame[k] = v
	}
	frame["type"] = e.Type
	frame["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	if e.DiscussionID != "" {
		frame["discussionId"] = e.DiscussionID
	}
	return json.Marshal(frame)
}

func newEvent(t EventType, discussionID string, payload map[string]any) Event {
	return Event{
		Type:         t,
		DiscussionID: discussionID,
		Timestamp:    time.Now(),
		Payload:      payload,
	}
}

// NewDiscussionStarted announces that the turn loop launched.
func NewDiscussionStarted(d *models.Discussion) Event {
	return newEvent(EventDiscussionStarted, d.ID, map[string]any{
		"discussion": models.IndexEntryOf(d),
	})
}

// NewModelThinking announces that a model's turn began.
func NewModelThinking(discussionID, model string, round int) Event {
	return newEvent(EventModelThinking, discussionID, map[string]any{
		"model": model,
		"round": round,
	})
}

// NewMessageStarted carries the empty placeholder message.
func NewMessageStarted(d *models.Discussion, msg models.Message) Event {
	return newEvent(EventMessageStarted, d.ID, map[string]any{
		"message":    msg,
		"discussion": models.IndexEntryOf(d),
	})
}

// NewMessageToken carries one throttled token delta. Done marks the
// final event of the stream, which bypasses the throttle.
func NewMessageToken(discussionID, messageID, token, content string, count int, done bool) Event {
	return newEvent(EventMessageToken, discussionID, map[string]any{
		"messageId":  messageID,
		"token":      token,
		"content":    content,
		"tokenCount": count,
		"done":       done,
	})
}

// NewMessageStreaming carries a periodic snapshot of the accumulating
// content.
func NewMessageStreaming(discussionID, messageID, content string, isComplete bool) Event {
	return newEvent(EventMessageStreaming, discussionID, map[string]any{
		"messageId":  messageID,
		"content":    content,
		"isComplete": isComplete,
	})
}

// NewMessageComplete carries the finished message.
func NewMessageComplete(d *models.Discussion, msg models.Message) Event {
	return newEvent(EventMessageComplete, d.ID, map[string]any{
		"message":    msg,
		"tokenCount": msg.TokenCount,
		"discussion": models.IndexEntryOf(d),
	})
}

// NewRoundCompleted announces a full cycle through all models.
func NewRoundCompleted(discussionID string, round, totalRounds int) Event {
	return newEvent(EventRoundCompleted, discussionID, map[string]any{
		"round":       round,
		"totalRounds": totalRounds,
	})
}

// NewGeneratingSummary announces the start of the summary ladder.
func NewGeneratingSummary(discussionID, summaryModel string) Event {
	return newEvent(EventGeneratingSummary, discussionID, map[string]any{
		"summaryModel": summaryModel,
	})
}

// NewSummaryToken mirrors NewMessageToken for the summary stream.
func NewSummaryToken(discussionID, summaryID, token, content string, count int, done bool) Event {
	return newEvent(EventSummaryToken, discussionID, map[string]any{
		"summaryId":  summaryID,
		"token":      token,
		"content":    content,
		"tokenCount": count,
		"done":       done,
	})
}

// NewSummaryStreaming mirrors NewMessageStreaming for the summary.
func NewSummaryStreaming(discussionID, summaryID, content string, isComplete bool) Event {
	return newEvent(EventSummaryStreaming, discussionID, map[string]any{
		"summaryId":  summaryID,
		"content":    content,
		"isComplete": isComplete,
	})
}

// NewSummaryComplete carries the finished summary.
func NewSummaryComplete(discussionID string, summary *models.Summary) Event {
	return newEvent(EventSummaryComplete, discussionID, map[string]any{
		"summary": summary,
	})
}

// NewDiscussionCompleted announces the end of the lifecycle. warning is
// set when the summary fell back to the system-generated text.
func NewDiscussionCompleted(d *models.Discussion, warning bool) Event {
	payload := map[string]any{
		"discussion": models.IndexEntryOf(d),
		"summary":    d.Summary,
	}
	if warning {
		payload["warning"] = true
	}
	return newEvent(EventDiscussionCompleted, d.ID, payload)
}

// NewDiscussionStopped announces a user-initiated stop.
func NewDiscussionStopped(d *models.Discussion) Event {
	return newEvent(EventDiscussionStopped, d.ID, map[string]any{
		"discussion": models.IndexEntryOf(d),
	})
}

// NewDiscussionDeleted announces removal.
func NewDiscussionDeleted(discussionID string) Event {
	return newEvent(EventDiscussionDeleted, discussionID, nil)
}

// NewDiscussionError announces a fatal loop failure.
func NewDiscussionError(discussionID, errMsg string) Event {
	return newEvent(EventDiscussionError, discussionID, map[string]any{
		"error": errMsg,
	})
}
