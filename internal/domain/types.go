// Package domain defines the core types shared by the claim engine: the claim
// document, sessions, the outbound event feed, and the engine error codes.
package domain

// EventType tags an outbound turn event.
type EventType string

const (
	EventStageChanged     EventType = "stage_changed"
	EventNarrationDelta   EventType = "narration_delta"
	EventToolStarted      EventType = "tool_invocation_started"
	EventToolProgress     EventType = "tool_invocation_progress"
	EventToolResult       EventType = "tool_invocation_result"
	EventClaimReplaced    EventType = "claim_replaced"
	EventFindingAdded     EventType = "finding_added"
	EventFindingResolved  EventType = "finding_resolved"
	EventRiskScoreChanged EventType = "risk_score_changed"
	EventHighlights       EventType = "evidence_highlights"
	EventTurnCompleted    EventType = "turn_completed"
	EventTurnFailed       EventType = "turn_failed"
)

// Terminal reports whether no further events follow an event of this type.
func (t EventType) Terminal() bool {
	return t == EventTurnCompleted || t == EventTurnFailed
}

// Event is one entry of the ordered event stream produced by a turn. Only the
// fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`

	Stage int    `json:"stage,omitempty"`
	Label string `json:"label,omitempty"`

	Text string `json:"text,omitempty"`

	Name   string `json:"name,omitempty"`
	Query  string `json:"query,omitempty"`
	Result string `json:"result,omitempty"`

	Claim      *Claim      `json:"claim,omitempty"`
	Finding    *Finding    `json:"finding,omitempty"`
	FindingID  string      `json:"findingId,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Score      *int        `json:"score,omitempty"`
	Highlights []Highlight `json:"highlights,omitempty"`

	SessionID        string   `json:"sessionId,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	SuggestedPrompts []string `json:"suggestedPrompts,omitempty"`

	Message string `json:"message,omitempty"`
}

// StageChanged builds a stage_changed event.
func StageChanged(stage int, label string) Event {
	return Event{Type: EventStageChanged, Stage: stage, Label: label}
}

// NarrationDelta builds a narration_delta event.
func NarrationDelta(text string) Event {
	return Event{Type: EventNarrationDelta, Text: text}
}

// ToolStarted builds a tool_invocation_started event.
func ToolStarted(name string) Event {
	return Event{Type: EventToolStarted, Name: name}
}

// ToolProgress builds a tool_invocation_progress event.
func ToolProgress(name, query string) Event {
	return Event{Type: EventToolProgress, Name: name, Query: query}
}

// ToolResult builds a tool_invocation_result event.
func ToolResult(name, result string) Event {
	return Event{Type: EventToolResult, Name: name, Result: result}
}

// ClaimReplaced builds a claim_replaced event around a copy of c.
func ClaimReplaced(c *Claim) Event {
	return Event{Type: EventClaimReplaced, Claim: c.Clone()}
}

// FindingAdded builds a finding_added event.
func FindingAdded(f Finding) Event {
	f = f.Clone()
	return Event{Type: EventFindingAdded, Finding: &f}
}

// FindingResolved builds a finding_resolved event.
func FindingResolved(id, reason string) Event {
	return Event{Type: EventFindingResolved, FindingID: id, Reason: reason}
}

// RiskScoreChanged builds a risk_score_changed event.
func RiskScoreChanged(score int) Event {
	return Event{Type: EventRiskScoreChanged, Score: &score}
}

// HighlightsReady builds an evidence_highlights event.
func HighlightsReady(hs []Highlight) Event {
	return Event{Type: EventHighlights, Highlights: append([]Highlight{}, hs...)}
}

// TurnCompleted builds the success terminal event.
func TurnCompleted(sessionID string, c *Claim, summary string, prompts []string) Event {
	return Event{
		Type:             EventTurnCompleted,
		SessionID:        sessionID,
		Claim:            c.Clone(),
		Summary:          summary,
		SuggestedPrompts: prompts,
	}
}

// TurnFailed builds the failure terminal event.
func TurnFailed(msg string) Event {
	return Event{Type: EventTurnFailed, Message: msg}
}
