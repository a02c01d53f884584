package tools

import (
	"sync"

	"github.com/firstclaim/claim-engine/internal/claim"
	"github.com/firstclaim/claim-engine/internal/domain"
)

// TurnState is the mutable context tools share during one turn.
type TurnState struct {
	Claim *claim.Aggregate

	mu            sync.Mutex
	highlights    []domain.Highlight
	highlightsSet bool
	suggestions   []string
}

// NewTurnState wraps the turn's claim aggregate.
func NewTurnState(agg *claim.Aggregate) *TurnState {
	return &TurnState{Claim: agg}
}

// SetHighlights replaces the evidence highlights.
func (s *TurnState) SetHighlights(hs []domain.Highlight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlights = append([]domain.Highlight(nil), hs...)
	s.highlightsSet = true
}

// Highlights returns the stored highlights and whether any were set this turn.
func (s *TurnState) Highlights() ([]domain.Highlight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Highlight(nil), s.highlights...), s.highlightsSet
}

// SetSuggestions replaces the suggested follow-up actions.
func (s *TurnState) SetSuggestions(actions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions = append([]string(nil), actions...)
}

// Suggestions returns the suggested follow-up actions.
func (s *TurnState) Suggestions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.suggestions...)
}
