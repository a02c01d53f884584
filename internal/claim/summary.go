package claim

import (
	"fmt"
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// Events translates a change into the outbound events a caller renders.
// claim_replaced always comes first.
func (ch Change) Events() []domain.Event {
	events := []domain.Event{domain.ClaimReplaced(ch.Claim)}
	switch ch.Action {
	case ActionAddFinding:
		if ch.Finding != nil {
			events = append(events, domain.FindingAdded(*ch.Finding))
		}
	case ActionResolveFinding:
		events = append(events, domain.FindingResolved(ch.FindingID, ch.Reason))
	}
	prev := 0
	if ch.Previous != nil {
		prev = ch.Previous.RiskScore
	}
	if ch.Claim != nil && ch.Claim.RiskScore != prev {
		events = append(events, domain.RiskScoreChanged(ch.Claim.RiskScore))
	}
	return events
}

// ResultText is the text returned to the agent after a successful mutation.
func ResultText(action Action, c *domain.Claim) string {
	return fmt.Sprintf("Claim updated (%s). Current state: %d line items, %d findings, risk score: %d",
		action, len(c.LineItems), len(c.Findings), c.RiskScore)
}

// ResultSummary is the short form of ResultText shown in progress feeds.
func ResultSummary(action Action, c *domain.Claim) string {
	return fmt.Sprintf("Claim updated (%s). %d line items, %d findings, risk: %d",
		action, len(c.LineItems), len(c.Findings), c.RiskScore)
}

// Summary renders the short conversational recap shown after an analysis.
func Summary(c *domain.Claim) string {
	open := c.OpenFindings()
	critical := 0
	for _, f := range open {
		if f.Severity == domain.SeverityCritical {
			critical++
		}
	}

	var lines []string
	switch {
	case len(open) == 0:
		lines = append(lines, fmt.Sprintf("Claim looks clean: **%d line items**, no issues found.", len(c.LineItems)))
	case critical > 0:
		lines = append(lines, fmt.Sprintf("Heads up, found **%d %s** across %d line items. Here's the quick read:",
			len(open), plural(len(open), "issue"), len(c.LineItems)))
	default:
		lines = append(lines, fmt.Sprintf("%d line items built. A few things to look at:", len(c.LineItems)))
	}

	for i, f := range open {
		if i == 3 {
			lines = append(lines, fmt.Sprintf("- Plus %d more in the findings panel.", len(open)-3))
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", severityTag(f.Severity), f.Title))
	}
	return strings.Join(lines, "\n")
}

// Diff summarises how a turn moved the headline numbers, or returns nil
// when neither risk nor revenue at risk changed.
func Diff(before, after *domain.Claim) *domain.ClaimChange {
	if after == nil {
		return nil
	}
	ch := &domain.ClaimChange{
		RiskAfter:     after.RiskScore,
		RevenueBefore: RevenueAtRisk(before),
		RevenueAfter:  RevenueAtRisk(after),
	}
	if before != nil {
		ch.RiskBefore = before.RiskScore
	}
	if ch.RiskBefore == ch.RiskAfter && ch.RevenueBefore == ch.RevenueAfter {
		return nil
	}
	ch.Description = fmt.Sprintf("Risk %d -> %d, revenue at risk $%d -> $%d",
		ch.RiskBefore, ch.RiskAfter, ch.RevenueBefore, ch.RevenueAfter)
	return ch
}

func severityTag(s domain.FindingSeverity) string {
	switch s {
	case domain.SeverityCritical:
		return "**Critical**"
	case domain.SeverityWarning:
		return "**Warning**"
	case domain.SeverityOpportunity:
		return "**Opportunity**"
	}
	return "**Info**"
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
