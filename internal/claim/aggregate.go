// Package claim owns the in-memory claim for the duration of one turn and the
// mutation protocol that is the only way to change it.
package claim

import (
	"fmt"
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// Action is the tag of a claim mutation.
type Action string

const (
	ActionSet            Action = "set"
	ActionAddLineItem    Action = "add_line_item"
	ActionRemoveLineItem Action = "remove_line_item"
	ActionUpdateLineItem Action = "update_line_item"
	ActionAddFinding     Action = "add_finding"
	ActionResolveFinding Action = "resolve_finding"
	ActionSetRiskScore   Action = "set_risk_score"
)

// Actions lists every accepted action in protocol order.
var Actions = []Action{
	ActionSet,
	ActionAddLineItem,
	ActionRemoveLineItem,
	ActionUpdateLineItem,
	ActionAddFinding,
	ActionResolveFinding,
	ActionSetRiskScore,
}

// LineItemPatch carries the fields an update_line_item merges into an
// existing line. Nil fields are left untouched.
type LineItemPatch struct {
	LineNumber      *int      `json:"lineNumber,omitempty"`
	CPT             *string   `json:"cpt,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Modifiers       *[]string `json:"modifiers,omitempty"`
	ICD10           *[]string `json:"icd10,omitempty"`
	Units           *int      `json:"units,omitempty"`
	CodingRationale *string   `json:"codingRationale,omitempty"`
	Sources         *[]string `json:"sources,omitempty"`
}

// Mutation is one request against the aggregate. Which fields are required
// depends on Action.
type Mutation struct {
	Action     Action
	Claim      *domain.Claim
	LineItem   *domain.LineItem
	Patch      *LineItemPatch
	LineNumber *int
	Finding    *domain.Finding
	FindingID  string
	Reason     string
	RiskScore  *int
}

// Change describes a successful mutation. Claim is the new snapshot; the
// remaining fields are set for the actions they belong to.
type Change struct {
	Action    Action
	Claim     *domain.Claim
	Previous  *domain.Claim
	Finding   *domain.Finding
	FindingID string
	Reason    string
}

// Notifier receives every successful change, in order, before Apply returns.
type Notifier func(Change)

// Aggregate is the single-writer owner of a claim. It is not safe for
// concurrent use; the tool executor serialises writers.
type Aggregate struct {
	current *domain.Claim
	notify  Notifier
	applied int
}

// NewAggregate returns an aggregate seeded with a copy of seed, which may be
// nil when no claim exists yet.
func NewAggregate(seed *domain.Claim, notify Notifier) *Aggregate {
	return &Aggregate{current: seed.Clone(), notify: notify}
}

// Snapshot returns a copy of the current claim, or nil.
func (a *Aggregate) Snapshot() *domain.Claim {
	return a.current.Clone()
}

// Applied returns the number of mutations that changed the claim.
func (a *Aggregate) Applied() int {
	return a.applied
}

// Apply validates m against the current claim and, on success, installs a
// new snapshot and notifies. On error the claim is untouched.
func (a *Aggregate) Apply(m Mutation) (*domain.Claim, error) {
	if m.Action != ActionSet && a.current == nil {
		return nil, fail(domain.ErrNoClaim, "action %q requires an existing claim; use %q first", m.Action, ActionSet)
	}

	var (
		next   *domain.Claim
		change = Change{Action: m.Action, Previous: a.current.Clone()}
		err    error
	)
	switch m.Action {
	case ActionSet:
		next, err = a.set(m)
	case ActionAddLineItem:
		next, err = a.addLineItem(m)
	case ActionRemoveLineItem:
		var removed bool
		next, removed, err = a.removeLineItem(m)
		if err == nil && !removed {
			return a.Snapshot(), nil
		}
	case ActionUpdateLineItem:
		next, err = a.updateLineItem(m)
	case ActionAddFinding:
		next, err = a.addFinding(m)
		if err == nil {
			f := next.Findings[len(next.Findings)-1]
			change.Finding = &f
		}
	case ActionResolveFinding:
		next, err = a.resolveFinding(m)
		change.FindingID, change.Reason = m.FindingID, m.Reason
	case ActionSetRiskScore:
		next, err = a.setRiskScore(m)
	default:
		return nil, fail(domain.ErrUnknownAction, "unknown action %q", m.Action)
	}
	if err != nil {
		return nil, err
	}

	a.current = next
	a.applied++
	if a.notify != nil {
		change.Claim = next.Clone()
		a.notify(change)
	}
	return a.Snapshot(), nil
}

func (a *Aggregate) set(m Mutation) (*domain.Claim, error) {
	if m.Claim == nil {
		return nil, fail(domain.ErrMissingArgument, "action %q requires a claim object", ActionSet)
	}
	next := m.Claim.Clone()
	if err := Normalize(next); err != nil {
		return nil, err
	}
	return next, nil
}

func (a *Aggregate) addLineItem(m Mutation) (*domain.Claim, error) {
	if m.LineItem == nil {
		return nil, fail(domain.ErrMissingArgument, "action %q requires a line_item", ActionAddLineItem)
	}
	li := m.LineItem.Clone()
	if err := normalizeLineItem(&li); err != nil {
		return nil, err
	}
	if _, exists := a.current.LineItem(li.LineNumber); exists {
		return nil, fail(domain.ErrDuplicateLine, "line number %d is already in use", li.LineNumber)
	}
	next := a.current.Clone()
	next.LineItems = append(next.LineItems, li)
	return next, nil
}

func (a *Aggregate) removeLineItem(m Mutation) (*domain.Claim, bool, error) {
	if m.LineNumber == nil {
		return nil, false, fail(domain.ErrMissingArgument, "action %q requires a line_number", ActionRemoveLineItem)
	}
	if _, exists := a.current.LineItem(*m.LineNumber); !exists {
		return nil, false, nil
	}
	next := a.current.Clone()
	kept := next.LineItems[:0]
	for _, li := range next.LineItems {
		if li.LineNumber != *m.LineNumber {
			kept = append(kept, li)
		}
	}
	next.LineItems = kept
	return next, true, nil
}

func (a *Aggregate) updateLineItem(m Mutation) (*domain.Claim, error) {
	if m.LineNumber == nil || m.Patch == nil {
		return nil, fail(domain.ErrMissingArgument, "action %q requires a line_number and a line_item", ActionUpdateLineItem)
	}
	n := *m.LineNumber
	if m.Patch.LineNumber != nil && *m.Patch.LineNumber != n {
		return nil, fail(domain.ErrInvalidClaim, "line numbers are stable; cannot renumber line %d to %d", n, *m.Patch.LineNumber)
	}
	next := a.current.Clone()
	for i := range next.LineItems {
		if next.LineItems[i].LineNumber != n {
			continue
		}
		merged := next.LineItems[i]
		m.Patch.apply(&merged)
		if err := normalizeLineItem(&merged); err != nil {
			return nil, err
		}
		next.LineItems[i] = merged
		return next, nil
	}
	return nil, fail(domain.ErrLineNotFound, "line item %d not found", n)
}

func (a *Aggregate) addFinding(m Mutation) (*domain.Claim, error) {
	if m.Finding == nil {
		return nil, fail(domain.ErrMissingArgument, "action %q requires a finding", ActionAddFinding)
	}
	f := m.Finding.Clone()
	if err := normalizeFinding(&f); err != nil {
		return nil, err
	}
	if f.Resolved {
		return nil, fail(domain.ErrInvalidClaim, "finding %q must be added unresolved", f.ID)
	}
	if _, exists := a.current.Finding(f.ID); exists {
		return nil, fail(domain.ErrDuplicateFinding, "finding id %q is already in use", f.ID)
	}
	next := a.current.Clone()
	next.Findings = append(next.Findings, f)
	return next, nil
}

func (a *Aggregate) resolveFinding(m Mutation) (*domain.Claim, error) {
	if m.FindingID == "" {
		return nil, fail(domain.ErrMissingArgument, "action %q requires a finding_id", ActionResolveFinding)
	}
	if strings.TrimSpace(m.Reason) == "" {
		return nil, fail(domain.ErrMissingArgument, "action %q requires a resolved_reason", ActionResolveFinding)
	}
	next := a.current.Clone()
	for i := range next.Findings {
		f := &next.Findings[i]
		if f.ID != m.FindingID {
			continue
		}
		if f.Resolved {
			return nil, fail(domain.ErrAlreadyResolved, "finding %q was already resolved (%s)", f.ID, f.ResolvedReason)
		}
		f.Resolved = true
		f.ResolvedReason = m.Reason
		return next, nil
	}
	return nil, fail(domain.ErrFindingNotFound, "finding %q not found", m.FindingID)
}

func (a *Aggregate) setRiskScore(m Mutation) (*domain.Claim, error) {
	if m.RiskScore == nil {
		return nil, fail(domain.ErrMissingArgument, "action %q requires a risk_score", ActionSetRiskScore)
	}
	if *m.RiskScore < 0 || *m.RiskScore > 100 {
		return nil, fail(domain.ErrInvalidRiskScore, "risk score %d is outside 0-100", *m.RiskScore)
	}
	next := a.current.Clone()
	next.RiskScore = *m.RiskScore
	return next, nil
}

func (p *LineItemPatch) apply(li *domain.LineItem) {
	if p.CPT != nil {
		li.CPT = *p.CPT
	}
	if p.Description != nil {
		li.Description = *p.Description
	}
	if p.Modifiers != nil {
		li.Modifiers = append([]string{}, (*p.Modifiers)...)
	}
	if p.ICD10 != nil {
		li.ICD10 = append([]string{}, (*p.ICD10)...)
	}
	if p.Units != nil {
		li.Units = *p.Units
	}
	if p.CodingRationale != nil {
		li.CodingRationale = *p.CodingRationale
	}
	if p.Sources != nil {
		li.Sources = append([]string{}, (*p.Sources)...)
	}
}

func fail(sentinel *domain.EngineError, format string, args ...any) error {
	return domain.NewEngineError(sentinel.Code, fmt.Sprintf(format, args...))
}
