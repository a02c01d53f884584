package claim

import (
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// Normalize validates c in place and fills defaults: nil slices become
// empty, units of zero become one, codes are upper-cased and trimmed.
func Normalize(c *domain.Claim) error {
	if c.Patient.Sex != "" {
		c.Patient.Sex = domain.Sex(strings.ToUpper(string(c.Patient.Sex)))
		if !c.Patient.Sex.Valid() {
			return fail(domain.ErrInvalidClaim, "patient sex %q must be M or F", c.Patient.Sex)
		}
	}
	if c.Patient.Age != nil && *c.Patient.Age < 0 {
		return fail(domain.ErrInvalidClaim, "patient age %d is negative", *c.Patient.Age)
	}
	if c.RiskScore < 0 || c.RiskScore > 100 {
		return fail(domain.ErrInvalidRiskScore, "risk score %d is outside 0-100", c.RiskScore)
	}
	if c.LineItems == nil {
		c.LineItems = []domain.LineItem{}
	}
	if c.Findings == nil {
		c.Findings = []domain.Finding{}
	}

	lines := make(map[int]struct{}, len(c.LineItems))
	for i := range c.LineItems {
		li := &c.LineItems[i]
		if err := normalizeLineItem(li); err != nil {
			return err
		}
		if _, dup := lines[li.LineNumber]; dup {
			return fail(domain.ErrDuplicateLine, "line number %d appears more than once", li.LineNumber)
		}
		lines[li.LineNumber] = struct{}{}
	}

	ids := make(map[string]struct{}, len(c.Findings))
	for i := range c.Findings {
		f := &c.Findings[i]
		if err := normalizeFinding(f); err != nil {
			return err
		}
		if _, dup := ids[f.ID]; dup {
			return fail(domain.ErrDuplicateFinding, "finding id %q appears more than once", f.ID)
		}
		ids[f.ID] = struct{}{}
	}
	return nil
}

func normalizeLineItem(li *domain.LineItem) error {
	if li.LineNumber <= 0 {
		return fail(domain.ErrInvalidClaim, "line number must be positive, got %d", li.LineNumber)
	}
	li.CPT = strings.TrimSpace(li.CPT)
	if li.CPT == "" {
		return fail(domain.ErrInvalidClaim, "line %d has no procedure code", li.LineNumber)
	}
	if li.Units < 0 {
		return fail(domain.ErrInvalidClaim, "line %d has negative units", li.LineNumber)
	}
	if li.Units == 0 {
		li.Units = 1
	}
	li.ICD10 = upperAll(li.ICD10)
	if len(li.ICD10) == 0 {
		return fail(domain.ErrInvalidClaim, "line %d needs at least one diagnosis code", li.LineNumber)
	}
	li.Modifiers = upperAll(li.Modifiers)
	if li.Sources == nil {
		li.Sources = []string{}
	}
	return nil
}

func normalizeFinding(f *domain.Finding) error {
	f.ID = strings.TrimSpace(f.ID)
	if f.ID == "" {
		return fail(domain.ErrInvalidClaim, "finding has no id")
	}
	if !f.Severity.Valid() {
		return fail(domain.ErrInvalidClaim, "finding %q has unknown severity %q", f.ID, f.Severity)
	}
	if strings.TrimSpace(f.Title) == "" {
		return fail(domain.ErrInvalidClaim, "finding %q has no title", f.ID)
	}
	if f.RelatedLineNumber != nil && *f.RelatedLineNumber <= 0 {
		return fail(domain.ErrInvalidClaim, "finding %q references line %d", f.ID, *f.RelatedLineNumber)
	}
	return nil
}

func upperAll(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
