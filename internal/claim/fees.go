package claim

import "github.com/firstclaim/claim-engine/internal/domain"

// feeSchedule holds national-average Medicare physician fees in whole
// dollars per unit, keyed by CPT code.
var feeSchedule = map[string]int{
	"99213": 92,
	"99214": 131,
	"72070": 31,
	"73562": 33,
	"11102": 107,
	"11103": 63,
	"11200": 78,
	"20610": 72,
	"77067": 150,
}

// Fee returns the per-unit fee for a CPT code, or 0 when unknown.
func Fee(cpt string) int {
	return feeSchedule[cpt]
}

// LineFee is the fee times units for one line.
func LineFee(li domain.LineItem) int {
	return Fee(li.CPT) * li.Units
}

// TotalValue sums the line fees of a claim.
func TotalValue(c *domain.Claim) int {
	if c == nil {
		return 0
	}
	total := 0
	for _, li := range c.LineItems {
		total += LineFee(li)
	}
	return total
}

// RevenueAtRisk sums the fees of lines referenced by at least one unresolved
// finding. A line counts once however many findings point at it.
func RevenueAtRisk(c *domain.Claim) int {
	if c == nil {
		return 0
	}
	flagged := make(map[int]bool)
	for _, f := range c.Findings {
		if !f.Resolved && f.RelatedLineNumber != nil {
			flagged[*f.RelatedLineNumber] = true
		}
	}
	total := 0
	for _, li := range c.LineItems {
		if flagged[li.LineNumber] {
			total += LineFee(li)
		}
	}
	return total
}

// FindingImpact is the fee of the line a finding points at.
func FindingImpact(f domain.Finding, c *domain.Claim) int {
	if f.RelatedLineNumber == nil || c == nil {
		return 0
	}
	li, ok := c.LineItem(*f.RelatedLineNumber)
	if !ok {
		return 0
	}
	return LineFee(li)
}
