package domain

// Sex is the administrative sex used for demographic code checks.
type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
)

// Valid reports whether s is one of the recognised values.
func (s Sex) Valid() bool {
	return s == SexMale || s == SexFemale
}

// PatientDemographics is the subset of patient data a claim carries.
type PatientDemographics struct {
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Sex         Sex    `json:"sex"`
	Age         *int   `json:"age,omitempty"`
}

// LineItem is one billable unit on a claim.
type LineItem struct {
	LineNumber      int      `json:"lineNumber"`
	CPT             string   `json:"cpt"`
	Description     string   `json:"description"`
	Modifiers       []string `json:"modifiers"`
	ICD10           []string `json:"icd10"`
	Units           int      `json:"units"`
	CodingRationale string   `json:"codingRationale"`
	Sources         []string `json:"sources"`
}

// FindingSeverity classifies a finding.
type FindingSeverity string

const (
	SeverityCritical    FindingSeverity = "critical"
	SeverityWarning     FindingSeverity = "warning"
	SeverityInfo        FindingSeverity = "info"
	SeverityOpportunity FindingSeverity = "improvement-opportunity"
)

// Valid reports whether s is a known severity.
func (s FindingSeverity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo, SeverityOpportunity:
		return true
	}
	return false
}

// Finding is a compliance issue or improvement opportunity attached to a claim.
type Finding struct {
	ID                string          `json:"id"`
	Severity          FindingSeverity `json:"severity"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Recommendation    string          `json:"recommendation,omitempty"`
	SourceURL         string          `json:"sourceUrl,omitempty"`
	RelatedLineNumber *int            `json:"relatedLineNumber,omitempty"`
	Resolved          bool            `json:"resolved"`
	ResolvedReason    string          `json:"resolvedReason,omitempty"`
}

// Claim is the structured billing document under construction.
type Claim struct {
	ClaimID       string              `json:"claimId"`
	DateOfService string              `json:"dateOfService"`
	Patient       PatientDemographics `json:"patient"`
	LineItems     []LineItem          `json:"lineItems"`
	RiskScore     int                 `json:"riskScore"`
	Findings      []Finding           `json:"findings"`
}

// Clone returns a deep copy of the claim. Snapshots handed outside the
// aggregate are always clones.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	out := *c
	if c.Patient.Age != nil {
		age := *c.Patient.Age
		out.Patient.Age = &age
	}
	out.LineItems = make([]LineItem, len(c.LineItems))
	for i, li := range c.LineItems {
		out.LineItems[i] = li.Clone()
	}
	out.Findings = make([]Finding, len(c.Findings))
	for i, f := range c.Findings {
		out.Findings[i] = f.Clone()
	}
	return &out
}

// LineItem returns the line item with the given number.
func (c *Claim) LineItem(number int) (LineItem, bool) {
	for _, li := range c.LineItems {
		if li.LineNumber == number {
			return li, true
		}
	}
	return LineItem{}, false
}

// Finding returns the finding with the given id.
func (c *Claim) Finding(id string) (Finding, bool) {
	for _, f := range c.Findings {
		if f.ID == id {
			return f, true
		}
	}
	return Finding{}, false
}

// OpenFindings returns the unresolved findings in claim order.
func (c *Claim) OpenFindings() []Finding {
	var open []Finding
	for _, f := range c.Findings {
		if !f.Resolved {
			open = append(open, f)
		}
	}
	return open
}

// Clone returns a copy of the line item that shares no slices with li.
func (li LineItem) Clone() LineItem {
	li.Modifiers = append([]string{}, li.Modifiers...)
	li.ICD10 = append([]string{}, li.ICD10...)
	li.Sources = append([]string{}, li.Sources...)
	return li
}

// Clone returns a copy of the finding.
func (f Finding) Clone() Finding {
	if f.RelatedLineNumber != nil {
		n := *f.RelatedLineNumber
		f.RelatedLineNumber = &n
	}
	return f
}

// CodeType distinguishes diagnosis and procedure codes.
type CodeType string

const (
	CodeTypeICD10 CodeType = "icd10"
	CodeTypeCPT   CodeType = "cpt"
)

// Alternative is a code considered but not chosen for a highlight.
type Alternative struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Highlight maps a verbatim span of the source documentation to a code.
type Highlight struct {
	ID           string        `json:"id"`
	OriginalText string        `json:"original_text"`
	Code         string        `json:"code"`
	Type         CodeType      `json:"type"`
	Confidence   float64       `json:"confidence"`
	Notes        string        `json:"notes"`
	Alternatives []Alternative `json:"alternatives"`
}

// ReferenceCode is one entry of the ICD-10-CM reference table.
type ReferenceCode struct {
	Code      string `json:"code"`
	CodeDot   string `json:"codeDot"`
	ShortDesc string `json:"shortDesc"`
	LongDesc  string `json:"longDesc"`
	Billable  bool   `json:"billable"`
}
