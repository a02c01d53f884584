package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/firstclaim/claim-engine/internal/claim"
	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/refdata"
	"github.com/firstclaim/claim-engine/internal/store"
)

// Tool names.
const (
	SearchICD10        = "search_icd10"
	LookupICD10        = "lookup_icd10"
	CheckAgeSex        = "check_age_sex"
	UpdateClaim        = "update_claim"
	AddHighlights      = "add_highlights"
	SuggestNextActions = "suggest_next_actions"
)

const (
	searchSchema = `{"type":"object","properties":{
"query":{"type":"string","description":"Search query: a diagnosis, symptom, or condition name"},
"billable_only":{"type":"boolean","description":"If true, only return billable codes (default: true)"}},
"required":["query"],"additionalProperties":false}`

	lookupSchema = `{"type":"object","properties":{
"code":{"type":"string","description":"ICD-10-CM code, with or without dot"}},
"required":["code"],"additionalProperties":false}`

	ageSexSchema = `{"type":"object","properties":{
"code":{"type":"string","description":"ICD-10 or CPT code to validate"},
"code_type":{"type":"string","enum":["icd10","cpt"],"description":"Whether this is an ICD-10 or CPT code"},
"patient_age":{"type":"number","description":"Patient age in years"},
"patient_sex":{"type":"string","enum":["M","F"],"description":"Patient sex"}},
"required":["code","code_type","patient_age","patient_sex"],"additionalProperties":false}`

	lineItemProps = `"lineNumber":{"type":"integer","minimum":1,"description":"Unique, stable line number"},
"cpt":{"type":"string","description":"CPT procedure code"},
"description":{"type":"string"},
"modifiers":{"type":"array","items":{"type":"string"}},
"icd10":{"type":"array","items":{"type":"string"},"description":"Diagnosis codes, most specific first"},
"units":{"type":"integer","minimum":1},
"codingRationale":{"type":"string","description":"Why these codes were chosen"},
"sources":{"type":"array","items":{"type":"string"},"description":"Citation URLs"}`

	lineItemSchema = `{"type":"object","properties":{` + lineItemProps + `},
"required":["lineNumber","cpt","icd10"],"additionalProperties":false}`

	findingSchema = `{"type":"object","properties":{
"id":{"type":"string","description":"Unique finding id, e.g. 'f1'"},
"severity":{"type":"string","enum":["critical","warning","info","improvement-opportunity"]},
"title":{"type":"string"},
"description":{"type":"string"},
"recommendation":{"type":"string"},
"sourceUrl":{"type":"string"},
"relatedLineNumber":{"type":"integer","description":"Line number the finding refers to"},
"resolved":{"type":"boolean","description":"Must be false for add_finding"},
"resolvedReason":{"type":"string"}},
"required":["id","severity","title","description"],"additionalProperties":false}`

	claimSchema = `{"type":"object","properties":{
"claimId":{"type":"string"},
"dateOfService":{"type":"string","description":"YYYY-MM-DD"},
"patient":{"type":"object","properties":{
"sex":{"type":"string","enum":["M","F"]},
"age":{"type":"integer","minimum":0},
"dateOfBirth":{"type":"string","description":"YYYY-MM-DD"}},
"additionalProperties":false},
"lineItems":{"type":"array","items":` + lineItemSchema + `},
"riskScore":{"type":"integer","minimum":0,"maximum":100},
"findings":{"type":"array","items":` + findingSchema + `}},
"required":["claimId","dateOfService","lineItems"],"additionalProperties":false,
"description":"Full claim object (for 'set')"}`

	updateClaimSchema = `{"type":"object","properties":{
"action":{"type":"string","enum":["set","add_line_item","remove_line_item","update_line_item","add_finding","resolve_finding","set_risk_score"],"description":"The mutation action"},
"claim":` + claimSchema + `,
"line_item":{"type":"object","properties":{` + lineItemProps + `},"additionalProperties":false,
"description":"Line item (full for add_line_item, partial for update_line_item; lineNumber cannot change)"},
"line_number":{"type":"integer","description":"Line number to remove or update"},
"finding":` + findingSchema + `,
"finding_id":{"type":"string","description":"Finding ID (for 'resolve_finding')"},
"resolved_reason":{"type":"string","description":"Why the finding was resolved"},
"risk_score":{"type":"integer","minimum":0,"maximum":100,"description":"New risk score 0-100 (for 'set_risk_score')"}},
"required":["action"],"additionalProperties":false}`

	highlightsSchema = `{"type":"object","properties":{
"highlights":{"type":"array","description":"Array of code-to-text mappings","items":{"type":"object","properties":{
"id":{"type":"string","description":"Unique ID, e.g. 'h1', 'h2'"},
"original_text":{"type":"string","description":"Exact verbatim substring from the clinical notes"},
"code":{"type":"string","description":"The extracted ICD-10 or CPT code"},
"type":{"type":"string","enum":["icd10","cpt"]},
"confidence":{"type":"number","minimum":0,"maximum":1},
"notes":{"type":"string","description":"1-2 sentence rationale for this code"},
"alternatives":{"type":"array","items":{"type":"object","properties":{"code":{"type":"string"},"description":{"type":"string"}},"required":["code","description"]}}},
"required":["id","original_text","code","type","confidence","notes","alternatives"]}}},
"required":["highlights"],"additionalProperties":false}`

	suggestSchema = `{"type":"object","properties":{
"actions":{"type":"array","minItems":2,"maxItems":4,"items":{"type":"string"},"description":"2-4 short imperative action phrases"}},
"required":["actions"],"additionalProperties":false}`
)

// NewCatalogue registers the six claim-building tools backed by lookup.
// searchLimit caps search results; zero uses the reference default.
func NewCatalogue(lookup refdata.Lookup, searchLimit int) *Registry {
	c := &catalogue{lookup: lookup, searchLimit: searchLimit}
	r := NewRegistry()
	r.MustRegister(&Tool{
		Name:        SearchICD10,
		Description: "Search ICD-10-CM codes by keyword or phrase. Returns up to 10 matching codes with descriptions and billable status. Use this to find diagnosis codes from clinical documentation.",
		Schema:      json.RawMessage(searchSchema),
		ReadOnly:    true,
		Execute:     c.search,
	})
	r.MustRegister(&Tool{
		Name:        LookupICD10,
		Description: "Look up a specific ICD-10-CM code, with or without a dot (e.g. 'M54.31' or 'M5431'). Returns the full description, billable status, and dotted form.",
		Schema:      json.RawMessage(lookupSchema),
		ReadOnly:    true,
		Execute:     c.lookupCode,
	})
	r.MustRegister(&Tool{
		Name:        CheckAgeSex,
		Description: "Validate an ICD-10 or CPT code against patient demographics. Checks for age/sex mismatches such as pregnancy codes for male patients or perinatal codes for adults.",
		Schema:      json.RawMessage(ageSexSchema),
		ReadOnly:    true,
		Execute:     c.checkAgeSex,
	})
	r.MustRegister(&Tool{
		Name: UpdateClaim,
		Description: `Update the current claim. This is the ONLY way to modify the claim. You can:
- Set the full claim object (use "set" action)
- Add, update or remove line items
- Add or resolve findings
- Update the risk score
Line numbers and finding ids are unique; a resolved finding stays on the claim.`,
		Schema:  json.RawMessage(updateClaimSchema),
		Execute: c.updateClaim,
	})
	r.MustRegister(&Tool{
		Name:        AddHighlights,
		Description: "Map each extracted code back to the exact text span it came from in the clinical notes. Call this after coding and before building the claim.",
		Schema:      json.RawMessage(highlightsSchema),
		Execute:     c.addHighlights,
	})
	r.MustRegister(&Tool{
		Name:        SuggestNextActions,
		Description: "Suggest 2-4 next actions the user might want to take. Call this as the final tool in every response. Each action is a short imperative phrase, never a question.",
		Schema:      json.RawMessage(suggestSchema),
		Execute:     c.suggest,
	})
	return r
}

type catalogue struct {
	lookup      refdata.Lookup
	searchLimit int
}

type searchArgs struct {
	Query        string `json:"query"`
	BillableOnly *bool  `json:"billable_only"`
}

func (c *catalogue) search(ctx context.Context, _ *TurnState, input json.RawMessage) (Result, error) {
	var args searchArgs
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return Result{}, domain.NewEngineError(domain.ErrMissingArgument.Code, "query is required")
	}
	billableOnly := args.BillableOnly == nil || *args.BillableOnly

	codes, err := c.lookup.Search(ctx, args.Query, billableOnly, c.searchLimit)
	if err != nil {
		return Result{}, err
	}
	if len(codes) == 0 {
		msg := fmt.Sprintf("No ICD-10 codes found for %q", args.Query)
		return Result{Text: msg, Summary: msg}, nil
	}

	lines := make([]string, len(codes))
	dotted := make([]string, len(codes))
	for i, rc := range codes {
		lines[i] = fmt.Sprintf("%s - %s [billable: %t]", rc.CodeDot, rc.LongDesc, rc.Billable)
		dotted[i] = rc.CodeDot
	}
	return Result{
		Text:    strings.Join(lines, "\n"),
		Summary: fmt.Sprintf("%d %s: %s", len(codes), plural(len(codes), "result"), strings.Join(dotted, ", ")),
	}, nil
}

type lookupArgs struct {
	Code string `json:"code"`
}

func (c *catalogue) lookupCode(ctx context.Context, _ *TurnState, input json.RawMessage) (Result, error) {
	var args lookupArgs
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	rc, err := c.lookup.Get(ctx, args.Code)
	if err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			msg := fmt.Sprintf("Code %q not found in ICD-10-CM database.", args.Code)
			return Result{Text: msg, Summary: msg}, nil
		}
		return Result{}, err
	}
	return Result{
		Text:    fmt.Sprintf("%s - %s\nShort: %s\nBillable: %t", rc.CodeDot, rc.LongDesc, rc.ShortDesc, rc.Billable),
		Summary: fmt.Sprintf("%s - %s [billable: %t]", rc.CodeDot, rc.ShortDesc, rc.Billable),
	}, nil
}

type ageSexArgs struct {
	Code       string          `json:"code"`
	CodeType   domain.CodeType `json:"code_type"`
	PatientAge *float64        `json:"patient_age"`
	PatientSex domain.Sex      `json:"patient_sex"`
}

func (c *catalogue) checkAgeSex(_ context.Context, _ *TurnState, input json.RawMessage) (Result, error) {
	var args ageSexArgs
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	if args.CodeType != domain.CodeTypeICD10 && args.CodeType != domain.CodeTypeCPT {
		return Result{}, domain.NewEngineError(domain.ErrInvalidToolArgs.Code, fmt.Sprintf("code_type must be icd10 or cpt, got %q", args.CodeType))
	}
	if !args.PatientSex.Valid() {
		return Result{}, domain.NewEngineError(domain.ErrInvalidToolArgs.Code, fmt.Sprintf("patient_sex must be M or F, got %q", args.PatientSex))
	}
	if args.PatientAge == nil {
		return Result{}, domain.NewEngineError(domain.ErrMissingArgument.Code, "patient_age is required")
	}

	age := strconv.FormatFloat(*args.PatientAge, 'f', -1, 64)
	issues := ageSexIssues(store.NormalizeCode(args.Code), args.CodeType, *args.PatientAge, args.PatientSex)
	if len(issues) == 0 {
		msg := fmt.Sprintf("No age/sex issues found for %s (%s, age %s).", args.Code, args.PatientSex, age)
		return Result{Text: msg, Summary: msg}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ISSUES for %s (%s, age %s):", args.Code, args.PatientSex, age)
	for _, issue := range issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return Result{
		Text:    b.String(),
		Summary: fmt.Sprintf("%d %s for %s", len(issues), plural(len(issues), "issue"), args.Code),
	}, nil
}

type updateClaimArgs struct {
	Action         claim.Action    `json:"action"`
	Claim          *domain.Claim   `json:"claim"`
	LineItem       json.RawMessage `json:"line_item"`
	LineNumber     *int            `json:"line_number"`
	Finding        *domain.Finding `json:"finding"`
	FindingID      string          `json:"finding_id"`
	ResolvedReason string          `json:"resolved_reason"`
	RiskScore      *int            `json:"risk_score"`
}

func (c *catalogue) updateClaim(_ context.Context, st *TurnState, input json.RawMessage) (Result, error) {
	var args updateClaimArgs
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	m := claim.Mutation{
		Action:     args.Action,
		Claim:      args.Claim,
		LineNumber: args.LineNumber,
		Finding:    args.Finding,
		FindingID:  args.FindingID,
		Reason:     args.ResolvedReason,
		RiskScore:  args.RiskScore,
	}
	if len(args.LineItem) > 0 && string(args.LineItem) != "null" {
		switch args.Action {
		case claim.ActionAddLineItem:
			var li domain.LineItem
			if err := decodeArgs(args.LineItem, &li); err != nil {
				return Result{}, err
			}
			m.LineItem = &li
		case claim.ActionUpdateLineItem:
			var p claim.LineItemPatch
			if err := decodeArgs(args.LineItem, &p); err != nil {
				return Result{}, err
			}
			m.Patch = &p
		}
	}

	next, err := st.Claim.Apply(m)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:    claim.ResultText(m.Action, next),
		Summary: claim.ResultSummary(m.Action, next),
	}, nil
}

type highlightsArgs struct {
	Highlights []domain.Highlight `json:"highlights"`
}

func (c *catalogue) addHighlights(_ context.Context, st *TurnState, input json.RawMessage) (Result, error) {
	var args highlightsArgs
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	for _, h := range args.Highlights {
		if h.Type != domain.CodeTypeICD10 && h.Type != domain.CodeTypeCPT {
			return Result{}, domain.NewEngineError(domain.ErrInvalidToolArgs.Code, fmt.Sprintf("highlight %q has invalid type %q", h.ID, h.Type))
		}
		if h.Confidence < 0 || h.Confidence > 1 {
			return Result{}, domain.NewEngineError(domain.ErrInvalidToolArgs.Code, fmt.Sprintf("highlight %q confidence must be within 0-1", h.ID))
		}
	}
	st.SetHighlights(args.Highlights)
	msg := fmt.Sprintf("Stored %d highlight mappings.", len(args.Highlights))
	return Result{Text: msg, Summary: msg}, nil
}

type suggestArgs struct {
	Actions []string `json:"actions"`
}

func (c *catalogue) suggest(_ context.Context, st *TurnState, input json.RawMessage) (Result, error) {
	var args suggestArgs
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	actions := make([]string, 0, len(args.Actions))
	for _, a := range args.Actions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	if len(actions) < 2 || len(actions) > 4 {
		return Result{}, domain.NewEngineError(domain.ErrInvalidToolArgs.Code, fmt.Sprintf("expected 2-4 actions, got %d", len(actions)))
	}
	st.SetSuggestions(actions)
	msg := fmt.Sprintf("Suggested %d next actions.", len(actions))
	return Result{Text: msg, Summary: msg}, nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
