package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// DefaultAnalysisSystemPrompt instructs the agent for a first analysis turn.
const DefaultAnalysisSystemPrompt = `You are a medical billing specialist building a claim from clinical notes.
Work through five stages in order:
1. Extract diagnoses, procedures and patient demographics from the notes.
2. Assign ICD-10-CM codes with search_icd10 and lookup_icd10. Prefer billable codes.
3. Build the claim with update_claim action "set", one line item per billable procedure.
   The claim object has: claimId, dateOfService (YYYY-MM-DD), patient {sex, age, dateOfBirth},
   lineItems, riskScore, findings. Each line item has: lineNumber, cpt, description,
   modifiers, icd10 (most specific first), units, codingRationale, sources.
   Every line item needs at least one ICD-10 code and a short coding rationale.
4. Validate: run check_age_sex for codes with demographic limits, record problems with
   update_claim "add_finding" (a finding has: id, severity critical|warning|info|
   improvement-opportunity, title, description, recommendation, sourceUrl,
   relatedLineNumber), and set a 0-100 denial risk score with "set_risk_score".
5. Map every code to the exact text that supports it with add_highlights, then call
   suggest_next_actions with 2-4 short follow-ups.
Only use codes returned by the tools. Keep narration brief.`

// DefaultChatSystemPrompt instructs the agent for follow-up chat turns.
const DefaultChatSystemPrompt = `You are a medical billing specialist helping a user refine an existing claim.
Answer the question directly and briefly. When the user asks for a change, make it with
update_claim and confirm what changed. Resolve findings only with a reason. Finish with
two to four short follow-up questions as a bulleted list.`

func analysisPrompt(notes string, p PatientHints) string {
	var parts []string
	if p.Sex != "" {
		parts = append(parts, string(p.Sex))
	}
	if p.Age != nil {
		parts = append(parts, fmt.Sprintf("age %d", *p.Age))
	}
	patientLine := "\nExtract patient demographics (sex, age) from the clinical notes if mentioned."
	if len(parts) > 0 {
		patientLine = "\nPatient: " + strings.Join(parts, ", ")
	}

	var b strings.Builder
	b.WriteString("Analyze these clinical notes and build a complete medical claim.\n")
	b.WriteString(patientLine)
	b.WriteString("\n\nClinical Notes:\n")
	b.WriteString(notes)
	b.WriteString("\n\nFollow your 5-stage pipeline. Use your tools to search codes, build the claim, and validate it.")
	return b.String()
}

func chatPrompt(message string, c *domain.Claim, notes string) (string, error) {
	var b strings.Builder
	b.WriteString(`The user says: "` + message + `"`)
	if c != nil {
		js, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal claim context: %w", err)
		}
		b.WriteString("\n\nCurrent claim state:\n")
		b.Write(js)
	} else {
		b.WriteString("\n\nNo claim has been built yet.")
	}
	b.WriteString("\n\nClinical notes:\n")
	b.WriteString(notes)
	return b.String(), nil
}
