package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstclaim/claim-engine/internal/domain"
)

func TestAnalysisPrompt(t *testing.T) {
	age := 62
	tests := []struct {
		name    string
		hints   PatientHints
		patient string
	}{
		{"no_hints", PatientHints{}, "\nExtract patient demographics (sex, age) from the clinical notes if mentioned."},
		{"sex_only", PatientHints{Sex: domain.SexFemale}, "\nPatient: F"},
		{"age_only", PatientHints{Age: &age}, "\nPatient: age 62"},
		{"both", PatientHints{Sex: domain.SexMale, Age: &age}, "\nPatient: M, age 62"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := "Analyze these clinical notes and build a complete medical claim.\n" +
				tt.patient +
				"\n\nClinical Notes:\nKnee pain." +
				"\n\nFollow your 5-stage pipeline. Use your tools to search codes, build the claim, and validate it."
			assert.Equal(t, want, analysisPrompt("Knee pain.", tt.hints))
		})
	}
}

func TestChatPrompt(t *testing.T) {
	got, err := chatPrompt("Why is risk high?", nil, "Knee pain.")
	require.NoError(t, err)
	assert.Equal(t, "The user says: \"Why is risk high?\"\n\nNo claim has been built yet.\n\nClinical notes:\nKnee pain.", got)

	c := &domain.Claim{ClaimID: "CLM-9", RiskScore: 40}
	got, err = chatPrompt("Why?", c, "Knee pain.")
	require.NoError(t, err)
	assert.Contains(t, got, "\n\nCurrent claim state:\n{\n  \"claimId\": \"CLM-9\",")
	assert.Contains(t, got, "\"riskScore\": 40")
}
