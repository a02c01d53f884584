package tools

import (
	"slices"
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
)

var screeningMammography = []string{"77067", "77066", "77065"}

// ageSexIssues lists demographic conflicts for one code. code must already
// be normalised (no dot, upper case).
func ageSexIssues(code string, codeType domain.CodeType, age float64, sex domain.Sex) []string {
	var issues []string
	hasPrefix := func(prefixes ...string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(code, p) {
				return true
			}
		}
		return false
	}

	if codeType == domain.CodeTypeICD10 && sex == domain.SexMale {
		if hasPrefix("O") {
			issues = append(issues, "Pregnancy/childbirth codes (O-codes) are designated for female patients.")
		}
		if hasPrefix("N70", "N71", "N72", "N73") {
			issues = append(issues, "Female pelvic inflammatory disease codes are designated for female patients.")
		}
		if code == "Z1231" {
			issues = append(issues, "Z12.31 (encounter for screening mammogram) is designated for female patients.")
		}
	}

	if codeType == domain.CodeTypeICD10 && sex == domain.SexFemale {
		if hasPrefix("N40", "N41", "N42") {
			issues = append(issues, "Prostate-related codes are designated for male patients.")
		}
	}

	if codeType == domain.CodeTypeCPT && sex == domain.SexMale && slices.Contains(screeningMammography, code) {
		issues = append(issues, "Screening mammography CPT codes are designated for female patients. Will almost certainly be denied for a male patient.")
	}

	if age < 18 && codeType == domain.CodeTypeCPT && slices.Contains(screeningMammography, code) {
		issues = append(issues, "Screening mammography is not typically indicated for patients under 18.")
	}

	if age >= 18 && codeType == domain.CodeTypeICD10 && hasPrefix("P") {
		issues = append(issues, "Perinatal condition codes (P-codes) are typically for newborns/infants.")
	}
	return issues
}
