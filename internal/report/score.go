package report

import (
	"math"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/jarhound/pkg/models"
)

// severityWeights maps the 0-5 severity scale to score weight. Severity 5 is
// reserved and contributes nothing.
var severityWeights = map[int]float64{
	0: 0.0,
	1: 2.0,
	2: 5.0,
	3: 20.0,
	4: 100.0,
	5: 0.0,
}

// suspiciousCategories mark a scan Suspicious when they carry a finding of
// severity 3 or higher, regardless of total score.
var suspiciousCategories = map[string]bool{
	"obfuscation": true,
	"network":     true,
	"reflection":  true,
	"urls":        true,
}

// likely false-positive markers in rule names and descriptions.
var fpMarkers = []string{"test", "example", "sample"}

// categoryWeight returns the weight of a category at a given severity.
func categoryWeight(category string, sev int) float64 {
	switch category {
	case "authentication":
		if sev >= 4 {
			return 0.9
		}
		return 0.5
	case "file_paths":
		if sev >= 3 {
			return 0.7
		}
		return 0.2
	case "class_loading":
		if sev >= 3 {
			return 0.7
		}
		return 0.2
	case "obfuscation":
		return 0.2
	case "network":
		return 0.3
	case "reflection":
		if sev >= 3 {
			return 0.1
		}
		return 0.01
	case "urls":
		return 0.2
	default:
		return 0.1
	}
}

// severityValue resolves a finding's severity to the 0-5 integer scale:
// numeric severities are used directly, string labels map high=4, medium=3,
// low=2, anything else 0.
func severityValue(severity string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(severity)); err == nil {
		if n < 0 {
			return 0
		}
		if n > 5 {
			return 5
		}
		return n
	}
	switch strings.ToLower(severity) {
	case models.SeverityHigh:
		return 4
	case models.SeverityMedium:
		return 3
	case models.SeverityLow:
		return 2
	default:
		return 0
	}
}

func likelyFalsePositive(f models.Finding) bool {
	title := strings.ToLower(f.Title)
	desc := strings.ToLower(f.Description)
	for _, marker := range fpMarkers {
		if strings.Contains(title, marker) || strings.Contains(desc, marker) {
			return true
		}
	}
	return false
}

// ScoreFindings computes the risk breakdown for a canonical finding list.
// It is deterministic and side-effect free: identical finding lists always
// produce identical breakdowns.
func ScoreFindings(findings []models.Finding) models.Breakdown {
	perCategory := make(map[string]models.CategoryScore)

	if len(findings) == 0 {
		return models.Breakdown{
			PerCategory: perCategory,
			TotalScore:  0,
			MappedScore: 0,
			Verdict:     models.VerdictBenign,
			Severity:    "None",
			Reasons:     []string{"No findings detected"},
		}
	}

	var (
		score         float64
		suspicious    bool
		authHigh      int
		filepathHigh  int
		classloadHigh int
	)

	for _, f := range findings {
		category := f.Category
		if category == "" {
			category = "general"
		}
		sev := severityValue(f.Severity)

		catWeight := categoryWeight(category, sev)
		sevWeight := severityWeights[sev]
		fpWeight := 1.0
		if likelyFalsePositive(f) {
			fpWeight = 0.1
		}

		findingScore := catWeight * sevWeight * fpWeight
		score += findingScore

		agg := perCategory[category]
		agg.Score += findingScore
		agg.Count++
		perCategory[category] = agg

		if suspiciousCategories[category] && sev >= 3 {
			suspicious = true
		}
		if category == "authentication" && sev >= 4 {
			authHigh++
		}
		if category == "file_paths" && sev >= 3 {
			filepathHigh++
		}
		if category == "class_loading" && sev >= 3 {
			classloadHigh++
		}
	}

	n := len(findings)
	// Many low-grade findings should not add up to a malicious verdict:
	// dampen totals dominated by volume rather than severity.
	if n > 10 {
		score *= 10.0 / float64(n)
	}

	var reasons []string
	critical := false
	if (authHigh >= 2 && filepathHigh >= 1) ||
		(authHigh >= 1 && filepathHigh >= 2) ||
		(authHigh >= 1 && classloadHigh >= 1) ||
		(filepathHigh >= 1 && classloadHigh >= 1) {
		score = math.Max(score, 90.0)
		critical = true
		reasons = append(reasons, "Multiple high-severity authentication/file_paths/class_loading findings")
	}

	mapped := int(math.Round(score))
	var verdict, severity string
	switch {
	case critical || score >= 90.0:
		verdict = models.VerdictMalicious
		severity = "High"
		mapped = clamp(mapped, 90, 100)
		if len(reasons) == 0 {
			reasons = append(reasons, "Critical category with high severity")
		}
	case suspicious || score >= 60.0:
		verdict = models.VerdictSuspicious
		severity = "Medium"
		mapped = clamp(mapped, 60, 89)
		if len(reasons) == 0 {
			reasons = append(reasons, "Suspicious category with medium/high severity")
		}
	case score >= 20.0:
		verdict = models.VerdictUndetected
		severity = "Low"
		mapped = clamp(mapped, 20, 59)
		if len(reasons) == 0 {
			reasons = append(reasons, "Low score, minor issues")
		}
	default:
		verdict = models.VerdictBenign
		severity = "None"
		if mapped > 19 {
			mapped = 19
		}
		if len(reasons) == 0 {
			reasons = append(reasons, "Score too low for concern")
		}
	}

	return models.Breakdown{
		PerCategory: perCategory,
		TotalScore:  score,
		MappedScore: mapped,
		Verdict:     verdict,
		Severity:    severity,
		Reasons:     reasons,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
