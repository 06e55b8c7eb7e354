package models

// Severity labels as they appear on normalized findings.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
	SeverityInfo   = "info"
)

// Verdict is the final categorical risk label for a scan.
const (
	VerdictBenign     = "Benign"
	VerdictUndetected = "Undetected"
	VerdictSuspicious = "Suspicious"
	VerdictMalicious  = "Malicious"
)

// Finding is one normalized analyzer-reported issue. Findings carry no
// identity beyond their fields; they are derived from raw analyzer output
// each time normalization runs.
type Finding struct {
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category,omitempty"`
	Location    string         `json:"location,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Summary describes a normalized scan result at a glance.
type Summary struct {
	Description string   `json:"description"`
	Categories  []string `json:"categories,omitempty"`
}

// Report is the canonical shape every raw analyzer payload is normalized into.
// Recommendations carries analyzer-supplied remediation advice verbatim; its
// shape is analyzer-defined.
type Report struct {
	Summary         Summary   `json:"summary"`
	Findings        []Finding `json:"findings"`
	Recommendations any       `json:"recommendations,omitempty"`
}

// CategoryScore aggregates the weighted score contribution of one category.
type CategoryScore struct {
	Score float64 `json:"score"`
	Count int     `json:"count"`
}

// Breakdown is the output of the risk scoring engine: a 0-100 score, a
// verdict, and the per-category aggregates that produced them.
type Breakdown struct {
	PerCategory map[string]CategoryScore `json:"per_category"`
	TotalScore  float64                  `json:"total_score"`
	MappedScore int                      `json:"mapped_score"`
	Verdict     string                   `json:"verdict"`
	Severity    string                   `json:"severity"`
	Reasons     []string                 `json:"reasons"`
}
