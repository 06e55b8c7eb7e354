// Package report turns raw analyzer output into canonical findings and scores
// them into a 0-100 risk verdict. Both operations are pure functions.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/jarhound/pkg/models"
)

// categoryMapKeys mark a payload as the analyzer's native category-map shape:
// top-level keys mapping to lists of rule matches.
var categoryMapKeys = []string{"cryptography", "authentication", "networking", "permissions"}

// flagSeverities maps the boolean/object flag shape to fixed findings.
var flagFindings = []struct {
	key, severity, title, description string
}{
	{"malware", models.SeverityHigh, "Malware Detected", "The file contains known malware patterns"},
	{"suspicious", models.SeverityMedium, "Suspicious Code", "The file contains suspicious code patterns"},
	{"obfuscated", models.SeverityMedium, "Obfuscated Code", "The file contains obfuscated code which may hide malicious intent"},
}

// Normalize converts an arbitrary raw analyzer payload into the canonical
// report shape. It dispatches on structure in a fixed priority order and never
// fails: input that matches no known shape is wrapped as a single
// informational finding.
func Normalize(raw json.RawMessage) models.Report {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return rawTextReport(string(raw))
	}
	return normalizeValue(v)
}

func normalizeValue(v any) models.Report {
	switch val := v.(type) {
	case string:
		// Text payload: it may be JSON encoded one more time.
		var inner any
		if err := json.Unmarshal([]byte(val), &inner); err != nil {
			return rawTextReport(val)
		}
		return normalizeValue(inner)
	case []any:
		return models.Report{
			Summary:  models.Summary{Description: "Scan completed"},
			Findings: mapEntryList(val),
		}
	case map[string]any:
		return normalizeObject(val)
	default:
		return models.Report{
			Summary:  models.Summary{Description: "Scan completed. See details below."},
			Findings: []models.Finding{},
		}
	}
}

func normalizeObject(obj map[string]any) models.Report {
	if errVal, ok := obj["error"]; ok {
		desc := "Unknown error occurred"
		if s, ok := errVal.(string); ok {
			desc = s
		}
		return models.Report{
			Summary: models.Summary{Description: "Scan encountered an error"},
			Findings: []models.Finding{{
				Severity:    models.SeverityHigh,
				Title:       "Error",
				Description: desc,
			}},
		}
	}

	if results, ok := obj["results"]; ok {
		switch results.(type) {
		case map[string]any, []any:
			return normalizeValue(results)
		}
	}

	if report, ok := canonicalPassThrough(obj); ok {
		return report
	}

	if hasAnyTruthyKey(obj, categoryMapKeys) {
		return categoryMapReport(obj)
	}

	for _, key := range []string{"issues", "alerts", "vulnerabilities"} {
		if list, ok := obj[key].([]any); ok {
			return models.Report{
				Summary:  summaryFrom(obj, "Scan completed"),
				Findings: mapEntryList(list),
			}
		}
	}

	if hasAnyKey(obj, []string{"malware", "suspicious", "obfuscated"}) {
		return flagReport(obj)
	}

	return models.Report{
		Summary: models.Summary{Description: "Scan completed. See details below."},
		Findings: []models.Finding{{
			Severity:    models.SeverityInfo,
			Title:       "Scan Results",
			Description: "Complete scan output",
			Details:     obj,
		}},
	}
}

func rawTextReport(text string) models.Report {
	return models.Report{
		Summary: models.Summary{Description: "Raw scan result"},
		Findings: []models.Finding{{
			Severity:    models.SeverityInfo,
			Title:       "Scan Output",
			Description: "Raw output from scanner",
			Details:     map[string]any{"raw": text},
		}},
	}
}

// canonicalPassThrough accepts payloads that already have both a findings
// list and a summary object.
func canonicalPassThrough(obj map[string]any) (models.Report, bool) {
	list, ok := obj["findings"].([]any)
	if !ok {
		return models.Report{}, false
	}
	summaryObj, ok := obj["summary"].(map[string]any)
	if !ok {
		return models.Report{}, false
	}

	findings := make([]models.Finding, 0, len(list))
	for _, entry := range list {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		f := findingFromEntry(item)
		if cat, ok := item["category"].(string); ok {
			f.Category = cat
		}
		findings = append(findings, f)
	}
	return models.Report{
		Summary:         summaryFromMap(summaryObj, "Scan completed"),
		Findings:        findings,
		Recommendations: obj["recommendations"],
	}, true
}

// categoryMapReport flattens {category: [match, ...], ...} payloads, tagging
// every finding with its category and an explanatory note.
func categoryMapReport(obj map[string]any) models.Report {
	categories := make([]string, 0, len(obj))
	for k := range obj {
		categories = append(categories, k)
	}
	sort.Strings(categories)

	var findings []models.Finding
	for _, category := range categories {
		list, ok := obj[category].([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			item, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			ruleName, _ := item["rule_name"].(string)
			file, _ := item["file"].(string)

			title := ruleName
			if title == "" {
				title = file
			}
			if title == "" {
				title = category + " Finding"
			}
			description, _ := item["description"].(string)
			if description == "" {
				description = category + " related finding"
			}

			details := make(map[string]any, len(item)+1)
			for k, v := range item {
				details[k] = v
			}
			details["explanation"] = explainCategory(category, ruleName)

			findings = append(findings, models.Finding{
				Severity:    severityLabel(item["severity"]),
				Title:       title,
				Description: description,
				Category:    category,
				Location:    file,
				Details:     details,
			})
		}
	}

	return models.Report{
		Summary: models.Summary{
			Description: "JAR File Security Analysis",
			Categories:  categories,
		},
		Findings: findings,
	}
}

func flagReport(obj map[string]any) models.Report {
	var findings []models.Finding
	for _, flag := range flagFindings {
		v, ok := obj[flag.key]
		if !ok || !truthy(v) {
			continue
		}
		findings = append(findings, models.Finding{
			Severity:    flag.severity,
			Title:       flag.title,
			Description: flag.description,
			Details:     detailsFrom(v),
		})
	}

	desc := "Malware scan completed"
	if s, ok := obj["summary"].(string); ok && s != "" {
		desc = s
	}
	return models.Report{
		Summary:  models.Summary{Description: desc},
		Findings: findings,
	}
}

// mapEntryList maps issue/alert/vulnerability entries (or a bare list of
// them) into findings, defaulting severity to info.
func mapEntryList(list []any) []models.Finding {
	findings := make([]models.Finding, 0, len(list))
	for _, entry := range list {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		findings = append(findings, findingFromEntry(item))
	}
	return findings
}

func findingFromEntry(item map[string]any) models.Finding {
	severity := models.SeverityInfo
	switch sv := item["severity"].(type) {
	case string:
		severity = sv
	case float64:
		severity = strconv.Itoa(int(sv))
	}

	title := firstString(item, "title", "name", "type")
	if title == "" {
		title = "Finding"
	}

	return models.Finding{
		Severity:    severity,
		Title:       title,
		Description: firstString(item, "description", "message"),
		Location:    firstString(item, "location", "path"),
		Details:     detailsOrSelf(item),
	}
}

// severityLabel maps a raw severity (numeric scale or string) to a label.
func severityLabel(v any) string {
	switch sv := v.(type) {
	case float64:
		switch {
		case sv >= 4:
			return models.SeverityHigh
		case sv >= 3:
			return models.SeverityMedium
		case sv >= 2:
			return models.SeverityLow
		default:
			return models.SeverityInfo
		}
	case string:
		return strings.ToLower(sv)
	default:
		return models.SeverityInfo
	}
}

func summaryFrom(obj map[string]any, fallback string) models.Summary {
	if m, ok := obj["summary"].(map[string]any); ok {
		return summaryFromMap(m, fallback)
	}
	return models.Summary{Description: fallback}
}

func summaryFromMap(m map[string]any, fallback string) models.Summary {
	s := models.Summary{Description: fallback}
	if d, ok := m["description"].(string); ok && d != "" {
		s.Description = d
	}
	if cats, ok := m["categories"].([]any); ok {
		for _, c := range cats {
			if cs, ok := c.(string); ok {
				s.Categories = append(s.Categories, cs)
			}
		}
	}
	return s
}

func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := item[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// detailsOrSelf prefers an explicit details map, falling back to the whole
// entry so the original payload survives normalization.
func detailsOrSelf(item map[string]any) map[string]any {
	if d, ok := item["details"].(map[string]any); ok {
		return d
	}
	return item
}

func detailsFrom(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": fmt.Sprintf("%v", v)}
}

func truthy(v any) bool {
	switch tv := v.(type) {
	case bool:
		return tv
	case nil:
		return false
	case float64:
		return tv != 0
	case string:
		return tv != ""
	default:
		return true
	}
}

func hasAnyKey(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// hasAnyTruthyKey guards the category-map dispatch: a category key set to
// null, false, zero, or "" does not mark the payload as a category map.
func hasAnyTruthyKey(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if v, ok := obj[k]; ok && truthy(v) {
			return true
		}
	}
	return false
}
