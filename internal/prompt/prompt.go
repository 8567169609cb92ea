// Package prompt renders every model prompt deskwatch sends: the per-screenshot
// analysis prompt and the two learning prompts.
//
// Wording may change freely. The JSON keys each prompt asks for may not: the
// extractor and normalizer depend on them.
package prompt

import (
	"fmt"
	"strings"

	"deskwatch/internal/analysis"
	"deskwatch/internal/rules"
	"deskwatch/internal/types"
)

// AnomalyCategories is the fixed taxonomy the analysis prompt asks the model to consider.
var AnomalyCategories = []string{
	"Unusual Task Activity",
	"Unusual Interactions",
	"Irregular Pauses",
	"Atypical Interaction Patterns",
	"General Behavioral Outliers",
}

// Build renders the analysis prompt for one screenshot.
func Build(merged rules.Merged, shot types.Screenshot, role string) string {
	var sb strings.Builder

	sb.WriteString("You are an anomaly detection system analyzing desktop screenshots for productivity monitoring.\n\n")
	fmt.Fprintf(&sb, "JOB ROLE: %s\n", role)

	sb.WriteString("PROHIBITED:\n")
	writeItems(&sb, merged.Items(rules.KindProhibited))
	if len(merged.Legacy) > 0 {
		sb.WriteString("PROHIBITED ACTIVITIES (examples of anomalous behavior):\n")
		sb.WriteString(FormatLegacy(merged.Legacy))
		sb.WriteString("\n")
	}
	sb.WriteString("ALLOWED:\n")
	writeItems(&sb, merged.Items(rules.KindAllowed))
	sb.WriteString("BASELINE EXPECTATIONS: Normal behavior includes role-specific applications and workflows\n\n")

	sb.WriteString("SCREENSHOT DATA:\n")
	fmt.Fprintf(&sb, "- Filename: %s\n", shot.Filename)
	// OCR text goes in verbatim, quoted but never escaped.
	sb.WriteString("- Extracted text: \"" + shot.OCRText + "\"\n\n")

	sb.WriteString("ANALYSIS TASK:\n")
	fmt.Fprintf(&sb, "1. Detect deviations from %s baseline behavior\n", role)
	sb.WriteString("2. Focus on these anomaly types:\n")
	for _, c := range AnomalyCategories {
		fmt.Fprintf(&sb, "   - %s\n", c)
	}
	sb.WriteString("3. For each detected anomaly:\n")
	sb.WriteString("   - Specify the anomaly type\n")
	sb.WriteString("   - Provide concise explanation (include evidence)\n")
	sb.WriteString("   - Assign confidence (0.0-1.0)\n\n")

	sb.WriteString("OUTPUT REQUIREMENTS:\n")
	sb.WriteString("Return valid JSON with this structure:\n")
	sb.WriteString(outputSchema(role))
	return sb.String()
}

func writeItems(sb *strings.Builder, items []string) {
	wrote := false
	for _, item := range items {
		if item == "" {
			continue
		}
		fmt.Fprintf(sb, "- %s\n", item)
		wrote = true
	}
	if !wrote {
		sb.WriteString("- (none)\n")
	}
}

func outputSchema(role string) string {
	return fmt.Sprintf(`{
    %q: true/false,
    %q: %q,
    %q: [
        {
            "type": "anomaly category",
            "explanation": "clear, evidence-based reason",
            "confidence": 0.0-1.0
        }
    ]
}
`, analysis.KeyAnomalyDetected, analysis.KeyBaselineRole, role, analysis.KeyAnomalies)
}

// FormatLegacy renders CSV rows as numbered entries.
func FormatLegacy(rows []rules.LegacyRow) string {
	if len(rows) == 0 {
		return "No data available"
	}
	entries := make([]string, 0, len(rows))
	for i, row := range rows {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Entry %d:\n", i+1)
		for _, f := range row {
			fmt.Fprintf(&sb, "  - %s: %s\n", f.Key, f.Value)
		}
		entries = append(entries, sb.String())
	}
	return strings.Join(entries, "\n")
}

func scopeContext(role, company string) string {
	ctx := "no specific role"
	if role != "" {
		ctx = fmt.Sprintf("role: %q", role)
	}
	if company != "" {
		ctx += fmt.Sprintf(", company: %q", company)
	}
	return ctx
}

// TermsPrompt asks for the salient terms in OCR text as a JSON array.
func TermsPrompt(ocrText, role, company string) string {
	return fmt.Sprintf(`Given the following OCR text from a screenshot for %s:
"""
%s
"""

Return a JSON array of only the relevant words, phrases, or entities that should be checked against productivity rules (e.g., app names, website names, software, platforms, etc). Ignore common words, stopwords, and irrelevant text. Only return the JSON array, nothing else.
`, scopeContext(role, company), ocrText)
}

// ClassifyPrompt asks the model to classify one unknown term as a rule object.
func ClassifyPrompt(term, role, company string) string {
	return fmt.Sprintf(`A screenshot contains the item: %[1]q.
This item is not present in the current rules for the %[2]s.

Please classify this item as either "allowed" or "prohibited" for this context, and return your answer in the following JSON format:

{
  "type": "allowed" | "prohibited",
  "category": "string",
  "subcategory": "string",
  "item": %[1]q,
  "severity": "High" | "Medium" | "Low" | "Critical",
  "score": 0-100,
  "rationale": "string",
  "examples": ["Example 1", "Example 2"]
}

Only return valid JSON. Do not include any explanation outside the JSON.
`, term, scopeContext(role, company))
}
