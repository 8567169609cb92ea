package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"deskwatch/internal/analysis"
	"deskwatch/internal/journal"
	"deskwatch/internal/learn"
)

const explanationWidth = 60

// Summary renders one standardized result.
func Summary(res analysis.Result, styles Styles) string {
	if res.Failed() {
		return styles.Alert.Render("analysis failed: "+res.Message) + "\n"
	}

	a := res.Analysis
	anomalies := res.Anomalies()
	var head string
	switch {
	case a == nil:
		head = styles.Muted.Render("no analysis")
	case !a.AnomalyDetected:
		head = styles.OK.Render(fmt.Sprintf("no anomalies for role %s", a.BaselineRole))
	default:
		head = styles.Alert.Render(fmt.Sprintf("%d %s for role %s",
			len(anomalies), plural(len(anomalies), "anomaly", "anomalies"), a.BaselineRole))
	}

	t := NewTable("", "Type", "Confidence", "Timestamp", "Explanation")
	for _, an := range anomalies {
		t.AddRow(an.Type, strconv.FormatFloat(an.Confidence, 'f', 2, 64), an.Timestamp,
			truncate(an.Explanation, explanationWidth))
	}
	return head + "\n" + t.View(styles)
}

// Learned renders the outcome of a learning run. An empty report renders "".
func Learned(rep learn.Report, styles Styles) string {
	if len(rep.Learned) == 0 && len(rep.Failures) == 0 {
		return ""
	}
	var sb strings.Builder
	t := NewTable(fmt.Sprintf("learned %d %s", len(rep.Learned), plural(len(rep.Learned), "rule", "rules")),
		"Item", "Type", "Category", "Document")
	for _, l := range rep.Learned {
		t.AddRow(l.Rule.Item, string(l.Rule.Kind), l.Rule.Category, l.Path)
	}
	sb.WriteString(t.View(styles))
	if n := len(rep.Failures); n > 0 {
		sb.WriteString(styles.Muted.Render(fmt.Sprintf("%d learning %s skipped (see log)", n, plural(n, "step", "steps"))))
		sb.WriteString("\n")
	}
	return sb.String()
}

// History renders journal runs, newest first as given.
func History(runs []journal.Run, styles Styles) string {
	if len(runs) == 0 {
		return styles.Muted.Render("no runs recorded") + "\n"
	}
	t := NewTable("recent runs", "Started", "Mode", "Role", "Model", "Shots", "Flagged", "Learned", "Status")
	for _, r := range runs {
		status := string(r.Result.Status)
		if r.Result.Failed() {
			status += ": " + truncate(r.Result.Message, 30)
		}
		role := r.Role
		if r.Company != "" {
			role += "/" + r.Company
		}
		t.AddRow(
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(r.Mode),
			role,
			r.Model,
			strconv.Itoa(r.ScreenshotCount),
			strconv.Itoa(r.AnomalousCount),
			strconv.Itoa(r.LearnedCount),
			status,
		)
	}
	return t.View(styles)
}

// Fprint writes s to w, ignoring empty strings.
func Fprint(w io.Writer, s string) {
	if s != "" {
		io.WriteString(w, s)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
