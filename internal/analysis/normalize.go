package analysis

import (
	"math"
	"regexp"
	"strings"
	"time"

	"deskwatch/internal/types"
)

// Schema tags which historical response layout a raw result uses.
type Schema int

const (
	// SchemaCurrent responses carry anomaly_detected and per-anomaly confidence.
	SchemaCurrent Schema = iota
	// SchemaLegacy responses carry is_anomalous, severities and a 0-100 confidence_score.
	SchemaLegacy
)

func (s Schema) String() string {
	if s == SchemaLegacy {
		return "legacy"
	}
	return "current"
}

const (
	timestampLayout    = "2006-01-02T15:04:05Z"
	defaultType        = "Unknown"
	defaultExplanation = "No explanation provided"
	defaultConfidence  = 0.5
)

var filenameTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

var severityConfidence = map[string]float64{
	"high":   0.95,
	"medium": 0.75,
	"low":    0.55,
}

// rawView is the canonical reading of one raw result. Everything past
// decodeRaw works on this and never on the raw map.
type rawView struct {
	schema          Schema
	failed          bool
	errMessage      string
	rawResponse     string
	detected        bool
	baselineRole    string
	confidenceScore *float64
	filename        string
	anomalies       []rawAnomaly
}

type rawAnomaly struct {
	typ         string
	explanation string
	confidence  *float64
	severity    string
}

func decodeRaw(raw RawResult) rawView {
	v := rawView{filename: raw.Filename()}

	if errVal, ok := raw[KeyError]; ok {
		v.failed = true
		v.errMessage = types.ExtractString(errVal)
		v.rawResponse = types.ExtractString(raw[KeyRawResponse])
		return v
	}

	if flag, ok := raw[KeyAnomalyDetected]; ok {
		v.schema = SchemaCurrent
		v.detected = types.Truthy(flag)
	} else if flag, ok := raw[KeyIsAnomalous]; ok {
		v.schema = SchemaLegacy
		v.detected = types.Truthy(flag)
	} else if _, ok := raw[KeyConfidenceScore]; ok {
		v.schema = SchemaLegacy
	}

	if score, ok := types.ExtractFloat64(raw[KeyConfidenceScore]); ok {
		v.confidenceScore = &score
	}
	v.baselineRole = strings.TrimSpace(types.ExtractString(raw[KeyBaselineRole]))

	list, _ := raw[KeyAnomalies].([]any)
	for _, item := range list {
		switch entry := item.(type) {
		case map[string]any:
			v.anomalies = append(v.anomalies, decodeAnomaly(entry))
		case string:
			v.anomalies = append(v.anomalies, rawAnomaly{explanation: entry})
		}
	}
	return v
}

func decodeAnomaly(entry map[string]any) rawAnomaly {
	a := rawAnomaly{
		typ:         types.ExtractString(entry["type"]),
		explanation: types.ExtractString(entry["explanation"]),
		severity:    types.ExtractString(entry["severity"]),
	}
	if c, ok := entry["confidence"]; ok && c != nil {
		if f, ok := types.ExtractFloat64(c); ok {
			a.confidence = &f
		} else if a.severity == "" {
			// "high" in the confidence slot is a severity label.
			a.severity = types.ExtractString(c)
		}
	}
	return a
}

// confidence resolves one anomaly's confidence: explicit value, else the
// containing result's confidence_score, else the severity mapping.
func (v rawView) confidence(a rawAnomaly) float64 {
	var c float64
	switch {
	case a.confidence != nil:
		c = *a.confidence
	case v.confidenceScore != nil:
		c = *v.confidenceScore / 100
	default:
		c = severityToConfidence(a.severity)
	}
	return round2(clamp01(c))
}

func severityToConfidence(severity string) float64 {
	if c, ok := severityConfidence[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return c
	}
	return defaultConfidence
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return defaultConfidence
	}
	return math.Min(math.Max(f, 0), 1)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// timestamp prefers a timestamp embedded in the screenshot filename.
func timestamp(filename string, now Clock) string {
	if m := filenameTimestamp.FindString(filename); m != "" {
		return m + "Z"
	}
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(timestampLayout)
}

func (v rawView) formatAnomalies(now Clock) []Anomaly {
	ts := timestamp(v.filename, now)
	out := make([]Anomaly, 0, len(v.anomalies))
	for _, a := range v.anomalies {
		typ := a.typ
		if typ == "" {
			typ = defaultType
		}
		explanation := a.explanation
		if explanation == "" {
			explanation = defaultExplanation
		}
		out = append(out, Anomaly{
			Type:        typ,
			Explanation: explanation,
			Confidence:  v.confidence(a),
			Timestamp:   ts,
		})
	}
	return out
}

// Normalize converts one raw model result into the canonical Result.
func Normalize(raw RawResult, role string, now Clock) Result {
	v := decodeRaw(raw)
	if v.failed {
		return Failure(v.errMessage, v.rawResponse)
	}

	baseline := v.baselineRole
	if baseline == "" {
		baseline = role
	}
	return Result{
		Status: StatusSuccess,
		Analysis: &Analysis{
			AnomalyDetected: v.detected,
			BaselineRole:    baseline,
			Anomalies:       v.formatAnomalies(now),
		},
	}
}

// NormalizeBatch flattens the anomalies of every flagged screenshot into one
// Result. The batch-level flag comes from OverallAnomalous, not from the
// flattened list.
func NormalizeBatch(batch BatchResult, role string, now Clock) Result {
	anomalies := []Anomaly{}
	for _, raw := range batch.Results {
		v := decodeRaw(raw)
		if v.failed || !raw.Flagged() {
			continue
		}
		anomalies = append(anomalies, v.formatAnomalies(now)...)
	}

	baseline := batch.RoleAnalyzed
	if baseline == "" {
		baseline = role
	}
	return Result{
		Status: StatusSuccess,
		Analysis: &Analysis{
			AnomalyDetected: batch.OverallAnomalous,
			BaselineRole:    baseline,
			Anomalies:       anomalies,
		},
	}
}
