package analysis

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedClock Clock = func() time.Time {
	return time.Date(2025, 3, 9, 8, 30, 0, 0, time.FixedZone("CET", 3600))
}

func TestNormalize_CurrentSchema(t *testing.T) {
	raw := RawResult{
		"anomaly_detected": true,
		"baseline_role":    "designer",
		"anomalies": []any{
			map[string]any{"type": "Unusual Task Activity", "explanation": "Steam store open", "confidence": json.Number("0.876")},
			map[string]any{},
		},
		"screenshot_filename": "shot_2024-05-01T12:00:00.png",
	}

	got := Normalize(raw, "developer", fixedClock)

	want := Result{
		Status: StatusSuccess,
		Analysis: &Analysis{
			AnomalyDetected: true,
			BaselineRole:    "designer",
			Anomalies: []Anomaly{
				{Type: "Unusual Task Activity", Explanation: "Steam store open", Confidence: 0.88, Timestamp: "2024-05-01T12:00:00Z"},
				{Type: "Unknown", Explanation: "No explanation provided", Confidence: 0.5, Timestamp: "2024-05-01T12:00:00Z"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_LegacySchema(t *testing.T) {
	raw := RawResult{
		"is_anomalous": true,
		"anomalies": []any{
			map[string]any{"type": "Unauthorized Access", "severity": "High"},
		},
		"screenshot_filename": "capture.png",
	}

	got := Normalize(raw, "developer", fixedClock)
	require.False(t, got.Failed())
	assert.True(t, got.Analysis.AnomalyDetected)
	assert.Equal(t, "developer", got.Analysis.BaselineRole)
	require.Len(t, got.Analysis.Anomalies, 1)
	assert.Equal(t, 0.95, got.Analysis.Anomalies[0].Confidence)
	assert.Equal(t, "2025-03-09T07:30:00Z", got.Analysis.Anomalies[0].Timestamp, "clock time is reported in UTC")
	assert.Equal(t, SchemaLegacy, decodeRaw(raw).schema)
}

func TestNormalize_AnomalyDetectedWinsOverLegacyFlag(t *testing.T) {
	raw := RawResult{"anomaly_detected": false, "is_anomalous": true}
	got := Normalize(raw, "developer", fixedClock)
	assert.False(t, got.Analysis.AnomalyDetected)
	assert.Equal(t, SchemaCurrent, decodeRaw(raw).schema)
}

func TestNormalize_NumericFlags(t *testing.T) {
	got := Normalize(RawResult{"anomaly_detected": json.Number("1")}, "developer", fixedClock)
	assert.True(t, got.Analysis.AnomalyDetected)
	assert.True(t, RawResult{"is_anomalous": json.Number("1")}.Flagged())

	got = Normalize(RawResult{"is_anomalous": json.Number("0")}, "developer", fixedClock)
	assert.False(t, got.Analysis.AnomalyDetected)
}

func TestNormalize_ConfidenceResolution(t *testing.T) {
	tests := []struct {
		name    string
		score   any // containing confidence_score; nil means absent
		anomaly map[string]any
		want    float64
	}{
		{"high", nil, map[string]any{"severity": "high"}, 0.95},
		{"medium mixed case", nil, map[string]any{"severity": "Medium"}, 0.75},
		{"low", nil, map[string]any{"severity": "LOW"}, 0.55},
		{"critical unmapped", nil, map[string]any{"severity": "Critical"}, 0.5},
		{"missing severity", nil, map[string]any{}, 0.5},
		{"explicit confidence wins over score", 10, map[string]any{"confidence": 0.9, "severity": "low"}, 0.9},
		{"score overrides severity", 80, map[string]any{"severity": "low"}, 0.8},
		{"score below range clamps", -10, map[string]any{"severity": "high"}, 0},
		{"score above range clamps", 150, map[string]any{"severity": "high"}, 1},
		{"score as string", "42", map[string]any{}, 0.42},
		{"explicit above range clamps", nil, map[string]any{"confidence": 1.7}, 1},
		{"explicit negative clamps", nil, map[string]any{"confidence": -0.2}, 0},
		{"explicit string number", nil, map[string]any{"confidence": "0.333"}, 0.33},
		{"label in confidence slot", nil, map[string]any{"confidence": "high"}, 0.95},
		{"null confidence falls back", nil, map[string]any{"confidence": nil, "severity": "medium"}, 0.75},
		{"rounding", nil, map[string]any{"confidence": 0.555}, 0.56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := RawResult{"is_anomalous": true, "anomalies": []any{tt.anomaly}}
			if tt.score != nil {
				raw["confidence_score"] = tt.score
			}
			got := Normalize(raw, "developer", fixedClock)
			require.Len(t, got.Analysis.Anomalies, 1)
			c := got.Analysis.Anomalies[0].Confidence
			assert.InDelta(t, tt.want, c, 1e-9)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
			assert.InDelta(t, c, math.Round(c*100)/100, 1e-12, "confidence must have at most two decimals")
		})
	}
}

func TestNormalize_ErrorResult(t *testing.T) {
	got := Normalize(RawResult{"error": "quota exceeded"}, "developer", fixedClock)
	assert.Equal(t, Result{Status: StatusError, Message: "quota exceeded"}, got)
	assert.Empty(t, got.Anomalies())

	got = Normalize(ErrorResult("failed to parse JSON from model response", "I refuse"), "developer", fixedClock)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "I refuse", got.RawResponse)
}

func TestNormalize_EmptyResponseIsCleanSuccess(t *testing.T) {
	got := Normalize(RawResult{}, "developer", fixedClock)
	require.Equal(t, StatusSuccess, got.Status)
	assert.False(t, got.Analysis.AnomalyDetected)
	assert.NotNil(t, got.Analysis.Anomalies)
	assert.Empty(t, got.Analysis.Anomalies)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","analysis":{"anomaly_detected":false,"baseline_role":"developer","anomalies":[]}}`, string(data))
}

func TestNormalize_SharedTimestampFromFilename(t *testing.T) {
	calls := 0
	clock := func() time.Time {
		calls++
		return time.Now()
	}
	raw := RawResult{
		"anomaly_detected":    true,
		"anomalies":           []any{map[string]any{"type": "a"}, map[string]any{"type": "b"}},
		"screenshot_filename": "Screen 2024-05-01T12:00:00 (2).jpg",
	}

	got := Normalize(raw, "developer", clock)
	for _, a := range got.Analysis.Anomalies {
		assert.Equal(t, "2024-05-01T12:00:00Z", a.Timestamp)
	}
	assert.Zero(t, calls, "filename timestamp must not consult the clock")
}

func TestNormalizeBatch(t *testing.T) {
	flagged := RawResult{
		"anomaly_detected":    true,
		"anomalies":           []any{map[string]any{"type": "Irregular Pauses", "explanation": "idle", "confidence": 0.6}},
		"screenshot_filename": "2024-05-01T12:00:00.png",
	}
	clean := RawResult{
		"anomaly_detected":    false,
		"anomalies":           []any{map[string]any{"type": "ignored", "confidence": 0.99}},
		"screenshot_filename": "2024-05-01T12:05:00.png",
	}
	legacy := RawResult{
		"is_anomalous":        true,
		"confidence_score":    70,
		"anomalies":           []any{map[string]any{"type": "Unusual Interaction", "severity": "High"}},
		"screenshot_filename": "2024-05-01T12:10:00.png",
	}
	failed := ErrorResult("timeout", "")

	batch := NewBatch("developer", []RawResult{flagged, clean, legacy, failed})
	assert.True(t, batch.OverallAnomalous)
	assert.Equal(t, 4, batch.ScreenshotCount)
	assert.Equal(t, 2, batch.AnomalousScreenshotCount)

	got := NormalizeBatch(batch, "ignored-role", fixedClock)
	want := Result{
		Status: StatusSuccess,
		Analysis: &Analysis{
			AnomalyDetected: true,
			BaselineRole:    "developer",
			Anomalies: []Anomaly{
				{Type: "Irregular Pauses", Explanation: "idle", Confidence: 0.6, Timestamp: "2024-05-01T12:00:00Z"},
				{Type: "Unusual Interaction", Explanation: "No explanation provided", Confidence: 0.7, Timestamp: "2024-05-01T12:10:00Z"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeBatch() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeBatch_FlagComesFromOverall(t *testing.T) {
	batch := BatchResult{
		Results: []RawResult{
			{"anomaly_detected": true, "anomalies": []any{map[string]any{"type": "x"}}},
		},
		OverallAnomalous: false,
	}
	got := NormalizeBatch(batch, "developer", fixedClock)
	assert.False(t, got.Analysis.AnomalyDetected)
	assert.Len(t, got.Analysis.Anomalies, 1)
	assert.Equal(t, "developer", got.Analysis.BaselineRole)
}

func TestNewBatch_Empty(t *testing.T) {
	batch := NewBatch("developer", nil)
	assert.NotNil(t, batch.Results)
	assert.False(t, batch.OverallAnomalous)
	assert.Zero(t, batch.ScreenshotCount)
}
