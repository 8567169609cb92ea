// Package analysis defines the canonical analysis result and normalizes
// every model response shape into it.
package analysis

import (
	"time"

	"deskwatch/internal/types"
)

// Status is the outcome of one analysis.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Keys the detector attaches to, or reads from, raw model results.
const (
	KeyError              = "error"
	KeyRawResponse        = "raw_response"
	KeyScreenshotFilename = "screenshot_filename"
	KeyScreenshotPath     = "screenshot_path"
	KeyAnomalyDetected    = "anomaly_detected"
	KeyIsAnomalous        = "is_anomalous"
	KeyBaselineRole       = "baseline_role"
	KeyAnomalies          = "anomalies"
	KeyConfidenceScore    = "confidence_score"
)

// Anomaly is one detected deviation from baseline.
type Anomaly struct {
	Type        string  `json:"type"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
}

// Analysis is the success payload of a Result.
type Analysis struct {
	AnomalyDetected bool      `json:"anomaly_detected"`
	BaselineRole    string    `json:"baseline_role"`
	Anomalies       []Anomaly `json:"anomalies"`
}

// Result is the one shape every detector backend and response schema converges to.
type Result struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	RawResponse string    `json:"raw_response,omitempty"`
	Analysis    *Analysis `json:"analysis,omitempty"`
}

// Failure builds an error result. raw may be empty.
func Failure(message, raw string) Result {
	return Result{Status: StatusError, Message: message, RawResponse: raw}
}

// Failed reports whether the result is an error result.
func (r Result) Failed() bool { return r.Status == StatusError }

// Anomalies returns the detected anomalies, or nil for error results.
func (r Result) Anomalies() []Anomaly {
	if r.Analysis == nil {
		return nil
	}
	return r.Analysis.Anomalies
}

// RawResult is one model response after extraction, before normalization.
// Its shape is whatever the model produced plus the screenshot keys.
type RawResult map[string]any

// ErrorResult builds the raw form of a failed analysis.
func ErrorResult(message, raw string) RawResult {
	r := RawResult{KeyError: message}
	if raw != "" {
		r[KeyRawResponse] = raw
	}
	return r
}

// Flagged reports whether either the current or the legacy anomaly flag is set.
func (r RawResult) Flagged() bool {
	return types.Truthy(r[KeyAnomalyDetected]) || types.Truthy(r[KeyIsAnomalous])
}

// Failed reports whether the raw result carries an error.
func (r RawResult) Failed() bool {
	_, ok := r[KeyError]
	return ok
}

// Filename returns the attached screenshot filename, if any.
func (r RawResult) Filename() string {
	return types.ExtractString(r[KeyScreenshotFilename])
}

// BatchResult aggregates raw per-screenshot results for later normalization.
type BatchResult struct {
	Results                  []RawResult `json:"results"`
	OverallAnomalous         bool        `json:"overall_anomalous"`
	ScreenshotCount          int         `json:"screenshot_count"`
	AnomalousScreenshotCount int         `json:"anomalous_screenshot_count"`
	RoleAnalyzed             string      `json:"role_analyzed"`
}

// NewBatch computes the aggregate flags and counts for results.
func NewBatch(role string, results []RawResult) BatchResult {
	b := BatchResult{
		Results:         results,
		ScreenshotCount: len(results),
		RoleAnalyzed:    role,
	}
	if b.Results == nil {
		b.Results = []RawResult{}
	}
	for _, r := range results {
		if r.Flagged() {
			b.OverallAnomalous = true
			b.AnomalousScreenshotCount++
		}
	}
	return b
}

// Clock supplies the current time for anomalies without a filename timestamp.
type Clock func() time.Time
