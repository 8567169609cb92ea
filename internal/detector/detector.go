// Package detector runs the per-screenshot pipeline: merged rules → prompt →
// model call → JSON extraction, and fans it out over a batch. Normalization
// is a separate explicit step so callers can inspect the raw shape.
package detector

import (
	"context"
	"encoding/json"
	"time"

	"deskwatch/internal/analysis"
	"deskwatch/internal/extract"
	"deskwatch/internal/llm"
	"deskwatch/internal/logging"
	"deskwatch/internal/prompt"
	"deskwatch/internal/rules"
	"deskwatch/internal/types"
)

// Detector is the contract both backends satisfy.
type Detector interface {
	AnalyzeOne(ctx context.Context, shot types.Screenshot, role, company string) analysis.RawResult
	StandardizeOne(raw analysis.RawResult, role string) analysis.Result
	AnalyzeBatch(ctx context.Context, shots []types.Screenshot, role, company string) analysis.BatchResult
	StandardizeBatch(batch analysis.BatchResult, role string) analysis.Result
}

// Pipeline is the single Detector implementation, parameterized by backend.
type Pipeline struct {
	client llm.Client
	store  *rules.Store
	clock  analysis.Clock
	log    *logging.Logger
}

var _ Detector = (*Pipeline)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for anomaly timestamps.
func WithClock(clock analysis.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithLogger sets the logger; the detector category is derived from it.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.log = l.For(logging.CategoryDetector) }
}

// New creates a pipeline over the given backend and rule store.
func New(client llm.Client, store *rules.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		client: client,
		store:  store,
		clock:  time.Now,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Backend names the model client in use.
func (p *Pipeline) Backend() string { return p.client.Name() }

// AnalyzeOne analyzes one screenshot and returns the raw result with
// screenshot_filename and screenshot_path attached. Every failure (rule
// load, model call, extraction) comes back as a raw error result.
func (p *Pipeline) AnalyzeOne(ctx context.Context, shot types.Screenshot, role, company string) analysis.RawResult {
	result := p.analyze(ctx, shot, role, company)
	result[analysis.KeyScreenshotFilename] = shot.Filename
	result[analysis.KeyScreenshotPath] = shot.FilePath
	return result
}

func (p *Pipeline) analyze(ctx context.Context, shot types.Screenshot, role, company string) analysis.RawResult {
	merged, err := p.store.Load(role, company)
	if err != nil {
		p.log.Error("rule load failed for %s: %v", shot.Filename, err)
		return analysis.ErrorResult(err.Error(), "")
	}

	text := p.generate(ctx, prompt.Build(merged, shot, role))

	obj, method, err := extract.ObjectMethod(text)
	if err != nil {
		p.log.Warn("no usable JSON for %s: %v", shot.Filename, err)
		return analysis.ErrorResult(err.Error(), text)
	}
	p.log.Debug("extracted %s result for %s via %s", p.client.Name(), shot.Filename, method)
	return analysis.RawResult(obj)
}

// generate calls the backend and converts any failure into an error JSON
// string, so extraction is the single failure channel.
func (p *Pipeline) generate(ctx context.Context, promptText string) string {
	p.log.Debug("prompt (%d chars) to %s", len(promptText), p.client.Name())
	text, err := p.client.Generate(ctx, promptText)
	if err != nil {
		p.log.Warn("%s call failed: %v", p.client.Name(), err)
		return errorJSON(err)
	}
	return text
}

func errorJSON(err error) string {
	data, marshalErr := json.Marshal(map[string]string{analysis.KeyError: "model call failed: " + err.Error()})
	if marshalErr != nil {
		return `{"error": "model call failed"}`
	}
	return string(data)
}

// StandardizeOne normalizes one raw result.
func (p *Pipeline) StandardizeOne(raw analysis.RawResult, role string) analysis.Result {
	return analysis.Normalize(raw, role, p.clock)
}

// AnalyzeBatch analyzes screenshots sequentially. A failed screenshot never
// aborts the batch; it shows up as an error entry.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, shots []types.Screenshot, role, company string) analysis.BatchResult {
	results := make([]analysis.RawResult, 0, len(shots))
	for i, shot := range shots {
		p.log.Info("analyzing %d/%d: %s", i+1, len(shots), shot.Filename)
		results = append(results, p.AnalyzeOne(ctx, shot, role, company))
	}
	batch := analysis.NewBatch(role, results)
	p.log.Info("batch done: %d/%d anomalous", batch.AnomalousScreenshotCount, batch.ScreenshotCount)
	return batch
}

// StandardizeBatch normalizes a batch into one result.
func (p *Pipeline) StandardizeBatch(batch analysis.BatchResult, role string) analysis.Result {
	return analysis.NormalizeBatch(batch, role, p.clock)
}
