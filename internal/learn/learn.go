// Package learn implements the rule learning loop: find salient terms in OCR
// text, diff them against the rule store, and ask the model to classify each
// unknown term into a new persisted rule.
//
// Learning is best-effort enrichment. It runs after analysis output has been
// emitted and its failures never reach the detection result.
package learn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deskwatch/internal/extract"
	"deskwatch/internal/llm"
	"deskwatch/internal/logging"
	"deskwatch/internal/prompt"
	"deskwatch/internal/rules"
	"deskwatch/internal/types"

	"golang.org/x/sync/singleflight"
)

// ErrInvalidRule means the model's classification is not a usable rule.
var ErrInvalidRule = errors.New("invalid rule from model")

// Stage names where a learning failure happened.
type Stage string

const (
	StageTerms    Stage = "terms"
	StageKnown    Stage = "known_items"
	StageClassify Stage = "classify"
)

// Learned is one rule appended during a run.
type Learned struct {
	Rule rules.Rule `json:"rule"`
	Path string     `json:"path"`
}

// Failure is one per-item learning error.
type Failure struct {
	Stage Stage  `json:"stage"`
	Item  string `json:"item,omitempty"`
	Error string `json:"error"`
}

// Report summarizes one learning run.
type Report struct {
	Terms    []string  `json:"terms"`
	Unknown  []string  `json:"unknown"`
	Learned  []Learned `json:"learned"`
	Failures []Failure `json:"failures,omitempty"`
}

// Learner grows the rule store from model classifications.
type Learner struct {
	client llm.Client
	store  *rules.Store
	group  singleflight.Group
	log    *logging.Logger
}

// New creates a learner. log may be nil.
func New(client llm.Client, store *rules.Store, log *logging.Logger) *Learner {
	return &Learner{
		client: client,
		store:  store,
		log:    log.For(logging.CategoryLearn),
	}
}

// ExtractRelevantTerms asks the model for the salient terms in ocrText.
// Non-string entries are stringified; blank entries are dropped.
func (l *Learner) ExtractRelevantTerms(ctx context.Context, ocrText, role, company string) ([]string, error) {
	text, err := l.client.Generate(ctx, prompt.TermsPrompt(ocrText, role, company))
	if err != nil {
		return nil, fmt.Errorf("term extraction call failed: %w", err)
	}

	list, err := extract.Array(text)
	if err != nil {
		return nil, fmt.Errorf("term extraction: %w", err)
	}
	return types.ExtractStrings(list), nil
}

// LearnUnknown classifies term and appends the resulting rule to the scope
// document for role/company. Concurrent calls for the same term and scope
// share one model call and one append.
func (l *Learner) LearnUnknown(ctx context.Context, term, role, company string) (rules.Rule, string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return rules.Rule{}, "", fmt.Errorf("%w: empty term", ErrInvalidRule)
	}
	key := l.store.Path(role, company) + "\x00" + term

	v, err, shared := l.group.Do(key, func() (any, error) {
		return l.learn(ctx, term, role, company)
	})
	if err != nil {
		return rules.Rule{}, "", err
	}
	if shared {
		l.log.Debug("classification of %q shared with a concurrent caller", term)
	}
	res := v.(Learned)
	return res.Rule, res.Path, nil
}

func (l *Learner) learn(ctx context.Context, term, role, company string) (Learned, error) {
	text, err := l.client.Generate(ctx, prompt.ClassifyPrompt(term, role, company))
	if err != nil {
		return Learned{}, fmt.Errorf("classification call failed: %w", err)
	}

	obj, err := extract.Object(text)
	if err != nil {
		return Learned{}, fmt.Errorf("classification of %q: %w", term, err)
	}

	rule := rules.FromMap(obj)
	// The stored item is always the requested term so the next diff sees it
	// as known. A differing model spelling is kept alongside.
	if rule.Item != "" && rule.Item != term {
		if rule.Extra == nil {
			rule.Extra = make(map[string]any)
		}
		rule.Extra["model_item"] = rule.Item
	}
	rule.Item = term
	if rule.Kind == "" {
		return Learned{}, fmt.Errorf("%w: type %q for %q", ErrInvalidRule, types.ExtractString(obj["type"]), term)
	}

	path, err := l.store.Append(rule, role, company)
	if err != nil {
		return Learned{}, fmt.Errorf("persisting rule for %q: %w", term, err)
	}
	l.log.Info("learned %s rule for %q -> %s", rule.Kind, rule.Item, path)
	return Learned{Rule: rule, Path: path}, nil
}

// Run extracts terms from every text, diffs their union (first-seen order)
// against the items already in the merged scopes, and learns each unknown
// term. Errors are recorded per item and never abort the run.
func (l *Learner) Run(ctx context.Context, ocrTexts []string, role, company string) Report {
	report := Report{Terms: []string{}, Unknown: []string{}, Learned: []Learned{}}

	seen := make(map[string]bool)
	for _, text := range ocrTexts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		terms, err := l.ExtractRelevantTerms(ctx, text, role, company)
		if err != nil {
			l.log.Warn("term extraction failed: %v", err)
			report.Failures = append(report.Failures, Failure{Stage: StageTerms, Error: err.Error()})
			continue
		}
		for _, term := range terms {
			if !seen[term] {
				seen[term] = true
				report.Terms = append(report.Terms, term)
			}
		}
	}
	if len(report.Terms) == 0 {
		return report
	}

	known, err := l.store.KnownItems(role, company)
	if err != nil {
		l.log.Error("cannot diff terms against rules: %v", err)
		report.Failures = append(report.Failures, Failure{Stage: StageKnown, Error: err.Error()})
		return report
	}
	for _, term := range report.Terms {
		if _, ok := known[term]; !ok {
			report.Unknown = append(report.Unknown, term)
		}
	}
	l.log.Debug("terms=%v unknown=%v", report.Terms, report.Unknown)

	for _, term := range report.Unknown {
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, Failure{Stage: StageClassify, Item: term, Error: err.Error()})
			continue
		}
		rule, path, err := l.LearnUnknown(ctx, term, role, company)
		if err != nil {
			l.log.Warn("learning %q failed: %v", term, err)
			report.Failures = append(report.Failures, Failure{Stage: StageClassify, Item: term, Error: err.Error()})
			continue
		}
		report.Learned = append(report.Learned, Learned{Rule: rule, Path: path})
	}
	return report
}
