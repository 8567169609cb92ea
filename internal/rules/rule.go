// Package rules implements the layered rule store: global, role and company
// policy documents that merge by union and grow only by appending.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"deskwatch/internal/types"
)

// Kind classifies a rule as expected or forbidden activity.
type Kind string

const (
	KindAllowed    Kind = "allowed"
	KindProhibited Kind = "prohibited"
)

// ParseKind maps a document or model value onto a Kind. Matching is
// case-insensitive; anything else reports false.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindAllowed):
		return KindAllowed, true
	case string(KindProhibited):
		return KindProhibited, true
	}
	return "", false
}

// Rule is one policy entry. Item is the identity within a scope; older
// documents call it "keyword".
type Rule struct {
	Kind        Kind
	Item        string
	Category    string
	Subcategory string
	Severity    string
	Score       *float64
	Rationale   string
	Examples    []string

	// Extra holds keys this package does not interpret, so they survive a rewrite.
	Extra map[string]any
}

// known document keys; everything else lands in Extra
var ruleKeys = map[string]bool{
	"type": true, "item": true, "keyword": true, "category": true,
	"subcategory": true, "severity": true, "score": true,
	"rationale": true, "examples": true,
}

// UnmarshalJSON accepts a rule object or, for hand-written lists, a bare string.
func (r *Rule) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var item string
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return err
		}
		*r = Rule{Item: item}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("rule must be an object or string")
	}
	*r = FromMap(raw)
	return nil
}

// FromMap builds a Rule from a decoded object, typically model output.
// Kind is left empty when "type" is missing or unrecognized.
func FromMap(raw map[string]any) Rule {
	var r Rule
	r.Kind, _ = ParseKind(types.ExtractString(raw["type"]))
	r.Item = strings.TrimSpace(types.ExtractString(raw["item"]))
	if r.Item == "" {
		r.Item = strings.TrimSpace(types.ExtractString(raw["keyword"]))
	}
	r.Category = types.ExtractString(raw["category"])
	r.Subcategory = types.ExtractString(raw["subcategory"])
	r.Severity = types.ExtractString(raw["severity"])
	r.Rationale = types.ExtractString(raw["rationale"])
	if score, ok := types.ExtractFloat64(raw["score"]); ok {
		r.Score = &score
	}
	r.Examples = types.ExtractStrings(raw["examples"])

	for k, v := range raw {
		if ruleKeys[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[k] = v
	}
	return r
}

// MarshalJSON writes the on-disk shape: "type" for the kind and "item" for the text.
func (r Rule) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+8)
	for k, v := range r.Extra {
		out[k] = v
	}
	if r.Kind != "" {
		out["type"] = string(r.Kind)
	}
	out["item"] = r.Item
	setIf := func(key, val string) {
		if val != "" {
			out[key] = val
		}
	}
	setIf("category", r.Category)
	setIf("subcategory", r.Subcategory)
	setIf("severity", r.Severity)
	setIf("rationale", r.Rationale)
	if r.Score != nil {
		out["score"] = *r.Score
	}
	if len(r.Examples) > 0 {
		out["examples"] = r.Examples
	}
	return json.Marshal(out)
}
