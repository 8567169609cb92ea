// Package extract pulls structured JSON out of free-form model text.
//
// Models wrap JSON in prose, markdown fences, or both. Extraction tries, in
// order, first success wins:
//
//  1. the whole response as JSON
//  2. the interior of the first fenced code block (```json ... ```)
//  3. the widest span from the first opening to the last closing delimiter
//
// Fenced blocks are tried before the span scan so that explanatory prose
// around a fence is never captured. A candidate that parses as the wrong
// container type ends the search with an error.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrNoJSON means no candidate span was found at all.
var ErrNoJSON = errors.New("no JSON found in model response")

// Error carries the raw response for diagnostics.
type Error struct {
	Raw    string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil || errors.Is(e.Err, ErrNoJSON) {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Method records which strategy produced a value.
type Method string

const (
	MethodDirect Method = "json"
	MethodFenced Method = "json_markdown"
	MethodSpan   Method = "json_extracted"
)

var fencePattern = regexp.MustCompile("```(?i:json)?\\s*([\\s\\S]*?)\\s*```")

// shape selects the JSON container a caller expects.
type shape struct {
	open, close byte
	name        string
}

var (
	objectShape = shape{'{', '}', "object"}
	arrayShape  = shape{'[', ']', "array"}
)

// Object extracts a JSON object from raw model text.
func Object(raw string) (map[string]any, error) {
	obj, _, err := ObjectMethod(raw)
	return obj, err
}

// ObjectMethod is Object that also reports which strategy succeeded.
func ObjectMethod(raw string) (map[string]any, Method, error) {
	v, method, err := find(raw, objectShape)
	if err != nil {
		return nil, "", err
	}
	return v.(map[string]any), method, nil
}

// Array extracts a JSON array from raw model text. A response whose only
// JSON is an object is an error.
func Array(raw string) ([]any, error) {
	v, _, err := find(raw, arrayShape)
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

func find(raw string, want shape) (any, Method, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, "", &Error{Raw: raw, Reason: ErrNoJSON.Error(), Err: ErrNoJSON}
	}

	var lastErr error
	try := func(candidate string) (any, bool) {
		v, err := decode(candidate, want)
		if err != nil {
			lastErr = err
			return nil, false
		}
		return v, true
	}
	wrongShape := func() error {
		return &Error{Raw: raw, Reason: fmt.Sprintf("expected a JSON %s", want.name), Err: lastErr}
	}

	if v, ok := try(trimmed); ok {
		return v, MethodDirect, nil
	}
	// Valid JSON of the other container type is never mined for a nested value.
	if errors.Is(lastErr, errWrongShape) {
		return nil, "", wrongShape()
	}

	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		if v, ok := try(m[1]); ok {
			return v, MethodFenced, nil
		}
		if errors.Is(lastErr, errWrongShape) {
			return nil, "", wrongShape()
		}
	}

	span, found := widestSpan(trimmed, want)
	if !found {
		return nil, "", &Error{Raw: raw, Reason: ErrNoJSON.Error(), Err: ErrNoJSON}
	}
	if v, ok := try(span); ok {
		return v, MethodSpan, nil
	}
	return nil, "", &Error{Raw: raw, Reason: "failed to parse JSON from model response", Err: lastErr}
}

// widestSpan returns text from the first opening delimiter to the last closing one.
func widestSpan(s string, want shape) (string, bool) {
	start := strings.IndexByte(s, want.open)
	end := strings.LastIndexByte(s, want.close)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

var errWrongShape = errors.New("unexpected JSON type")

// decode parses exactly one JSON value of the wanted shape. Numbers stay
// json.Number so re-encoding an extracted value is lossless.
func decode(s string, want shape) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}

	switch want {
	case objectShape:
		if obj, ok := v.(map[string]any); ok {
			return obj, nil
		}
	case arrayShape:
		if arr, ok := v.([]any); ok {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("%w: got %s, want %s", errWrongShape, kindOf(v), want.name)
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// Marshal re-encodes an extracted value compactly, preserving json.Number text.
func Marshal(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
