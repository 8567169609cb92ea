package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DocumentError reports a rule document that exists but cannot be parsed.
// A malformed layer fails the whole load rather than merging as empty.
type DocumentError struct {
	Path string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("malformed rule document %s: %v", e.Path, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// document is the canonical view of one scope file. Both historical layouts
// (allowed/prohibited arrays, or one flat "rules" array) decode into it.
type document struct {
	Context     string
	Description string
	Allowed     []Rule
	Prohibited  []Rule
}

// wireDocument mirrors every shape seen on disk.
type wireDocument struct {
	Context     string `json:"context"`
	Description string `json:"description"`
	Allowed     []Rule `json:"allowed"`
	Prohibited  []Rule `json:"prohibited"`
	Rules       []Rule `json:"rules"`
}

// decodeDocument parses a rule file. A top-level array is read as a
// prohibited list, which is what legacy --prohibited JSON inputs contain.
func decodeDocument(path string, data []byte) (document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Rule
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return document{}, &DocumentError{Path: path, Err: err}
		}
		return document{Prohibited: withKind(list, KindProhibited)}, nil
	}

	var wire wireDocument
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return document{}, &DocumentError{Path: path, Err: err}
	}

	doc := document{
		Context:     wire.Context,
		Description: wire.Description,
		Allowed:     withKind(wire.Allowed, KindAllowed),
		Prohibited:  withKind(wire.Prohibited, KindProhibited),
	}
	for _, r := range wire.Rules {
		if r.Kind == KindAllowed {
			doc.Allowed = append(doc.Allowed, r)
			continue
		}
		// Missing or unrecognized type is treated as prohibited.
		r.Kind = KindProhibited
		doc.Prohibited = append(doc.Prohibited, r)
	}
	return doc, nil
}

// withKind stamps the list's kind on each entry; list membership wins over any "type".
func withKind(list []Rule, kind Kind) []Rule {
	for i := range list {
		list[i].Kind = kind
	}
	return list
}

// Merged is the union of every scope consulted for one evaluation.
type Merged struct {
	Allowed    []Rule
	Prohibited []Rule

	// Legacy holds rows from a CSV prohibited-activities file, if one was supplied.
	Legacy []LegacyRow

	// Sources lists the documents that contributed, most general first.
	Sources []string
}

func (m *Merged) add(path string, doc document) {
	m.Allowed = append(m.Allowed, doc.Allowed...)
	m.Prohibited = append(m.Prohibited, doc.Prohibited...)
	m.Sources = append(m.Sources, path)
}

// Items returns the item text of every rule of the given kind, in merge order.
func (m Merged) Items(kind Kind) []string {
	list := m.Allowed
	if kind == KindProhibited {
		list = m.Prohibited
	}
	items := make([]string, 0, len(list))
	for _, r := range list {
		items = append(items, r.Item)
	}
	return items
}

// Len is the number of structured rules across both kinds.
func (m Merged) Len() int {
	return len(m.Allowed) + len(m.Prohibited)
}
