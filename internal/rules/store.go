package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"deskwatch/internal/logging"
)

const baselineFile = "baseline.json"

// Store reads and appends the scope documents under one root directory:
//
//	<root>/baseline.json            global baseline
//	<root>/<role>/baseline.json     role baseline
//	<root>/<role>/<company>.json    role+company override
type Store struct {
	root   string
	layers []string    // extra JSON documents merged after the scopes
	legacy []LegacyRow // CSV rows from --prohibited
	log    *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger; the rules category is derived from it.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l.For(logging.CategoryRules) }
}

// WithLayer merges an additional rule document after the scope documents.
func WithLayer(path string) Option {
	return func(s *Store) { s.layers = append(s.layers, path) }
}

// WithLegacyRows attaches CSV rows for prompt rendering.
func WithLegacyRows(rows []LegacyRow) Option {
	return func(s *Store) { s.legacy = rows }
}

// ProhibitedOption turns a --prohibited path into a store option: CSV files
// become legacy rows, JSON files an extra layer.
func ProhibitedOption(path string) (Option, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err := LoadCSV(path)
		if err != nil {
			return nil, err
		}
		return WithLegacyRows(rows), nil
	case ".json":
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("prohibited list: %w", err)
		}
		return WithLayer(path), nil
	default:
		return nil, fmt.Errorf("prohibited list must be .csv or .json: %s", path)
	}
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{root: dir, log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the directory holding the scope documents.
func (s *Store) Root() string { return s.root }

// Path resolves the document an append targets: company override when both
// role and company are set, else the role baseline, else the global baseline.
func (s *Store) Path(role, company string) string {
	switch {
	case role != "" && company != "":
		return filepath.Join(s.root, role, company+".json")
	case role != "":
		return filepath.Join(s.root, role, baselineFile)
	default:
		return filepath.Join(s.root, baselineFile)
	}
}

// scopePaths lists the documents consulted by Load, most general first.
func (s *Store) scopePaths(role, company string) []string {
	paths := []string{filepath.Join(s.root, baselineFile)}
	if role != "" {
		paths = append(paths, filepath.Join(s.root, role, baselineFile))
		if company != "" {
			paths = append(paths, filepath.Join(s.root, role, company+".json"))
		}
	}
	return append(paths, s.layers...)
}

// Load merges every applicable document. Missing documents are empty; a
// malformed one fails the load with a *DocumentError.
func (s *Store) Load(role, company string) (Merged, error) {
	merged := Merged{Legacy: s.legacy}
	for _, path := range s.scopePaths(role, company) {
		doc, ok, err := readDocument(path)
		if err != nil {
			return Merged{}, err
		}
		if !ok {
			continue
		}
		merged.add(path, doc)
	}
	s.log.Debug("loaded %d rules for role=%q company=%q from %v", merged.Len(), role, company, merged.Sources)
	return merged, nil
}

// KnownItems returns every item text already present in the merged scopes,
// across both kinds. Legacy CSV rows are not consulted.
func (s *Store) KnownItems(role, company string) (map[string]struct{}, error) {
	merged, err := s.Load(role, company)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, merged.Len())
	for _, r := range merged.Allowed {
		known[r.Item] = struct{}{}
	}
	for _, r := range merged.Prohibited {
		known[r.Item] = struct{}{}
	}
	return known, nil
}

func readDocument(path string) (document, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, false, nil
		}
		return document{}, false, fmt.Errorf("failed to read rule document: %w", err)
	}
	doc, err := decodeDocument(path, data)
	if err != nil {
		return document{}, false, err
	}
	return doc, true, nil
}

// pathLocks serializes read-modify-write cycles per target document.
var pathLocks sync.Map // map[string]*sync.Mutex

func lockPath(path string) func() {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	mu, _ := pathLocks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Append adds rule to the flat "rules" list of the scope document and writes
// the document back in full. Existing entries are carried over untouched.
// Returns the path written.
func (s *Store) Append(rule Rule, role, company string) (string, error) {
	path := s.Path(role, company)
	unlock := lockPath(path)
	defer unlock()

	top, err := readRawDocument(path, role)
	if err != nil {
		return "", err
	}

	var list []json.RawMessage
	if existing, ok := top["rules"]; ok && !isNull(existing) {
		if err := json.Unmarshal(existing, &list); err != nil {
			return "", &DocumentError{Path: path, Err: fmt.Errorf("rules is not a list: %w", err)}
		}
	}
	entry, err := json.Marshal(rule)
	if err != nil {
		return "", fmt.Errorf("failed to encode rule: %w", err)
	}
	list = append(list, entry)

	encodedList, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode rule list: %w", err)
	}
	top["rules"] = encodedList

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode rule document: %w", err)
	}
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return "", err
	}

	s.log.Info("appended %s rule %q to %s", rule.Kind, rule.Item, path)
	return path, nil
}

// readRawDocument loads the top-level object for rewriting, or a fresh
// skeleton when the document does not exist yet.
func readRawDocument(path, role string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		context := role
		if context == "" {
			context = "baseline"
		}
		ctx, _ := json.Marshal(context)
		return map[string]json.RawMessage{
			"context":     ctx,
			"description": json.RawMessage(`""`),
			"rules":       json.RawMessage(`[]`),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rule document: %w", err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &DocumentError{Path: path, Err: err}
	}
	if top == nil {
		top = make(map[string]json.RawMessage)
	}
	return top, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// writeFileAtomic writes via a sibling temp file and rename so readers never
// observe a half-written document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write rule document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync rule document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close rule document: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("failed to set rule document mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace rule document: %w", err)
	}
	return nil
}
