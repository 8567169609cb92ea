package rules

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func layeredStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	writeDoc(t, root, "baseline.json", `{
		"context": "baseline",
		"allowed": [{"item": "Email"}],
		"prohibited": [{"keyword": "Gambling", "severity": "High"}]
	}`)
	writeDoc(t, root, "developer/baseline.json", `{
		"context": "developer",
		"rules": [
			{"type": "allowed", "item": "VS Code", "category": "Tools"},
			{"type": "prohibited", "item": "Netflix"}
		]
	}`)
	writeDoc(t, root, "developer/acme.json", `{
		"prohibited": [{"item": "GitHub Copilot", "rationale": "licensing"}]
	}`)
	return NewStore(root)
}

func TestStore_Path(t *testing.T) {
	s := NewStore("/srv/rules")
	tests := []struct {
		role, company string
		want          string
	}{
		{"", "", "/srv/rules/baseline.json"},
		{"developer", "", "/srv/rules/developer/baseline.json"},
		{"developer", "acme", "/srv/rules/developer/acme.json"},
		{"", "acme", "/srv/rules/baseline.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, filepath.FromSlash(tt.want), s.Path(tt.role, tt.company), "role=%q company=%q", tt.role, tt.company)
	}
}

func TestStore_LoadMergesInScopeOrder(t *testing.T) {
	s := layeredStore(t)

	merged, err := s.Load("developer", "acme")
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"Email", "VS Code"}, merged.Items(KindAllowed)); diff != "" {
		t.Errorf("allowed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Gambling", "Netflix", "GitHub Copilot"}, merged.Items(KindProhibited)); diff != "" {
		t.Errorf("prohibited mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, merged.Sources, 3)
	assert.Equal(t, "High", merged.Prohibited[0].Severity)
	assert.Equal(t, "Tools", merged.Allowed[1].Category)
}

func TestStore_LoadWidensMonotonically(t *testing.T) {
	s := layeredStore(t)

	global, err := s.Load("", "")
	require.NoError(t, err)
	role, err := s.Load("developer", "")
	require.NoError(t, err)
	company, err := s.Load("developer", "acme")
	require.NoError(t, err)

	for _, kind := range []Kind{KindAllowed, KindProhibited} {
		assert.Subset(t, role.Items(kind), global.Items(kind))
		assert.Subset(t, company.Items(kind), role.Items(kind))
	}
}

func TestStore_LoadMissingDocumentsAreEmpty(t *testing.T) {
	s := NewStore(t.TempDir())

	merged, err := s.Load("designer", "globex")
	require.NoError(t, err)
	assert.Zero(t, merged.Len())
	assert.Empty(t, merged.Sources)
}

func TestStore_LoadMalformedDocumentFails(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "baseline.json", `{"allowed": [{"item": "Email"}]}`)
	bad := writeDoc(t, root, "developer/baseline.json", `{"rules": [`)

	_, err := NewStore(root).Load("developer", "")
	require.Error(t, err)

	var docErr *DocumentError
	require.True(t, errors.As(err, &docErr))
	assert.Equal(t, bad, docErr.Path)
}

func TestDecodeDocument_FlatRuleTypes(t *testing.T) {
	doc, err := decodeDocument("x.json", []byte(`{"rules": [
		{"type": "Allowed", "item": "Slack"},
		{"type": "prohibited", "item": "Steam"},
		{"type": "neutral", "item": "Calculator"},
		{"item": "Reddit"}
	]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"Slack"}, Merged{Allowed: doc.Allowed}.Items(KindAllowed))
	assert.Equal(t, []string{"Steam", "Calculator", "Reddit"}, Merged{Prohibited: doc.Prohibited}.Items(KindProhibited))
}

func TestDecodeDocument_TopLevelArrayIsProhibited(t *testing.T) {
	doc, err := decodeDocument("list.json", []byte(`["Poker", {"keyword": "Twitch"}]`))
	require.NoError(t, err)

	require.Len(t, doc.Prohibited, 2)
	assert.Equal(t, "Poker", doc.Prohibited[0].Item)
	assert.Equal(t, "Twitch", doc.Prohibited[1].Item)
	assert.Equal(t, KindProhibited, doc.Prohibited[1].Kind)
}

func TestStore_AppendCreatesDocument(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	path, err := s.Append(Rule{Kind: KindProhibited, Item: "Discord", Severity: "Medium"}, "developer", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "developer", "baseline.json"), path)

	var doc map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "developer", doc["context"])
	assert.Equal(t, "", doc["description"])
	list := doc["rules"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Discord", list[0].(map[string]any)["item"])
	assert.Equal(t, "prohibited", list[0].(map[string]any)["type"])
}

func TestStore_AppendGlobalContextIsBaseline(t *testing.T) {
	root := t.TempDir()
	path, err := NewStore(root).Append(Rule{Kind: KindAllowed, Item: "Calendar"}, "", "")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"context": "baseline"`)
}

func TestStore_AppendPreservesExistingEntries(t *testing.T) {
	root := t.TempDir()
	path := writeDoc(t, root, "developer/acme.json", `{
		"context": "acme",
		"description": "Acme overrides",
		"prohibited": [{"item": "Poker", "ticket": "SEC-12"}],
		"rules": [{"type": "allowed", "item": "Jira", "owner": "it"}]
	}`)
	s := NewStore(root)

	_, err := s.Append(Rule{Kind: KindProhibited, Item: "Discord"}, "developer", "acme")
	require.NoError(t, err)

	var doc struct {
		Context     string           `json:"context"`
		Description string           `json:"description"`
		Prohibited  []map[string]any `json:"prohibited"`
		Rules       []map[string]any `json:"rules"`
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "Acme overrides", doc.Description)
	assert.Equal(t, []map[string]any{{"item": "Poker", "ticket": "SEC-12"}}, doc.Prohibited)
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, map[string]any{"type": "allowed", "item": "Jira", "owner": "it"}, doc.Rules[0])
	assert.Equal(t, "Discord", doc.Rules[1]["item"])

	merged, err := s.Load("developer", "acme")
	require.NoError(t, err)
	assert.Contains(t, merged.Items(KindProhibited), "Discord")
	assert.Contains(t, merged.Items(KindProhibited), "Poker")
}

func TestStore_AppendRejectsMalformedTarget(t *testing.T) {
	root := t.TempDir()
	path := writeDoc(t, root, "baseline.json", `not json`)

	_, err := NewStore(root).Append(Rule{Kind: KindAllowed, Item: "Mail"}, "", "")
	var docErr *DocumentError
	require.ErrorAs(t, err, &docErr)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "not json", string(data), "malformed document must not be overwritten")
}

func TestStore_ConcurrentAppendsKeepEveryRule(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(Rule{Kind: KindAllowed, Item: strings.Repeat("x", i+1)}, "developer", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	merged, err := s.Load("developer", "")
	require.NoError(t, err)
	assert.Len(t, merged.Allowed, n)

	entries, err := os.ReadDir(filepath.Join(root, "developer"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_KnownItems(t *testing.T) {
	s := layeredStore(t)

	known, err := s.KnownItems("developer", "acme")
	require.NoError(t, err)
	for _, item := range []string{"Email", "Gambling", "VS Code", "Netflix", "GitHub Copilot"} {
		assert.Contains(t, known, item)
	}
	assert.NotContains(t, known, "Discord")
}

func TestProhibitedOption(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeDoc(t, dir, "prohibited.csv", "activity,severity\nGaming,High\n")
	jsonPath := writeDoc(t, dir, "prohibited.json", `[{"item": "Torrent"}]`)

	opt, err := ProhibitedOption(csvPath)
	require.NoError(t, err)
	merged, err := NewStore(t.TempDir(), opt).Load("developer", "")
	require.NoError(t, err)
	require.Len(t, merged.Legacy, 1)
	assert.Equal(t, LegacyRow{{"activity", "Gaming"}, {"severity", "High"}}, merged.Legacy[0])

	opt, err = ProhibitedOption(jsonPath)
	require.NoError(t, err)
	merged, err = NewStore(t.TempDir(), opt).Load("developer", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Torrent"}, merged.Items(KindProhibited))

	_, err = ProhibitedOption(filepath.Join(dir, "list.txt"))
	assert.Error(t, err)
	_, err = ProhibitedOption(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
