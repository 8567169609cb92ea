package learn

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deskwatch/internal/llm/llmtest"
	"deskwatch/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	termsMarker    = "Return a JSON array"
	classifyMarker = "A screenshot contains the item"
)

func seededStore(t *testing.T) (*rules.Store, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "developer")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "baseline.json"), []byte(`{
  "context": "developer",
  "rules": [
    {"type": "allowed", "item": "VS Code", "score": 10},
    {"type": "prohibited", "item": "Steam", "severity": "High"}
  ]
}`), 0644))
	return rules.NewStore(root), filepath.Join(dir, "baseline.json")
}

func readRules(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Rules []map[string]any `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.Rules
}

func TestExtractRelevantTerms(t *testing.T) {
	fake := llmtest.New().OnText(termsMarker, "```json\n[\"Discord\", \"\", 42, \"VS Code\"]\n```")
	l := New(fake, rules.NewStore(t.TempDir()), nil)

	terms, err := l.ExtractRelevantTerms(context.Background(), "Discord #general", "developer", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Discord", "42", "VS Code"}, terms)
}

func TestExtractRelevantTerms_NonArrayIsError(t *testing.T) {
	fake := llmtest.New().OnText(termsMarker, `{"terms": ["Discord"]}`)
	l := New(fake, rules.NewStore(t.TempDir()), nil)

	_, err := l.ExtractRelevantTerms(context.Background(), "Discord", "developer", "")
	assert.Error(t, err)
}

func TestLearnUnknown_AppendsOneRule(t *testing.T) {
	store, path := seededStore(t)
	before := readRules(t, path)

	fake := llmtest.New().OnText(classifyMarker,
		"```json\n{\"type\": \"prohibited\", \"category\": \"Communication\", \"subcategory\": \"Chat\", \"severity\": \"Medium\", \"score\": 60, \"rationale\": \"social chat\", \"examples\": [\"Discord server\"]}\n```")
	l := New(fake, store, nil)

	rule, written, err := l.LearnUnknown(context.Background(), "Discord", "developer", "")
	require.NoError(t, err)
	assert.Equal(t, path, written)
	assert.Equal(t, "Discord", rule.Item, "item defaults to the requested term")
	assert.Equal(t, rules.KindProhibited, rule.Kind)

	after := readRules(t, path)
	require.Len(t, after, len(before)+1)
	assert.Equal(t, before, after[:len(before)], "existing entries must be untouched")
	assert.Equal(t, "Discord", after[len(before)]["item"])
	assert.Equal(t, "Communication", after[len(before)]["category"])

	prompts := fake.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], `role: "developer"`)
}

func TestLearnUnknown_ItemIsRequestedTerm(t *testing.T) {
	store, path := seededStore(t)
	fake := llmtest.New().OnText(classifyMarker, `{"type": "prohibited", "item": "Discord App", "severity": "Medium"}`)
	l := New(fake, store, nil)

	rule, _, err := l.LearnUnknown(context.Background(), "  Discord ", "developer", "")
	require.NoError(t, err)
	assert.Equal(t, "Discord", rule.Item)

	added := readRules(t, path)[2]
	assert.Equal(t, "Discord", added["item"])
	assert.Equal(t, "Discord App", added["model_item"])
}

func TestLearnUnknown_EmptyTerm(t *testing.T) {
	fake := llmtest.New()
	_, _, err := New(fake, rules.NewStore(t.TempDir()), nil).LearnUnknown(context.Background(), "  ", "developer", "")
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Zero(t, fake.Calls(classifyMarker))
}

func TestRun_RepeatedRunsLearnOnce(t *testing.T) {
	store, path := seededStore(t)
	fake := llmtest.New().
		OnText(termsMarker, `["Discord"]`).
		OnText(classifyMarker, `{"type": "prohibited", "item": "Discord App"}`)
	l := New(fake, store, nil)

	first := l.Run(context.Background(), []string{"Discord #general"}, "developer", "")
	require.Len(t, first.Learned, 1)

	for i := 0; i < 2; i++ {
		again := l.Run(context.Background(), []string{"Discord #general"}, "developer", "")
		assert.Empty(t, again.Unknown)
		assert.Empty(t, again.Learned)
	}

	assert.Equal(t, 1, fake.Calls(classifyMarker))
	got := readRules(t, path)
	require.Len(t, got, 3)
	assert.Equal(t, "Discord", got[2]["item"])
}

func TestLearnUnknown_CompanyScope(t *testing.T) {
	root := t.TempDir()
	fake := llmtest.New().OnText(classifyMarker, `{"type": "allowed", "item": "Jira"}`)
	l := New(fake, rules.NewStore(root), nil)

	_, written, err := l.LearnUnknown(context.Background(), "Jira", "developer", "acme")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "developer", "acme.json"), written)
}

func TestLearnUnknown_InvalidType(t *testing.T) {
	store, path := seededStore(t)
	before := readRules(t, path)

	fake := llmtest.New().OnText(classifyMarker, `{"type": "maybe", "item": "Discord"}`)
	_, _, err := New(fake, store, nil).LearnUnknown(context.Background(), "Discord", "developer", "")
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Equal(t, before, readRules(t, path))
}

func TestLearnUnknown_ModelErrors(t *testing.T) {
	store, _ := seededStore(t)

	fake := llmtest.New().On(classifyMarker, llmtest.Reply{Err: errors.New("connection reset")})
	_, _, err := New(fake, store, nil).LearnUnknown(context.Background(), "Discord", "developer", "")
	assert.ErrorContains(t, err, "connection reset")

	fake = llmtest.New().OnText(classifyMarker, "prohibited, I think")
	_, _, err = New(fake, store, nil).LearnUnknown(context.Background(), "Discord", "developer", "")
	assert.Error(t, err)
}

func TestRun_LearnsOnlyUnknownTerms(t *testing.T) {
	store, path := seededStore(t)
	fake := llmtest.New().
		OnText("Discord #general", `["Discord", "VS Code"]`).
		OnText("Steam library", `["Steam", "Discord", "Twitch"]`).
		OnText(`item: "Discord"`, `{"type": "prohibited", "item": "Discord"}`).
		OnText(`item: "Twitch"`, `not json at all`)
	l := New(fake, store, nil)

	report := l.Run(context.Background(), []string{"Discord #general", "", "Steam library"}, "developer", "")

	assert.Equal(t, []string{"Discord", "VS Code", "Steam", "Twitch"}, report.Terms)
	assert.Equal(t, []string{"Discord", "Twitch"}, report.Unknown)
	require.Len(t, report.Learned, 1)
	assert.Equal(t, "Discord", report.Learned[0].Rule.Item)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, StageClassify, report.Failures[0].Stage)
	assert.Equal(t, "Twitch", report.Failures[0].Item)

	assert.Equal(t, 1, fake.Calls(`item: "Discord"`), "a term seen twice is learned once")
	assert.Len(t, readRules(t, path), 3)
}

func TestRun_TermFailuresAreRecorded(t *testing.T) {
	store, _ := seededStore(t)
	fake := llmtest.New().
		On("first", llmtest.Reply{Err: errors.New("timeout")}).
		OnText("second", `["Steam"]`)

	report := New(fake, store, nil).Run(context.Background(), []string{"first", "second"}, "developer", "")

	require.Len(t, report.Failures, 1)
	assert.Equal(t, StageTerms, report.Failures[0].Stage)
	assert.Equal(t, []string{"Steam"}, report.Terms)
	assert.Empty(t, report.Unknown)
	assert.Empty(t, report.Learned)
}

func TestRun_MalformedRulesStopDiff(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "baseline.json"), []byte("{"), 0644))
	fake := llmtest.New().OnText(termsMarker, `["Discord"]`)

	report := New(fake, rules.NewStore(root), nil).Run(context.Background(), []string{"Discord"}, "developer", "")

	require.Len(t, report.Failures, 1)
	assert.Equal(t, StageKnown, report.Failures[0].Stage)
	assert.Zero(t, fake.Calls(classifyMarker))
}

// gatedClient blocks classification calls until released.
type gatedClient struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClient) Generate(ctx context.Context, _ string) (string, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return `{"type": "allowed", "item": "Figma"}`, nil
}

func (g *gatedClient) Name() string { return "gated" }

func TestLearnUnknown_ConcurrentCallsShareOneAppend(t *testing.T) {
	root := t.TempDir()
	client := &gatedClient{entered: make(chan struct{}), release: make(chan struct{})}
	l := New(client, rules.NewStore(root), nil)

	var wg sync.WaitGroup
	paths := make([]string, 3)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, p, err := l.LearnUnknown(context.Background(), "Figma", "designer", "")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}

	<-client.entered
	time.Sleep(100 * time.Millisecond)
	close(client.release)
	wg.Wait()

	assert.Equal(t, int32(1), client.calls.Load())
	assert.Len(t, readRules(t, filepath.Join(root, "designer", "baseline.json")), 1)
	for _, p := range paths {
		assert.Equal(t, filepath.Join(root, "designer", "baseline.json"), p)
	}
}
