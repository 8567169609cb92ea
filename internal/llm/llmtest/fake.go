// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Reply is one scripted model answer.
type Reply struct {
	Text string
	Err  error
}

// Fake answers prompts from a script. Rules are matched in order against the
// prompt text; a prompt no rule matches gets Default.
type Fake struct {
	mu      sync.Mutex
	rules   []rule
	Default Reply
	prompts []string
}

type rule struct {
	contains string
	replies  []Reply
}

// New creates a fake whose unmatched prompts fail.
func New() *Fake {
	return &Fake{Default: Reply{Err: fmt.Errorf("llmtest: no scripted reply")}}
}

// On scripts replies for prompts containing substr. Successive matching calls
// consume replies in order; the last reply repeats.
func (f *Fake) On(substr string, replies ...Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: substr, replies: replies})
	return f
}

// OnText is On with plain text replies.
func (f *Fake) OnText(substr string, texts ...string) *Fake {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return f.On(substr, replies...)
}

// Generate implements llm.Client.
func (f *Fake) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)

	for i := range f.rules {
		r := &f.rules[i]
		if !strings.Contains(prompt, r.contains) || len(r.replies) == 0 {
			continue
		}
		reply := r.replies[0]
		if len(r.replies) > 1 {
			r.replies = r.replies[1:]
		}
		return reply.Text, reply.Err
	}
	return f.Default.Text, f.Default.Err
}

// Name implements llm.Client.
func (f *Fake) Name() string { return "fake" }

// Prompts returns every prompt received, in order.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// Calls counts prompts containing substr.
func (f *Fake) Calls(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}
