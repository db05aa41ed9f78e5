// Package llmtest provides scripted providers for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
)

// ReplyFunc produces the content for one request.
type ReplyFunc func(req llm.Request) (string, error)

// Fake is a Provider driven by a ReplyFunc. It records every request.
type Fake struct {
	name  string
	reply ReplyFunc

	mu    sync.Mutex
	calls []llm.Request
}

// New returns a fake that answers with fn.
func New(name string, fn ReplyFunc) *Fake {
	return &Fake{name: name, reply: fn}
}

// Static always answers content.
func Static(name, content string) *Fake {
	return New(name, func(llm.Request) (string, error) { return content, nil })
}

// Failing always returns err.
func Failing(name string, err error) *Fake {
	return New(name, func(llm.Request) (string, error) { return "", err })
}

// Sequence answers contents in order, repeating the last one.
func Sequence(name string, contents ...string) *Fake {
	var mu sync.Mutex
	i := 0
	return New(name, func(llm.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(contents) == 0 {
			return "", llm.ErrEmptyResponse
		}
		c := contents[i]
		if i < len(contents)-1 {
			i++
		}
		return c, nil
	})
}

// Rule answers requests whose component matches, or whose system or
// prompt text contains Match.
type Rule struct {
	Component string
	Match     string
	Reply     ReplyFunc
}

// Reply builds a Rule with fixed content keyed on a component.
func Reply(component, content string) Rule {
	return Rule{Component: component, Reply: func(llm.Request) (string, error) { return content, nil }}
}

// Router returns a fake that answers with the first matching rule. Requests
// with no matching rule fail with llm.ErrEmptyResponse.
func Router(name string, rules ...Rule) *Fake {
	return New(name, func(req llm.Request) (string, error) {
		for _, r := range rules {
			if r.Component != "" && r.Component != req.Component {
				continue
			}
			if r.Match != "" && !strings.Contains(req.System+"\n"+req.Prompt, r.Match) {
				continue
			}
			return r.Reply(req)
		}
		return "", llm.ErrEmptyResponse
	})
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	content, err := f.reply(req)
	if err != nil {
		return llm.Response{}, err
	}
	if content == "" {
		return llm.Response{}, llm.ErrEmptyResponse
	}
	return llm.Response{Content: content, Provider: f.name, Model: "fake"}, nil
}

// Calls returns a copy of the recorded requests.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

// CallCount returns the number of requests, optionally for one component.
func (f *Fake) CallCount(component string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if component == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if c.Component == component {
			n++
		}
	}
	return n
}
