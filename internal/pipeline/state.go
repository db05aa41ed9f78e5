package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
)

// Observer receives progress at fixed checkpoints. Calls are synchronous.
type Observer interface {
	OnProgress(step string, remaining int)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(step string, remaining int)

func (f ObserverFunc) OnProgress(step string, remaining int) { f(step, remaining) }

type nopObserver struct{}

func (nopObserver) OnProgress(string, int) {}

// RunState holds the counters of one run. Provider calls are counted from
// concurrent fan-outs, so every field is atomic.
type RunState struct {
	providerCalls  atomic.Int64
	providerErrors atomic.Int64
	checksRun      atomic.Int64
	rerolls        atomic.Int64
	repairs        atomic.Int64
}

// Counters is a snapshot of RunState.
type Counters struct {
	ProviderCalls  int64 `json:"providerCalls"`
	ProviderErrors int64 `json:"providerErrors"`
	ChecksRun      int64 `json:"checksRun"`
	Rerolls        int64 `json:"rerolls"`
	Repairs        int64 `json:"repairs"`
}

func (s *RunState) Snapshot() Counters {
	return Counters{
		ProviderCalls:  s.providerCalls.Load(),
		ProviderErrors: s.providerErrors.Load(),
		ChecksRun:      s.checksRun.Load(),
		Rerolls:        s.rerolls.Load(),
		Repairs:        s.repairs.Load(),
	}
}

// countingProvider attributes every call to the run that made it.
type countingProvider struct {
	inner llm.Provider
	state *RunState
}

func (c countingProvider) Name() string { return c.inner.Name() }

func (c countingProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.state.providerCalls.Add(1)
	resp, err := c.inner.Generate(ctx, req)
	if err != nil {
		c.state.providerErrors.Add(1)
	}
	return resp, err
}

func (s *RunState) wrap(pool *llm.Pool) *llm.Pool {
	all := pool.All()
	wrapped := make([]llm.Provider, len(all))
	for i, p := range all {
		wrapped[i] = countingProvider{inner: p, state: s}
	}
	return llm.NewPool(wrapped...)
}
