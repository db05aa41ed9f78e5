package papers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm/llmtest"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <published>2024-01-02T10:00:00Z</published>
    <title>Retrieval Augmented
      Generation for Agents</title>
    <summary>  We study retrieval for language agents.  </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2401.00001v1" rel="related" type="application/pdf"/>
    <category term="cs.CL"/>
    <category term="cs.IR"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v1</id>
    <published>2024-01-03T10:00:00Z</published>
    <title>Protein Folding at Scale</title>
    <summary>Unrelated biology work.</summary>
    <author><name>Someone</name></author>
  </entry>
</feed>`

func TestParseFeed(t *testing.T) {
	papers, err := ParseFeed([]byte(sampleFeed))
	require.NoError(t, err)
	require.Len(t, papers, 2)
	p := papers[0]
	assert.Equal(t, "2401.00001v1", p.ID)
	assert.Equal(t, "Retrieval Augmented Generation for Agents", p.Title)
	assert.Equal(t, "We study retrieval for language agents.", p.Abstract)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, p.Authors)
	assert.Equal(t, []string{"cs.CL", "cs.IR"}, p.Categories)
	assert.Equal(t, 2024, p.Published.Year())

	_, err = ParseFeed([]byte("<feed><entry>"))
	assert.Error(t, err)
}

func TestQueryBuilders(t *testing.T) {
	kw := []string{"retrieval", "agents", "multi-agent"}
	cats := InferCategories(kw, 3)
	assert.Equal(t, []string{"cs.IR", "cs.CL", "cs.AI"}, cats)
	assert.Equal(t, `(all:retrieval AND all:agents AND all:"multi-agent") AND (cat:cs.IR OR cat:cs.CL)`,
		NarrowQuery(kw, cats[:2]))
	assert.Equal(t, `all:retrieval OR all:agents OR all:"multi-agent"`, BroadQuery(kw))
	assert.Equal(t, "all:x", NarrowQuery([]string{"x"}, nil))
}

type scriptedIndex struct {
	mu      sync.Mutex
	queries []string
	replies []func(q string) ([]byte, error)
}

func (s *scriptedIndex) Query(_ context.Context, q string, _ int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.queries)
	s.queries = append(s.queries, q)
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i](q)
}

func feed(b string) func(string) ([]byte, error) {
	return func(string) ([]byte, error) { return []byte(b), nil }
}

func rateLimited(string) ([]byte, error) { return nil, ErrRateLimited }

const emptyFeed = `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`

func TestSearcherRetriesThenSucceeds(t *testing.T) {
	idx := &scriptedIndex{replies: []func(string) ([]byte, error){rateLimited, rateLimited, feed(sampleFeed)}}
	s := NewSearcher(idx, SearcherOptions{
		Backoff: ratecontrol.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxRetries: 3},
		Logger:  zaptest.NewLogger(t),
	})
	papers := s.Search(context.Background(), "retrieval for language agents")
	assert.Len(t, idx.queries, 3)
	// lexical filter drops the biology paper
	require.Len(t, papers, 1)
	assert.Equal(t, "2401.00001v1", papers[0].ID)
}

func TestSearcherExhaustedRetriesReturnsEmpty(t *testing.T) {
	idx := &scriptedIndex{replies: []func(string) ([]byte, error){rateLimited}}
	s := NewSearcher(idx, SearcherOptions{
		Backoff: ratecontrol.Backoff{Base: time.Millisecond, MaxRetries: 2},
		Logger:  zaptest.NewLogger(t),
	})
	assert.Empty(t, s.Search(context.Background(), "retrieval agents"))
	// narrow query: 3 attempts, broad query: 3 attempts
	assert.Len(t, idx.queries, 6)
}

func TestSearcherBroadFallbackRunsOnce(t *testing.T) {
	idx := &scriptedIndex{replies: []func(string) ([]byte, error){feed(emptyFeed), feed(emptyFeed), feed(sampleFeed)}}
	s := NewSearcher(idx, SearcherOptions{Logger: zaptest.NewLogger(t)})
	assert.Empty(t, s.Search(context.Background(), "retrieval agents"))
	require.Len(t, idx.queries, 2)
	assert.Contains(t, idx.queries[0], " AND ")
	assert.Contains(t, idx.queries[1], " OR ")
	assert.NotContains(t, idx.queries[1], "cat:")
}

func TestSearcherIndexErrorIsEmpty(t *testing.T) {
	idx := &scriptedIndex{replies: []func(string) ([]byte, error){func(string) ([]byte, error) { return nil, errors.New("dns") }}}
	s := NewSearcher(idx, SearcherOptions{Logger: zaptest.NewLogger(t)})
	assert.Empty(t, s.Search(context.Background(), "retrieval agents"))
}

func TestSearcherJudgeRevalidation(t *testing.T) {
	idx := &scriptedIndex{replies: []func(string) ([]byte, error){feed(sampleFeed)}}
	judge := llmtest.Static("judge", `{"relevant": [1, 1, 7]}`)
	s := NewSearcher(idx, SearcherOptions{Judge: judge, JudgeTimeout: 30 * time.Second, Logger: zaptest.NewLogger(t)})
	papers := s.Search(context.Background(), "retrieval agents")
	require.Len(t, papers, 1)
	assert.Equal(t, "2401.00002v1", papers[0].ID)
	require.Len(t, judge.Calls(), 1)
	assert.Equal(t, "paper_relevance", judge.Calls()[0].Component)
	assert.Equal(t, 30*time.Second, judge.Calls()[0].Timeout)

	// unparseable judge output falls back to keyword overlap
	idx = &scriptedIndex{replies: []func(string) ([]byte, error){feed(sampleFeed)}}
	s = NewSearcher(idx, SearcherOptions{Judge: llmtest.Static("judge", "no idea"), Logger: zaptest.NewLogger(t)})
	papers = s.Search(context.Background(), "retrieval agents")
	require.Len(t, papers, 1)
	assert.Equal(t, "2401.00001v1", papers[0].ID)
}

func TestSearcherHonoursSpacing(t *testing.T) {
	idx := &scriptedIndex{replies: []func(string) ([]byte, error){feed(emptyFeed)}}
	s := NewSearcher(idx, SearcherOptions{Spacer: ratecontrol.NewSpacer(50 * time.Millisecond), Logger: zaptest.NewLogger(t)})
	start := time.Now()
	s.Search(context.Background(), "retrieval agents")
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestArxivSignalsRateLimit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.True(t, strings.HasPrefix(r.URL.Query().Get("search_query"), "all:"))
		assert.Equal(t, "4", r.URL.Query().Get("max_results"))
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	a := NewArxiv(srv.URL, circuitbreaker.NewHTTPWrapper(srv.Client(), "arxiv-test", "papers", zaptest.NewLogger(t)))
	_, err := a.Query(context.Background(), "all:x", 4)
	assert.ErrorIs(t, err, ErrRateLimited)
	body, err := a.Query(context.Background(), "all:x", 4)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<feed")
}
