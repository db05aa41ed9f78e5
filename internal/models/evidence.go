package models

import (
	"fmt"
	"strings"
	"time"
)

// WebResult is what a web-search provider returns for one query.
type WebResult struct {
	Query   string   `json:"query,omitempty"`
	Content string   `json:"content"`
	Sources []string `json:"sources"`
}

// Empty reports whether the result carries nothing usable.
func (w *WebResult) Empty() bool {
	return w == nil || (w.Content == "" && len(w.Sources) == 0)
}

// Paper is one entry from the academic index.
type Paper struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Abstract   string    `json:"abstract"`
	Published  time.Time `json:"published"`
	URL        string    `json:"url,omitempty"`
	Categories []string  `json:"categories,omitempty"`
}

// LibraryDoc is documentation fetched for one tech-stack entry.
type LibraryDoc struct {
	Library string `json:"library"`
	Topic   string `json:"topic"`
	Content string `json:"content"`
	Found   bool   `json:"found"`
}

// SubQuestionResult holds the evidence gathered for one sub-question.
type SubQuestionResult struct {
	ID       string     `json:"id"`
	Question string     `json:"question"`
	Web      *WebResult `json:"web,omitempty"`
}

// ConsensusValidation records how far the configured models agree with the
// deep analysis.
type ConsensusValidation struct {
	Agreement float64  `json:"agreement"`
	Votes     int      `json:"votes"`
	Notes     []string `json:"notes,omitempty"`
}

// GapFill is evidence gathered during repair for a named gap.
type GapFill struct {
	Gap    string     `json:"gap"`
	Result *WebResult `json:"result,omitempty"`
}

// ExecutionResult aggregates everything gathered for one run. It is owned by
// the run and only ever grows.
type ExecutionResult struct {
	Depth              int                  `json:"depth"`
	WebResult          *WebResult           `json:"webResult,omitempty"`
	DeepAnalysis       string               `json:"deepAnalysis,omitempty"`
	LibraryDocs        []LibraryDoc         `json:"libraryDocs,omitempty"`
	AcademicPapers     []Paper              `json:"academicPapers,omitempty"`
	SubQuestionResults []SubQuestionResult  `json:"subQuestionResults,omitempty"`
	DocCache           map[string]string    `json:"docCache,omitempty"`
	Consensus          *ConsensusValidation `json:"consensus,omitempty"`
	GapFills           []GapFill            `json:"gapFills,omitempty"`
}

// Sources returns every distinct source URL in gathering order.
func (r *ExecutionResult) Sources() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(urls ...string) {
		for _, u := range urls {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	if r.WebResult != nil {
		add(r.WebResult.Sources...)
	}
	for _, sq := range r.SubQuestionResults {
		if sq.Web != nil {
			add(sq.Web.Sources...)
		}
	}
	for _, p := range r.AcademicPapers {
		add(p.URL)
	}
	for _, g := range r.GapFills {
		if g.Result != nil {
			add(g.Result.Sources...)
		}
	}
	return out
}

// GlobalManifest is the canonical fact sheet shared by every synthesis call.
type GlobalManifest struct {
	KeyFacts    []string          `json:"keyFacts"`
	Numerics    map[string]string `json:"numerics"`
	Sources     []string          `json:"sources"`
	ExtractedAt time.Time         `json:"extractedAt"`
}

// Empty reports whether the manifest has no facts and no numerics.
func (m GlobalManifest) Empty() bool {
	return len(m.KeyFacts) == 0 && len(m.Numerics) == 0
}

// EvidenceText renders everything gathered as prompt context. Each block is
// cut to perBlock runes when perBlock is positive.
func (r *ExecutionResult) EvidenceText(perBlock int) string {
	if r == nil {
		return ""
	}
	cut := func(s string) string {
		s = strings.TrimSpace(s)
		if perBlock <= 0 {
			return s
		}
		runes := []rune(s)
		if len(runes) <= perBlock {
			return s
		}
		return string(runes[:perBlock]) + "..."
	}

	var b strings.Builder
	if !r.WebResult.Empty() {
		b.WriteString("### Web search\n")
		b.WriteString(cut(r.WebResult.Content))
		b.WriteString("\n\n")
	}
	for _, sq := range r.SubQuestionResults {
		if sq.Web.Empty() {
			continue
		}
		fmt.Fprintf(&b, "### Sub-question [%s] %s\n%s\n\n", sq.ID, sq.Question, cut(sq.Web.Content))
	}
	if len(r.AcademicPapers) > 0 {
		b.WriteString("### Academic papers\n")
		for _, p := range r.AcademicPapers {
			year := ""
			if !p.Published.IsZero() {
				year = fmt.Sprintf(" (%d)", p.Published.Year())
			}
			fmt.Fprintf(&b, "- %s%s: %s\n", p.Title, year, cut(p.Abstract))
		}
		b.WriteString("\n")
	}
	for _, d := range r.LibraryDocs {
		if !d.Found {
			continue
		}
		fmt.Fprintf(&b, "### Documentation: %s\n%s\n\n", d.Library, cut(d.Content))
	}
	if a := strings.TrimSpace(r.DeepAnalysis); a != "" {
		fmt.Fprintf(&b, "### Analysis\n%s\n\n", cut(a))
	}
	for _, g := range r.GapFills {
		if g.Result.Empty() {
			continue
		}
		fmt.Fprintf(&b, "### Follow-up: %s\n%s\n\n", g.Gap, cut(g.Result.Content))
	}
	return strings.TrimSpace(b.String())
}
