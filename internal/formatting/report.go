// Package formatting renders a finished synthesis as markdown.
package formatting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Section is one rendered section, for programmatic consumers.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Sections lists the document's sections in presentation order, skipping
// empty ones.
func Sections(doc models.SynthesisOutput) []Section {
	var out []Section
	for _, id := range doc.SectionIDs() {
		body, _ := doc.Section(id)
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		out = append(out, Section{ID: id, Title: doc.SectionTitle(id), Content: body})
	}
	return out
}

var (
	citationRe = regexp.MustCompile(`\[(\d{1,3})\]`)
	headingRe  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+.*$`)
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+(\s|$)`)
)

// ExecutiveSummary returns the first few sentences of the overview's first
// paragraph, headings removed, cut to maxLen runes.
func ExecutiveSummary(doc models.SynthesisOutput, maxLen int) string {
	text := strings.TrimSpace(headingRe.ReplaceAllString(doc.Overview, ""))
	if text == "" {
		return ""
	}
	para := text
	if i := strings.Index(text, "\n\n"); i >= 0 {
		para = text[:i]
	}
	para = strings.Join(strings.Fields(para), " ")
	sentences := sentenceRe.FindAllString(para, 3)
	summary := para
	if len(sentences) > 0 {
		summary = strings.TrimSpace(strings.Join(sentences, ""))
	}
	if maxLen > 0 {
		summary = util.TruncateString(summary, maxLen, true)
	}
	return summary
}

// Options control Render.
type Options struct {
	Title string
	// Notes are rendered as a caveat block after the title.
	Notes []string
	// SummaryLen caps the executive summary; zero omits it.
	SummaryLen int
}

// Render produces the markdown report with a numbered sources section.
func Render(doc models.SynthesisOutput, sources []string, opts Options) string {
	var b strings.Builder
	if t := strings.TrimSpace(opts.Title); t != "" {
		fmt.Fprintf(&b, "# %s\n\n", t)
	}
	for _, n := range opts.Notes {
		fmt.Fprintf(&b, "> **Note:** %s\n", n)
	}
	if len(opts.Notes) > 0 {
		b.WriteString("\n")
	}
	if opts.SummaryLen > 0 {
		if s := ExecutiveSummary(doc, opts.SummaryLen); s != "" {
			fmt.Fprintf(&b, "## Executive Summary\n\n%s\n\n", s)
		}
	}
	for _, s := range Sections(doc) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, s.Content)
	}
	return FormatReportWithCitations(strings.TrimSpace(b.String()), sources)
}

// FormatReportWithCitations replaces any "## Sources" section at the end of
// report with one rebuilt from sources, numbered from 1, marking which
// numbers the text cites inline.
func FormatReportWithCitations(report string, sources []string) string {
	s := strings.TrimSpace(report)
	used := map[int]bool{}
	for _, m := range citationRe.FindAllStringSubmatch(s, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			used[n] = true
		}
	}

	// the last heading wins so an earlier mention in the body is kept
	if idx := strings.LastIndex(strings.ToLower(s), "## sources"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	sources = util.Dedup(sources)
	if len(sources) == 0 {
		return s
	}
	lines := make([]string, 0, len(sources))
	for i, src := range sources {
		label := "Additional source"
		if used[i+1] {
			label = "Used inline"
		}
		lines = append(lines, fmt.Sprintf("[%d] %s - %s", i+1, src, label))
	}

	var b strings.Builder
	if s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString("## Sources\n")
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}
