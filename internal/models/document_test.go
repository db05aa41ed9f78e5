package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleDoc() SynthesisOutput {
	return SynthesisOutput{
		Overview: "overview text",
		SubQuestions: map[string]SubAnswer{
			"q2": {Question: "Second?", Answer: "two"},
			"q1": {Question: "First?", Answer: "one"},
		},
		Order: []string{"q2", "q1"},
	}
}

func TestSectionIDsFollowOrder(t *testing.T) {
	doc := sampleDoc()
	assert.Equal(t, []string{SectionOverview, "q2", "q1"}, doc.SectionIDs())

	doc.AdditionalInsights = "extra"
	doc.Order = nil
	assert.Equal(t, []string{SectionOverview, "q1", "q2", SectionInsights}, doc.SectionIDs())
}

func TestWithSectionDoesNotMutateOriginal(t *testing.T) {
	doc := sampleDoc()
	next := doc.WithSection("q1", "ONE")
	assert.Equal(t, "one", doc.SubQuestions["q1"].Answer)
	assert.Equal(t, "ONE", next.SubQuestions["q1"].Answer)
	assert.Equal(t, "First?", next.SubQuestions["q1"].Question)

	next = doc.WithSection(SectionOverview, "new overview")
	assert.Equal(t, "overview text", doc.Overview)
	assert.Equal(t, "new overview", next.Overview)

	unchanged := doc.WithSection("missing", "x")
	assert.Equal(t, doc, unchanged)
}

func TestSectionLookup(t *testing.T) {
	doc := sampleDoc()
	text, ok := doc.Section("q2")
	assert.True(t, ok)
	assert.Equal(t, "two", text)
	assert.False(t, doc.HasSection(SectionInsights))
	assert.Equal(t, "Second?", doc.SectionTitle("q2"))
	assert.Contains(t, doc.Text(), "## [q1] First?\none")
}

func TestParseSeverity(t *testing.T) {
	s, ok := ParseSeverity(" major ")
	assert.True(t, ok)
	assert.Equal(t, SeverityMajor, s)
	_, ok = ParseSeverity("blocker")
	assert.False(t, ok)
	assert.True(t, SeverityCritical.Blocking())
	assert.False(t, SeverityMinor.Blocking())
}

func TestExecutionResultSources(t *testing.T) {
	r := &ExecutionResult{
		WebResult:          &WebResult{Sources: []string{"https://a", "https://b"}},
		SubQuestionResults: []SubQuestionResult{{Web: &WebResult{Sources: []string{"https://b", "https://c"}}}},
		AcademicPapers:     []Paper{{URL: "https://arxiv.org/abs/1"}},
	}
	assert.Equal(t, []string{"https://a", "https://b", "https://c", "https://arxiv.org/abs/1"}, r.Sources())
	var nilResult *ExecutionResult
	assert.Nil(t, nilResult.Sources())
}

func TestEvidenceText(t *testing.T) {
	r := &ExecutionResult{
		WebResult:          &WebResult{Content: "web content that is long"},
		SubQuestionResults: []SubQuestionResult{{ID: "q1", Question: "Why?", Web: &WebResult{Content: "because"}}, {ID: "q2"}},
		LibraryDocs:        []LibraryDoc{{Library: "gin", Content: "gin docs", Found: true}, {Library: "echo", Found: false}},
		DeepAnalysis:       "analysis",
	}
	text := r.EvidenceText(8)
	assert.Contains(t, text, "### Web search\nweb cont...")
	assert.Contains(t, text, "### Sub-question [q1] Why?\nbecause")
	assert.Contains(t, text, "### Documentation: gin")
	assert.NotContains(t, text, "echo")
	assert.NotContains(t, text, "[q2]")
	var nilResult *ExecutionResult
	assert.Equal(t, "", nilResult.EvidenceText(0))
}
