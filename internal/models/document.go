package models

import (
	"sort"
	"strings"
)

// Section identifiers
const (
	SectionOverview = "overview"
	SectionInsights = "additional_insights"
	// SectionGlobal is the failing-section sentinel that requests a full
	// re-synthesis instead of targeted repair.
	SectionGlobal = "global"
)

// SubAnswer is the answer to one sub-question.
type SubAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SynthesisOutput is the structured answer. Repairs replace whole fields
// through WithSection and never edit one in place.
type SynthesisOutput struct {
	Overview           string               `json:"overview"`
	SubQuestions       map[string]SubAnswer `json:"subQuestions,omitempty"`
	AdditionalInsights string               `json:"additionalInsights,omitempty"`
	// Order keeps the caller's sub-question order; map iteration has none.
	Order []string `json:"order,omitempty"`
}

// Clone returns a deep copy.
func (s SynthesisOutput) Clone() SynthesisOutput {
	out := s
	if s.SubQuestions != nil {
		out.SubQuestions = make(map[string]SubAnswer, len(s.SubQuestions))
		for k, v := range s.SubQuestions {
			out.SubQuestions[k] = v
		}
	}
	out.Order = append([]string(nil), s.Order...)
	return out
}

// SubQuestionIDs returns sub-question ids in presentation order.
func (s SynthesisOutput) SubQuestionIDs() []string {
	seen := make(map[string]struct{}, len(s.SubQuestions))
	var ids []string
	for _, id := range s.Order {
		if _, ok := s.SubQuestions[id]; ok {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	var rest []string
	for id := range s.SubQuestions {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

// SectionIDs lists every section present in the document.
func (s SynthesisOutput) SectionIDs() []string {
	ids := []string{SectionOverview}
	ids = append(ids, s.SubQuestionIDs()...)
	if strings.TrimSpace(s.AdditionalInsights) != "" {
		ids = append(ids, SectionInsights)
	}
	return ids
}

// HasSection reports whether id names a section of the document.
func (s SynthesisOutput) HasSection(id string) bool {
	_, ok := s.Section(id)
	return ok
}

// Section returns the text of section id.
func (s SynthesisOutput) Section(id string) (string, bool) {
	switch id {
	case SectionOverview:
		return s.Overview, true
	case SectionInsights:
		return s.AdditionalInsights, s.AdditionalInsights != ""
	}
	sa, ok := s.SubQuestions[id]
	return sa.Answer, ok
}

// SectionTitle returns a human-readable title for section id.
func (s SynthesisOutput) SectionTitle(id string) string {
	switch id {
	case SectionOverview:
		return "Overview"
	case SectionInsights:
		return "Additional Insights"
	}
	if sa, ok := s.SubQuestions[id]; ok && sa.Question != "" {
		return sa.Question
	}
	return id
}

// WithSection returns a copy of s with section id replaced by text. Unknown
// ids leave the copy unchanged.
func (s SynthesisOutput) WithSection(id, text string) SynthesisOutput {
	out := s.Clone()
	switch id {
	case SectionOverview:
		out.Overview = text
	case SectionInsights:
		out.AdditionalInsights = text
	default:
		if sa, ok := out.SubQuestions[id]; ok {
			sa.Answer = text
			out.SubQuestions[id] = sa
		}
	}
	return out
}

// Text renders the document as plain text with section headers, for
// critique prompts.
func (s SynthesisOutput) Text() string {
	var b strings.Builder
	for i, id := range s.SectionIDs() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		body, _ := s.Section(id)
		b.WriteString("## [")
		b.WriteString(id)
		b.WriteString("] ")
		b.WriteString(s.SectionTitle(id))
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}
