package synthesis

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/manifest"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

const (
	synthSystem     = "You are a senior research analyst writing a precise, well-sourced answer. Respond with JSON only."
	subAnswerSystem = "You answer one sub-question of a larger research report. Stay consistent with the overview and the fact manifest. Respond with the answer text only."
	repairSystem    = "You are an editor making the smallest possible correction to one section of a research report. Respond with the corrected section text only."

	evidencePerBlock = 1500
)

func writeCommon(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "Research question: %s\n", in.Query)
	if c := strings.TrimSpace(in.Context); c != "" {
		fmt.Fprintf(b, "\nContext:\n%s\n", c)
	}
	if len(in.Options.Constraints) > 0 {
		fmt.Fprintf(b, "\nConstraints: %s\n", strings.Join(in.Options.Constraints, "; "))
	}
	if m := manifest.Render(in.Manifest); m != "" {
		fmt.Fprintf(b, "\n%s\n", m)
	}
}

func writeMandatory(b *strings.Builder, in Input, lead string) {
	if len(in.Mandatory) == 0 {
		return
	}
	fmt.Fprintf(b, "\nMANDATORY: the previous answer was rejected. %s\n", lead)
	for _, m := range in.Mandatory {
		fmt.Fprintf(b, "- %s\n", m)
	}
}

func writeStyle(b *strings.Builder, in Input) {
	if in.Plan.WantsCode(false) {
		b.WriteString("Include short code examples where they clarify usage.\n")
	}
	if f := strings.TrimSpace(in.Plan.OutputFormat); f != "" {
		fmt.Fprintf(b, "Preferred format: %s.\n", f)
	}
}

func documentPrompt(in Input) string {
	var b strings.Builder
	writeCommon(&b, in)
	writeMandatory(&b, in, "The new answer must explicitly address each of:")
	if ev := in.Evidence.EvidenceText(evidencePerBlock); ev != "" {
		fmt.Fprintf(&b, "\nEvidence:\n%s\n", ev)
	}
	if len(in.Options.SubQuestions) > 0 {
		b.WriteString("\nThe following sub-questions will be answered separately; write an overview that frames them without answering each in detail:\n")
		for _, sq := range in.Options.SubQuestions {
			fmt.Fprintf(&b, "- %s\n", sq.Question)
		}
	}
	b.WriteString("\n")
	writeStyle(&b, in)
	b.WriteString(`
Return a JSON object:
{"overview": "the main answer in markdown", "additionalInsights": "caveats, open questions or related findings (may be empty)"}`)
	return b.String()
}

func subQuestionEvidence(in Input, id string) string {
	if in.Evidence == nil {
		return ""
	}
	for _, r := range in.Evidence.SubQuestionResults {
		if r.ID == id && !r.Web.Empty() {
			return strings.TrimSpace(r.Web.Content)
		}
	}
	return ""
}

func subAnswerPrompt(in Input, sq models.SubQuestion, anchor string, fix []string) string {
	var b strings.Builder
	writeCommon(&b, in)
	if anchor != "" {
		fmt.Fprintf(&b, "\nOVERVIEW (fixed; do not contradict it):\n%s\n", anchor)
	}
	writeMandatory(&b, in, "Address each of these that bears on this sub-question:")
	if ev := subQuestionEvidence(in, sq.ID); ev != "" {
		fmt.Fprintf(&b, "\nEvidence for this sub-question:\n%s\n", ev)
	} else if ev := in.Evidence.EvidenceText(evidencePerBlock / 2); ev != "" {
		fmt.Fprintf(&b, "\nEvidence:\n%s\n", ev)
	}
	if len(fix) > 0 {
		b.WriteString("\nThe previous answer was inconsistent. Resolve these conflicts using the manifest's exact values:\n")
		for _, f := range fix {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	fmt.Fprintf(&b, "\nSub-question: %s\n", sq.Question)
	writeStyle(&b, in)
	b.WriteString("Answer in at most three paragraphs.")
	return b.String()
}

func repairPrompt(in Input, doc models.SynthesisOutput, section, current string, critiques []string) string {
	var b strings.Builder
	writeCommon(&b, in)
	if section != models.SectionOverview && doc.Overview != "" {
		fmt.Fprintf(&b, "\nOVERVIEW (fixed anchor):\n%s\n", doc.Overview)
	}
	if ev := in.Evidence.EvidenceText(evidencePerBlock / 2); ev != "" {
		fmt.Fprintf(&b, "\nEvidence:\n%s\n", ev)
	}
	fmt.Fprintf(&b, "\nSECTION \"%s\" (current text):\n%s\n", doc.SectionTitle(section), current)
	b.WriteString("\nReviewer critiques for this section:\n")
	for _, c := range critiques {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString(`
MINIMAL EDIT: rewrite only what the critiques require. Preserve every sentence the critiques do not mention verbatim. Do not restructure the section, add headings, or change its length by more than a few sentences.`)
	return b.String()
}
