package papers

import (
	"strings"
)

// categoryHints maps keywords to arXiv subject categories.
var categoryHints = map[string][]string{
	"llm":              {"cs.CL", "cs.AI"},
	"language":         {"cs.CL"},
	"transformer":      {"cs.CL", "cs.LG"},
	"nlp":              {"cs.CL"},
	"learning":         {"cs.LG"},
	"neural":           {"cs.LG", "cs.NE"},
	"reinforcement":    {"cs.LG", "cs.AI"},
	"agent":            {"cs.AI", "cs.MA"},
	"agents":           {"cs.AI", "cs.MA"},
	"retrieval":        {"cs.IR", "cs.CL"},
	"rag":              {"cs.IR", "cs.CL"},
	"search":           {"cs.IR"},
	"vision":           {"cs.CV"},
	"image":            {"cs.CV"},
	"robot":            {"cs.RO"},
	"robotics":         {"cs.RO"},
	"security":         {"cs.CR"},
	"cryptography":     {"cs.CR"},
	"distributed":      {"cs.DC"},
	"database":         {"cs.DB"},
	"compiler":         {"cs.PL"},
	"programming":      {"cs.PL", "cs.SE"},
	"software":         {"cs.SE"},
	"testing":          {"cs.SE"},
	"network":          {"cs.NI"},
	"quantum":          {"quant-ph"},
	"optimization":     {"math.OC", "cs.LG"},
	"statistics":       {"stat.ML"},
	"bayesian":         {"stat.ML"},
	"graph":            {"cs.DS", "cs.LG"},
	"algorithm":        {"cs.DS"},
	"concurrency":      {"cs.DC"},
	"microservices":    {"cs.SE", "cs.DC"},
	"recommendation":   {"cs.IR"},
	"speech":           {"eess.AS", "cs.CL"},
	"hallucination":    {"cs.CL"},
	"benchmark":        {"cs.LG"},
	"embedding":        {"cs.CL", "cs.LG"},
	"embeddings":       {"cs.CL", "cs.LG"},
	"fine-tuning":      {"cs.CL", "cs.LG"},
	"consensus":        {"cs.DC"},
	"economics":        {"econ.GN"},
	"finance":          {"q-fin.GN"},
	"biology":          {"q-bio.QM"},
	"climate":          {"physics.ao-ph"},
	"physics":          {"physics.comp-ph"},
	"multi-agent":      {"cs.MA"},
	"interpretability": {"cs.LG", "cs.AI"},
}

// InferCategories returns the distinct categories hinted by keywords, in
// first-seen order, capped at max.
func InferCategories(keywords []string, max int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keywords {
		for _, c := range categoryHints[strings.ToLower(k)] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
			if max > 0 && len(out) >= max {
				return out
			}
		}
	}
	return out
}

// NarrowQuery requires every keyword and, when categories are known,
// restricts to them.
func NarrowQuery(keywords, categories []string) string {
	terms := make([]string, 0, len(keywords))
	for _, k := range keywords {
		terms = append(terms, "all:"+quoteTerm(k))
	}
	q := strings.Join(terms, " AND ")
	if len(categories) > 0 {
		cats := make([]string, 0, len(categories))
		for _, c := range categories {
			cats = append(cats, "cat:"+c)
		}
		if q != "" {
			q = "(" + q + ") AND "
		}
		q += "(" + strings.Join(cats, " OR ") + ")"
	}
	return q
}

// BroadQuery matches any keyword in any category.
func BroadQuery(keywords []string) string {
	terms := make([]string, 0, len(keywords))
	for _, k := range keywords {
		terms = append(terms, "all:"+quoteTerm(k))
	}
	return strings.Join(terms, " OR ")
}

func quoteTerm(k string) string {
	if strings.ContainsAny(k, " -+") {
		return `"` + k + `"`
	}
	return k
}
