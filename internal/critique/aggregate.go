package critique

import (
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Rules are the HCSP thresholds.
type Rules struct {
	// MajorCeiling fails the verdict when the median MAJOR count across
	// voters reaches it.
	MajorCeiling int
	// GlobalSpread is the number of failing sections at which thinly spread
	// critiques request a full re-synthesis.
	GlobalSpread int
}

func (r Rules) withDefaults() Rules {
	if r.MajorCeiling <= 0 {
		r.MajorCeiling = 3
	}
	if r.GlobalSpread < 2 {
		r.GlobalSpread = 3
	}
	return r
}

// Aggregate applies HCSP to a set of ballots. Any CRITICAL critique fails
// the verdict whatever the other voters say. Otherwise the verdict fails when
// the median per-voter MAJOR count reaches the ceiling, so one harsh voter
// cannot fail a document on its own.
func Aggregate(ballots Ballots, rules Rules) models.SufficiencyVerdict {
	rules = rules.withDefaults()
	v := models.SufficiencyVerdict{
		CriticalGaps:         []string{},
		StylisticPreferences: []string{},
		FailingSections:      []string{},
		Details:              make(map[string][]models.CategorizedCritique, len(ballots)),
	}

	var (
		majors       = make([]int, 0, len(ballots))
		critical     = map[string]struct{}{}
		criticalSecs []string
		majorSecs    []string
		// distinct failing issues per section, for the spread rule
		perSection = map[string]map[string]struct{}{}
	)
	note := func(c models.CategorizedCritique) {
		if perSection[c.Section] == nil {
			perSection[c.Section] = map[string]struct{}{}
		}
		perSection[c.Section][c.Issue] = struct{}{}
	}

	for _, voter := range util.SortedKeys(ballots) {
		list := ballots[voter]
		v.Details[voter] = append([]models.CategorizedCritique(nil), list...)
		seen := map[string]struct{}{}
		major := 0
		for _, c := range list {
			if _, dup := seen[c.Issue]; dup {
				continue
			}
			seen[c.Issue] = struct{}{}
			switch c.Category {
			case models.SeverityCritical:
				critical[c.Issue] = struct{}{}
				criticalSecs = append(criticalSecs, c.Section)
				v.CriticalGaps = append(v.CriticalGaps, c.Issue)
				note(c)
			case models.SeverityMajor:
				major++
				majorSecs = append(majorSecs, c.Section)
				v.CriticalGaps = append(v.CriticalGaps, c.Issue)
			default:
				v.StylisticPreferences = append(v.StylisticPreferences, c.Issue)
			}
		}
		majors = append(majors, major)
	}

	v.CriticalGaps = util.Dedup(v.CriticalGaps)
	v.StylisticPreferences = util.Dedup(v.StylisticPreferences)
	v.CriticalCount = len(critical)
	v.MedianMajor = util.MedianInt(majors)
	overCeiling := v.MedianMajor >= rules.MajorCeiling
	v.Sufficient = v.CriticalCount == 0 && !overCeiling

	sections := criticalSecs
	if overCeiling {
		sections = append(sections, majorSecs...)
		for _, list := range ballots {
			for _, c := range list {
				if c.Category == models.SeverityMajor {
					note(c)
				}
			}
		}
	}
	v.FailingSections = util.Dedup(sections)

	if !v.Sufficient && !v.Global() && thinlySpread(v.FailingSections, perSection, rules.GlobalSpread) {
		v.FailingSections = append(v.FailingSections, models.SectionGlobal)
	}
	if !v.Sufficient && len(v.FailingSections) == 0 {
		v.FailingSections = []string{models.SectionOverview}
	}

	metrics.RecordVerdict(v.Sufficient, v.MedianMajor)
	return v
}

func thinlySpread(sections []string, perSection map[string]map[string]struct{}, spread int) bool {
	if len(sections) < spread {
		return false
	}
	for _, s := range sections {
		if len(perSection[s]) > 1 {
			return false
		}
	}
	return true
}

// MergeDifferential combines cached ballots with a re-vote that covered only
// the touched sections; a nil touched list means every section was re-voted.
// Each voter keeps its cached critiques for untouched sections and its fresh
// critiques replace those for touched ones. A voter with no fresh ballot
// keeps its cached ballot whole.
func MergeDifferential(cached, fresh Ballots, touched []string) Ballots {
	isTouched := make(map[string]bool, len(touched))
	for _, s := range touched {
		isTouched[s] = true
	}
	out := make(Ballots, len(cached))
	for voter, list := range cached {
		if fresh[voter] == nil {
			out[voter] = append([]models.CategorizedCritique(nil), list...)
			continue
		}
		kept := []models.CategorizedCritique{}
		for _, c := range list {
			if touched != nil && !isTouched[c.Section] {
				kept = append(kept, c)
			}
		}
		out[voter] = kept
	}
	for voter, list := range fresh {
		if list == nil {
			continue
		}
		out[voter] = append(out[voter], list...)
	}
	return out
}
