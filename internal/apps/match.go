package apps

import (
	"sort"
	"strings"
)

// DefaultThreshold is the minimum similarity score for a match to be
// accepted when no threshold is configured.
const DefaultThreshold = 40

// Candidate pairs an app with its similarity score for a query.
type Candidate struct {
	App   App `json:"app"`
	Score int `json:"score"`
}

// Rank scores every app in the catalog against query and returns the
// candidates in descending score order. Equal scores order by shorter
// name first, then lexicographically, so ranking is deterministic.
func (c *Catalog) Rank(query string) []Candidate {
	apps := c.Apps()
	cands := make([]Candidate, 0, len(apps))
	for _, a := range apps {
		cands = append(cands, Candidate{App: a, Score: Score(query, a.Name)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		ni, nj := cands[i].App.Name, cands[j].App.Name
		if len(ni) != len(nj) {
			return len(ni) < len(nj)
		}
		return ni < nj
	})
	return cands
}

// Score rates how well query matches an application name on a 0-100
// scale. Both sides are lowercased and split on whitespace and
// punctuation. Each query token is scored against its best-matching
// name token: identical tokens score 100, substring containment 80,
// and a token that spells the initials of the name 70. The final score
// is the average over query tokens.
func Score(query, name string) int {
	qts := tokens(query)
	nts := tokens(name)
	if len(qts) == 0 || len(nts) == 0 {
		return 0
	}

	initials := make([]byte, 0, len(nts))
	for _, nt := range nts {
		initials = append(initials, nt[0])
	}

	total := 0
	for _, qt := range qts {
		best := 0
		for _, nt := range nts {
			switch {
			case qt == nt:
				best = 100
			case best < 80 && (strings.Contains(nt, qt) || strings.Contains(qt, nt)):
				best = 80
			}
			if best == 100 {
				break
			}
		}
		if best < 70 && len(qt) > 1 && qt == string(initials) {
			best = 70
		}
		total += best
	}
	return total / len(qts)
}

// tokens lowercases s and splits it into alphanumeric runs.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
