package quiz

import (
	"cmp"
	"math"
	"slices"
)

const (
	singleWeight = 1.0
	multiWeight  = 1.5
)

// Scorer computes compatibility between answer sets of one bank.
type Scorer struct {
	bank *Bank
}

// NewScorer returns a scorer for bank.
func NewScorer(bank *Bank) *Scorer {
	return &Scorer{bank: bank}
}

// Weight returns the weight of question i. Multi-answer questions count more.
func (s *Scorer) Weight(i int) float64 {
	q, err := s.bank.Get(i)
	if err != nil {
		return 0
	}
	if q.IsMulti() {
		return multiWeight
	}
	return singleWeight
}

// Score returns a value in [0, 1] rounded to two decimals, halves to even.
//
// Identical non-empty answers earn the full question weight, overlapping
// answers earn weight * |A∩B| / |A∪B|, anything else earns nothing. Every
// question counts towards the total weight, so two users who skipped the
// same question do not gain from it.
func (s *Scorer) Score(a, b AnswerSet) float64 {
	var total, matched float64
	for i := 0; i < s.bank.Count(); i++ {
		w := s.Weight(i)
		total += w

		sa := normalizeSelection(a[i])
		sb := normalizeSelection(b[i])
		if len(sa) == 0 || len(sb) == 0 {
			continue
		}
		if slices.Equal(sa, sb) {
			matched += w
			continue
		}
		if common := intersectCount(sa, sb); common > 0 {
			matched += w * float64(common) / float64(unionCount(sa, sb))
		}
	}
	if total == 0 {
		return 0
	}
	return math.RoundToEven(matched/total*100) / 100
}

// Candidate is one user's answers considered for ranking.
type Candidate struct {
	UserID  string
	Answers AnswerSet
}

// Match is a ranked candidate.
type Match struct {
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}

// Rank scores every candidate against target and orders them by descending
// score. Candidates with equal scores keep their input order.
func (s *Scorer) Rank(target AnswerSet, candidates []Candidate) []Match {
	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Match{UserID: c.UserID, Score: s.Score(target, c.Answers)})
	}
	slices.SortStableFunc(out, func(x, y Match) int {
		return cmp.Compare(y.Score, x.Score)
	})
	return out
}

// TopMatches ranks candidates other than exclude and keeps at most limit.
// A non-positive limit keeps everything.
func (s *Scorer) TopMatches(target AnswerSet, candidates []Candidate, exclude string, limit int) []Match {
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.UserID == exclude {
			continue
		}
		filtered = append(filtered, c)
	}
	ranked := s.Rank(target, filtered)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
