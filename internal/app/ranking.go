package app

import (
	"sort"

	"exam-attempt-service/internal/domain"
)

// RankAttempts orders submitted attempts by exact percentage desc, then earliest submission,
// and assigns each its 1-based position. Ties never share a rank.
func RankAttempts(attempts []domain.Attempt) []domain.Attempt {
	ranked := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Submitted() {
			ranked = append(ranked, a)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return RankLess(ranked[i], ranked[j])
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// RankLess reports whether a ranks ahead of b. Both must be submitted.
// Percentages are compared as exact score/total fractions, not rounded values.
func RankLess(a, b domain.Attempt) bool {
	if c := compareRatio(a, b); c != 0 {
		return c > 0
	}
	if !a.SubmittedAt.Equal(*b.SubmittedAt) {
		return a.SubmittedAt.Before(*b.SubmittedAt)
	}
	// Same instant: fall back to id so the order is still total.
	return a.ID < b.ID
}

// compareRatio compares score/total of a and b by cross-multiplication.
// A zero total counts as 0%.
func compareRatio(a, b domain.Attempt) int {
	as, at := ratio(a)
	bs, bt := ratio(b)
	l, r := as*bt, bs*at
	switch {
	case l > r:
		return 1
	case l < r:
		return -1
	}
	return 0
}

func ratio(a domain.Attempt) (score, total int64) {
	if a.TotalMarks <= 0 {
		return 0, 1
	}
	return int64(a.Score), int64(a.TotalMarks)
}

// rankMap indexes ranks by attempt id.
func rankMap(ranked []domain.Attempt) map[string]int {
	ranks := make(map[string]int, len(ranked))
	for _, a := range ranked {
		ranks[a.ID] = a.Rank
	}
	return ranks
}
