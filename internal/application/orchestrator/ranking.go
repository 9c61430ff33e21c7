package orchestrator

import (
	"cmp"
	"math"
	"slices"
)

// AggregateRanking is a participant's average peer-review rank, already
// aggregated by the council. Lower is better.
type AggregateRanking struct {
	ParticipantID ParticipantID `json:"participant_id"`
	AverageRank   float64       `json:"average_rank"`
}

// Score converts an average rank in [1, n] to an integer score:
// round((n + 1 - avgRank) * 10), halves rounding up. The worst possible
// average (n or above) scores 0, so the score drops from 10 straight to 0
// at avgRank == n. Averages below 1 score as 1.
func Score(avgRank float64, n int) int {
	if math.IsNaN(avgRank) || avgRank >= float64(n) {
		return 0
	}
	if avgRank < 1 {
		avgRank = 1
	}
	return int(math.Floor((float64(n)+1-avgRank)*10 + 0.5))
}

// Rank scores participants from rankings and returns a new sequence sorted
// by score descending. Participants missing from rankings get score 0 and
// average rank 0 and sort after every ranked participant. Remaining ties
// keep their prior relative order.
func Rank(participants []Participant, rankings []AggregateRanking) []Participant {
	n := len(participants)

	avgByID := make(map[ParticipantID]float64, len(rankings))
	for _, r := range rankings {
		if _, seen := avgByID[r.ParticipantID]; seen {
			continue
		}
		avgByID[r.ParticipantID] = r.AverageRank
	}

	type ranked struct {
		participant Participant
		present     bool
	}

	entries := make([]ranked, n)
	for i, p := range participants {
		avg, ok := avgByID[p.ID]
		if ok {
			p.Score = Score(avg, n)
			p.AverageRank = avg
		} else {
			p.Score = 0
			p.AverageRank = 0
		}
		entries[i] = ranked{participant: p, present: ok}
	}

	slices.SortStableFunc(entries, func(a, b ranked) int {
		if c := cmp.Compare(b.participant.Score, a.participant.Score); c != 0 {
			return c
		}
		switch {
		case a.present == b.present:
			return 0
		case a.present:
			return -1
		default:
			return 1
		}
	})

	out := make([]Participant, n)
	for i, e := range entries {
		out[i] = e.participant
	}
	return out
}
