package council

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const finalRankingHeader = "FINAL RANKING:"

var (
	numberedLabelPattern = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	labelPattern         = regexp.MustCompile(`Response [A-Z]`)
)

// responseLabel returns the anonymous label for the i-th answer
func responseLabel(i int) string {
	return "Response " + string(rune('A'+i))
}

// ParseRanking extracts the ordered response labels from a ranking text.
// The numbered list after FINAL RANKING: is preferred; otherwise every label
// mentioned is taken in order of appearance.
func ParseRanking(text string) []string {
	section := text
	if _, after, found := strings.Cut(text, finalRankingHeader); found {
		section = after

		if numbered := numberedLabelPattern.FindAllString(section, -1); len(numbered) > 0 {
			labels := make([]string, 0, len(numbered))
			for _, entry := range numbered {
				labels = append(labels, labelPattern.FindString(entry))
			}
			return dedupe(labels)
		}
	}

	return dedupe(labelPattern.FindAllString(section, -1))
}

func dedupe(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		if seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

// AggregateRanking is one member's average position across all rankings.
type AggregateRanking struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// Aggregate averages the 1-based positions each labelled answer received.
// Labels missing from labelToModel are ignored. The result is ordered best
// first; ties keep the order of first appearance.
func Aggregate(rankings [][]string, labelToModel map[string]string) []AggregateRanking {
	positions := make(map[string][]int)
	var order []string

	for _, ranking := range rankings {
		for i, label := range ranking {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			if _, seen := positions[model]; !seen {
				order = append(order, model)
			}
			positions[model] = append(positions[model], i+1)
		}
	}

	out := make([]AggregateRanking, 0, len(order))
	for _, model := range order {
		ranks := positions[model]
		sum := 0
		for _, r := range ranks {
			sum += r
		}
		avg := float64(sum) / float64(len(ranks))
		out = append(out, AggregateRanking{
			Model:         model,
			AverageRank:   math.Round(avg*100) / 100,
			RankingsCount: len(ranks),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AverageRank < out[j].AverageRank
	})

	return out
}
