package pipeline

import (
	"strings"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/embedding"
)

// KeywordRule is one human-curated pre-clustering pattern. Arcs whose name
// or key points contain any of the rule's phrases are grouped together
// before the semantic phase runs. Keyword matching is cheap and catches the
// same-story-different-vocabulary failure mode embeddings can miss.
type KeywordRule struct {
	Name         string   `json:"name"`
	PartitionKey string   `json:"partition_key,omitempty"`
	Phrases      []string `json:"phrases"`
}

func (r KeywordRule) appliesTo(partitionKey string) bool {
	return r.PartitionKey == "" || r.PartitionKey == partitionKey
}

func (r KeywordRule) matches(arc db.ArcRecord) bool {
	haystack := embedding.NormalizeText(ComparisonText(arc.DisplayName, arc.KeyPoints))
	if haystack == "" {
		return false
	}
	for _, phrase := range r.Phrases {
		needle := embedding.NormalizeText(phrase)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// preCluster applies keyword rules to one partition's arcs. Arcs matching
// the same rule form a group (oldest-first); the first matching rule wins
// per arc. Arcs placed in a formed group are consumed; arcs with no rule
// match, or whose rule matched only them, remain for the semantic phase.
func preCluster(arcs []db.ArcRecord, partitionKey string, rules []KeywordRule) (groups [][]db.ArcRecord, remaining []db.ArcRecord) {
	if len(rules) == 0 {
		return nil, arcs
	}

	matchedRule := make([]int, len(arcs))
	for i := range matchedRule {
		matchedRule[i] = -1
	}

	for i, arc := range arcs {
		for ruleIdx, rule := range rules {
			if !rule.appliesTo(partitionKey) {
				continue
			}
			if rule.matches(arc) {
				matchedRule[i] = ruleIdx
				break
			}
		}
	}

	byRule := make(map[int][]int, len(rules))
	for i, ruleIdx := range matchedRule {
		if ruleIdx >= 0 {
			byRule[ruleIdx] = append(byRule[ruleIdx], i)
		}
	}

	consumed := make(map[int]struct{}, len(arcs))
	for ruleIdx := range rules {
		indices := byRule[ruleIdx]
		if len(indices) < 2 {
			continue
		}
		group := make([]db.ArcRecord, 0, len(indices))
		for _, i := range indices {
			group = append(group, arcs[i])
			consumed[i] = struct{}{}
		}
		sortGroupOldestFirst(group)
		groups = append(groups, group)
	}

	for i, arc := range arcs {
		if _, ok := consumed[i]; !ok {
			remaining = append(remaining, arc)
		}
	}
	return groups, remaining
}
