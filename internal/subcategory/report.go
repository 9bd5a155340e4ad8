package subcategory

import (
	"context"
	"fmt"
	"sort"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
)

// PatternStats is one pattern's occurrence count within its subcategory
type PatternStats struct {
	Pattern string
	Count   int64
	Share   float64
}

// SubcategoryStats summarizes the hits of one subcategory
type SubcategoryStats struct {
	Category    string
	Subcategory string
	Total       int64
	Patterns    []PatternStats
	// Unused lists table patterns that have never matched
	Unused []string
}

// EffectivenessReport reads the persisted counters back for tuning. lib may be
// nil, in which case unused patterns are not reported.
func EffectivenessReport(ctx context.Context, counter core.PatternCounter, lib *patterns.Compiled) ([]SubcategoryStats, error) {
	counts, err := counter.PatternCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern counts: %w", err)
	}

	type key struct{ category, subcategory string }
	byKey := make(map[key]*SubcategoryStats)
	seen := make(map[key]map[string]bool)
	get := func(k key) *SubcategoryStats {
		s, ok := byKey[k]
		if !ok {
			s = &SubcategoryStats{Category: k.category, Subcategory: k.subcategory}
			byKey[k] = s
			seen[k] = make(map[string]bool)
		}
		return s
	}

	for _, c := range counts {
		k := key{c.Category, c.Subcategory}
		s := get(k)
		s.Total += c.Count
		s.Patterns = append(s.Patterns, PatternStats{Pattern: c.Pattern, Count: c.Count})
		seen[k][c.Pattern] = true
	}

	if lib != nil {
		for _, cat := range core.Categories {
			for _, rule := range lib.Subcategories(cat) {
				k := key{string(cat), rule.Subcategory}
				s := get(k)
				if !seen[k][rule.Pattern] {
					s.Unused = append(s.Unused, rule.Pattern)
					seen[k][rule.Pattern] = true
				}
			}
		}
	}

	out := make([]SubcategoryStats, 0, len(byKey))
	for _, s := range byKey {
		for i := range s.Patterns {
			if s.Total > 0 {
				s.Patterns[i].Share = float64(s.Patterns[i].Count) / float64(s.Total)
			}
		}
		sort.Slice(s.Patterns, func(i, j int) bool {
			if s.Patterns[i].Count != s.Patterns[j].Count {
				return s.Patterns[i].Count > s.Patterns[j].Count
			}
			return s.Patterns[i].Pattern < s.Patterns[j].Pattern
		})
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Subcategory < out[j].Subcategory
	})
	return out, nil
}
