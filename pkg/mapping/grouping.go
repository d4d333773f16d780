package mapping

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// CustomFrameworkKey is the bucket for items with no reference framework
const CustomFrameworkKey = "CUSTOM"

// CustomCategoryKey is the bucket for items with no category
const CustomCategoryKey = "Custom"

// GroupingMode selects how the candidate pool is partitioned for display
type GroupingMode string

const (
	// GroupByFramework partitions by reference framework, custom items trailing
	GroupByFramework GroupingMode = "framework"
	// GroupByCategory partitions by category, empty buckets dropped
	GroupByCategory GroupingMode = "category"
	// GroupFlat bypasses grouping and returns a single exclusion-filtered list
	GroupFlat GroupingMode = "flat"
)

// Bucket is one display partition of the candidate pool
type Bucket struct {
	Key   string                    `json:"key"`
	Items []models.RelationshipItem `json:"items"`
	Count int                       `json:"count"`
}

// GroupedCandidates is the partitioned view of the eligible pool
type GroupedCandidates struct {
	Mode    GroupingMode `json:"mode"`
	Buckets []Bucket     `json:"buckets"`
}

// ExcludeSet is the set of item keys that must never be offered as
// candidates: everything already on this side or the opposite side.
type ExcludeSet map[models.ItemKey]struct{}

// NewExcludeSet builds the exclusion set from both sides' membership keys
func NewExcludeSet(sides ...[]models.ItemKey) ExcludeSet {
	exclude := ExcludeSet{}
	for _, keys := range sides {
		for _, key := range keys {
			exclude[key] = struct{}{}
		}
	}
	return exclude
}

// ModeFor picks the grouping mode for the active filter. When both a
// framework filter and a keyword or category filter are active, grouping is
// bypassed and a flat list is shown.
func ModeFor(filter models.CandidateFilter) GroupingMode {
	if filter.Framework != "" && (filter.Keyword != "" || filter.Category != "") {
		return GroupFlat
	}
	if filter.Category != "" || filter.Keyword != "" {
		return GroupByCategory
	}
	return GroupByFramework
}

// Group partitions the candidate pool for display. Items whose key is in the
// exclude set are never offered. The function is pure: it never mutates the
// pool and holds no state between calls.
func Group(pool models.CandidatePool, filter models.CandidateFilter, exclude ExcludeSet) GroupedCandidates {
	eligible := eligibleItems(pool, exclude)

	mode := ModeFor(filter)
	switch mode {
	case GroupFlat:
		return GroupedCandidates{
			Mode:    GroupFlat,
			Buckets: []Bucket{{Key: "", Items: eligible, Count: len(eligible)}},
		}
	case GroupByCategory:
		return GroupedCandidates{Mode: GroupByCategory, Buckets: groupByCategory(eligible)}
	default:
		return GroupedCandidates{Mode: GroupByFramework, Buckets: groupByFramework(eligible)}
	}
}

func eligibleItems(pool models.CandidatePool, exclude ExcludeSet) []models.RelationshipItem {
	all := pool.All()
	eligible := make([]models.RelationshipItem, 0, len(all))
	for _, item := range all {
		if _, ok := exclude[item.Key()]; ok {
			continue
		}
		eligible = append(eligible, item)
	}
	return eligible
}

// groupByFramework buckets by reference framework in first-seen order, with
// the custom bucket trailing regardless of where its items appeared.
func groupByFramework(items []models.RelationshipItem) []Bucket {
	byKey := map[string][]models.RelationshipItem{}
	var order []string
	hasCustom := false

	for _, item := range items {
		key := CustomFrameworkKey
		if item.ReferenceFramework != nil && *item.ReferenceFramework != "" {
			key = *item.ReferenceFramework
		}
		if key == CustomFrameworkKey {
			hasCustom = true
		} else if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], item)
	}

	if hasCustom {
		order = append(order, CustomFrameworkKey)
	}

	buckets := make([]Bucket, 0, len(order))
	for _, key := range order {
		buckets = append(buckets, Bucket{Key: key, Items: byKey[key], Count: len(byKey[key])})
	}
	return buckets
}

// groupByCategory buckets by category. The valid key set is the union of all
// categories seen in the pool plus a synthetic custom bucket; buckets that
// end up empty are dropped. Named categories are sorted, custom trails.
func groupByCategory(items []models.RelationshipItem) []Bucket {
	byKey := map[string][]models.RelationshipItem{}
	for _, item := range items {
		key := CustomCategoryKey
		if item.Category != nil && *item.Category != "" {
			key = *item.Category
		}
		byKey[key] = append(byKey[key], item)
	}

	var keys []string
	for key := range byKey {
		if key != CustomCategoryKey {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})
	if _, ok := byKey[CustomCategoryKey]; ok {
		keys = append(keys, CustomCategoryKey)
	}

	buckets := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		if len(byKey[key]) == 0 {
			continue
		}
		buckets = append(buckets, Bucket{Key: key, Items: byKey[key], Count: len(byKey[key])})
	}
	return buckets
}
