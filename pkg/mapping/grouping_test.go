package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func strptr(s string) *string { return &s }

func frameworkItem(id, refCode, framework string) models.RelationshipItem {
	item := models.RelationshipItem{ID: id, Kind: models.ItemKindControl, RefCode: refCode}
	if framework != "" {
		item.ReferenceFramework = strptr(framework)
	}
	return item
}

func categoryItem(id, category string) models.RelationshipItem {
	item := models.RelationshipItem{ID: id, Kind: models.ItemKindControl, RefCode: id}
	if category != "" {
		item.Category = strptr(category)
	}
	return item
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		name   string
		filter models.CandidateFilter
		want   GroupingMode
	}{
		{name: "no filter groups by framework", filter: models.CandidateFilter{}, want: GroupByFramework},
		{name: "framework only groups by framework", filter: models.CandidateFilter{Framework: "SOC2"}, want: GroupByFramework},
		{name: "keyword only groups by category", filter: models.CandidateFilter{Keyword: "access"}, want: GroupByCategory},
		{name: "category only groups by category", filter: models.CandidateFilter{Category: "Access"}, want: GroupByCategory},
		{name: "framework plus keyword bypasses grouping", filter: models.CandidateFilter{Framework: "SOC2", Keyword: "access"}, want: GroupFlat},
		{name: "framework plus category bypasses grouping", filter: models.CandidateFilter{Framework: "SOC2", Category: "Access"}, want: GroupFlat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModeFor(tt.filter))
		})
	}
}

func TestGroupByFrameworkBuckets(t *testing.T) {
	pool := models.CandidatePool{
		Controls: []models.RelationshipItem{
			frameworkItem("c1", "CC1.1", "SOC2"),
			frameworkItem("c2", "A.5.1", "ISO27001"),
			frameworkItem("c3", "ORG-1", ""),
			frameworkItem("c4", "CC1.2", "SOC2"),
		},
	}

	grouped := Group(pool, models.CandidateFilter{}, ExcludeSet{})

	require.Equal(t, GroupByFramework, grouped.Mode)
	require.Len(t, grouped.Buckets, 3)

	assert.Equal(t, "SOC2", grouped.Buckets[0].Key)
	assert.Equal(t, 2, grouped.Buckets[0].Count)
	assert.Equal(t, "ISO27001", grouped.Buckets[1].Key)

	// unmapped custom items land in their own trailing bucket
	assert.Equal(t, CustomFrameworkKey, grouped.Buckets[2].Key)
	assert.Equal(t, "c3", grouped.Buckets[2].Items[0].ID)
}

func TestGroupByCategoryBuckets(t *testing.T) {
	pool := models.CandidatePool{
		Controls: []models.RelationshipItem{
			categoryItem("1", "Access"),
			categoryItem("2", ""),
		},
	}

	grouped := Group(pool, models.CandidateFilter{Keyword: "x"}, ExcludeSet{})

	require.Equal(t, GroupByCategory, grouped.Mode)
	require.Len(t, grouped.Buckets, 2)
	assert.Equal(t, "Access", grouped.Buckets[0].Key)
	assert.Equal(t, []string{"1"}, itemIDs(grouped.Buckets[0].Items))
	assert.Equal(t, CustomCategoryKey, grouped.Buckets[1].Key)
	assert.Equal(t, []string{"2"}, itemIDs(grouped.Buckets[1].Items))
}

func TestGroupByCategoryDropsEmptyBuckets(t *testing.T) {
	pool := models.CandidatePool{
		Controls: []models.RelationshipItem{
			categoryItem("1", "Access"),
			categoryItem("2", "Access"),
		},
	}

	grouped := Group(pool, models.CandidateFilter{Category: "Access"}, ExcludeSet{})

	require.Len(t, grouped.Buckets, 1)
	assert.Equal(t, "Access", grouped.Buckets[0].Key)
	assert.Equal(t, 2, grouped.Buckets[0].Count)
}

func TestGroupFlatMode(t *testing.T) {
	pool := models.CandidatePool{
		Controls: []models.RelationshipItem{
			frameworkItem("c1", "CC1.1", "SOC2"),
			frameworkItem("c2", "A.5.1", "ISO27001"),
		},
	}

	grouped := Group(pool, models.CandidateFilter{Framework: "SOC2", Keyword: "cc"}, ExcludeSet{})

	require.Equal(t, GroupFlat, grouped.Mode)
	require.Len(t, grouped.Buckets, 1)
	assert.Equal(t, 2, grouped.Buckets[0].Count)
}

func TestGroupExcludesBothSides(t *testing.T) {
	pool := models.CandidatePool{
		Controls: []models.RelationshipItem{
			frameworkItem("c1", "CC1.1", "SOC2"),
			frameworkItem("c2", "CC1.2", "SOC2"),
		},
		Subcontrols: []models.RelationshipItem{
			{ID: "s1", Kind: models.ItemKindSubcontrol, RefCode: "CC1.1-a", ReferenceFramework: strptr("SOC2")},
		},
	}

	exclude := NewExcludeSet(
		[]models.ItemKey{{Kind: models.ItemKindControl, ID: "c1"}},
		[]models.ItemKey{{Kind: models.ItemKindSubcontrol, ID: "s1"}},
	)

	grouped := Group(pool, models.CandidateFilter{}, exclude)

	require.Len(t, grouped.Buckets, 1)
	assert.Equal(t, []string{"c2"}, itemIDs(grouped.Buckets[0].Items))
}

// every eligible item must land in exactly one bucket
func TestGroupingCompleteness(t *testing.T) {
	pool := models.CandidatePool{
		Controls: []models.RelationshipItem{
			frameworkItem("c1", "CC1.1", "SOC2"),
			frameworkItem("c2", "A.5.1", "ISO27001"),
			frameworkItem("c3", "ORG-1", ""),
		},
		Subcontrols: []models.RelationshipItem{
			{ID: "s1", Kind: models.ItemKindSubcontrol, RefCode: "CC1.1-a", ReferenceFramework: strptr("SOC2")},
		},
	}
	exclude := NewExcludeSet([]models.ItemKey{{Kind: models.ItemKindControl, ID: "c2"}})

	for _, filter := range []models.CandidateFilter{
		{},                    // framework mode
		{Keyword: "anything"}, // category mode
	} {
		grouped := Group(pool, filter, exclude)

		seen := map[models.ItemKey]int{}
		for _, bucket := range grouped.Buckets {
			assert.Equal(t, len(bucket.Items), bucket.Count)
			for _, item := range bucket.Items {
				seen[item.Key()]++
			}
		}

		assert.Len(t, seen, 3)
		for key, count := range seen {
			assert.Equal(t, 1, count, "item %v appeared in more than one bucket", key)
			_, excluded := exclude[key]
			assert.False(t, excluded, "excluded item %v was offered", key)
		}
	}
}

func itemIDs(items []models.RelationshipItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
