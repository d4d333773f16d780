package candidates

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeRepository struct {
	poolFn func(ctx context.Context, tenantID string, filter models.CandidateFilter, limit int) (*models.CandidatePool, error)

	poolCalls int
}

func (f *fakeRepository) CandidatePool(ctx context.Context, tenantID string, filter models.CandidateFilter, limit int) (*models.CandidatePool, error) {
	f.poolCalls++
	return f.poolFn(ctx, tenantID, filter, limit)
}

func (f *fakeRepository) Frameworks(ctx context.Context, tenantID string) ([]string, error) {
	return []string{"SOC2", "ISO27001"}, nil
}

func getTestLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func strptr(s string) *string {
	return &s
}

func TestPool_UsesConfiguredLimit(t *testing.T) {
	var gotLimit int
	repo := &fakeRepository{
		poolFn: func(ctx context.Context, tenantID string, filter models.CandidateFilter, limit int) (*models.CandidatePool, error) {
			gotLimit = limit
			return &models.CandidatePool{}, nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, 250)

	_, err := service.Pool(context.Background(), "t1", models.CandidateFilter{})

	require.NoError(t, err)
	assert.Equal(t, 250, gotLimit)
	assert.Equal(t, 1, repo.poolCalls)
}

func TestGrouped_ExcludesSideMembers(t *testing.T) {
	repo := &fakeRepository{
		poolFn: func(ctx context.Context, tenantID string, filter models.CandidateFilter, limit int) (*models.CandidatePool, error) {
			return &models.CandidatePool{
				Controls: []models.RelationshipItem{
					{ID: "c1", Kind: models.ItemKindControl, RefCode: "AC-1", ReferenceFramework: strptr("SOC2")},
					{ID: "c2", Kind: models.ItemKindControl, RefCode: "AC-2", ReferenceFramework: strptr("SOC2")},
				},
				Subcontrols: []models.RelationshipItem{
					{ID: "s1", Kind: models.ItemKindSubcontrol, RefCode: "AC-1.1", ReferenceFramework: strptr("SOC2")},
				},
			}, nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, 100)

	exclude := mapping.NewExcludeSet([]models.ItemKey{{Kind: models.ItemKindControl, ID: "c1"}})
	grouped, err := service.Grouped(context.Background(), "t1", models.CandidateFilter{}, exclude)

	require.NoError(t, err)
	assert.Equal(t, mapping.GroupByFramework, grouped.Mode)
	require.Len(t, grouped.Buckets, 1)
	assert.Equal(t, "SOC2", grouped.Buckets[0].Key)
	assert.Equal(t, 2, grouped.Buckets[0].Count)
	for _, item := range grouped.Buckets[0].Items {
		assert.NotEqual(t, "c1", item.ID)
	}
}

func TestGrouped_FlatModeForCombinedFilters(t *testing.T) {
	repo := &fakeRepository{
		poolFn: func(ctx context.Context, tenantID string, filter models.CandidateFilter, limit int) (*models.CandidatePool, error) {
			return &models.CandidatePool{
				Controls: []models.RelationshipItem{
					{ID: "c1", Kind: models.ItemKindControl, RefCode: "AC-1", ReferenceFramework: strptr("SOC2")},
				},
			}, nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, 100)

	grouped, err := service.Grouped(context.Background(), "t1", models.CandidateFilter{Framework: "SOC2", Keyword: "access"}, nil)

	require.NoError(t, err)
	assert.Equal(t, mapping.GroupFlat, grouped.Mode)
	require.Len(t, grouped.Buckets, 1)
	assert.Equal(t, 1, grouped.Buckets[0].Count)
}

func TestFrameworks(t *testing.T) {
	service := NewService(getTestLogger(), &fakeRepository{}, nil, 100)

	frameworks, err := service.Frameworks(context.Background(), "t1")

	require.NoError(t, err)
	assert.Equal(t, []string{"SOC2", "ISO27001"}, frameworks)
}
