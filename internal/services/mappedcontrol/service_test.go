package mappedcontrol

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mappedcontrolrepo "github.com/Ramsey-B/clover/internal/repositories/mappedcontrol"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeRepository struct {
	createFn     func(ctx context.Context, record *models.MappedControl) (*models.MappedControl, error)
	getFn        func(ctx context.Context, tenantID, id string) (*models.MappedControl, error)
	applyDeltaFn func(ctx context.Context, tenantID, id string, added, removed mapping.AssociationMap, patch mappedcontrolrepo.RelationPatch) (*models.MappedControl, error)
	deleteFn     func(ctx context.Context, tenantID, id string) error

	createCalls     int
	applyDeltaCalls int
}

func (f *fakeRepository) Create(ctx context.Context, record *models.MappedControl) (*models.MappedControl, error) {
	f.createCalls++
	return f.createFn(ctx, record)
}

func (f *fakeRepository) Get(ctx context.Context, tenantID, id string) (*models.MappedControl, error) {
	return f.getFn(ctx, tenantID, id)
}

func (f *fakeRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]models.MappedControl, error) {
	return nil, nil
}

func (f *fakeRepository) ApplyDelta(ctx context.Context, tenantID, id string, added, removed mapping.AssociationMap, patch mappedcontrolrepo.RelationPatch) (*models.MappedControl, error) {
	f.applyDeltaCalls++
	return f.applyDeltaFn(ctx, tenantID, id, added, removed, patch)
}

func (f *fakeRepository) Delete(ctx context.Context, tenantID, id string) error {
	return f.deleteFn(ctx, tenantID, id)
}

func (f *fakeRepository) ListRevisions(ctx context.Context, tenantID, id string) ([]mappedcontrolrepo.Revision, error) {
	return nil, nil
}

func getTestLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		req      models.CreateMappedControlRequest
		message  string
	}{
		{
			name:     "missing tenant",
			tenantID: "",
			req: models.CreateMappedControlRequest{
				FromControlIDs: []string{"c1"},
				ToControlIDs:   []string{"c2"},
				MappingType:    models.MappingTypeEqual,
			},
			message: "tenant_id is required",
		},
		{
			name:     "empty from side",
			tenantID: "t1",
			req: models.CreateMappedControlRequest{
				ToControlIDs: []string{"c2"},
				MappingType:  models.MappingTypeEqual,
			},
			message: "From control is required",
		},
		{
			name:     "empty to side",
			tenantID: "t1",
			req: models.CreateMappedControlRequest{
				FromControlIDs:    []string{"c1"},
				FromSubcontrolIDs: []string{"s1"},
				MappingType:       models.MappingTypeEqual,
			},
			message: "To control is required",
		},
		{
			name:     "unknown mapping type",
			tenantID: "t1",
			req: models.CreateMappedControlRequest{
				FromControlIDs: []string{"c1"},
				ToControlIDs:   []string{"c2"},
				MappingType:    models.MappingType("OVERLAPS"),
			},
			message: "mapping_type is invalid",
		},
		{
			name:     "unknown source",
			tenantID: "t1",
			req: models.CreateMappedControlRequest{
				FromControlIDs: []string{"c1"},
				ToControlIDs:   []string{"c2"},
				MappingType:    models.MappingTypeEqual,
				Source:         models.MappingSource("IMPORTED"),
			},
			message: "source is invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepository{}
			service := NewService(getTestLogger(), repo, nil, nil)

			_, err := service.Create(context.Background(), tt.tenantID, tt.req)

			require.Error(t, err)
			assert.True(t, httperror.IsHTTPError(err))
			assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, 0, repo.createCalls, "validation failures must not reach the repository")
		})
	}
}

func TestCreate_DedupesAndClamps(t *testing.T) {
	var persisted *models.MappedControl
	repo := &fakeRepository{
		createFn: func(ctx context.Context, record *models.MappedControl) (*models.MappedControl, error) {
			persisted = record
			created := *record
			created.ID = "mc-1"
			return &created, nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, nil)

	created, err := service.Create(context.Background(), "t1", models.CreateMappedControlRequest{
		FromControlIDs: []string{"c1", "c2", "c1"},
		ToControlIDs:   []string{"c3"},
		MappingType:    models.MappingTypeSuperset,
		Confidence:     130,
		Source:         models.MappingSourceManual,
	})

	require.NoError(t, err)
	assert.Equal(t, "mc-1", created.ID)
	assert.Equal(t, []string{"c1", "c2"}, persisted.FromControlIDs)
	assert.Equal(t, 100, persisted.Confidence)
	assert.Equal(t, "t1", persisted.TenantID)
}

func TestUpdate_EmptyRequestReturnsExisting(t *testing.T) {
	existing := &models.MappedControl{
		ID:             "mc-1",
		TenantID:       "t1",
		MappingType:    models.MappingTypeEqual,
		FromControlIDs: []string{"c1"},
		ToControlIDs:   []string{"c2"},
	}
	repo := &fakeRepository{
		getFn: func(ctx context.Context, tenantID, id string) (*models.MappedControl, error) {
			return existing, nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, nil)

	updated, err := service.Update(context.Background(), "t1", "mc-1", models.UpdateMappedControlRequest{})

	require.NoError(t, err)
	assert.Equal(t, existing, updated)
	assert.Equal(t, 0, repo.applyDeltaCalls)
}

func TestUpdate_RejectsDeltaThatEmptiesASide(t *testing.T) {
	repo := &fakeRepository{
		getFn: func(ctx context.Context, tenantID, id string) (*models.MappedControl, error) {
			return &models.MappedControl{
				ID:             "mc-1",
				TenantID:       "t1",
				MappingType:    models.MappingTypeEqual,
				FromControlIDs: []string{"c1"},
				ToControlIDs:   []string{"c2"},
			}, nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, nil)

	_, err := service.Update(context.Background(), "t1", "mc-1", models.UpdateMappedControlRequest{
		RemoveToControlIDs: []string{"c2"},
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Contains(t, err.Error(), "To control is required")
	assert.Equal(t, 0, repo.applyDeltaCalls, "a delta that empties a side must never be persisted")
}

func TestUpdate_SendsOnlyTheDelta(t *testing.T) {
	var gotAdded, gotRemoved mapping.AssociationMap
	var gotPatch mappedcontrolrepo.RelationPatch
	repo := &fakeRepository{
		getFn: func(ctx context.Context, tenantID, id string) (*models.MappedControl, error) {
			return &models.MappedControl{
				ID:             "mc-1",
				TenantID:       "t1",
				MappingType:    models.MappingTypeEqual,
				FromControlIDs: []string{"c1"},
				ToControlIDs:   []string{"c2"},
			}, nil
		},
		applyDeltaFn: func(ctx context.Context, tenantID, id string, added, removed mapping.AssociationMap, patch mappedcontrolrepo.RelationPatch) (*models.MappedControl, error) {
			gotAdded, gotRemoved, gotPatch = added, removed, patch
			return &models.MappedControl{
				ID:             id,
				TenantID:       tenantID,
				MappingType:    models.MappingTypeIntersect,
				FromControlIDs: []string{"c1"},
				ToControlIDs:   []string{"c2", "c3"},
			}, nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, nil)

	mappingType := models.MappingTypeIntersect
	updated, err := service.Update(context.Background(), "t1", "mc-1", models.UpdateMappedControlRequest{
		AddToControlIDs: []string{"c3"},
		MappingType:     &mappingType,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, repo.applyDeltaCalls)
	assert.Equal(t, mapping.AssociationMap{mapping.KeyToControlIDs: {"c3"}}, gotAdded)
	assert.Empty(t, gotRemoved)
	require.NotNil(t, gotPatch.MappingType)
	assert.Equal(t, models.MappingTypeIntersect, *gotPatch.MappingType)
	assert.Equal(t, []string{"c2", "c3"}, updated.ToControlIDs)
}

func TestUpdate_InvalidMappingType(t *testing.T) {
	repo := &fakeRepository{}
	service := NewService(getTestLogger(), repo, nil, nil)

	mappingType := models.MappingType("OVERLAPS")
	_, err := service.Update(context.Background(), "t1", "mc-1", models.UpdateMappedControlRequest{
		MappingType: &mappingType,
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Equal(t, 0, repo.applyDeltaCalls)
}

func TestDelete(t *testing.T) {
	var deletedID string
	repo := &fakeRepository{
		deleteFn: func(ctx context.Context, tenantID, id string) error {
			deletedID = id
			return nil
		},
	}
	service := NewService(getTestLogger(), repo, nil, nil)

	err := service.Delete(context.Background(), "t1", "mc-1")

	require.NoError(t, err)
	assert.Equal(t, "mc-1", deletedID)
}

func TestDelete_RequiresID(t *testing.T) {
	service := NewService(getTestLogger(), &fakeRepository{}, nil, nil)

	err := service.Delete(context.Background(), "t1", "")

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}
