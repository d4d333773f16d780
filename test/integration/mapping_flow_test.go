package integration

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	controlrepo "github.com/Ramsey-B/clover/internal/repositories/control"
	mappedcontrolrepo "github.com/Ramsey-B/clover/internal/repositories/mappedcontrol"
	candidatessvc "github.com/Ramsey-B/clover/internal/services/candidates"
	mappedcontrolsvc "github.com/Ramsey-B/clover/internal/services/mappedcontrol"
	mappingsessionsvc "github.com/Ramsey-B/clover/internal/services/mappingsession"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "coordinator"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func getTestContext(tenantID string) context.Context {
	return appctx.SetTenantID(context.Background(), tenantID)
}

type testStack struct {
	db         database.DB
	mapped     *mappedcontrolsvc.Service
	candidates *candidatessvc.Service
	sessions   *mappingsessionsvc.Service
}

func newTestStack(t *testing.T) *testStack {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()

	controls := controlrepo.NewRepository(db, logger)
	mappedRepo := mappedcontrolrepo.NewRepository(db, logger)
	mapped := mappedcontrolsvc.NewService(logger, mappedRepo, nil, nil)

	return &testStack{
		db:         db,
		mapped:     mapped,
		candidates: candidatessvc.NewService(logger, controls, nil, 100),
		sessions:   mappingsessionsvc.NewService(logger, mapped, controls),
	}
}

func (s *testStack) seedControl(t *testing.T, ctx context.Context, tenantID, refCode, framework, category string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO controls (id, tenant_id, ref_code, name, reference_framework, category)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`,
		id, tenantID, refCode, refCode+" control", framework, category)
	require.NoError(t, err)
	return id
}

func (s *testStack) seedSubcontrol(t *testing.T, ctx context.Context, tenantID, controlID, refCode, framework string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subcontrols (id, tenant_id, control_id, ref_code, name, reference_framework)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		id, tenantID, controlID, refCode, refCode+" subcontrol", framework)
	require.NoError(t, err)
	return id
}

func dropPayload(t *testing.T, items ...models.RelationshipItem) []byte {
	t.Helper()
	payload := []byte("[")
	for i, item := range items {
		if i > 0 {
			payload = append(payload, ',')
		}
		payload = append(payload, []byte(`{"id":"`+item.ID+`","kind":"`+string(item.Kind)+`"}`)...)
	}
	return append(payload, ']')
}

func controlItem(id string) models.RelationshipItem {
	return models.RelationshipItem{ID: id, Kind: models.ItemKindControl}
}

func subcontrolItem(id string) models.RelationshipItem {
	return models.RelationshipItem{ID: id, Kind: models.ItemKindSubcontrol}
}

// TestMappingFlow walks the full session lifecycle: create a mapping through
// a session, reopen it, apply a delta, audit the revisions, and delete it.
func TestMappingFlow(t *testing.T) {
	stack := newTestStack(t)

	tenantID := "test-tenant-" + uuid.New().String()[:8]
	ctx := getTestContext(tenantID)

	soc1 := stack.seedControl(t, ctx, tenantID, "CC6.1", "SOC2", "Access Control")
	soc2 := stack.seedControl(t, ctx, tenantID, "CC6.2", "SOC2", "Access Control")
	iso1 := stack.seedControl(t, ctx, tenantID, "A.9.1", "ISO27001", "Access Control")
	isoSub := stack.seedSubcontrol(t, ctx, tenantID, iso1, "A.9.1.1", "ISO27001")

	// Open a create-path session and build both sides
	session, err := stack.sessions.Open(ctx, tenantID, "")
	require.NoError(t, err)

	_, err = stack.sessions.Drop(ctx, tenantID, session.ID, mapping.DirectionFrom, dropPayload(t, controlItem(soc1)))
	require.NoError(t, err)
	_, err = stack.sessions.Drop(ctx, tenantID, session.ID, mapping.DirectionTo, dropPayload(t, controlItem(iso1), subcontrolItem(isoSub)))
	require.NoError(t, err)

	err = stack.sessions.SetRelation(ctx, tenantID, session.ID, mapping.Relation{
		MappingType: models.MappingTypeEqual,
		Confidence:  85,
		Relation:    "both require logical access restriction",
	})
	require.NoError(t, err)

	record, err := stack.sessions.Submit(ctx, tenantID, session.ID)
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	assert.Equal(t, []string{soc1}, record.FromControlIDs)
	assert.Equal(t, []string{iso1}, record.ToControlIDs)
	assert.Equal(t, []string{isoSub}, record.ToSubcontrolIDs)
	assert.Equal(t, models.MappingTypeEqual, record.MappingType)
	assert.Equal(t, 85, record.Confidence)
	assert.Equal(t, models.MappingSourceManual, record.Source)

	// Reopen against the persisted record, grow one side and shrink the other
	session2, err := stack.sessions.Open(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{soc1}, session2.From.ControlIDs())

	_, err = stack.sessions.Drop(ctx, tenantID, session2.ID, mapping.DirectionFrom, dropPayload(t, controlItem(soc2)))
	require.NoError(t, err)
	_, err = stack.sessions.Remove(ctx, tenantID, session2.ID, mapping.DirectionTo, models.ItemKey{Kind: models.ItemKindSubcontrol, ID: isoSub})
	require.NoError(t, err)

	updated, err := stack.sessions.Submit(ctx, tenantID, session2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{soc1, soc2}, updated.FromControlIDs, "surviving members keep their position, additions append")
	assert.Equal(t, []string{iso1}, updated.ToControlIDs)
	assert.Empty(t, updated.ToSubcontrolIDs)

	// Revision history carries both the create snapshot and the delta
	revisions, err := stack.mapped.ListRevisions(ctx, tenantID, record.ID)
	require.NoError(t, err)
	require.Len(t, revisions, 2)
	assert.Equal(t, mapping.AssociationMap{
		mapping.KeyFromControlIDs:  {soc1},
		mapping.KeyToControlIDs:    {iso1},
		mapping.KeyToSubcontrolIDs: {isoSub},
	}, revisions[0].Added.Data)
	assert.Equal(t, mapping.AssociationMap{mapping.KeyFromControlIDs: {soc2}}, revisions[1].Added.Data)
	assert.Equal(t, mapping.AssociationMap{mapping.KeyToSubcontrolIDs: {isoSub}}, revisions[1].Removed.Data)

	// Delete and verify the record is gone
	err = stack.mapped.Delete(ctx, tenantID, record.ID)
	require.NoError(t, err)

	_, err = stack.mapped.Get(ctx, tenantID, record.ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

// TestMappingFlow_EmptySideRejected verifies the both-sides invariant end to
// end: neither a submit nor a direct update may leave a side empty.
func TestMappingFlow_EmptySideRejected(t *testing.T) {
	stack := newTestStack(t)

	tenantID := "test-tenant-" + uuid.New().String()[:8]
	ctx := getTestContext(tenantID)

	soc1 := stack.seedControl(t, ctx, tenantID, "CC6.1", "SOC2", "")
	iso1 := stack.seedControl(t, ctx, tenantID, "A.9.1", "ISO27001", "")

	session, err := stack.sessions.Open(ctx, tenantID, "")
	require.NoError(t, err)
	_, err = stack.sessions.Drop(ctx, tenantID, session.ID, mapping.DirectionFrom, dropPayload(t, controlItem(soc1)))
	require.NoError(t, err)

	_, err = stack.sessions.Submit(ctx, tenantID, session.ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	// Finish the mapping, then try to strip its whole To side via update
	_, err = stack.sessions.Drop(ctx, tenantID, session.ID, mapping.DirectionTo, dropPayload(t, controlItem(iso1)))
	require.NoError(t, err)
	record, err := stack.sessions.Submit(ctx, tenantID, session.ID)
	require.NoError(t, err)

	_, err = stack.mapped.Update(ctx, tenantID, record.ID, models.UpdateMappedControlRequest{
		RemoveToControlIDs: []string{iso1},
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	// The stored mapping is untouched
	stored, err := stack.mapped.Get(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{iso1}, stored.ToControlIDs)
}

// TestCandidateGrouping exercises the candidate pool against seeded controls:
// framework buckets by default, category buckets under a keyword filter, and
// exclusion of items already mapped.
func TestCandidateGrouping(t *testing.T) {
	stack := newTestStack(t)

	tenantID := "test-tenant-" + uuid.New().String()[:8]
	ctx := getTestContext(tenantID)

	soc1 := stack.seedControl(t, ctx, tenantID, "CC6.1", "SOC2", "Access Control")
	stack.seedControl(t, ctx, tenantID, "CC7.1", "SOC2", "Monitoring")
	stack.seedControl(t, ctx, tenantID, "A.9.1", "ISO27001", "Access Control")
	stack.seedControl(t, ctx, tenantID, "ORG-1", "", "Custom Policies")

	grouped, err := stack.candidates.Grouped(ctx, tenantID, models.CandidateFilter{}, nil)
	require.NoError(t, err)
	assert.Equal(t, mapping.GroupByFramework, grouped.Mode)

	keys := make([]string, 0, len(grouped.Buckets))
	for _, bucket := range grouped.Buckets {
		keys = append(keys, bucket.Key)
	}
	assert.Contains(t, keys, "SOC2")
	assert.Contains(t, keys, "ISO27001")
	assert.Equal(t, mapping.CustomFrameworkKey, keys[len(keys)-1], "the custom bucket always trails")

	// Keyword search switches to category grouping
	grouped, err = stack.candidates.Grouped(ctx, tenantID, models.CandidateFilter{Keyword: "CC6"}, nil)
	require.NoError(t, err)
	assert.Equal(t, mapping.GroupByCategory, grouped.Mode)
	require.Len(t, grouped.Buckets, 1)
	assert.Equal(t, "Access Control", grouped.Buckets[0].Key)

	// Items already on a side never come back as candidates
	exclude := mapping.NewExcludeSet([]models.ItemKey{{Kind: models.ItemKindControl, ID: soc1}})
	grouped, err = stack.candidates.Grouped(ctx, tenantID, models.CandidateFilter{}, exclude)
	require.NoError(t, err)
	for _, bucket := range grouped.Buckets {
		for _, item := range bucket.Items {
			assert.NotEqual(t, soc1, item.ID)
		}
	}

	frameworks, err := stack.candidates.Frameworks(ctx, tenantID)
	require.NoError(t, err)
	assert.Contains(t, frameworks, "SOC2")
	assert.Contains(t, frameworks, "ISO27001")
}
