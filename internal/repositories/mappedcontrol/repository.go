package mappedcontrol

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	mappedControlsTable = "mapped_controls"
	edgesTable          = "mapped_control_edges"
	revisionsTable      = "mapped_control_revisions"
)

var recordColumns = []string{"id", "tenant_id", "mapping_type", "confidence", "relation", "source", "created_at", "updated_at", "deleted_at"}

// Repository persists mapped controls. The record row holds the relation
// metadata; set membership lives in mapped_control_edges, one row per
// (relation key, item id), ordered by position. Updates apply add/remove
// deltas to the edge rows and never rewrite surviving members.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new mapped control repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for cross-repository transactions
func (r *Repository) DB() database.DB {
	return r.db
}

type edgeRow struct {
	MappedControlID string    `db:"mapped_control_id"`
	TenantID        string    `db:"tenant_id"`
	RelationKey     string    `db:"relation_key"`
	ItemID          string    `db:"item_id"`
	Position        int       `db:"position"`
	CreatedAt       time.Time `db:"created_at"`
}

// Create inserts a new mapping record with its full initial association set
func (r *Repository) Create(ctx context.Context, record *models.MappedControl) (*models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Repository.Create")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	record.Confidence = models.ClampConfidence(record.Confidence)
	if record.Source == "" {
		record.Source = models.MappingSourceManual
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(mappedControlsTable)
	sb.Cols("id", "tenant_id", "mapping_type", "confidence", "relation", "source", "created_at", "updated_at")
	sb.Values(record.ID, record.TenantID, record.MappingType, record.Confidence, record.Relation, record.Source, record.CreatedAt, record.UpdatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"mapped_control_id": record.ID}).Error("Failed to create mapped control")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create mapped control")
	}

	snapshot := mapping.SnapshotFromRecord(record)
	if err := r.insertEdges(ctx, tx, record.TenantID, record.ID, snapshot, record.CreatedAt); err != nil {
		return nil, err
	}

	if err := r.insertRevision(ctx, tx, record.TenantID, record.ID, snapshot, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit mapped control create")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create mapped control")
	}

	return record, nil
}

// Get retrieves a mapping by ID with its association sets assembled
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From(mappedControlsTable)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var record models.MappedControl
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("mapped control %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get mapped control")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get mapped control")
	}

	if err := r.loadEdges(ctx, &record); err != nil {
		return nil, err
	}

	return &record, nil
}

// List retrieves mappings for a tenant ordered by creation time
func (r *Repository) List(ctx context.Context, tenantID string, limit, offset int) ([]models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Repository.List")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From(mappedControlsTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	var records []models.MappedControl
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list mapped controls")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list mapped controls")
	}

	for i := range records {
		if err := r.loadEdges(ctx, &records[i]); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// RelationPatch carries the relation metadata fields of an update. Nil fields
// are left untouched.
type RelationPatch struct {
	MappingType *models.MappingType
	Confidence  *int
	Relation    *string
}

// ApplyDelta applies an association delta and relation patch to a stored
// mapping in one transaction. Added members append after existing ones,
// removed members are deleted, everything else keeps its row untouched.
func (r *Repository) ApplyDelta(ctx context.Context, tenantID string, id string, added, removed mapping.AssociationMap, patch RelationPatch) (*models.MappedControl, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Repository.ApplyDelta")
	defer span.End()

	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	// Lock the record row so concurrent deltas serialize
	lockQuery := fmt.Sprintf("SELECT id FROM %s WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL FOR UPDATE", mappedControlsTable)
	var lockedID string
	if err := tx.GetContext(ctx, &lockedID, lockQuery, id, tenantID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("mapped control %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock mapped control")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update mapped control")
	}

	if len(removed) > 0 {
		for key, ids := range removed {
			if len(ids) == 0 {
				continue
			}
			db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
			db.DeleteFrom(edgesTable)
			db.Where(
				db.Equal("mapped_control_id", id),
				db.Equal("tenant_id", tenantID),
				db.Equal("relation_key", key),
				db.In("item_id", idsToAny(ids)...),
			)
			query, args := db.Build()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"relation_key": key}).Error("Failed to remove mapping edges")
				return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update mapped control")
			}
		}
	}

	if len(added) > 0 {
		if err := r.insertEdges(ctx, tx, tenantID, id, added, now); err != nil {
			return nil, err
		}
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(mappedControlsTable)
	assignments := []string{ub.Assign("updated_at", now)}
	if patch.MappingType != nil {
		assignments = append(assignments, ub.Assign("mapping_type", *patch.MappingType))
	}
	if patch.Confidence != nil {
		assignments = append(assignments, ub.Assign("confidence", models.ClampConfidence(*patch.Confidence)))
	}
	if patch.Relation != nil {
		assignments = append(assignments, ub.Assign("relation", *patch.Relation))
	}
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to patch mapped control")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update mapped control")
	}

	if err := r.insertRevision(ctx, tx, tenantID, id, added, removed); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit mapped control update")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update mapped control")
	}

	return r.Get(ctx, tenantID, id)
}

// Delete soft deletes a mapping. Edge rows stay for the revision history.
func (r *Repository) Delete(ctx context.Context, tenantID string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Repository.Delete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(mappedControlsTable)
	sb.Set(
		sb.Assign("deleted_at", now),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete mapped control")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete mapped control")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("mapped control %s not found", id))
	}

	return nil
}

// Revision is one applied delta in a mapping's history
type Revision struct {
	ID              string                                 `db:"id" json:"id"`
	TenantID        string                                 `db:"tenant_id" json:"tenant_id"`
	MappedControlID string                                 `db:"mapped_control_id" json:"mapped_control_id"`
	Added           database.JSONB[mapping.AssociationMap] `db:"added" json:"added"`
	Removed         database.JSONB[mapping.AssociationMap] `db:"removed" json:"removed"`
	CreatedAt       time.Time                              `db:"created_at" json:"created_at"`
}

// ListRevisions returns the delta history for a mapping, oldest first
func (r *Repository) ListRevisions(ctx context.Context, tenantID string, id string) ([]Revision, error) {
	ctx, span := tracing.StartSpan(ctx, "mappedcontrol.Repository.ListRevisions")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "mapped_control_id", "added", "removed", "created_at")
	sb.From(revisionsTable)
	sb.Where(
		sb.Equal("mapped_control_id", id),
		sb.Equal("tenant_id", tenantID),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var revisions []Revision
	if err := r.db.SelectContext(ctx, &revisions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list mapped control revisions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list revisions")
	}

	return revisions, nil
}

func (r *Repository) loadEdges(ctx context.Context, record *models.MappedControl) error {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("mapped_control_id", "tenant_id", "relation_key", "item_id", "position", "created_at")
	sb.From(edgesTable)
	sb.Where(
		sb.Equal("mapped_control_id", record.ID),
		sb.Equal("tenant_id", record.TenantID),
	)
	sb.OrderBy("relation_key ASC", "position ASC")

	query, args := sb.Build()
	var edges []edgeRow
	if err := r.db.SelectContext(ctx, &edges, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load mapping edges")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load mapping edges")
	}

	record.FromControlIDs = nil
	record.FromSubcontrolIDs = nil
	record.ToControlIDs = nil
	record.ToSubcontrolIDs = nil

	for _, edge := range edges {
		switch edge.RelationKey {
		case mapping.KeyFromControlIDs:
			record.FromControlIDs = append(record.FromControlIDs, edge.ItemID)
		case mapping.KeyFromSubcontrolIDs:
			record.FromSubcontrolIDs = append(record.FromSubcontrolIDs, edge.ItemID)
		case mapping.KeyToControlIDs:
			record.ToControlIDs = append(record.ToControlIDs, edge.ItemID)
		case mapping.KeyToSubcontrolIDs:
			record.ToSubcontrolIDs = append(record.ToSubcontrolIDs, edge.ItemID)
		}
	}

	return nil
}

func (r *Repository) insertEdges(ctx context.Context, tx database.Tx, tenantID string, mappedControlID string, associations mapping.AssociationMap, now time.Time) error {
	for key, ids := range associations {
		if len(ids) == 0 {
			continue
		}

		// Appended members keep insertion order after existing ones
		posQuery := fmt.Sprintf("SELECT COALESCE(MAX(position), -1) FROM %s WHERE mapped_control_id = $1 AND tenant_id = $2 AND relation_key = $3", edgesTable)
		var maxPos int
		if err := tx.GetContext(ctx, &maxPos, posQuery, mappedControlID, tenantID, key); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to read edge positions")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update mapped control")
		}

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto(edgesTable)
		sb.Cols("mapped_control_id", "tenant_id", "relation_key", "item_id", "position", "created_at")
		for i, itemID := range ids {
			sb.Values(mappedControlID, tenantID, key, itemID, maxPos+1+i, now)
		}

		query, args := sb.Build()
		query += " ON CONFLICT (mapped_control_id, relation_key, item_id) DO NOTHING"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"relation_key": key}).Error("Failed to insert mapping edges")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update mapped control")
		}
	}

	return nil
}

func (r *Repository) insertRevision(ctx context.Context, tx database.Tx, tenantID string, mappedControlID string, added, removed mapping.AssociationMap) error {
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(revisionsTable)
	sb.Cols("id", "tenant_id", "mapped_control_id", "added", "removed", "created_at")
	sb.Values(
		uuid.New().String(),
		tenantID,
		mappedControlID,
		database.JSONB[mapping.AssociationMap]{Data: added},
		database.JSONB[mapping.AssociationMap]{Data: removed},
		time.Now().UTC(),
	)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert mapping revision")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record revision")
	}

	return nil
}

func idsToAny(ids []string) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
