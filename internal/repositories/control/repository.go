package control

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var itemColumns = []string{"id", "ref_code", "reference_framework", "category", "subcategory"}

// Repository reads the controls and subcontrols that feed candidate pools
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new control repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetControl retrieves a control by ID
func (r *Repository) GetControl(ctx context.Context, tenantID string, id string) (*models.Control, error) {
	ctx, span := tracing.StartSpan(ctx, "control.Repository.GetControl")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "ref_code", "name", "description", "reference_framework", "category", "subcategory", "created_at", "updated_at", "deleted_at")
	sb.From("controls")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var control models.Control
	if err := r.db.GetContext(ctx, &control, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("control %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get control")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get control")
	}

	return &control, nil
}

// GetSubcontrol retrieves a subcontrol by ID
func (r *Repository) GetSubcontrol(ctx context.Context, tenantID string, id string) (*models.Subcontrol, error) {
	ctx, span := tracing.StartSpan(ctx, "control.Repository.GetSubcontrol")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "control_id", "ref_code", "name", "description", "reference_framework", "category", "subcategory", "created_at", "updated_at", "deleted_at")
	sb.From("subcontrols")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var subcontrol models.Subcontrol
	if err := r.db.GetContext(ctx, &subcontrol, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("subcontrol %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get subcontrol")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get subcontrol")
	}

	return &subcontrol, nil
}

// CandidatePool fetches the items eligible for mapping under the filter.
// Keyword matches ref codes and names case-insensitively. Results keep a
// stable order so grouping output is deterministic.
func (r *Repository) CandidatePool(ctx context.Context, tenantID string, filter models.CandidateFilter, limit int) (*models.CandidatePool, error) {
	ctx, span := tracing.StartSpan(ctx, "control.Repository.CandidatePool")
	defer span.End()

	if limit < 1 || limit > 2000 {
		limit = 500
	}

	controls, err := r.queryItems(ctx, "controls", models.ItemKindControl, tenantID, filter, limit)
	if err != nil {
		return nil, err
	}

	subcontrols, err := r.queryItems(ctx, "subcontrols", models.ItemKindSubcontrol, tenantID, filter, limit)
	if err != nil {
		return nil, err
	}

	return &models.CandidatePool{
		Controls:    controls,
		Subcontrols: subcontrols,
	}, nil
}

func (r *Repository) queryItems(ctx context.Context, table string, kind models.ItemKind, tenantID string, filter models.CandidateFilter, limit int) ([]models.RelationshipItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(itemColumns...)
	sb.From(table)

	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	}
	if filter.Keyword != "" {
		pattern := "%" + filter.Keyword + "%"
		where = append(where, sb.Or(
			sb.ILike("ref_code", pattern),
			sb.ILike("name", pattern),
		))
	}
	if filter.Framework != "" {
		where = append(where, sb.Equal("reference_framework", filter.Framework))
	}
	if filter.Category != "" {
		where = append(where, sb.Equal("category", filter.Category))
	}
	sb.Where(where...)
	sb.OrderBy("reference_framework ASC NULLS LAST", "ref_code ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []models.RelationshipItem
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to query candidate items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load candidates")
	}

	for i := range rows {
		rows[i].Kind = kind
	}

	return rows, nil
}

// ItemsByIDs resolves controls and subcontrols into relationship items,
// preserving the order of the input ID slices. Missing or deleted IDs are
// skipped silently.
func (r *Repository) ItemsByIDs(ctx context.Context, tenantID string, controlIDs, subcontrolIDs []string) ([]models.RelationshipItem, error) {
	ctx, span := tracing.StartSpan(ctx, "control.Repository.ItemsByIDs")
	defer span.End()

	items := make([]models.RelationshipItem, 0, len(controlIDs)+len(subcontrolIDs))

	controls, err := r.itemsFromTable(ctx, "controls", models.ItemKindControl, tenantID, controlIDs)
	if err != nil {
		return nil, err
	}
	items = append(items, controls...)

	subcontrols, err := r.itemsFromTable(ctx, "subcontrols", models.ItemKindSubcontrol, tenantID, subcontrolIDs)
	if err != nil {
		return nil, err
	}
	items = append(items, subcontrols...)

	return items, nil
}

func (r *Repository) itemsFromTable(ctx context.Context, table string, kind models.ItemKind, tenantID string, ids []string) ([]models.RelationshipItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(itemColumns...)
	sb.From(table)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("id", idsToAny(ids)...),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var rows []models.RelationshipItem
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to resolve items by id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve items")
	}

	byID := make(map[string]models.RelationshipItem, len(rows))
	for i := range rows {
		rows[i].Kind = kind
		byID[rows[i].ID] = rows[i]
	}

	ordered := make([]models.RelationshipItem, 0, len(rows))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}

	return ordered, nil
}

func idsToAny(ids []string) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}

// Frameworks lists the distinct reference frameworks present for a tenant
func (r *Repository) Frameworks(ctx context.Context, tenantID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "control.Repository.Frameworks")
	defer span.End()

	query := `
		SELECT DISTINCT reference_framework
		FROM controls
		WHERE tenant_id = $1 AND deleted_at IS NULL AND reference_framework IS NOT NULL
		ORDER BY reference_framework ASC
	`

	var frameworks []string
	if err := r.db.SelectContext(ctx, &frameworks, query, tenantID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list frameworks")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list frameworks")
	}

	return frameworks, nil
}
