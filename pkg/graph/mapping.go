package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Labels and relationship types used by the mapping projection
const (
	LabelControl    = "Control"
	LabelSubcontrol = "Subcontrol"
	RelMapsTo       = "MAPS_TO"
)

// MappingProjection mirrors persisted mappings into the graph as MAPS_TO
// relationships between control and subcontrol nodes. The projection is
// derived state. Sync replaces every edge for a mapping with the current
// cross product of its sides, so replaying after a failure is safe.
type MappingProjection struct {
	client *Client
	logger ectologger.Logger
}

// NewMappingProjection creates a new mapping projection service
func NewMappingProjection(client *Client, logger ectologger.Logger) *MappingProjection {
	return &MappingProjection{
		client: client,
		logger: logger,
	}
}

type graphItem struct {
	label string
	id    string
}

func sideItems(controlIDs, subcontrolIDs []string) []graphItem {
	items := make([]graphItem, 0, len(controlIDs)+len(subcontrolIDs))
	for _, id := range controlIDs {
		items = append(items, graphItem{label: LabelControl, id: id})
	}
	for _, id := range subcontrolIDs {
		items = append(items, graphItem{label: LabelSubcontrol, id: id})
	}
	return items
}

// Sync replaces the projection of a mapping with its current state
func (s *MappingProjection) Sync(ctx context.Context, record *models.MappedControl) error {
	ctx, span := tracing.StartSpan(ctx, "graph.MappingProjection.Sync")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"mapped_control_id": record.ID,
		"tenant_id":         record.TenantID,
	})

	from := sideItems(record.FromControlIDs, record.FromSubcontrolIDs)
	to := sideItems(record.ToControlIDs, record.ToSubcontrolIDs)

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Drop the previous projection for this mapping
		deleteCypher := fmt.Sprintf(`
			MATCH ()-[r:%s {mapped_control_id: $mapped_control_id, tenant_id: $tenant_id}]->()
			DELETE r
		`, RelMapsTo)
		if _, err := tx.Run(ctx, deleteCypher, map[string]any{
			"mapped_control_id": record.ID,
			"tenant_id":         record.TenantID,
		}); err != nil {
			return nil, err
		}

		props := map[string]any{
			"mapped_control_id": record.ID,
			"tenant_id":         record.TenantID,
			"mapping_type":      string(record.MappingType),
			"confidence":        record.Confidence,
			"source":            string(record.Source),
		}

		for _, f := range from {
			for _, t := range to {
				cypher := fmt.Sprintf(`
					MERGE (from:%s {id: $from_id, tenant_id: $tenant_id})
					MERGE (to:%s {id: $to_id, tenant_id: $tenant_id})
					MERGE (from)-[r:%s {mapped_control_id: $mapped_control_id, tenant_id: $tenant_id}]->(to)
					SET r += $props
				`, sanitizeLabel(f.label), sanitizeLabel(t.label), RelMapsTo)

				if _, err := tx.Run(ctx, cypher, map[string]any{
					"from_id":           f.id,
					"to_id":             t.id,
					"mapped_control_id": record.ID,
					"tenant_id":         record.TenantID,
					"props":             props,
				}); err != nil {
					return nil, err
				}
			}
		}

		return nil, nil
	})

	if err != nil {
		log.WithError(err).Error("Failed to sync mapping projection")
		return fmt.Errorf("failed to sync mapping projection: %w", err)
	}

	log.WithFields(map[string]any{
		"edge_count": len(from) * len(to),
	}).Debug("Synced mapping projection")
	return nil
}

// Remove deletes every projected edge for a mapping
func (s *MappingProjection) Remove(ctx context.Context, tenantID string, mappedControlID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.MappingProjection.Remove")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH ()-[r:%s {mapped_control_id: $mapped_control_id, tenant_id: $tenant_id}]->()
		DELETE r
	`, RelMapsTo)

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"mapped_control_id": mappedControlID,
			"tenant_id":         tenantID,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to remove mapping projection")
		return fmt.Errorf("failed to remove mapping projection: %w", err)
	}

	return nil
}

// MappedPeers returns the ids of items the given control maps to or from,
// grouped by direction. Used for cross framework coverage queries.
func (s *MappingProjection) MappedPeers(ctx context.Context, tenantID string, controlID string) (outbound []string, inbound []string, err error) {
	ctx, span := tracing.StartSpan(ctx, "graph.MappingProjection.MappedPeers")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (n {id: $id, tenant_id: $tenant_id})
		OPTIONAL MATCH (n)-[:%s {tenant_id: $tenant_id}]->(out)
		OPTIONAL MATCH (in)-[:%s {tenant_id: $tenant_id}]->(n)
		RETURN collect(DISTINCT out.id) AS outbound, collect(DISTINCT in.id) AS inbound
	`, RelMapsTo, RelMapsTo)

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":        controlID,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return [2][]string{}, nil
		}
		record := result.Record()
		return [2][]string{
			collectStrings(record, "outbound"),
			collectStrings(record, "inbound"),
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	pair := res.([2][]string)
	return pair[0], pair[1], nil
}

func collectStrings(record *neo4j.Record, key string) []string {
	raw, ok := record.Get(key)
	if !ok || raw == nil {
		return nil
	}
	values, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sanitizeLabel ensures the label is safe for Cypher
func sanitizeLabel(label string) string {
	// Only allow alphanumeric and underscore
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return "Entity"
	}
	return result
}
