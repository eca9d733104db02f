package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/platform/neo4jdb"
)

// UpsertDocumentEntities projects one enriched document and its extracted
// entity mentions into the graph. Best-effort: a nil client is a no-op and
// callers treat errors as non-fatal for the pipeline.
func UpsertDocumentEntities(
	ctx context.Context,
	client *neo4jdb.Client,
	log *logger.Logger,
	doc *types.CanonicalDocument,
	entities []types.Entity,
) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if doc == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	entityNodes := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		entityNodes = append(entityNodes, map[string]any{
			"tenant_id": doc.TenantID,
			"kind":      e.Kind,
			"name":      e.Name,
			"synced_at": now,
		})
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: client.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $doc_id})
			SET d.tenant_id = $tenant_id,
			    d.source = $source,
			    d.doc_type = $doc_type,
			    d.title = $title,
			    d.entity_key = $entity_key,
			    d.synced_at = $synced_at
		`, map[string]any{
			"doc_id":     doc.ID.String(),
			"tenant_id":  doc.TenantID,
			"source":     doc.Source,
			"doc_type":   doc.DocType,
			"title":      doc.Title,
			"entity_key": doc.EntityKey,
			"synced_at":  now,
		}); err != nil {
			return nil, err
		}
		if len(entityNodes) == 0 {
			return nil, nil
		}
		_, err := tx.Run(ctx, `
			UNWIND $entities AS ent
			MERGE (e:Entity {tenant_id: ent.tenant_id, kind: ent.kind, name: ent.name})
			SET e.synced_at = ent.synced_at
			WITH e
			MATCH (d:Document {id: $doc_id})
			MERGE (d)-[m:MENTIONS]->(e)
			SET m.synced_at = $synced_at
		`, map[string]any{
			"entities":  entityNodes,
			"doc_id":    doc.ID.String(),
			"synced_at": now,
		})
		return nil, err
	})
	if err != nil && log != nil {
		log.Warn("entity graph upsert failed",
			"doc_id", doc.ID.String(),
			"tenant_id", doc.TenantID,
			"error", err,
		)
	}
	return err
}
