package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ddrozdov/docnorm/mining"
	"github.com/ddrozdov/docnorm/retry"
)

// Neo4jConfig configures the durable graph store.
type Neo4jConfig struct {
	URI      string        `yaml:"uri"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Neo4jStore is the durable, transactional backing for the entity graph.
// Writes go through MERGE so rebuilds are idempotent under the uniqueness
// constraints; transient connectivity failures are retried with a bounded
// fixed backoff and become fatal once exhausted.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	policy *retry.Policy
	logger *zap.Logger
}

// NewNeo4jStore connects to the graph database and verifies connectivity
// up front, so an unreachable backend fails at startup rather than on the
// first question.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig, logger *zap.Logger) (*Neo4jStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "neo4j_store"))

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j unreachable: %w", err)
	}

	policy := retry.DefaultPolicy(logger)
	policy.Retryable = neo4j.IsRetryable

	return &Neo4jStore{
		driver: driver,
		policy: policy,
		logger: logger,
	}, nil
}

// Close releases the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// InitSchema enforces the uniqueness constraints the builder relies on.
// Constraint violations during later merges are absorbed by MERGE itself.
func (s *Neo4jStore) InitSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (d:Document) REQUIRE d.name IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE",
	}
	for _, stmt := range statements {
		if err := s.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Clear drops every node and edge. Rebuilds are full-drop-and-rebuild;
// incremental patching of a changed corpus is deliberately not supported.
func (s *Neo4jStore) Clear(ctx context.Context) error {
	return s.write(ctx, "MATCH (n) DETACH DELETE n", nil)
}

// SaveChunk merges the chunk, its owning document and every mentioned
// entity. Re-saving the same chunk is a no-op for nodes and edges alike.
func (s *Neo4jStore) SaveChunk(ctx context.Context, docName, chunkID, text string, entities []string) error {
	err := s.write(ctx, `
		MERGE (d:Document {name: $doc_name})
		MERGE (c:Chunk {id: $chunk_id})
		SET c.text = $text
		MERGE (d)-[:HAS_CHUNK]->(c)
	`, map[string]any{
		"doc_name": docName,
		"chunk_id": chunkID,
		"text":     text,
	})
	if err != nil {
		return fmt.Errorf("save chunk %s: %w", chunkID, err)
	}

	for _, entity := range entities {
		err := s.write(ctx, `
			MERGE (e:Entity {name: $entity})
			WITH e
			MATCH (c:Chunk {id: $chunk_id})
			MERGE (c)-[:MENTIONS]->(e)
		`, map[string]any{
			"entity":   entity,
			"chunk_id": chunkID,
		})
		if err != nil {
			return fmt.Errorf("link entity %q to chunk %s: %w", entity, chunkID, err)
		}
	}
	return nil
}

// Rebuild clears the store, reapplies the schema and saves the whole chunk
// corpus with freshly detected entities. Expected to run exclusively, not
// concurrently with query traffic.
func (s *Neo4jStore) Rebuild(ctx context.Context, chunks []Chunk, entities *mining.EntityTable) error {
	if err := s.InitSchema(ctx); err != nil {
		return err
	}
	if err := s.Clear(ctx); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}

	for _, chunk := range chunks {
		detected := mining.DetectEntities(chunk.Text, entities)
		if err := s.SaveChunk(ctx, chunk.Document, chunk.ID, chunk.Text, detected); err != nil {
			return err
		}
	}

	s.logger.Info("graph rebuilt", zap.Int("chunks", len(chunks)))
	return nil
}

// EntityChunk is a chunk retrieved through its MENTIONS edge.
type EntityChunk struct {
	ChunkID string
	Text    string
	Entity  string
}

// ChunksByEntities returns chunks one MENTIONS hop away from any of the
// given entities. A record without a text field is a data-integrity error,
// not a silently empty chunk.
func (s *Neo4jStore) ChunksByEntities(ctx context.Context, entities []string, limit int) ([]EntityChunk, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var out []EntityChunk
	err := s.policy.Do(ctx, func() error {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
			res, err := tx.Run(ctx, `
				MATCH (c:Chunk)-[:MENTIONS]->(e:Entity)
				WHERE e.name IN $entities
				RETURN c.text AS text, e.name AS entity, c.id AS chunk_id
				LIMIT $limit
			`, map[string]any{
				"entities": entities,
				"limit":    limit,
			})
			if err != nil {
				return nil, err
			}
			return res.Collect(ctx)
		})
		if err != nil {
			return err
		}

		out = out[:0]
		for _, record := range records {
			text, ok := record.Get("text")
			if !ok || text == nil {
				return fmt.Errorf("graph record missing text field: %v", record.Keys)
			}
			entity, _ := record.Get("entity")
			chunkID, _ := record.Get("chunk_id")
			out = append(out, EntityChunk{
				ChunkID: asString(chunkID),
				Text:    asString(text),
				Entity:  asString(entity),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) error {
	return s.policy.Do(ctx, func() error {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)

		_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			return nil, res.Err()
		})
		return err
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
