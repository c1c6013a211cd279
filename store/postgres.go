package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"medrag/model"
	"medrag/types"
)

// PostgresStore keeps the vector index in Postgres with the pgvector
// extension. Unlike the remote backend it can make a batch write atomic, so
// Upsert runs in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
	}, nil
}

func (p *PostgresStore) EnsureIndex(ctx context.Context) error {
	query := fmt.Sprintf(`
    CREATE EXTENSION IF NOT EXISTS vector;

    CREATE TABLE IF NOT EXISTS records (
        id UUID PRIMARY KEY,
        content TEXT NOT NULL,
        metadata JSONB,
        embedding vector(%d)
    );

	CREATE INDEX IF NOT EXISTS idx_records_embedding ON records USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);
    `, model.EmbeddingDim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Upsert(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
    INSERT INTO records (id, content, metadata, embedding)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (id) DO UPDATE SET
        content = EXCLUDED.content,
        metadata = EXCLUDED.metadata,
        embedding = EXCLUDED.embedding
    `
	for _, rec := range records {
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query,
			rec.ID, rec.Content, metadata, pgvector.NewVector(rec.Embedding),
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) Query(ctx context.Context, queryVec []float32, topK int) ([]types.ScoredRecord, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if topK <= 0 {
		topK = 3
	}

	vector := pgvector.NewVector(queryVec)

	query := `
		SELECT id, content, metadata,
		       1-(embedding <=> $1) as score
		FROM records
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, vector, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.ScoredRecord
	for rows.Next() {
		var rec types.ScoredRecord
		var metadata []byte
		if err := rows.Scan(&rec.ID, &rec.Content, &metadata, &rec.Score); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, err
			}
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
