package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements sdk.DocumentStore on a single JSONB table.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_seq ON documents(collection, seq);
CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, doc sdk.Document) (string, error) {
	if err := sdk.ValidateCollection(collection); err != nil {
		return "", err
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal document")
	}

	id := uuid.Must(uuid.NewV7()).String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(data),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert into %s", collection)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sdk.ErrDocumentNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s/%s", collection, id)
	}
	return decodeDocument(data)
}

func (s *PostgresStore) List(ctx context.Context, collection string, filter *sdk.Filter) ([]sdk.Snapshot, error) {
	if err := sdk.ValidateFilter(filter); err != nil {
		return nil, err
	}

	query := `SELECT id, data FROM documents WHERE collection = $1`
	args := []any{collection}
	if filter != nil {
		// Containment on a single top-level key is an equality test.
		probe, err := json.Marshal(map[string]any{filter.Field: filter.Value})
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal filter")
		}
		query += ` AND data @> $2::jsonb`
		args = append(args, string(probe))
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", collection)
	}
	defer rows.Close()

	list := make([]sdk.Snapshot, 0)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		list = append(list, sdk.Snapshot{ID: id, Data: doc})
	}
	return list, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch sdk.Document) error {
	data, err := encodeDocument(patch)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal patch")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		collection, id, string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s/%s", collection, id)
	}
	if tag.RowsAffected() == 0 {
		return sdk.ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	)
	return eris.Wrapf(err, "postgres: delete %s/%s", collection, id)
}

func (s *PostgresStore) Restore(ctx context.Context, collection, id string, doc sdk.Document) error {
	if err := sdk.ValidateCollection(collection); err != nil {
		return err
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal document")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, string(data),
	)
	return eris.Wrapf(err, "postgres: restore %s/%s", collection, id)
}

func (s *PostgresStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list collections")
	}
	defer rows.Close()

	list := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan collection")
		}
		list = append(list, name)
	}
	return list, eris.Wrap(rows.Err(), "postgres: iterate collections")
}

func (s *PostgresStore) Dump(ctx context.Context, collection string) (map[string]sdk.Document, error) {
	list, err := s.List(ctx, collection, nil)
	if err != nil {
		return nil, err
	}
	return snapshotsToMap(list), nil
}
