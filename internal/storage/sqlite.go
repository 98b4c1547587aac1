package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// SQLiteStore implements sdk.DocumentStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, doc sdk.Document) (string, error) {
	if err := sdk.ValidateCollection(collection); err != nil {
		return "", err
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal document")
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(data), now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert into %s", collection)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sdk.ErrDocumentNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s/%s", collection, id)
	}
	return decodeDocument([]byte(data))
}

func (s *SQLiteStore) List(ctx context.Context, collection string, filter *sdk.Filter) ([]sdk.Snapshot, error) {
	if err := sdk.ValidateFilter(filter); err != nil {
		return nil, err
	}

	query := `SELECT id, data FROM documents WHERE collection = ?`
	args := []any{collection}
	if filter != nil {
		value, err := sqliteValue(filter.Value)
		if err != nil {
			return nil, err
		}
		query += ` AND json_extract(data, ?) = ?`
		args = append(args, jsonPath(filter.Field), value)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", collection)
	}
	defer rows.Close()

	list := make([]sdk.Snapshot, 0)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		doc, err := decodeDocument([]byte(data))
		if err != nil {
			return nil, err
		}
		list = append(list, sdk.Snapshot{ID: id, Data: doc})
	}
	return list, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

// Update merges top-level fields with json_set, one path per patched key.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch sdk.Document) error {
	expr := "data"
	args := make([]any, 0, len(patch)*2+3)
	if len(patch) > 0 {
		expr = "json_set(data"
		for _, k := range sortedKeys(patch) {
			raw, err := json.Marshal(patch[k])
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal field %s", k)
			}
			expr += ", ?, json(?)"
			args = append(args, jsonPath(k), string(raw))
		}
		expr += ")"
	}
	args = append(args, time.Now().UTC(), collection, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = `+expr+`, updated_at = ? WHERE collection = ? AND id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s/%s", collection, id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id,
	)
	return eris.Wrapf(err, "sqlite: delete %s/%s", collection, id)
}

func (s *SQLiteStore) Restore(ctx context.Context, collection, id string, doc sdk.Document) error {
	if err := sdk.ValidateCollection(collection); err != nil {
		return err
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal document")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, string(data), now, now,
	)
	return eris.Wrapf(err, "sqlite: restore %s/%s", collection, id)
}

func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list collections")
	}
	defer rows.Close()

	list := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan collection")
		}
		list = append(list, name)
	}
	return list, eris.Wrap(rows.Err(), "sqlite: iterate collections")
}

func (s *SQLiteStore) Dump(ctx context.Context, collection string) (map[string]sdk.Document, error) {
	list, err := s.List(ctx, collection, nil)
	if err != nil {
		return nil, err
	}
	return snapshotsToMap(list), nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return sdk.ErrDocumentNotFound
	}
	return nil
}

// sqliteValue converts a filter value into something json_extract compares equal to.
func sqliteValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, float64, float32, int, int32, int64:
		return val, nil
	case bool:
		// json_extract yields 1/0 for JSON booleans
		if val {
			return 1, nil
		}
		return 0, nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal filter value")
		}
		return string(raw), nil
	}
}
