package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aura-webinar/livesession/pkg/apperr"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Postgres stores documents as JSONB rows in the documents table.
type Postgres struct {
	db      DB
	watcher *Watcher
}

// NewPostgres creates a Postgres-backed document store.
func NewPostgres(db DB, watcher *Watcher) *Postgres {
	if watcher == nil {
		watcher = NewWatcher(nil)
	}
	return &Postgres{db: db, watcher: watcher}
}

func (p *Postgres) Get(ctx context.Context, path string, dst interface{}) error {
	const q = `SELECT data FROM documents WHERE path = $1`
	var data []byte
	if err := p.db.QueryRow(ctx, q, path).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, path)
		}
		return fmt.Errorf("get %s: %w", path, err)
	}
	return json.Unmarshal(data, dst)
}

func (p *Postgres) Set(ctx context.Context, path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	const q = `INSERT INTO documents (path, parent, data, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
	if _, err := p.db.Exec(ctx, q, path, Parent(path), data); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	p.watcher.Notify(Change{Path: path, Kind: ChangeSet, Data: data})
	return nil
}

func (p *Postgres) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	const q = `INSERT INTO documents (path, parent, data, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW()
		RETURNING data`
	var data []byte
	if err := p.db.QueryRow(ctx, q, path, Parent(path), patch).Scan(&data); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	p.watcher.Notify(Change{Path: path, Kind: ChangeSet, Data: data})
	return nil
}

func (p *Postgres) Increment(ctx context.Context, path, field string, delta int64) error {
	const q = `INSERT INTO documents (path, parent, data, updated_at)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::bigint), NOW())
		ON CONFLICT (path) DO UPDATE SET
			data = jsonb_set(documents.data, ARRAY[$3::text], to_jsonb(COALESCE((documents.data->>$3::text)::bigint, 0) + $4::bigint)),
			updated_at = NOW()
		RETURNING data`
	var data []byte
	if err := p.db.QueryRow(ctx, q, path, Parent(path), field, delta).Scan(&data); err != nil {
		return fmt.Errorf("increment %s.%s: %w", path, field, err)
	}
	p.watcher.Notify(Change{Path: path, Kind: ChangeSet, Data: data})
	return nil
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	const q = `DELETE FROM documents WHERE path = $1 OR starts_with(path, $2)`
	if _, err := p.db.Exec(ctx, q, path, path+sep); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	p.watcher.Notify(Change{Path: path, Kind: ChangeDelete})
	return nil
}

func (p *Postgres) List(ctx context.Context, collection string) ([]Document, error) {
	const q = `SELECT path, data, updated_at FROM documents WHERE parent = $1 ORDER BY path`
	rows, err := p.db.Query(ctx, q, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var data []byte
		if err := rows.Scan(&d.Path, &data, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Data = data
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) Subscribe(prefix string, fn func(Change)) (cancel func()) {
	return p.watcher.Subscribe(prefix, fn)
}
