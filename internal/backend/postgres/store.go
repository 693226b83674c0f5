// Package postgres stores documents and media objects in PostgreSQL. Each
// document is one row of the documents table with its fields in a JSONB
// column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/live"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// Store implements backend.DocumentStore and backend.ObjectStore.
type Store struct {
	db      *sqlx.DB
	feed    *live.Feed
	baseURL string
}

var (
	_ backend.DocumentStore = (*Store)(nil)
	_ backend.ObjectStore   = (*Store)(nil)
	_ backend.ObjectOpener  = (*Store)(nil)
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// upsertDocument writes $3 merged with one entry per name in $4, each set to
// the database clock in backend.TimeLayout.
const upsertDocument = `
	WITH stamp AS (SELECT clock_timestamp() AS at)
	INSERT INTO documents (collection, id, fields, created_at, updated_at)
	SELECT $1, $2,
		$3::jsonb || COALESCE((
			SELECT jsonb_object_agg(name, to_char(stamp.at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"000Z"'))
			FROM unnest($4::text[]) AS name
		), '{}'::jsonb),
		stamp.at, stamp.at
	FROM stamp
	ON CONFLICT (collection, id) DO UPDATE
	SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at
`

type documentRow struct {
	ID     string `db:"id"`
	Fields []byte `db:"fields"`
}

type objectRow struct {
	Path        string `db:"path"`
	ContentType string `db:"content_type"`
	Data        []byte `db:"data"`
}

// New creates a Store. Change signals go through notifier; pass a Redis
// notifier when several processes share the database.
func New(db *sqlx.DB, notifier live.Notifier, baseURL string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("postgres")
	}
	s := &Store{db: db, baseURL: baseURL}
	s.feed = live.NewFeed(s.Query, notifier, log)
	return s
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Feed exposes the live query feed.
func (s *Store) Feed() *live.Feed {
	return s.feed
}

// --- DocumentStore ------------------------------------------------------------

func (s *Store) Add(ctx context.Context, collection string, fields backend.Fields) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Set upserts the document. ServerTimestamp fields are filled in by the
// database from one clock_timestamp() reading, which also stamps the row.
func (s *Store) Set(ctx context.Context, collection, id string, fields backend.Fields) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("collection and id are required")
	}
	plain, stamped := fields.SplitServerTimestamps()
	payload, err := json.Marshal(plain.Encode())
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	_, err = s.db.ExecContext(ctx, upsertDocument, collection, id, string(payload), pq.Array(stamped))
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	s.feed.Changed(ctx, collection)
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (backend.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, fields
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Document{}, fmt.Errorf("%s/%s: %w", collection, id, backend.ErrNotFound)
	}
	if err != nil {
		return backend.Document{}, err
	}
	return decodeRow(row)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, backend.ErrNotFound)
	}
	s.feed.Changed(ctx, collection)
	return nil
}

func (s *Store) Query(ctx context.Context, q backend.Query) ([]backend.Document, error) {
	stmt, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	out := make([]backend.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, q backend.Query, fn func([]backend.Document)) (backend.Unsubscribe, error) {
	return s.feed.Watch(ctx, q, fn)
}

func buildQuery(q backend.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString("SELECT id, fields FROM documents WHERE collection = $1")

	for _, f := range q.Where {
		if !fieldName.MatchString(f.Field) {
			return "", nil, fmt.Errorf("invalid field name %q", f.Field)
		}
		switch f.Op {
		case backend.OpEqual:
			args = append(args, fmt.Sprint(f.Value))
			fmt.Fprintf(&b, " AND fields->>'%s' = $%d", f.Field, len(args))
		case backend.OpIn:
			args = append(args, pq.Array(f.Value.([]string)))
			fmt.Fprintf(&b, " AND fields->>'%s' = ANY($%d)", f.Field, len(args))
		}
	}

	if q.OrderBy != "" {
		if !fieldName.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("invalid order field %q", q.OrderBy)
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY fields->>'%s' %s, id ASC", q.OrderBy, dir)
	} else {
		b.WriteString(" ORDER BY id ASC")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

func decodeRow(row documentRow) (backend.Document, error) {
	fields := backend.Fields{}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &fields); err != nil {
			return backend.Document{}, fmt.Errorf("decode document %s: %w", row.ID, err)
		}
	}
	return backend.Document{ID: row.ID, Fields: fields}, nil
}

// --- ObjectStore --------------------------------------------------------------

func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return fmt.Errorf("object path is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (path, content_type, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE
		SET content_type = EXCLUDED.content_type, data = EXCLUDED.data
	`, path, contentType, data)
	if err != nil {
		return fmt.Errorf("store object %s: %w", path, err)
	}
	return nil
}

func (s *Store) URL(ctx context.Context, path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM objects WHERE path = $1)`, path); err != nil {
		return "", fmt.Errorf("lookup object %s: %w", path, err)
	}
	if !exists {
		return "", fmt.Errorf("object %s: %w", path, backend.ErrNotFound)
	}
	return backend.MediaURL(s.baseURL, path), nil
}

func (s *Store) Open(ctx context.Context, path string) (backend.Object, error) {
	var row objectRow
	err := s.db.GetContext(ctx, &row, `
		SELECT path, content_type, data
		FROM objects
		WHERE path = $1
	`, strings.TrimPrefix(path, "/"))
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Object{}, fmt.Errorf("object %s: %w", path, backend.ErrNotFound)
	}
	if err != nil {
		return backend.Object{}, err
	}
	return backend.Object{Path: row.Path, ContentType: row.ContentType, Data: row.Data}, nil
}
