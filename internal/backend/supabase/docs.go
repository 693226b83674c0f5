package supabase

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/live"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Schema creates the collection tables and the trigger that stamps
// server_time_fields with the database clock. Apply it once per project.
//
//go:embed schema.sql
var Schema string

// Docs implements backend.DocumentStore on PostgREST tables.
type Docs struct {
	client *Client
	feed   *live.Feed
}

var _ backend.DocumentStore = (*Docs)(nil)

type row struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
	// ServerTimeFields names the fields the database stamps on write.
	ServerTimeFields []string `json:"server_time_fields,omitempty"`
}

// NewDocs creates the document store. Pass the Realtime client as notifier so
// changes made by other processes reach watchers.
func NewDocs(client *Client, notifier live.Notifier, log *logger.Logger) *Docs {
	if log == nil {
		log = logger.NewDefault("supabase-docs")
	}
	d := &Docs{client: client}
	d.feed = live.NewFeed(d.Query, notifier, log)
	return d
}

// Feed exposes the live query feed.
func (d *Docs) Feed() *live.Feed {
	return d.feed
}

func (d *Docs) Add(ctx context.Context, collection string, fields backend.Fields) (string, error) {
	id := uuid.NewString()
	if err := d.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Docs) Set(ctx context.Context, collection, id string, fields backend.Fields) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("collection and id are required")
	}
	plain, stamped := fields.SplitServerTimestamps()
	payload := row{ID: id, Fields: plain.Encode(), ServerTimeFields: stamped}
	resp, err := d.client.From(collection).Upsert(ctx, payload, "id")
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	d.feed.Changed(ctx, collection)
	return nil
}

func (d *Docs) Get(ctx context.Context, collection, id string) (backend.Document, error) {
	docs, err := d.fetch(ctx, d.client.From(collection).Select("id,fields").Eq("id", id).Limit(1))
	if err != nil {
		return backend.Document{}, fmt.Errorf("read %s/%s: %w", collection, id, err)
	}
	if len(docs) == 0 {
		return backend.Document{}, fmt.Errorf("%s/%s: %w", collection, id, backend.ErrNotFound)
	}
	return docs[0], nil
}

func (d *Docs) Delete(ctx context.Context, collection, id string) error {
	resp, err := d.client.From(collection).Eq("id", id).Delete(ctx)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if len(gjson.ParseBytes(resp.Body).Array()) == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, backend.ErrNotFound)
	}
	d.feed.Changed(ctx, collection)
	return nil
}

func (d *Docs) Query(ctx context.Context, q backend.Query) ([]backend.Document, error) {
	qb, err := d.build(q)
	if err != nil {
		return nil, err
	}
	docs, err := d.fetch(ctx, qb)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return docs, nil
}

func (d *Docs) Watch(ctx context.Context, q backend.Query, fn func([]backend.Document)) (backend.Unsubscribe, error) {
	return d.feed.Watch(ctx, q, fn)
}

func (d *Docs) build(q backend.Query) (*QueryBuilder, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	qb := d.client.From(q.Collection).Select("id,fields")
	for _, f := range q.Where {
		if !fieldName.MatchString(f.Field) {
			return nil, fmt.Errorf("invalid field name %q", f.Field)
		}
		column := "fields->>" + f.Field
		switch f.Op {
		case backend.OpEqual:
			qb.Eq(column, fmt.Sprint(f.Value))
		case backend.OpIn:
			qb.In(column, f.Value.([]string))
		}
	}
	if q.OrderBy != "" {
		if !fieldName.MatchString(q.OrderBy) {
			return nil, fmt.Errorf("invalid order field %q", q.OrderBy)
		}
		qb.Order("fields->>"+q.OrderBy, !q.Descending)
	}
	qb.Order("id", true)
	if q.Limit > 0 {
		qb.Limit(q.Limit)
	}
	return qb, nil
}

func (d *Docs) fetch(ctx context.Context, qb *QueryBuilder) ([]backend.Document, error) {
	resp, err := qb.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var rows []row
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	out := make([]backend.Document, 0, len(rows))
	for _, r := range rows {
		fields := backend.Fields(r.Fields)
		if fields == nil {
			fields = backend.Fields{}
		}
		out = append(out, backend.Document{ID: r.ID, Fields: fields})
	}
	return out, nil
}
