// Package supabase reaches a hosted Supabase project: PostgREST tables for
// documents, GoTrue for accounts, Storage for media and Realtime for change
// signals.
//
// Every collection is a table of the form
//
//	create table <collection> (id text primary key, fields jsonb not null);
//
// with Realtime enabled for the tables that are watched.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Sivtheng/message-maxy/internal/httputil"
)

// maxResponseBytes bounds any single API response read into memory.
const maxResponseBytes = 32 << 20

// Config holds connection settings for a Supabase project.
type Config struct {
	URL string
	// AnonKey is the public key used for GoTrue sign-up and sign-in.
	AnonKey string
	// ServiceKey is used for table and storage access and for admin user
	// deletion. When empty, AnonKey is used and account deletion fails.
	ServiceKey string
	Bucket     string
	Schema     string
	HTTPClient *http.Client
}

// Client is a Supabase REST client.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	schema     string
	httpClient *http.Client
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.AnonKey == "" && cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("supabase URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	anon := cfg.AnonKey
	if anon == "" {
		anon = cfg.ServiceKey
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		anonKey:    anon,
		serviceKey: cfg.ServiceKey,
		schema:     schema,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// dataKey is the key used for table and storage requests.
func (c *Client) dataKey() string {
	if c.serviceKey != "" {
		return c.serviceKey
	}
	return c.anonKey
}

// --- PostgREST ----------------------------------------------------------------

// From starts a query against table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// QueryBuilder builds PostgREST requests.
type QueryBuilder struct {
	client  *Client
	table   string
	columns string
	params  url.Values
	orders  []string
	limit   int
}

func (q *QueryBuilder) filter(column, expr string) *QueryBuilder {
	if q.params == nil {
		q.params = url.Values{}
	}
	q.params.Add(column, expr)
	return q
}

// Select sets the returned columns.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Eq adds an equality filter. Column may be a JSON path such as fields->>name.
func (q *QueryBuilder) Eq(column, value string) *QueryBuilder {
	return q.filter(column, "eq."+quoteValue(value))
}

// In adds a membership filter.
func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteValue(v)
	}
	return q.filter(column, "in.("+strings.Join(quoted, ",")+")")
}

// Order adds a sort key.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit caps the number of rows.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) endpoint(extra url.Values) string {
	params := url.Values{}
	for k, vs := range q.params {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, url.PathEscape(q.table))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return endpoint
}

// Execute runs a SELECT.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := q.client.newRequest(ctx, http.MethodGet, q.endpoint(nil), nil)
	if err != nil {
		return nil, err
	}
	q.client.setSchema(req, false)
	return q.client.do(req)
}

// Upsert inserts data, merging rows that collide on onConflict.
func (q *QueryBuilder) Upsert(ctx context.Context, data any, onConflict string) (*Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	var extra url.Values
	if onConflict != "" {
		extra = url.Values{"on_conflict": {onConflict}}
	}
	req, err := q.client.newRequest(ctx, http.MethodPost, q.endpoint(extra), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	q.client.setSchema(req, true)
	return q.client.do(req)
}

// Delete removes the filtered rows and returns them.
func (q *QueryBuilder) Delete(ctx context.Context) (*Response, error) {
	req, err := q.client.newRequest(ctx, http.MethodDelete, q.endpoint(nil), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")
	q.client.setSchema(req, true)
	return q.client.do(req)
}

// quoteValue wraps values containing PostgREST reserved characters in double
// quotes.
func quoteValue(v string) string {
	if strings.ContainsAny(v, ",.:()\" ") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

// --- responses ----------------------------------------------------------------

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Err returns an *APIError when the response indicates failure.
func (r *Response) Err() error {
	if r.StatusCode < 400 {
		return nil
	}
	msg := firstString(r.Body, "msg", "message", "error_description", "error")
	if msg == "" {
		msg = http.StatusText(r.StatusCode)
	}
	return &APIError{
		StatusCode: r.StatusCode,
		Code:       firstString(r.Body, "error_code", "code"),
		Message:    msg,
	}
}

// APIError is a failed Supabase call.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase error: %s (status %d)", e.Message, e.StatusCode)
}

func firstString(body []byte, paths ...string) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, p := range paths {
		if v := gjson.GetBytes(body, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// --- transport ----------------------------------------------------------------

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	key := c.dataKey()
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) setSchema(req *http.Request, write bool) {
	if write {
		req.Header.Set("Content-Profile", c.schema)
	} else {
		req.Header.Set("Accept-Profile", c.schema)
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Headers: resp.Header}, nil
}

// doJSON sends a JSON body and fails on an error status.
func (c *Client) doJSON(ctx context.Context, method, endpoint, bearer string, payload any) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.anonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}
