package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultClientTimeout is the default timeout for REST requests.
const DefaultClientTimeout = 10 * time.Second

// TokenSource returns the current user access token, or "" for anonymous.
type TokenSource func() string

// Supabase talks to a Supabase project through its PostgREST and realtime
// endpoints.
type Supabase struct {
	baseURL    string
	apiKey     string
	token      TokenSource
	httpClient *http.Client
	dialer     dialer
}

// NewSupabase creates a client for the project at baseURL.
func NewSupabase(baseURL, apiKey string, token TokenSource) *Supabase {
	return &Supabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
		dialer: defaultDialer(),
	}
}

// InsertRow inserts values into table and returns the stored row.
func (s *Supabase) InsertRow(ctx context.Context, table string, values Row) (Row, error) {
	rows, err := s.do(ctx, http.MethodPost, table, nil, values, "return=representation")
	if err != nil {
		return nil, err
	}
	return first(rows), nil
}

// UpdateRow patches the rows matching key and returns the first updated row.
func (s *Supabase) UpdateRow(ctx context.Context, table string, key Filter, patch Row) (Row, error) {
	if len(key) == 0 {
		return nil, &Error{Msg: "update without key", Permanent: true}
	}
	rows, err := s.do(ctx, http.MethodPatch, table, filterQuery(key), patch, "return=representation")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

// SelectRows returns rows of table matching filter.
func (s *Supabase) SelectRows(ctx context.Context, table string, filter Filter, order *Order, limit int) ([]Row, error) {
	q := filterQuery(filter)
	q.Set("select", "*")
	if order != nil {
		dir := "asc"
		if order.Desc {
			dir = "desc"
		}
		q.Set("order", order.Column+"."+dir)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	return s.do(ctx, http.MethodGet, table, q, nil, "")
}

// UpsertRow inserts values or merges them into the row sharing conflictKey.
func (s *Supabase) UpsertRow(ctx context.Context, table string, values Row, conflictKey string) (Row, error) {
	q := url.Values{}
	if conflictKey != "" {
		q.Set("on_conflict", conflictKey)
	}
	rows, err := s.do(ctx, http.MethodPost, table, q, values, "resolution=merge-duplicates,return=representation")
	if err != nil {
		return nil, err
	}
	return first(rows), nil
}

// Health reports whether the REST endpoint is reachable.
func (s *Supabase) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/rest/v1/", nil)
	if err != nil {
		return err
	}
	s.setHeaders(req, "")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return StatusError(resp.StatusCode, "health check failed")
	}
	return nil
}

func (s *Supabase) do(ctx context.Context, method, table string, q url.Values, body interface{}, prefer string) ([]Row, error) {
	u := s.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Msg: fmt.Sprintf("encode body: %v", err), Permanent: true, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &Error{Msg: err.Error(), Permanent: true, Err: err}
	}
	s.setHeaders(req, prefer)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(err)
	}
	if resp.StatusCode >= 400 {
		return nil, StatusError(resp.StatusCode, errorMessage(data))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rows, nil
}

func (s *Supabase) setHeaders(req *http.Request, prefer string) {
	req.Header.Set("apikey", s.apiKey)
	bearer := s.apiKey
	if s.token != nil {
		if t := s.token(); t != "" {
			bearer = t
		}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

func filterQuery(f Filter) url.Values {
	q := url.Values{}
	for _, c := range f {
		q.Add(c.Column, c.Op+"."+formatValue(c.Value))
	}
	return q
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// errorMessage extracts PostgREST's "message" field when present.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

func first(rows []Row) Row {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}
