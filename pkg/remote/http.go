package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	rowsPath       = "/v1/rows"
)

// HTTPRowStore implements RowStore against a REST backend:
//
//	GET  {base}/v1/rows?owner={owner}         -> {"rows": [...]}
//	POST {base}/v1/rows?owner={owner}         <- {"rows": [...]}
//
// Upserts are replace-on-conflict keyed (owner, kind, id) on the server.
// The client enforces a per-call timeout; a sync invocation as a whole has
// no deadline of its own.
type HTTPRowStore struct {
	BaseURL string
	Token   func(ctx context.Context) (string, error)
	client  *http.Client
}

// NewHTTPRowStore creates a client for the given base URL. token supplies
// the bearer token per call and may be nil for unauthenticated backends.
func NewHTTPRowStore(baseURL string, token func(ctx context.Context) (string, error)) *HTTPRowStore {
	return &HTTPRowStore{
		BaseURL: baseURL,
		Token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// SetTimeout overrides the per-call timeout.
func (s *HTTPRowStore) SetTimeout(d time.Duration) {
	s.client.Timeout = d
}

type rowsEnvelope struct {
	Rows []Row `json:"rows"`
}

// Select fetches all rows scoped to the owner.
func (s *HTTPRowStore) Select(ctx context.Context, owner string) ([]Row, error) {
	endpoint := s.BaseURL + rowsPath + "?owner=" + url.QueryEscape(owner)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	var envelope rowsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse select response: %w", err)
	}
	return envelope.Rows, nil
}

// Upsert pushes rows in one batch. The server replaces rows keyed
// (owner, kind, id); a non-2xx status means nothing was committed.
func (s *HTTPRowStore) Upsert(ctx context.Context, owner string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	payload, err := json.Marshal(rowsEnvelope{Rows: rows})
	if err != nil {
		return fmt.Errorf("failed to marshal upsert batch: %w", err)
	}

	endpoint := s.BaseURL + rowsPath + "?owner=" + url.QueryEscape(owner)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = s.roundTrip(ctx, req)
	return err
}

// roundTrip attaches auth, executes the request, and maps status codes to
// errors whose text the sync layer's classifier understands.
func (s *HTTPRowStore) roundTrip(ctx context.Context, req *http.Request) ([]byte, error) {
	if s.Token != nil {
		token, err := s.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("unauthorized (status %d): %s", resp.StatusCode, truncate(body))
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("conflict (status %d): %s", resp.StatusCode, truncate(body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited (status %d): %s", resp.StatusCode, truncate(body))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server error (status %d): %s", resp.StatusCode, truncate(body))
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
