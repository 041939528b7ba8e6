package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tmarbach/daybook/pkg/record"
)

func TestHTTPRowStore_SelectAndUpsert(t *testing.T) {
	ctx := context.Background()
	var gotAuth string
	stored := map[string]Row{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("owner") != "user-1" {
			t.Errorf("owner query: got %q", r.URL.Query().Get("owner"))
		}

		switch r.Method {
		case http.MethodGet:
			rows := make([]Row, 0, len(stored))
			for _, row := range stored {
				rows = append(rows, row)
			}
			json.NewEncoder(w).Encode(rowsEnvelope{Rows: rows})
		case http.MethodPost:
			var envelope rowsEnvelope
			if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
				t.Errorf("bad upsert body: %v", err)
			}
			for _, row := range envelope.Rows {
				stored[string(row.Kind)+"/"+row.ID] = row
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	s := NewHTTPRowStore(srv.URL, func(ctx context.Context) (string, error) { return "tok", nil })

	err := s.Upsert(ctx, "user-1", []Row{
		{Kind: record.KindEntry, ID: "e1", Payload: json.RawMessage(`{"text":"hi"}`), LastModified: 100},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization: got %q", gotAuth)
	}

	rows, err := s.Select(ctx, "user-1")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "e1" || rows[0].LastModified != 100 {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestHTTPRowStore_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusConflict, "conflict"},
		{http.StatusTooManyRequests, "rate limited"},
		{http.StatusInternalServerError, "server error"},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		s := NewHTTPRowStore(srv.URL, nil)
		_, err := s.Select(context.Background(), "u")
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if got := err.Error(); !strings.Contains(got, tc.want) {
			t.Errorf("status %d: error %q does not mention %q", tc.status, got, tc.want)
		}
	}
}

func TestHTTPRowStore_EmptyUpsertSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := NewHTTPRowStore(srv.URL, nil)
	if err := s.Upsert(context.Background(), "u", nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if called {
		t.Error("empty batch must not contact the remote")
	}
}

func TestStaticIdentity(t *testing.T) {
	if _, err := StaticIdentity("").CurrentUserID(context.Background()); err != ErrSignedOut {
		t.Errorf("empty identity: got %v, want ErrSignedOut", err)
	}
	id, err := StaticIdentity("user-1").CurrentUserID(context.Background())
	if err != nil || id != "user-1" {
		t.Errorf("got (%q, %v)", id, err)
	}
}
