package strata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/strata/internal/api"
	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/store"
)

const (
	testKey = "client-test-key"
	testOrg = "org-client"
)

// newServer runs the real router over an in-memory store, reading 2025 as
// the current year.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := cascade.NewEngine(cascade.WithClock(func() time.Time {
		return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	}))
	s, err := store.NewSQLiteStore(":memory:", store.WithEngine(engine))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(s, engine, nil, testKey, "test"), api.RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, APIKey: testKey, OrganizationID: testOrg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without BaseURL should fail")
	}
}

func TestClient_SendsAuthAndOrganization(t *testing.T) {
	var gotAuth, gotOrg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get("X-Organization-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","timeframe":"daily"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/")
	item, err := c.GetItem(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if item.Timeframe != Daily {
		t.Errorf("timeframe = %s, want daily", item.Timeframe)
	}
	if gotAuth != "Bearer "+testKey {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotOrg != testOrg {
		t.Errorf("X-Organization-ID = %q, want %q", gotOrg, testOrg)
	}
}

func TestClient_DecodesProblem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"type":   "https://strata.dev/errors/validation-error",
			"title":  "Validation Error",
			"status": 422,
			"detail": "Request contains invalid fields",
			"errors": []map[string]string{{"field": "position_key", "message": "must be between 1 and 53"}},
		})
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).CreateItem(context.Background(), CreateParams{Timeframe: Weekly, PositionKey: 60})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if len(apiErr.Errors) != 1 || apiErr.Errors[0].Field != "position_key" {
		t.Errorf("field errors = %+v", apiErr.Errors)
	}
}

func TestClient_NonProblemErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("error = %v, want a 502 APIError", err)
	}
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newServer(t).URL)

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("health status = %q", health.Status)
	}

	created, err := c.CreateItem(ctx, CreateParams{Timeframe: Monthly, PositionKey: 24311, Text: "Year-end review"})
	if err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}
	if len(created.Chain) != 3 {
		t.Fatalf("chain length = %d, want 3 (monthly, weekly, daily)", len(created.Chain))
	}

	chain, err := c.GetChain(ctx, created.Chain[2].ID)
	if err != nil {
		t.Fatalf("GetChain() error = %v", err)
	}
	if chain.Chain[0].ID != created.Item.ID {
		t.Error("chain should start at the root")
	}

	updated, err := c.UpdateItem(ctx, created.Item.ID, UpdateParams{Status: String("done")})
	if err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}
	for _, it := range updated.Chain {
		if it.Status != "done" {
			t.Errorf("item %s status = %q, want done", it.ID, it.Status)
		}
	}

	if _, err := c.UpdateItem(ctx, created.Chain[1].ID, UpdateParams{Text: String("x")}); !errors.Is(err, ErrConflict) {
		t.Errorf("editing a cascaded item: error = %v, want ErrConflict", err)
	}

	roots, err := c.ListItems(ctx, ListParams{RootsOnly: true})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(roots) != 1 {
		t.Errorf("roots = %d, want 1", len(roots))
	}

	if err := c.DeleteItem(ctx, created.Item.ID); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	if _, err := c.GetItem(ctx, created.Item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem after delete: error = %v, want ErrNotFound", err)
	}
}

func TestClient_Preview(t *testing.T) {
	c := newClient(t, newServer(t).URL)

	preview, err := c.Preview(context.Background(), CreateParams{Timeframe: Yearly, PositionKey: 0})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if preview.ReferenceYear != 2025 {
		t.Errorf("reference_year = %d, want 2025", preview.ReferenceYear)
	}
	want := []Target{
		{Monthly, 24311, 1},
		{Weekly, 1, 2},
		{Daily, 20260104, 3},
	}
	if len(preview.Targets) != len(want) {
		t.Fatalf("targets = %+v, want %+v", preview.Targets, want)
	}
	for i := range want {
		if preview.Targets[i] != want[i] {
			t.Errorf("targets[%d] = %+v, want %+v", i, preview.Targets[i], want[i])
		}
	}
}

func TestClient_Follow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := newClient(t, newServer(t).URL)

	if _, err := c.CreateItem(ctx, CreateParams{Timeframe: Weekly, PositionKey: 10}); err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}

	var seen int32
	stop := errors.New("stop")
	err := c.Follow(ctx, 0, 10*time.Millisecond, func(ch Change) error {
		if atomic.AddInt32(&seen, 1) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Follow() error = %v, want the callback's error", err)
	}
	if seen != 2 {
		t.Errorf("changes seen = %d, want 2 (weekly root and its daily)", seen)
	}
}

func TestClient_FollowStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newClient(t, newServer(t).URL)

	done := make(chan error, 1)
	go func() {
		done <- c.Follow(ctx, 0, 10*time.Millisecond, func(Change) error { return nil })
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Follow() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Follow did not stop on cancel")
	}
}
