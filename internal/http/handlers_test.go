package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"spendagg/internal/aggregate"
	"spendagg/internal/core"
	"spendagg/internal/storage"
)

type fakeRecorder struct {
	mu        sync.Mutex
	recorded  []core.Transaction
	deleted   []int64
	recordErr error
	deleteErr error
}

func (f *fakeRecorder) Record(ctx context.Context, tx core.Transaction) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return 0, f.recordErr
	}
	f.recorded = append(f.recorded, tx)
	return int64(len(f.recorded)), nil
}

func (f *fakeRecorder) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeSpend struct {
	mu        sync.Mutex
	res       aggregate.Result
	built     bool
	version   uint64
	refreshAt time.Time
	queries   int
}

func (f *fakeSpend) Query(userID int64, r core.MonthRange, categoryIDs []int64) (aggregate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.built {
		return aggregate.Result{}, aggregate.ErrNotRefreshed
	}
	f.queries++
	return f.res, nil
}

func (f *fakeSpend) Refresh(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = true
	f.version++
	f.refreshAt = time.Now()
	return f.refreshAt, nil
}

func (f *fakeSpend) LastRefreshed() (time.Time, uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshAt, f.version, f.built
}

type fakeCategories struct {
	mu        sync.Mutex
	cats      []core.Category
	deleteErr error
}

func (f *fakeCategories) CreateCategory(ctx context.Context, c core.Category) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = int64(len(f.cats) + 1)
	f.cats = append(f.cats, c)
	return c.ID, nil
}

func (f *fakeCategories) DeleteCategory(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeCategories) ListCategories(ctx context.Context) ([]core.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cats, nil
}

func newTestServer(t *testing.T, rec *fakeRecorder, spend *fakeSpend, cats *fakeCategories) *Server {
	t.Helper()
	srv := NewServer(":0", rec, spend, cats)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func doRequest(srv *Server, method, url, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, url, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, url, nil)
	}
	w := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(w, r)
	return w
}

func TestHandleTransactions_Create(t *testing.T) {
	rec := &fakeRecorder{}
	srv := newTestServer(t, rec, &fakeSpend{}, &fakeCategories{})

	w := doRequest(srv, http.MethodPost, "/transactions",
		`{"user_id":1,"date":"2025-03-14","amount":"-48.90","currency":"EUR","category_id":2}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}
	var resp transactionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.ID != 1 {
		t.Errorf("id = %d, want 1", resp.ID)
	}
	if len(rec.recorded) != 1 {
		t.Fatalf("recorded %d transactions, want 1", len(rec.recorded))
	}
	if got := rec.recorded[0].Amount.Amount.String(); got != "-48.9" {
		t.Errorf("recorded amount = %s, want -48.9", got)
	}
}

func TestHandleTransactions_ValidationError(t *testing.T) {
	srv := newTestServer(t, &fakeRecorder{}, &fakeSpend{}, &fakeCategories{})

	w := doRequest(srv, http.MethodPost, "/transactions",
		`{"user_id":1,"date":"2025-03-14","amount":"nope","currency":"EUR"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleTransactionDelete(t *testing.T) {
	rec := &fakeRecorder{}
	srv := newTestServer(t, rec, &fakeSpend{}, &fakeCategories{})

	w := doRequest(srv, http.MethodDelete, "/transactions/42", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != 42 {
		t.Errorf("deleted = %v, want [42]", rec.deleted)
	}
}

func TestHandleTransactionDelete_NotFound(t *testing.T) {
	rec := &fakeRecorder{deleteErr: storage.ErrNotFound}
	srv := newTestServer(t, rec, &fakeSpend{}, &fakeCategories{})

	w := doRequest(srv, http.MethodDelete, "/transactions/42", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleSpend(t *testing.T) {
	spend := &fakeSpend{
		built:     true,
		version:   3,
		refreshAt: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	amount, _ := core.ParseAmount("125.47")
	spend.res = aggregate.Result{
		Totals: []aggregate.SpendTotal{
			{Month: core.Month{Year: 2025, Mon: time.March}, CategoryID: 2, Currency: "EUR", Spend: amount},
		},
		RefreshedAt: spend.refreshAt,
		Version:     3,
	}
	srv := newTestServer(t, &fakeRecorder{}, spend, &fakeCategories{})

	w := doRequest(srv, http.MethodGet, "/spend?user_id=1&from=2025-03&to=2025-03", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}

	var resp spendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Totals) != 1 {
		t.Fatalf("got %d totals, want 1", len(resp.Totals))
	}
	row := resp.Totals[0]
	if row.Month != "2025-03" || row.CategoryID != 2 || row.Spend != "125.47" {
		t.Errorf("unexpected row: %+v", row)
	}
	if !resp.LastRefreshedAt.Equal(spend.refreshAt) {
		t.Errorf("last_refreshed_at = %v, want %v", resp.LastRefreshedAt, spend.refreshAt)
	}
}

func TestHandleSpend_NotRefreshed(t *testing.T) {
	srv := newTestServer(t, &fakeRecorder{}, &fakeSpend{}, &fakeCategories{})

	w := doRequest(srv, http.MethodGet, "/spend?user_id=1&from=2025-03&to=2025-03", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_refreshed") {
		t.Errorf("body = %s, want not_refreshed error code", w.Body.String())
	}
}

func TestHandleSpend_MalformedRange(t *testing.T) {
	spend := &fakeSpend{built: true, version: 1, refreshAt: time.Now()}
	srv := newTestServer(t, &fakeRecorder{}, spend, &fakeCategories{})

	for _, url := range []string{
		"/spend?user_id=1&from=2025-13&to=2025-03",
		"/spend?user_id=1&from=2025-03&to=2025-01",
	} {
		w := doRequest(srv, http.MethodGet, url, "")
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("GET %s status = %d, want 422", url, w.Code)
		}
	}
}

func TestHandleSpend_CachePerSnapshotVersion(t *testing.T) {
	spend := &fakeSpend{built: true, version: 1, refreshAt: time.Now()}
	spend.res = aggregate.Result{Totals: []aggregate.SpendTotal{}, RefreshedAt: spend.refreshAt, Version: 1}
	srv := newTestServer(t, &fakeRecorder{}, spend, &fakeCategories{})

	url := "/spend?user_id=1&from=2025-03&to=2025-03"
	for i := 0; i < 2; i++ {
		if w := doRequest(srv, http.MethodGet, url, ""); w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	}
	if spend.queries != 1 {
		t.Errorf("queries = %d, want 1 (second hit served from cache)", spend.queries)
	}

	// A new snapshot version changes the cache key and forces a re-query.
	if _, err := spend.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w := doRequest(srv, http.MethodGet, url, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if spend.queries != 2 {
		t.Errorf("queries = %d, want 2 after refresh", spend.queries)
	}
}

func TestHandleRefresh(t *testing.T) {
	spend := &fakeSpend{}
	srv := newTestServer(t, &fakeRecorder{}, spend, &fakeCategories{})

	w := doRequest(srv, http.MethodPost, "/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp refreshResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.RefreshedAt.IsZero() {
		t.Error("refreshed_at is zero")
	}
}

func TestHandleCategories(t *testing.T) {
	cats := &fakeCategories{}
	srv := newTestServer(t, &fakeRecorder{}, &fakeSpend{}, cats)

	w := doRequest(srv, http.MethodPost, "/categories", `{"name":"Groceries","kind":"expense"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}

	w = doRequest(srv, http.MethodGet, "/categories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}
	var listed []categoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "Groceries" {
		t.Errorf("listed = %+v, want one Groceries category", listed)
	}

	if w := doRequest(srv, http.MethodDelete, "/categories/1", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeRecorder{}, &fakeSpend{}, &fakeCategories{})

	for url, method := range map[string]string{
		"/transactions": http.MethodGet,
		"/spend":        http.MethodPost,
		"/refresh":      http.MethodGet,
	} {
		if w := doRequest(srv, method, url, ""); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want 405", method, url, w.Code)
		}
	}
}

func TestReadiness(t *testing.T) {
	spend := &fakeSpend{}
	srv := newTestServer(t, &fakeRecorder{}, spend, &fakeCategories{})

	if w := doRequest(srv, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before refresh status = %d, want 503", w.Code)
	}
	if _, err := spend.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w := doRequest(srv, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("readyz after refresh status = %d, want 200", w.Code)
	}
	if w := doRequest(srv, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}
