package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"billfold/internal/core"
	"billfold/internal/services"
	"billfold/internal/store/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := memory.New()
	return NewServer(Config{Addr: ":0", JWTSecret: "test-secret"}, st, st, nil)
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, s *Server, username string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/register", "", map[string]string{
		"username": username,
		"password": "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp["token"]
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	register(t, s, "alice")

	// duplicate username
	rec := do(t, s, http.MethodPost, "/api/register", "", map[string]string{
		"username": "alice", "password": "correct-horse",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/login", "", map[string]string{
		"username": "alice", "password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	if rec := do(t, s, http.MethodGet, "/api/user/alice/data", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestOwnershipGuard(t *testing.T) {
	s := newTestServer(t)
	aliceToken := register(t, s, "alice")
	register(t, s, "bob")

	if rec := do(t, s, http.MethodGet, "/api/user/bob/data", aliceToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-user read, got %d", rec.Code)
	}

	// body username must match the token too
	rec := do(t, s, http.MethodPost, "/api/budget", aliceToken, map[string]any{
		"username": "bob", "amount": 100,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-user budget write, got %d", rec.Code)
	}
}

func TestUserDataDefaultsAndMutations(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	rec := do(t, s, http.MethodGet, "/api/user/alice/data", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get data: %d: %s", rec.Code, rec.Body)
	}
	var data struct {
		Expenses   []json.RawMessage `json:"expenses"`
		Categories []json.RawMessage `json:"categories"`
		Budget     float64           `json:"budget"`
		Sync       map[string]string `json:"sync"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Categories) != 6 || data.Budget != 1650 {
		t.Fatalf("expected defaults, got %d categories, budget %v", len(data.Categories), data.Budget)
	}
	for ch, st := range data.Sync {
		if st != "synced" {
			t.Fatalf("channel %s not synced: %s", ch, st)
		}
	}

	rec = do(t, s, http.MethodPost, "/api/expenses", token, map[string]any{
		"amount": 15.50, "category": "Food", "description": "lunch", "date": "2025-12-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add expense: %d: %s", rec.Code, rec.Body)
	}
	var added struct {
		Expense struct {
			ID string `json:"id"`
		} `json:"expense"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if added.Expense.ID == "" {
		t.Fatal("expected assigned id")
	}

	rec = do(t, s, http.MethodDelete, "/api/expenses/"+added.Expense.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d: %s", rec.Code, rec.Body)
	}
	// delete-again is a no-op success
	rec = do(t, s, http.MethodDelete, "/api/expenses/"+added.Expense.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat delete: %d", rec.Code)
	}
}

func TestReplaceCategoriesRejectsDuplicates(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	rec := do(t, s, http.MethodPost, "/api/categories", token, map[string]any{
		"username": "alice",
		"categories": []map[string]any{
			{"name": "Food", "budget": 100},
			{"name": "Food", "budget": 200},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate names, got %d: %s", rec.Code, rec.Body)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	rec := do(t, s, http.MethodPost, "/api/expenses/bulk", token, map[string]any{
		"username": "alice",
		"expenses": []map[string]any{
			{"amount": 150, "category": "Food", "description": "groceries", "date": "2025-12-01"},
			{"amount": 50, "category": "Transport", "description": "fuel", "date": "2025-12-01"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("replace expenses: %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/api/analytics/alice/summary?category=Food", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d: %s", rec.Code, rec.Body)
	}
	var summary struct {
		TotalSpend float64 `json:"total_spend"`
		Filtered   int     `json:"filtered_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Filtered != 1 || summary.TotalSpend != 150 {
		t.Fatalf("expected 1 record totaling 150, got %d / %v", summary.Filtered, summary.TotalSpend)
	}

	// cached response must be invalidated by the next mutation
	rec = do(t, s, http.MethodPost, "/api/expenses", token, map[string]any{
		"amount": 25, "category": "Food", "description": "snack", "date": "2025-12-02",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/api/analytics/alice/summary?category=Food", token, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.TotalSpend != 175 {
		t.Fatalf("expected refreshed total 175, got %v", summary.TotalSpend)
	}
}

func TestExportCSV(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	do(t, s, http.MethodPost, "/api/expenses", token, map[string]any{
		"amount": 15.50, "category": "Food", "description": "lunch", "date": "2025-12-01",
	})

	rec := do(t, s, http.MethodGet, "/api/export/alice.csv", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(lines))
	}
	if lines[1] != "2025-12-01,lunch,Food,15.50" {
		t.Fatalf("unexpected row %q", lines[1])
	}
}

func TestBudgetUpsert(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodPost, "/api/budget", token, map[string]any{
			"username": "alice", "amount": 1200,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("set budget round %d: %d: %s", i, rec.Code, rec.Body)
		}
	}

	rec := do(t, s, http.MethodGet, "/api/user/alice/data", token, nil)
	var data struct {
		Budget float64 `json:"budget"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Budget != 1200 {
		t.Fatalf("expected budget 1200, got %v", data.Budget)
	}
}

func TestListExpensesNewestFirst(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	for _, e := range []map[string]any{
		{"amount": 10, "category": "Food", "description": "older", "date": "2025-11-01"},
		{"amount": 20, "category": "Food", "description": "newer", "date": "2025-12-01"},
	} {
		if rec := do(t, s, http.MethodPost, "/api/expenses", token, e); rec.Code != http.StatusCreated {
			t.Fatalf("add: %d: %s", rec.Code, rec.Body)
		}
	}

	rec := do(t, s, http.MethodGet, "/api/user/alice/expenses", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Expenses []struct {
			Description string `json:"description"`
		} `json:"expenses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Expenses) != 2 || resp.Expenses[0].Description != "newer" {
		t.Fatalf("expected newest first, got %+v", resp.Expenses)
	}
}

func TestCategoryAddAndBudgetUpdate(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	rec := do(t, s, http.MethodPost, "/api/user/alice/categories", token, map[string]any{
		"name": "Pets", "hex": "#334455", "budget": 50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add category: %d: %s", rec.Code, rec.Body)
	}

	// duplicate of a default category
	rec = do(t, s, http.MethodPost, "/api/user/alice/categories", token, map[string]any{
		"name": "Food", "budget": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPatch, "/api/user/alice/categories", token, map[string]any{
		"name": "Pets", "budget": 75,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update budget: %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodPatch, "/api/user/alice/categories", token, map[string]any{
		"name": "NoSuch", "budget": 75,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown name, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/categories/alice", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get categories: %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Categories []struct {
			Name   string  `json:"name"`
			Budget float64 `json:"budget"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Categories) != 7 {
		t.Fatalf("expected 7 categories, got %d", len(resp.Categories))
	}
	for _, c := range resp.Categories {
		if c.Name == "Pets" && c.Budget != 75 {
			t.Fatalf("expected Pets budget 75, got %v", c.Budget)
		}
	}
}

func TestAnalyticsTrendAndForecast(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	rec := do(t, s, http.MethodPost, "/api/expenses/bulk", token, map[string]any{
		"username": "alice",
		"expenses": []map[string]any{
			{"amount": 300, "category": "Food", "description": "november", "date": "2025-11-15"},
			{"amount": 500, "category": "Food", "description": "december", "date": "2025-12-15"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed: %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/api/analytics/alice/trend", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trend: %d: %s", rec.Code, rec.Body)
	}
	var trend struct {
		Buckets []struct {
			Month  string  `json:"month"`
			Amount float64 `json:"amount"`
		} `json:"monthly_trend"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &trend); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trend.Buckets) != 2 || trend.Buckets[0].Month != "Nov 2025" || trend.Buckets[1].Amount != 500 {
		t.Fatalf("unexpected trend %+v", trend.Buckets)
	}

	rec = do(t, s, http.MethodGet, "/api/analytics/alice/forecast", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forecast: %d: %s", rec.Code, rec.Body)
	}
	var forecast struct {
		Next float64 `json:"forecast_next_month"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &forecast); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// mean 400 + drift (500-300)/2 = 500
	if forecast.Next != 500 {
		t.Fatalf("expected forecast 500, got %v", forecast.Next)
	}
}

func TestUserLookupAndLogout(t *testing.T) {
	s := newTestServer(t)
	token := register(t, s, "alice")

	rec := do(t, s, http.MethodGet, "/api/user/alice", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get user: %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodPost, "/api/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: %d: %s", rec.Code, rec.Body)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body)
	}
}

// gatedStore holds LoadUserData open until released.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	fail    bool
}

func (g *gatedStore) LoadUserData(ctx context.Context, username string) (core.UserData, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if g.fail {
		return core.UserData{}, errors.New("load failed")
	}
	return g.Store.LoadUserData(ctx, username)
}

func TestSessionRegistryGatesConcurrentFirstRequests(t *testing.T) {
	gs := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	reg := newSessionRegistry(gs, nil)

	type result struct {
		coord *services.Coordinator
		err   error
	}
	first := make(chan result, 1)
	go func() {
		c, err := reg.get(context.Background(), "alice")
		first <- result{c, err}
	}()
	<-gs.entered

	second := make(chan result, 1)
	go func() {
		c, err := reg.get(context.Background(), "alice")
		second <- result{c, err}
	}()
	select {
	case <-second:
		t.Fatal("second caller returned before the initial load finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(gs.release)
	a, b := <-first, <-second
	if a.err != nil || b.err != nil {
		t.Fatalf("unexpected errors: %v / %v", a.err, b.err)
	}
	if a.coord != b.coord {
		t.Fatal("callers got different coordinators for one user")
	}
}

func TestSessionRegistryFailedLoadReachesAllWaiters(t *testing.T) {
	gs := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{}), fail: true}
	reg := newSessionRegistry(gs, nil)

	errs := make(chan error, 2)
	go func() {
		_, err := reg.get(context.Background(), "alice")
		errs <- err
	}()
	<-gs.entered
	go func() {
		_, err := reg.get(context.Background(), "alice")
		errs <- err
	}()
	close(gs.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			t.Fatal("waiter received a coordinator whose load failed")
		}
	}

	// entry was dropped, so recovery is a clean reload
	gs.fail = false
	if _, err := reg.get(context.Background(), "alice"); err != nil {
		t.Fatalf("retry after failed load: %v", err)
	}
}
