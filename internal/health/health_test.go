package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

type stubStats struct {
	stats domain.OutboxStats
	err   error
}

func (s stubStats) fn(context.Context) (domain.OutboxStats, error) { return s.stats, s.err }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("gateway", "v1.0.0")

	handler.RegisterChecker("db", NewPingChecker("db", func(context.Context) error {
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if response.Service != "gateway" {
		t.Errorf("expected service gateway, got %s", response.Service)
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("gateway", "v1.0.0")

	handler.RegisterChecker("db", NewPingChecker("db", func(context.Context) error {
		return errors.New("connection refused")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
	if response.Checks["db"].Message != "connection refused" {
		t.Errorf("unexpected check message %q", response.Checks["db"].Message)
	}
}

func TestHealthHandler_DegradedIsServed(t *testing.T) {
	handler := NewHandler("ledger", "dev")
	handler.RegisterChecker("outbox", &OutboxChecker{
		stats: stubStats{stats: domain.OutboxStats{FailedCount: 2}}.fn,
		now:   time.Now,
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("degraded should still answer 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", response.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("gateway", "v1.0.0")
	handler.RegisterChecker("db", NewPingChecker("db", func(context.Context) error { return nil }))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ready" {
		t.Errorf("expected body 'ready', got %s", w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("gateway", "v1.0.0")
	handler.RegisterChecker("db", NewPingChecker("db", func(context.Context) error {
		return errors.New("not ready")
	}))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("expected body 'not ready', got %s", w.Body.String())
	}
}

func TestPingCheckerRespectsDeadline(t *testing.T) {
	checker := NewPingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	check := checker.Check(ctx)
	if check.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", check.Status)
	}
}

func TestOutboxChecker(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		stats stubStats
		want  Status
	}{
		{name: "empty", stats: stubStats{}, want: StatusHealthy},
		{name: "fresh backlog", stats: stubStats{stats: domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-time.Second)}}, want: StatusHealthy},
		{name: "stuck backlog", stats: stubStats{stats: domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-time.Hour)}}, want: StatusDegraded},
		{name: "failed rows", stats: stubStats{stats: domain.OutboxStats{FailedCount: 1}}, want: StatusDegraded},
		{name: "stats error", stats: stubStats{err: errors.New("db down")}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &OutboxChecker{stats: tt.stats.fn, maxAge: time.Minute, now: func() time.Time { return now }}
			if got := checker.Check(context.Background()).Status; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestWorstStatus(t *testing.T) {
	cases := map[string]struct {
		checks map[string]Check
		want   Status
	}{
		"no checks": {checks: nil, want: StatusHealthy},
		"all healthy": {checks: map[string]Check{
			"db":  {Status: StatusHealthy},
			"bus": {Status: StatusHealthy},
		}, want: StatusHealthy},
		"degraded wins over healthy": {checks: map[string]Check{
			"db":     {Status: StatusHealthy},
			"outbox": {Status: StatusDegraded},
		}, want: StatusDegraded},
		"unhealthy wins over degraded": {checks: map[string]Check{
			"bus":    {Status: StatusUnhealthy},
			"outbox": {Status: StatusDegraded},
		}, want: StatusUnhealthy},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := worst(tc.checks); got != tc.want {
				t.Fatalf("worst() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEvaluate_RunsChecksConcurrently(t *testing.T) {
	handler := NewHandler("ledger", "dev")

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	handler.RegisterChecker("db", NewPingChecker("db", blocking))
	handler.RegisterChecker("bus", NewPingChecker("bus", blocking))

	done := make(chan Response, 1)
	go func() { done <- handler.Evaluate(context.Background()) }()

	for range 2 {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("checks were not started in parallel")
		}
	}
	close(release)

	response := <-done
	if response.Status != StatusHealthy || len(response.Checks) != 2 {
		t.Fatalf("unexpected response: %+v", response)
	}
}
