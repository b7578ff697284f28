package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func TestHealthHandler_Check(t *testing.T) {
	tests := []struct {
		name         string
		checker      HealthChecker
		wantStatus   int
		wantStatusKV string
		wantDatabase string
	}{
		{
			name:         "DB疎通OK",
			checker:      &mockHealthChecker{},
			wantStatus:   http.StatusOK,
			wantStatusKV: "ok",
			wantDatabase: "ok",
		},
		{
			name: "DB疎通NG",
			checker: &mockHealthChecker{pingFn: func(ctx context.Context) error {
				return errors.New("connection refused")
			}},
			wantStatus:   http.StatusServiceUnavailable,
			wantStatusKV: "unavailable",
			wantDatabase: "unreachable",
		},
		{
			name:         "checkerなし",
			checker:      nil,
			wantStatus:   http.StatusOK,
			wantStatusKV: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checker).Check(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var body healthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Status != tt.wantStatusKV {
				t.Errorf("status field = %q, want %q", body.Status, tt.wantStatusKV)
			}
			if body.Database != tt.wantDatabase {
				t.Errorf("database field = %q, want %q", body.Database, tt.wantDatabase)
			}
		})
	}
}

func TestHealthHandler_DoesNotLeakPingError(t *testing.T) {
	checker := &mockHealthChecker{pingFn: func(ctx context.Context) error {
		return errors.New("password authentication failed for user staysafe")
	}}

	w := httptest.NewRecorder()
	NewHealthHandler(checker).Check(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Body.String(); strings.Contains(got, "password") || strings.Contains(got, "staysafe") {
		t.Errorf("health response leaks error details: %s", got)
	}
}
