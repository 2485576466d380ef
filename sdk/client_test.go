package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testNodeToken = "node_test-token"

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURLs:      urls,
		NodeToken:     testNodeToken,
		RetryAttempts: 2,
		RetryWaitMin:  time.Millisecond,
		RetryWaitMax:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": code, "message": message, "request_id": "req-1",
	})
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(ClientConfig{NodeToken: testNodeToken}); err == nil {
		t.Error("NewClient() expected error for missing base URL")
	}
	if c := newTestClient(t, "http://localhost"); c == nil {
		t.Error("NewClient() returned nil client")
	}
}

func TestClient_FetchConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/node/config" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get(HeaderNodeToken) != testNodeToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication failed")
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"node_id":     7,
			"protocol":    "trojan",
			"server_port": 8443,
			"config":      map[string]any{"password": "secret"},
			"routes":      []any{},
		})
	}))
	defer server.Close()

	cfg, err := newTestClient(t, server.URL).FetchConfig(context.Background())
	if err != nil {
		t.Fatalf("FetchConfig() error = %v", err)
	}
	if cfg.NodeID != 7 || cfg.Protocol != "trojan" || cfg.ServerPort != 8443 {
		t.Errorf("FetchConfig() = %+v", cfg)
	}
	if string(cfg.Config) != `{"password":"secret"}` {
		t.Errorf("Config = %s", cfg.Config)
	}
}

func TestClient_FetchUsers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{
			"users": []map[string]int64{{"user_id": 1}, {"user_id": 2}},
		})
	}))
	defer server.Close()

	users, err := newTestClient(t, server.URL).FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers() error = %v", err)
	}
	if len(users) != 2 || users[0].UserID != 1 || users[1].UserID != 2 {
		t.Errorf("FetchUsers() = %+v", users)
	}
}

func TestClient_ReportTraffic(t *testing.T) {
	var got TrafficReport
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeData(w, http.StatusOK, TrafficResult{Applied: len(got.Entries)})
	}))
	defer server.Close()

	report := &TrafficReport{
		ReportID: "r-1",
		Entries:  []TrafficEntry{{UserID: 1, Upload: 10, Download: 20}},
	}
	result, err := newTestClient(t, server.URL).ReportTraffic(context.Background(), report)
	if err != nil {
		t.Fatalf("ReportTraffic() error = %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("Applied = %d, want 1", result.Applied)
	}
	if got.ReportID != "r-1" || got.Entries[0].Download != 20 {
		t.Errorf("server received %+v", got)
	}

	if _, err := newTestClient(t, server.URL).ReportTraffic(context.Background(), nil); err == nil {
		t.Error("ReportTraffic(nil) expected error")
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		want    error
		retries int32
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, code: "unauthorized", want: ErrUnauthorized, retries: 1},
		{name: "not found", status: http.StatusNotFound, code: "not_found", want: ErrNotFound, retries: 1},
		{name: "bad request", status: http.StatusBadRequest, code: "invalid_request", want: ErrBadRequest, retries: 1},
		{name: "rate limited", status: http.StatusTooManyRequests, code: "rate_limit_exceeded", want: ErrRateLimited, retries: 3},
		{name: "server error", status: http.StatusInternalServerError, code: "internal_error", want: ErrServerError, retries: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeError(w, tt.status, tt.code, "nope")
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).FetchUsers(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %v is not an *APIError", err)
			}
			if apiErr.Code != tt.code || apiErr.RequestID != "req-1" {
				t.Errorf("APIError = %+v", apiErr)
			}
			if got := calls.Load(); got != tt.retries {
				t.Errorf("server called %d times, want %d", got, tt.retries)
			}
		})
	}
}

func TestClient_RetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "warming up")
			return
		}
		writeData(w, http.StatusOK, map[string]any{"users": []any{}})
	}))
	defer server.Close()

	if _, err := newTestClient(t, server.URL).FetchUsers(context.Background()); err != nil {
		t.Fatalf("FetchUsers() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
}

func TestClient_Failover(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadGateway, "bad_gateway", "upstream down")
	}))
	defer down.Close()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{"users": []map[string]int64{{"user_id": 5}}})
	}))
	defer up.Close()

	users, err := newTestClient(t, down.URL, up.URL).FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers() error = %v", err)
	}
	if len(users) != 1 || users[0].UserID != 5 {
		t.Errorf("FetchUsers() = %+v", users)
	}
}

func TestClient_AllInstancesFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).FetchConfig(context.Background())
	if !errors.Is(err, ErrAllInstancesFailed) {
		t.Errorf("error = %v, want ErrAllInstancesFailed", err)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "down")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, server.URL).FetchUsers(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
