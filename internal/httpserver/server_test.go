package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/repairhub/signalhub/internal/config"
)

type fakeCounts struct {
	dashboards int
	customers  int
}

func (f fakeCounts) Counts() (int, int) { return f.dashboards, f.customers }

func startTestServer(t *testing.T, counts ConnectionCounter) (baseURL string) {
	t.Helper()

	cfg := config.Config{
		ListenAddr:      "127.0.0.1:0",
		Mode:            config.ModeDev,
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		DashboardToken:  "token",
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, log, counts, BuildInfo{Commit: "abc", BuildTime: "time"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("status=%d, want %d", resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestStatusEndpointReportsConnections(t *testing.T) {
	baseURL := startTestServer(t, fakeCounts{dashboards: 2, customers: 3})

	body := getJSON(t, baseURL+"/", http.StatusOK)
	if body["status"] != "OK" {
		t.Fatalf("status=%v, want OK", body["status"])
	}
	if body["service"] != "signalhub" {
		t.Fatalf("service=%v", body["service"])
	}
	if _, err := time.Parse(time.RFC3339Nano, body["time"].(string)); err != nil {
		t.Fatalf("time field not RFC3339: %v", err)
	}

	conns, ok := body["connections"].(map[string]any)
	if !ok {
		t.Fatalf("connections missing: %v", body)
	}
	if conns["dashboards"] != float64(2) || conns["customers"] != float64(3) {
		t.Fatalf("connections=%v", conns)
	}
}

func TestStatusEndpointWithoutCounter(t *testing.T) {
	baseURL := startTestServer(t, nil)

	body := getJSON(t, baseURL+"/", http.StatusOK)
	conns := body["connections"].(map[string]any)
	if conns["dashboards"] != float64(0) || conns["customers"] != float64(0) {
		t.Fatalf("connections=%v, want zeros", conns)
	}
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, fakeCounts{})

	t.Run("healthz", func(t *testing.T) {
		body := getJSON(t, baseURL+"/healthz", http.StatusOK)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		body := getJSON(t, baseURL+"/readyz", http.StatusOK)
		if body["ready"] != true {
			t.Fatalf("body=%v, want ready=true", body)
		}
	})

	t.Run("version", func(t *testing.T) {
		body := getJSON(t, baseURL+"/version", http.StatusOK)
		if body["commit"] != "abc" || body["buildTime"] != "time" {
			t.Fatalf("body=%v", body)
		}
	})
}

func TestUnknownPathIs404(t *testing.T) {
	baseURL := startTestServer(t, fakeCounts{})

	resp, err := http.Get(baseURL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}

func TestRequestIDEchoedAndGenerated(t *testing.T) {
	baseURL := startTestServer(t, fakeCounts{})

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "my-id")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "my-id" {
		t.Fatalf("request id=%q, want my-id", got)
	}

	resp, err = http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id")
	}
}
