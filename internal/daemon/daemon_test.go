package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subsync/internal/config"
	"subsync/internal/logging"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"not cached"}`)
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"task_id":"task-1"}`)
	})
	mux.HandleFunc("/task/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"task_id": "task-1",
			"status": "completed",
			"progress": 100,
			"detected_language": "en",
			"subtitles": [
				{"start": 0, "end": 2, "text": "hello"},
				{"start": 2, "end": 5, "text": "world"}
			]
		}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, backendURL, token string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CacheDir = filepath.Join(dir, "cache")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Paths.ExportDir = filepath.Join(dir, "exports")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Paths.APIToken = token
	cfg.Service.BaseURL = backendURL
	cfg.Tracking.PollIntervalMillis = 5
	cfg.Tracking.MaxPollAttempts = 200
	cfg.Tracking.StreamEnabled = false
	return &cfg
}

func startDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func apiURL(d *Daemon, path string) string {
	return "http://" + d.Addr() + path
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	payload, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, payload
}

func waitReady(t *testing.T, d *Daemon, token string) statusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var status statusResponse
	for time.Now().Before(deadline) {
		resp, payload := doJSON(t, http.MethodGet, apiURL(d, "/api/status"), token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status returned %d: %s", resp.StatusCode, payload)
		}
		if err := json.Unmarshal(payload, &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.State == "ready" || status.State == "error" {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline never settled; last status %+v", status)
	return status
}

func TestGenerateEndToEnd(t *testing.T) {
	backend := fakeBackend(t)
	d := startDaemon(t, testConfig(t, backend.URL, ""))

	resp, payload := doJSON(t, http.MethodPost, apiURL(d, "/api/generate"), "",
		generateRequest{Media: "https://example.com/watch?v=abc123xyz00"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate returned %d: %s", resp.StatusCode, payload)
	}
	var accepted generateResponse
	if err := json.Unmarshal(payload, &accepted); err != nil {
		t.Fatalf("decode generate response: %v", err)
	}
	if accepted.MediaID != "abc123xyz00" {
		t.Fatalf("unexpected media id %q", accepted.MediaID)
	}

	status := waitReady(t, d, "")
	if status.State != "ready" || status.Progress != 100 || status.DetectedLanguage != "en" {
		t.Fatalf("unexpected terminal status %+v", status)
	}

	resp, payload = doJSON(t, http.MethodGet, apiURL(d, "/api/subtitles"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subtitles returned %d", resp.StatusCode)
	}
	var subs subtitlesResponse
	if err := json.Unmarshal(payload, &subs); err != nil {
		t.Fatalf("decode subtitles: %v", err)
	}
	if subs.Count != 2 {
		t.Fatalf("subtitles count = %d, want 2", subs.Count)
	}

	resp, payload = doJSON(t, http.MethodGet, apiURL(d, "/api/subtitles.srt"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("srt returned %d", resp.StatusCode)
	}
	if !strings.Contains(string(payload), "00:00:00,000 --> 00:00:02,000") {
		t.Fatalf("srt payload missing timestamps:\n%s", payload)
	}
}

func TestSecondGenerateServedFromLocalCache(t *testing.T) {
	backend := fakeBackend(t)
	d := startDaemon(t, testConfig(t, backend.URL, ""))

	media := generateRequest{Media: "https://example.com/watch?v=abc123xyz00"}
	if resp, payload := doJSON(t, http.MethodPost, apiURL(d, "/api/generate"), "", media); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first generate returned %d: %s", resp.StatusCode, payload)
	}
	waitReady(t, d, "")

	// The persist signal trails the ready transition slightly; allow the
	// cache write a moment to land.
	deadline := time.Now().Add(5 * time.Second)
	var second generateResponse
	for time.Now().Before(deadline) {
		resp, payload := doJSON(t, http.MethodPost, apiURL(d, "/api/generate"), "", media)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("second generate returned %d: %s", resp.StatusCode, payload)
		}
		if err := json.Unmarshal(payload, &second); err != nil {
			t.Fatalf("decode second response: %v", err)
		}
		if second.Cached {
			break
		}
		waitReady(t, d, "")
	}
	if !second.Cached || second.State != "ready" {
		t.Fatalf("expected a local cache hit, got %+v", second)
	}
}

func TestInvalidMediaReturnsBadRequest(t *testing.T) {
	backend := fakeBackend(t)
	d := startDaemon(t, testConfig(t, backend.URL, ""))

	resp, _ := doJSON(t, http.MethodPost, apiURL(d, "/api/generate"), "", generateRequest{Media: "???"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("generate returned %d, want 400", resp.StatusCode)
	}
}

func TestBearerTokenGuardsAPI(t *testing.T) {
	backend := fakeBackend(t)
	d := startDaemon(t, testConfig(t, backend.URL, "sekrit"))

	resp, _ := doJSON(t, http.MethodGet, apiURL(d, "/api/status"), "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status returned %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, apiURL(d, "/api/status"), "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token returned %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, apiURL(d, "/api/status"), "sekrit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status returned %d, want 200", resp.StatusCode)
	}

	// Health stays open for liveness probes.
	resp, _ = doJSON(t, http.MethodGet, apiURL(d, "/healthz"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d, want 200", resp.StatusCode)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	backend := fakeBackend(t)
	cfg := testConfig(t, backend.URL, "")
	startDaemon(t, cfg)

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	defer second.Close()
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}
}
