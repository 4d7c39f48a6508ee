package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"clheure/relay/internal/portal"
	"clheure/relay/internal/schedule"
)

type stubSyncer struct {
	lesson *portal.Lesson
	err    error
	calls  int
	last   schedule.LoginRequest
}

func (s *stubSyncer) Sync(_ context.Context, req schedule.LoginRequest) (*portal.Lesson, error) {
	s.calls++
	s.last = req
	return s.lesson, s.err
}

type envelope struct {
	Success   bool            `json:"success"`
	NextClass json.RawMessage `json:"nextClass"`
	Error     string          `json:"error"`
	Message   string          `json:"message"`
}

func newTestServer(t *testing.T, syncer Syncer) *httptest.Server {
	t.Helper()
	server := NewServer(syncer)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app
}

func postSync(t *testing.T, baseURL, body string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/sync", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://clheure.example.net")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var out envelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

const validBody = `{"url":"https://0000000a.index-education.net/pronote/eleve.html","username":"eleve","password":"secret"}`

func TestSyncReturnsNextClass(t *testing.T) {
	var lesson portal.Lesson
	if err := json.Unmarshal([]byte(`{"from":"2026-10-19T08:00:00.000Z","subject":"Maths","isCancelled":false}`), &lesson); err != nil {
		t.Fatalf("lesson fixture: %v", err)
	}
	syncer := &stubSyncer{lesson: &lesson}
	app := newTestServer(t, syncer)

	resp, out := postSync(t, app.URL, validBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !out.Success {
		t.Fatalf("expected success true")
	}
	if !strings.Contains(string(out.NextClass), `"subject":"Maths"`) {
		t.Fatalf("expected lesson passthrough, got %s", out.NextClass)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected any-origin CORS header, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if syncer.last.Username != "eleve" || syncer.last.AuthMethod != "" {
		t.Fatalf("unexpected login request %+v", syncer.last)
	}
}

func TestSyncWithoutUpcomingClass(t *testing.T) {
	app := newTestServer(t, &stubSyncer{})

	resp, out := postSync(t, app.URL, `{"url":"https://x.index-education.net/pronote/","username":"u","password":"p","cas":"ac-bordeaux"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !out.Success || string(out.NextClass) != "null" {
		t.Fatalf("expected success with null nextClass, got %+v", out)
	}
}

func TestSyncFailureIs401(t *testing.T) {
	syncer := &stubSyncer{err: &schedule.RequestFailure{
		Op:  "login",
		Err: fmt.Errorf("%w: Wrong user credentials", portal.ErrAuthentication),
	}}
	app := newTestServer(t, syncer)

	resp, out := postSync(t, app.URL, validBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if out.Success || out.Error != "Login Failed or API Error" {
		t.Fatalf("unexpected failure envelope %+v", out)
	}
	if !strings.Contains(out.Message, "Wrong user credentials") {
		t.Fatalf("expected underlying message, got %q", out.Message)
	}
}

func TestSyncRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"url":`,
		"unknown field":    `{"url":"https://x","username":"u","password":"p","extra":1}`,
		"missing password": `{"url":"https://x","username":"u"}`,
		"blank username":   `{"url":"https://x","username":"  ","password":"p"}`,
		"blank url":        `{"url":" ","username":"u","password":"p"}`,
	}
	syncer := &stubSyncer{}
	app := newTestServer(t, syncer)

	for name, body := range cases {
		resp, out := postSync(t, app.URL, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
		if out.Success || out.Error == "" {
			t.Fatalf("%s: unexpected envelope %+v", name, out)
		}
	}
	if syncer.calls != 0 {
		t.Fatalf("expected no sync for malformed bodies, got %d", syncer.calls)
	}
}

func TestCORSPreflight(t *testing.T) {
	app := newTestServer(t, &stubSyncer{})

	req, err := http.NewRequest(http.MethodOptions, app.URL+"/sync", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://clheure.example.net")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected any-origin preflight, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestServer(t, &stubSyncer{err: errors.New("socket hang up")})
	_, _ = postSync(t, app.URL, validBody)

	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(app.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(app.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), `relay_sync_requests_total{outcome="remote_failed"} 1`) {
		t.Fatalf("expected remote_failed counter in metrics output")
	}
}

type urlCheckingPortal struct{}

func (urlCheckingPortal) Login(_ context.Context, creds portal.Credentials) (portal.Session, error) {
	parsed, err := url.Parse(creds.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid portal url %q", portal.ErrAuthentication, creds.URL)
	}
	return nil, errors.New("unexpected login")
}

func TestSyncMalformedPortalURLIs401(t *testing.T) {
	app := newTestServer(t, schedule.NewService(urlCheckingPortal{}, "none", time.Second))

	for _, portalURL := range []string{"0000000a.index-education.net/pronote/eleve.html", "pronote/eleve.html", "://missing-scheme"} {
		body := fmt.Sprintf(`{"url":%q,"username":"u","password":"p"}`, portalURL)
		resp, out := postSync(t, app.URL, body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", portalURL, resp.StatusCode)
		}
		if out.Success || out.Error != "Login Failed or API Error" || !strings.Contains(out.Message, "invalid portal url") {
			t.Fatalf("%s: unexpected envelope %+v", portalURL, out)
		}
	}
}

func TestSyncPassesCredentialsUnchanged(t *testing.T) {
	syncer := &stubSyncer{}
	app := newTestServer(t, syncer)

	resp, _ := postSync(t, app.URL, `{"url":"https://x.index-education.net/pronote/","username":" eleve ","password":" p@ss ","cas":" ac-lyon "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if syncer.last.Username != " eleve " || syncer.last.Password != " p@ss " {
		t.Fatalf("expected credentials unchanged, got %+v", syncer.last)
	}
	if syncer.last.AuthMethod != "ac-lyon" {
		t.Fatalf("expected trimmed auth method, got %q", syncer.last.AuthMethod)
	}
}

func TestSyncKeepsLessonTextUnescaped(t *testing.T) {
	var lesson portal.Lesson
	if err := json.Unmarshal([]byte(`{"from":"2026-10-19T08:00:00.000Z","subject":"Maths & <Physique>"}`), &lesson); err != nil {
		t.Fatalf("lesson fixture: %v", err)
	}
	app := newTestServer(t, &stubSyncer{lesson: &lesson})

	req, err := http.NewRequest(http.MethodPost, app.URL+"/sync", bytes.NewBufferString(validBody))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	want := `{"success":true,"nextClass":{"from":"2026-10-19T08:00:00.000Z","subject":"Maths & <Physique>"}}` + "\n"
	if string(body) != want {
		t.Fatalf("unexpected body\n got %s\nwant %s", body, want)
	}
}
