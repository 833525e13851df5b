package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/migrate"
	"taskbridge/internal/suite"
	"taskbridge/internal/sync"
)

const (
	testWebhookSecret = "hook-secret"
	testJWTSecret     = "jwt-secret"
)

// stubSuite answers just enough of the suite API for handler tests and
// counts every call it sees.
type stubSuite struct {
	mu    gosync.Mutex
	calls int
	tasks map[string]suite.Task
}

func (s *stubSuite) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSuite) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/tenant_access_token/internal") {
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "tenant_access_token": "t", "expire": 7200})
			return
		}
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/task/v2/tasks/") {
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			if task, ok := s.tasks[id]; ok {
				json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"task": task}})
				return
			}
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"code": 11404, "msg": "task not found"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"code": 9999, "msg": "unhandled"})
	})
}

type testServer struct {
	URL  string
	Stub *stubSuite
	Logs *logrustest.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	stub := &stubSuite{tasks: map[string]suite.Task{}}
	upstream := httptest.NewServer(stub.handler())
	t.Cleanup(upstream.Close)

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Default()
	cfg.Suite.BaseURL = upstream.URL
	cfg.Suite.AppID = "app-test"
	cfg.Suite.AppSecret = "secret-test"
	client := suite.New(upstream.URL, "app-test", "secret-test")
	eng := sync.New(conn, cfg, client)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	hook := logrustest.NewLocal(quiet)
	eng.Log = quiet

	handler, err := New(Config{
		Engine:   eng,
		BasePath: "/v0",
		Auth: AuthConfig{
			WebhookSecret: testWebhookSecret,
			JWTSecret:     testJWTSecret,
			Logger:        quiet,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Stub: stub, Logs: hook}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func webhookHeaders() map[string]string {
	return map[string]string{webhookSecretHeader: testWebhookSecret}
}

func signJWT(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestChallengeEchoTouchesNothing(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/webhooks/task-event", map[string]any{
		"challenge": "abc-123",
	}, webhookHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Challenge != "abc-123" {
		t.Fatalf("challenge not echoed: %s", string(data))
	}
	if n := srv.Stub.callCount(); n != 0 {
		t.Fatalf("handshake must not touch the upstream API, saw %d calls", n)
	}
}

func TestWebhookSecretRequired(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/webhooks/task-event", map[string]any{
		"challenge": "abc",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("error code %q", code)
	}

	res, _ = doJSON(t, http.MethodPost, srv.URL+"/v0/webhooks/task-event", map[string]any{
		"challenge": "abc",
	}, map[string]string{webhookSecretHeader: "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong secret accepted: %d", res.StatusCode)
	}
}

func TestUnmappedTaskEnvelope(t *testing.T) {
	srv := newTestServer(t)
	srv.Stub.tasks["task-x"] = suite.Task{GUID: "task-x", Status: "todo"}

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/webhooks/task-event", map[string]any{
		"header": map[string]any{"event_type": "task.updated"},
		"event":  map[string]any{"task_id": "task-x"},
	}, webhookHeaders())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code %q", code)
	}
}

func TestRecordSyncValidation(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/webhooks/record-sync", map[string]any{
		"base_id":  "b",
		"table_id": "t",
	}, webhookHeaders())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestSelfLoopSkipResponse(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/webhooks/record-sync", map[string]any{
		"base_id":   "b",
		"table_id":  "t",
		"record_id": "r",
		"update_by": "IT Bot",
	}, webhookHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Skipped bool `json:"skipped"`
	}
	if err := json.Unmarshal(data, &out); err != nil || !out.Skipped {
		t.Fatalf("expected skipped response: %s", string(data))
	}
}

func TestHealthOpen(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestReadEndpointsRequireJWT(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/mappings/tasklists", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated read allowed: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/mappings/tasklists", nil, map[string]string{
		"Authorization": "Bearer " + signJWT(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated read rejected: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/events", nil, map[string]string{
		"Authorization": "Bearer " + signJWT(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events read rejected: %d", res.StatusCode)
	}
}

func TestRequestLogCarriesPrincipal(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/mappings/tasklists", nil, map[string]string{
		"Authorization": "Bearer " + signJWT(t, "tester"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("read rejected: %d %s", res.StatusCode, string(data))
	}

	var logged string
	for _, entry := range srv.Logs.AllEntries() {
		if entry.Message != "request" || entry.Data["path"] != "/v0/mappings/tasklists" {
			continue
		}
		logged, _ = entry.Data["principal"].(string)
	}
	if logged != "tester" {
		t.Fatalf("request log principal = %q, want tester", logged)
	}

	srv.Logs.Reset()
	doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	for _, entry := range srv.Logs.AllEntries() {
		if entry.Message == "request" && entry.Data["path"] == "/v0/health" {
			if _, ok := entry.Data["principal"]; ok {
				t.Fatalf("open endpoint logged a principal: %v", entry.Data["principal"])
			}
		}
	}
}
