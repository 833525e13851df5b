package sync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/ledger"
	"taskbridge/internal/migrate"
	"taskbridge/internal/suite"
	"taskbridge/internal/sync"
)

// fakeSuite is an in-memory stand-in for the workspace-suite API, covering
// the endpoints the bridge calls.
type fakeSuite struct {
	t   *testing.T
	srv *httptest.Server

	mu        gosync.Mutex
	calls     []string
	nextID    int
	tables    map[string]string         // table id -> display name
	tasks     map[string]*suite.Task    // task guid -> task
	records   map[string]map[string]any // record id -> fields
	options   map[string]string         // option guid -> label
	tasklists int
	fields    int
	sections  int
}

func newFakeSuite(t *testing.T) *fakeSuite {
	f := &fakeSuite{
		t:       t,
		tables:  map[string]string{},
		tasks:   map[string]*suite.Task{},
		records: map[string]map[string]any{},
		options: map[string]string{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSuite) URL() string { return f.srv.URL }

func (f *fakeSuite) SetTable(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[id] = name
}

func (f *fakeSuite) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSuite) CallCount(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeSuite) Task(guid string) suite.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[guid]
	if !ok {
		f.t.Fatalf("no such task %s", guid)
	}
	return *task
}

func (f *fakeSuite) SetTask(task suite.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.GUID] = &task
}

func (f *fakeSuite) Record(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeSuite) SetRecord(id string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = fields
}

func (f *fakeSuite) genID(kind string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", kind, f.nextID)
}

func (f *fakeSuite) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/")
	f.calls = append(f.calls, r.Method+" "+path)

	if path == "auth/v3/tenant_access_token/internal" {
		writeJSON(w, map[string]any{"code": 0, "tenant_access_token": "t-test", "expire": 7200})
		return
	}

	body := map[string]any{}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			json.Unmarshal(raw, &body)
		}
	}
	parts := strings.Split(path, "/")

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "bitable/") && strings.HasSuffix(path, "/tables"):
		items := []map[string]any{}
		for id, name := range f.tables {
			items = append(items, map[string]any{"table_id": id, "name": name})
		}
		writeData(w, map[string]any{"items": items})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/records/search"):
		items := []map[string]any{}
		for id, fields := range f.records {
			items = append(items, map[string]any{"record_id": id, "fields": fields})
		}
		writeData(w, map[string]any{"items": items})
	case strings.Contains(path, "/records/"):
		recordID := parts[len(parts)-1]
		if r.Method == http.MethodPut {
			fields, _ := body["fields"].(map[string]any)
			if f.records[recordID] == nil {
				f.records[recordID] = map[string]any{}
			}
			for k, v := range fields {
				f.records[recordID][k] = v
			}
			writeData(w, map[string]any{})
			return
		}
		fields, ok := f.records[recordID]
		if !ok {
			writeError(w, http.StatusNotFound, 91402, "record not found")
			return
		}
		writeData(w, map[string]any{"record": map[string]any{"record_id": recordID, "fields": fields}})
	case r.Method == http.MethodPost && path == "task/v2/tasklists":
		f.tasklists++
		guid := f.genID("tasklist")
		writeData(w, map[string]any{"tasklist": map[string]any{"guid": guid, "name": body["name"]}})
	case r.Method == http.MethodPost && path == "task/v2/sections":
		f.sections++
		guid := f.genID("section")
		writeData(w, map[string]any{"section": map[string]any{"guid": guid, "name": body["name"]}})
	case r.Method == http.MethodPost && path == "task/v2/custom_fields":
		f.fields++
		fieldGUID := f.genID("field")
		setting, _ := body["single_select_setting"].(map[string]any)
		reqOptions, _ := setting["options"].([]any)
		options := []map[string]any{}
		for _, o := range reqOptions {
			om, _ := o.(map[string]any)
			guid := f.genID("opt")
			f.options[guid] = om["name"].(string)
			options = append(options, map[string]any{"guid": guid, "name": om["name"]})
		}
		writeData(w, map[string]any{"custom_field": map[string]any{
			"guid":                  fieldGUID,
			"single_select_setting": map[string]any{"options": options},
		}})
	case r.Method == http.MethodPost && path == "task/v2/tasks":
		var req suite.CreateTaskRequest
		remarshal(body, &req)
		task := &suite.Task{
			GUID:        f.genID("task"),
			Summary:     req.Summary,
			Description: req.Description,
			Status:      "todo",
			CompletedAt: req.CompletedAt,
			Members:     req.Members,
			Tasklists:   req.Tasklists,
		}
		if req.CompletedAt != "" && req.CompletedAt != "0" {
			task.Status = "done"
		}
		if req.Start != nil {
			task.Start = *req.Start
		}
		if req.Due != nil {
			task.Due = *req.Due
		}
		for _, cf := range req.CustomFields {
			task.CustomFields = append(task.CustomFields, suite.TaskCustomField{
				GUID:              cf.GUID,
				Type:              "single_select",
				SingleSelectValue: cf.SingleSelectValue,
			})
		}
		f.tasks[task.GUID] = task
		writeData(w, map[string]any{"task": task})
	case strings.HasPrefix(path, "task/v2/tasks/") && strings.HasSuffix(path, "/add_members"):
		writeData(w, map[string]any{})
	case strings.HasPrefix(path, "task/v2/tasks/") && strings.HasSuffix(path, "/remove_members"):
		writeData(w, map[string]any{})
	case strings.HasPrefix(path, "task/v2/tasklists/") && strings.HasSuffix(path, "/add_members"):
		writeData(w, map[string]any{})
	case strings.HasPrefix(path, "task/v2/tasks/"):
		taskID := parts[len(parts)-1]
		task, ok := f.tasks[taskID]
		if !ok {
			writeError(w, http.StatusNotFound, 11404, "task not found")
			return
		}
		if r.Method == http.MethodPatch {
			var patchBody struct {
				Task         suite.UpdateTaskRequest `json:"task"`
				UpdateFields []string                `json:"update_fields"`
			}
			remarshal(body, &patchBody)
			f.applyPatch(task, patchBody.Task, patchBody.UpdateFields)
		}
		writeData(w, map[string]any{"task": task})
	default:
		writeError(w, http.StatusNotFound, 9999, "unhandled path "+path)
	}
}

func (f *fakeSuite) applyPatch(task *suite.Task, patch suite.UpdateTaskRequest, updateFields []string) {
	for _, field := range updateFields {
		switch field {
		case "summary":
			task.Summary = patch.Summary
		case "description":
			task.Description = patch.Description
		case "completed_at":
			task.CompletedAt = patch.CompletedAt
			if patch.CompletedAt != "" && patch.CompletedAt != "0" {
				task.Status = "done"
			} else {
				task.Status = "todo"
			}
		case "start":
			if patch.Start != nil {
				task.Start = *patch.Start
			}
		case "due":
			if patch.Due != nil {
				task.Due = *patch.Due
			}
		case "custom_fields":
			for _, cf := range patch.CustomFields {
				found := false
				for i := range task.CustomFields {
					if task.CustomFields[i].GUID == cf.GUID {
						task.CustomFields[i].SingleSelectValue = cf.SingleSelectValue
						found = true
					}
				}
				if !found {
					task.CustomFields = append(task.CustomFields, suite.TaskCustomField{
						GUID:              cf.GUID,
						Type:              "single_select",
						SingleSelectValue: cf.SingleSelectValue,
					})
				}
			}
		}
	}
}

func remarshal(in any, out any) {
	raw, _ := json.Marshal(in)
	json.Unmarshal(raw, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data map[string]any) {
	writeJSON(w, map[string]any{"code": 0, "msg": "success", "data": data})
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg})
}

type testEnv struct {
	Engine sync.Engine
	Fake   *fakeSuite
	Ledger ledger.Store
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fake := newFakeSuite(t)
	client := suite.New(fake.URL(), "app-test", "secret-test")
	cfg := config.Default()
	cfg.Suite.BaseURL = fake.URL()
	cfg.Suite.AppID = "app-test"
	cfg.Suite.AppSecret = "secret-test"
	eng := sync.New(conn, cfg, client)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	eng.Log = quiet
	return testEnv{
		Engine: eng,
		Fake:   fake,
		Ledger: ledger.Store{DB: conn},
		Ctx:    context.Background(),
	}
}
