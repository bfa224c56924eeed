package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/config"
	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/page"
	"github.com/mtzanidakis/epoptis/internal/policy"
	"github.com/mtzanidakis/epoptis/internal/runner"
	"github.com/mtzanidakis/epoptis/internal/store"
)

type testApp struct {
	server *Server
	store  *store.Store
	bus    *messaging.Bus
	runner *runner.Runner
	ts     *httptest.Server
}

func newTestApp(t *testing.T, auth string) *testApp {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := messaging.New(100)
	policies := policy.NewRegistry("default")
	run := runner.New(s, bus, policies, runner.Options{SwarmEnabled: true, SwarmAllowed: true})
	t.Cleanup(run.Shutdown)

	srv := NewServer(s, run, bus, policies, config.WebConfig{Enabled: true, Auth: auth}, "test")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testApp{server: srv, store: s, bus: bus, runner: run, ts: ts}
}

func (a *testApp) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (a *testApp) createSession(t *testing.T, goal string) store.Session {
	t.Helper()
	resp := a.request(t, "POST", "/api/sessions", map[string]string{
		"goal": goal,
		"url":  "https://example.com/checkout",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var sess store.Session
	decodeJSON(t, resp, &sess)
	return sess
}

func testSnapshot() *page.Snapshot {
	return &page.Snapshot{
		URL: "https://example.com/checkout",
		Elements: []page.Element{
			{ID: "el-1", Tag: "button", Text: "Submit"},
		},
	}
}

func TestStatusEndpoint(t *testing.T) {
	app := newTestApp(t, "")

	resp := app.request(t, "GET", "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status map[string]any
	decodeJSON(t, resp, &status)
	if status["status"] != "ok" {
		t.Errorf("expected status ok, got %v", status["status"])
	}
	if status["version"] != "test" {
		t.Errorf("expected version test, got %v", status["version"])
	}
	if _, ok := status["bus"]; !ok {
		t.Error("expected bus statistics in status")
	}
}

func TestSessionLifecycle(t *testing.T) {
	app := newTestApp(t, "")

	sess := app.createSession(t, "buy a widget")
	if sess.ID == "" {
		t.Fatal("expected session id")
	}
	if sess.Status != store.SessionRunning {
		t.Errorf("expected running, got %q", sess.Status)
	}

	var list []store.Session
	decodeJSON(t, app.request(t, "GET", "/api/sessions", nil), &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}

	var got store.Session
	decodeJSON(t, app.request(t, "GET", "/api/sessions/"+sess.ID, nil), &got)
	if got.Goal != "buy a widget" {
		t.Errorf("expected goal, got %q", got.Goal)
	}

	resp := app.request(t, "PUT", "/api/sessions/"+sess.ID, map[string]any{
		"status": "completed",
		"result": map[string]bool{"ok": true},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close session: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	decodeJSON(t, app.request(t, "GET", "/api/sessions/"+sess.ID, nil), &got)
	if got.Status != store.SessionCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}

	resp = app.request(t, "DELETE", "/api/sessions/"+sess.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete session: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.request(t, "GET", "/api/sessions/"+sess.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateSessionValidation(t *testing.T) {
	app := newTestApp(t, "")

	resp := app.request(t, "POST", "/api/sessions", map[string]string{"url": "https://example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without goal, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["error"] == "" {
		t.Error("expected error message")
	}
}

func TestCloseSessionValidation(t *testing.T) {
	app := newTestApp(t, "")
	sess := app.createSession(t, "buy a widget")

	resp := app.request(t, "PUT", "/api/sessions/"+sess.ID, map[string]string{"status": "paused"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.request(t, "PUT", "/api/sessions/missing", map[string]string{"status": "completed"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing session, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPlanningEndpoint(t *testing.T) {
	app := newTestApp(t, "")
	sess := app.createSession(t, "buy a widget")

	resp := app.request(t, "POST", "/api/sessions/"+sess.ID+"/plan", roundRequest{
		Snapshot: testSnapshot(),
		Actions: []action.Action{
			{Type: action.TypeClick, ElementID: "el-1", Confidence: 0.9},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plan: status %d", resp.StatusCode)
	}
	var result runner.PlanningResult
	decodeJSON(t, resp, &result)
	if !result.PlanApproved {
		t.Error("expected plan approved")
	}
	if len(result.Final) != 1 {
		t.Fatalf("expected 1 final action, got %d", len(result.Final))
	}
	if result.AuditID == "" {
		t.Error("expected audit id")
	}

	resp = app.request(t, "POST", "/api/sessions/missing/plan", roundRequest{})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestActionGateEndpoint(t *testing.T) {
	app := newTestApp(t, "")
	sess := app.createSession(t, "buy a widget")

	resp := app.request(t, "POST", "/api/sessions/"+sess.ID+"/actions", roundRequest{
		Snapshot: testSnapshot(),
		Actions: []action.Action{
			{Type: action.TypeClick, ElementID: "el-1", Confidence: 0.9},
			{Type: action.TypeTerminate, Reasoning: "give up", Confidence: 0.9},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("action gate: status %d", resp.StatusCode)
	}
	var result runner.GateResult
	decodeJSON(t, resp, &result)
	if len(result.Verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(result.Verdicts))
	}
	if len(result.Final) != 1 {
		t.Fatalf("expected 1 approved action, got %d", len(result.Final))
	}
	if result.Final[0].Type != action.TypeClick {
		t.Errorf("expected click to survive, got %s", result.Final[0].Type)
	}
}

func TestMessagesEndpoints(t *testing.T) {
	app := newTestApp(t, "")
	sess := app.createSession(t, "buy a widget")

	resp := app.request(t, "POST", "/api/sessions/"+sess.ID+"/plan", roundRequest{
		Snapshot: testSnapshot(),
		Actions:  []action.Action{{Type: action.TypeClick, ElementID: "el-1", Confidence: 0.9}},
	})
	resp.Body.Close()

	var msgs []messaging.Envelope
	decodeJSON(t, app.request(t, "GET", "/api/messages", nil), &msgs)
	if len(msgs) == 0 {
		t.Fatal("expected bus traffic after a planning round")
	}

	var plans []messaging.Envelope
	decodeJSON(t, app.request(t, "GET", "/api/messages?type=plan", nil), &plans)
	if len(plans) == 0 {
		t.Fatal("expected plan messages")
	}
	for _, m := range plans {
		if m.Type != messaging.TypePlan {
			t.Errorf("expected plan type, got %s", m.Type)
		}
	}

	var limited []messaging.Envelope
	decodeJSON(t, app.request(t, "GET", "/api/messages?limit=1", nil), &limited)
	if len(limited) != 1 {
		t.Fatalf("expected 1 message with limit=1, got %d", len(limited))
	}
	if limited[0].ID != msgs[len(msgs)-1].ID {
		t.Error("expected the most recent message")
	}

	var taskMsgs []messaging.Envelope
	decodeJSON(t, app.request(t, "GET", "/api/tasks/"+sess.TaskID+"/messages", nil), &taskMsgs)
	if len(taskMsgs) == 0 {
		t.Fatal("expected task messages")
	}

	var single messaging.Envelope
	decodeJSON(t, app.request(t, "GET", "/api/messages/"+msgs[0].ID, nil), &single)
	if single.ID != msgs[0].ID {
		t.Errorf("expected message %s, got %s", msgs[0].ID, single.ID)
	}

	notFound := app.request(t, "GET", "/api/messages/missing", nil)
	if notFound.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown message, got %d", notFound.StatusCode)
	}
	notFound.Body.Close()

	cleared := app.request(t, "DELETE", "/api/messages", nil)
	if cleared.StatusCode != http.StatusOK {
		t.Fatalf("clear messages: status %d", cleared.StatusCode)
	}
	cleared.Body.Close()

	decodeJSON(t, app.request(t, "GET", "/api/messages", nil), &msgs)
	if len(msgs) != 0 {
		t.Errorf("expected empty history after clear, got %d", len(msgs))
	}
}

func TestAuditEndpoint(t *testing.T) {
	app := newTestApp(t, "")
	sess := app.createSession(t, "buy a widget")

	resp := app.request(t, "POST", "/api/sessions/"+sess.ID+"/plan", roundRequest{
		Snapshot: testSnapshot(),
		Actions:  []action.Action{{Type: action.TypeClick, ElementID: "el-1", Confidence: 0.9}},
	})
	resp.Body.Close()

	var records []store.AuditRecord
	decodeJSON(t, app.request(t, "GET", "/api/audit/"+sess.ID, nil), &records)
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if !records[0].Valid {
		t.Error("expected valid audit record")
	}
}

func TestAuthRequired(t *testing.T) {
	app := newTestApp(t, "secret1")

	resp := app.request(t, "GET", "/api/status", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest("GET", app.ts.URL+"/api/status", nil)
	req.SetBasicAuth("monitor", "secret1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with basic auth, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.request(t, "POST", "/api/login", map[string]string{"password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.request(t, "POST", "/api/login", map[string]string{"password": "secret1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for login, got %d", resp.StatusCode)
	}
	cookies := resp.Cookies()
	resp.Body.Close()
	if len(cookies) == 0 {
		t.Fatal("expected session cookie")
	}

	req, _ = http.NewRequest("GET", app.ts.URL+"/api/status", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with session cookie, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
