package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"solaire/internal/config"
	"solaire/internal/db"
	"solaire/internal/engine"
	"solaire/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/api", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	res, err := client.Do(req)
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

func defaultAuth() AuthConfig {
	return AuthConfig{DefaultActor: "tester", AllowLegacyActorHeader: true}
}

func TestLeadConvertFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, defaultAuth())
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/leads", map[string]any{
		"contact_name": "Marie Durand",
		"pack":         "pro",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create lead status %d: %s", res.StatusCode, string(data))
	}
	var lead LeadResponse
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}
	if lead.Status != "new" {
		t.Fatalf("new lead should have status new, got %s", lead.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/leads/"+lead.ID+"/convert", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("convert status %d: %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if project.Reference != "DOS-2025-0001" {
		t.Fatalf("expected DOS-2025-0001, got %s", project.Reference)
	}
	if project.Workflow["dp"].CurrentStep != "pending" {
		t.Fatalf("dp should start pending, got %s", project.Workflow["dp"].CurrentStep)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/leads/"+lead.ID+"/convert", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second convert should conflict, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "already_converted" {
		t.Fatalf("expected already_converted, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/leads/"+lead.ID+"/undo-convert", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("undo status %d: %s", res.StatusCode, string(data))
	}
	var reverted LeadResponse
	if err := json.Unmarshal(data, &reverted); err != nil {
		t.Fatal(err)
	}
	if reverted.Status != "qualified" || reverted.ClientID != nil {
		t.Fatalf("undo should requalify the lead, got %+v", reverted)
	}
}

func TestCreateLeadRejectsUnknownPack(t *testing.T) {
	srv, cleanup := newTestServer(t, defaultAuth())
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/leads", map[string]any{
		"contact_name": "Paul",
		"pack":         "premium_gold",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_pack" {
		t.Fatalf("expected invalid_pack, got %s", code)
	}
}

func TestUpdateLeadCannotForceConversionStatus(t *testing.T) {
	srv, cleanup := newTestServer(t, defaultAuth())
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/leads", map[string]any{
		"contact_name": "Luc Moreau",
		"pack":         "pro",
	}, nil)
	var lead LeadResponse
	_ = json.Unmarshal(data, &lead)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/api/leads/"+lead.ID, map[string]any{
		"status": "converted",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("patching status to converted should 400, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/leads/"+lead.ID+"/convert", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("convert: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/leads/"+lead.ID, map[string]any{
		"status": "qualified",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("demoting a converted lead should 400, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("expected bad_request, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/leads/"+lead.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get lead: %d %s", res.StatusCode, string(data))
	}
	var unchanged LeadResponse
	_ = json.Unmarshal(data, &unchanged)
	if unchanged.Status != "converted" || unchanged.ClientID == nil {
		t.Fatalf("lead must stay converted with its client link, got %+v", unchanged)
	}
}

func TestWorkflowStepEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, defaultAuth())
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/leads", map[string]any{
		"contact_name": "Jean Petit",
		"pack":         "flex",
	}, nil)
	var lead LeadResponse
	_ = json.Unmarshal(data, &lead)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/leads/"+lead.ID+"/convert", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("convert: %d %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	_ = json.Unmarshal(data, &project)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/projects/"+project.ID+"/workflow/dp", map[string]any{
		"step":  "sent",
		"notes": "dossier posté",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("apply step: %d %s", res.StatusCode, string(data))
	}
	var updated ProjectResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatal(err)
	}
	dp := updated.Workflow["dp"]
	if dp.CurrentStep != "sent" || dp.Status != "in_progress" {
		t.Fatalf("unexpected dp state %+v", dp)
	}
	if len(dp.History) != 1 || dp.History[0].To != "sent" {
		t.Fatalf("expected one transition to sent, got %+v", dp.History)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/projects/"+project.ID+"/workflow/mairie", map[string]any{
		"step": "sent",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown stage should 400, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/projects/"+project.ID+"/workflow/dp/reset", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d %s", res.StatusCode, string(data))
	}
	var reset ProjectResponse
	_ = json.Unmarshal(data, &reset)
	if reset.Workflow["dp"].CurrentStep != "pending" {
		t.Fatalf("reset should return dp to pending, got %s", reset.Workflow["dp"].CurrentStep)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, defaultAuth())
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/leads/does-not-exist", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %s", code)
	}
}

func TestWorkflowConfigEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, defaultAuth())
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/workflow-config", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("workflow-config: %d %s", res.StatusCode, string(data))
	}
	var catalog WorkflowConfigResponse
	if err := json.Unmarshal(data, &catalog); err != nil {
		t.Fatal(err)
	}
	if len(catalog.Workflow) != 4 {
		t.Fatalf("expected 4 stages, got %d", len(catalog.Workflow))
	}
	if len(catalog.Workflow["dp"].Steps) == 0 {
		t.Fatalf("dp stage should list steps")
	}
	if len(catalog.Packs) == 0 {
		t.Fatalf("packs should not be empty")
	}
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/leads", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %s", code)
	}

	// health stays open
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d: %s", res.StatusCode, string(data))
	}
}
