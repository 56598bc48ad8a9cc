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

	"github.com/golang-jwt/jwt/v5"

	"designgate/internal/config"
	"designgate/internal/db"
	"designgate/internal/domain"
	"designgate/internal/engine"
	"designgate/internal/migrate"
)

const testSecret = "test-secret"

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
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	e, err = e.WithPool([]domain.GuidanceSource{
		{SourceID: "shared-area", GuidanceArea: "consent"},
		{SourceID: "shared-ctx", DomainContext: "health"},
	})
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	if auth.JWTSecret == "" {
		auth.JWTSecret = testSecret
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
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

func bearer(t *testing.T, subject string) map[string]string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, string(data))
	}
	return env
}

func threePhases() []map[string]any {
	return []map[string]any{
		{"id": "discover", "status": "completed", "progress": 100},
		{"id": "define", "status": "in-progress", "progress": 40},
		{"id": "design", "status": "not-started"},
	}
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
}

func TestPhaseUnlocked(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	cases := []struct {
		index int
		want  bool
	}{{0, true}, {1, true}, {2, false}}
	for _, tc := range cases {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/phases/unlocked", map[string]any{
			"phases": threePhases(),
			"index":  tc.index,
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("index %d status %d: %s", tc.index, res.StatusCode, string(body))
		}
		var out PhaseUnlockResponse
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if out.Unlocked != tc.want {
			t.Fatalf("index %d: expected unlocked=%v", tc.index, tc.want)
		}
	}
}

func TestPhaseUnlockedOutOfRange(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/phases/unlocked", map[string]any{
		"phases": threePhases(),
		"index":  3,
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}
	if env := decodeError(t, body); env.Error.Code != "index_out_of_range" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
}

func TestPhaseStates(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/phases/states", map[string]any{
		"phases": threePhases(),
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("states status %d: %s", res.StatusCode, string(body))
	}
	var out PhaseStatesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.States) != 3 || out.Current != 1 {
		t.Fatalf("unexpected states: %+v", out)
	}
	if !out.States[1].Unlocked || out.States[2].Unlocked {
		t.Fatalf("unexpected gate: %+v", out.States)
	}
}

func TestGuidanceResolve(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/guidance/resolve", map[string]any{
		"question_key":   "consent",
		"domain_context": "health",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(body))
	}
	var out GuidanceResolveResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Sources) != 2 || out.Sources[0].SourceID != "shared-area" || out.Sources[1].SourceID != "shared-ctx" {
		t.Fatalf("unexpected shared pool result: %+v", out.Sources)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/guidance/resolve", map[string]any{
		"question_key": "privacy",
		"pool": []map[string]any{
			{"source_id": "p1", "guidance_area": "privacy"},
			{"source_id": "p2", "guidance_area": "consent"},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(body))
	}
	out = GuidanceResolveResponse{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Sources) != 1 || out.Sources[0].SourceID != "p1" {
		t.Fatalf("unexpected request pool result: %+v", out.Sources)
	}
}

func TestAssessment(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/assessments", map[string]any{
		"flags": []map[string]any{
			{"question_key": "consent", "issue": "no opt-out", "severity": "high"},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assess status %d: %s", res.StatusCode, string(body))
	}
	var out domain.EthicalAssessment
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.EthicalScore != 85 || out.ProceedRecommendation || out.CanProceed {
		t.Fatalf("unexpected assessment: %+v", out)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/assessments", map[string]any{
		"flags": []map[string]any{
			{"question_key": "consent", "issue": "no opt-out", "severity": "high"},
		},
		"override": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("override status %d: %s", res.StatusCode, string(body))
	}
	out = domain.EthicalAssessment{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.CanProceed || out.ProceedRecommendation {
		t.Fatalf("override should allow proceeding without changing the recommendation: %+v", out)
	}
}

func TestAssessmentInvalidPolicy(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/assessments", map[string]any{
		"flags": []map[string]any{},
		"policy": map[string]any{
			"weights":        map[string]any{"low": 2, "medium": 6, "high": 15},
			"pass_threshold": 150,
		},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}
	if env := decodeError(t, body); env.Error.Code != "invalid_policy" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
}

func TestEvaluate(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/evaluate", map[string]any{
		"domain_context": "health",
		"phases":         threePhases(),
		"questions":      []map[string]any{{"id": "q1", "key": "consent"}},
		"considerations": []map[string]any{{"id": "ec-1", "priority": "high"}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status %d: %s", res.StatusCode, string(body))
	}
	var rep engine.Report
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rep.CurrentPhase != 1 || rep.Pending != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Assessment.EthicalScore != 100 || !rep.Assessment.CanProceed {
		t.Fatalf("unexpected assessment: %+v", rep.Assessment)
	}
	if len(rep.Questions) != 1 || len(rep.Questions[0].GuidanceSources) != 2 {
		t.Fatalf("expected shared pool guidance on question: %+v", rep.Questions)
	}
}

func TestAcknowledgeRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPut, srv.URL+"/v0/considerations/ec-1/ack", map[string]any{"note": "ok"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPut, srv.URL+"/v0/considerations/ec-1/ack", map[string]any{"note": "ok"},
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(body))
	}
	if env := decodeError(t, body); env.Error.Code != "invalid_credentials" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
}

func TestAcknowledgeLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	auth := bearer(t, "alice")

	res, body := doJSON(t, client, http.MethodPut, srv.URL+"/v0/considerations/ec-1/ack", map[string]any{"note": "reviewed"}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ack status %d: %s", res.StatusCode, string(body))
	}
	var ack domain.Acknowledgement
	if err := json.Unmarshal(body, &ack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ack.ConsiderationID != "ec-1" || ack.ActorID != "alice" || ack.ID == "" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/considerations/acks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var list AcknowledgementsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != ack.ID {
		t.Fatalf("unexpected list: %+v", list.Items)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/evaluate", map[string]any{
		"considerations": []map[string]any{{"id": "ec-1"}, {"id": "ec-2"}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status %d: %s", res.StatusCode, string(body))
	}
	var rep engine.Report
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !rep.Considerations[0].Acknowledged || rep.Considerations[1].Acknowledged || rep.Pending != 1 {
		t.Fatalf("unexpected considerations: %+v", rep.Considerations)
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/considerations/ec-1/ack", nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("unack status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/considerations/ec-1/ack", nil, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second unack, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=5", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var evs EventsResponse
	if err := json.Unmarshal(body, &evs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(evs.Items) != 2 || evs.Items[0].Type != "consideration.unacknowledged" || evs.Items[0].ActorID != "alice" {
		t.Fatalf("unexpected events: %+v", evs.Items)
	}
}

func TestLegacyActorHeader(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/considerations/ec-9/ack", map[string]any{},
		map[string]string{"X-Actor-Id": "bob"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("legacy ack status %d: %s", res.StatusCode, string(body))
	}
	var ack domain.Acknowledgement
	if err := json.Unmarshal(body, &ack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ack.ActorID != "bob" {
		t.Fatalf("expected legacy actor, got %+v", ack)
	}
}

func TestOpenAPISpec(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v0/considerations/{id}/ack"]; !ok {
		t.Fatalf("expected ack path in spec, got %v", paths)
	}
}
