package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"streetrun/internal/config"
	"streetrun/internal/db"
	"streetrun/internal/engine"
	"streetrun/internal/engine/auth"
	"streetrun/internal/migrate"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	URL    string
	Engine engine.Engine
	Clock  *fakeClock
	Signer auth.Signer
	client *http.Client
}

func newTestServer(t *testing.T, devLogin bool) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Dialect: db.SQLite, Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)}
	e := engine.New(conn, db.SQLite, cfg)
	e.Now = clock.Now
	ctx := context.Background()
	if err := e.ImportCatalog(ctx, cfg.Catalog, "tester"); err != nil {
		t.Fatalf("import catalog: %v", err)
	}
	if _, err := e.CreateCharacter(ctx, "player-1", "Vex"); err != nil {
		t.Fatalf("create character: %v", err)
	}
	signer := auth.NewSigner("test-secret")
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{Signer: signer, DevLogin: devLogin},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Engine: e, Clock: clock, Signer: signer, client: srv.Client()}
}

func (s *testServer) bearer(t *testing.T, subject string) map[string]string {
	t.Helper()
	token, err := s.Signer.Sign(subject)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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

type errorBody struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
	RemainingSeconds  int64  `json:"remaining_seconds"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) errorBody {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error body: %v (%s)", err, string(data))
	}
	if body.Code != code {
		t.Fatalf("expected code %q, got %q (%s)", code, body.Code, body.Error)
	}
	if body.Error == "" {
		t.Fatalf("expected error message in %s", string(data))
	}
	return body
}

func TestMissionRoundTrip(t *testing.T) {
	srv := newTestServer(t, false)
	h := srv.bearer(t, "player-1")
	started := srv.Clock.Now()

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 1}, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var start StartMissionResponse
	if err := json.Unmarshal(data, &start); err != nil {
		t.Fatalf("unmarshal start: %v", err)
	}
	if !start.EndsAt.Equal(started.Add(60 * time.Second)) {
		t.Fatalf("expected endsAt %s, got %s", started.Add(60*time.Second), start.EndsAt)
	}
	if start.Message == "" {
		t.Fatalf("expected message")
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/settle-mission", nil, h)
	body := expectError(t, res, data, http.StatusBadRequest, "mission_not_yet_complete")
	if body.RemainingSeconds != 60 {
		t.Fatalf("expected 60 remaining seconds, got %d", body.RemainingSeconds)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 1}, h)
	body = expectError(t, res, data, http.StatusTooManyRequests, "too_many_requests")
	if body.RetryAfterSeconds != 2 {
		t.Fatalf("expected retry after 2s, got %d", body.RetryAfterSeconds)
	}
	if got := res.Header.Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After header 2, got %q", got)
	}

	srv.Clock.Advance(3 * time.Second)
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 2}, h)
	expectError(t, res, data, http.StatusBadRequest, "mission_already_active")

	srv.Clock.Advance(57 * time.Second)
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/settle-mission", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("settle status %d: %s", res.StatusCode, string(data))
	}
	var settled SettleMissionResponse
	if err := json.Unmarshal(data, &settled); err != nil {
		t.Fatalf("unmarshal settle: %v", err)
	}
	if settled.Currency != 100 || settled.Reputation != 5 {
		t.Fatalf("expected balances 100/5, got %d/%d", settled.Currency, settled.Reputation)
	}
	if settled.MissionID != 1 || settled.Rewards.Credits != 100 {
		t.Fatalf("unexpected settlement: %+v", settled)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/settle-mission", nil, h)
	expectError(t, res, data, http.StatusBadRequest, "no_active_mission")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Currency != 100 || me.ActiveMission != nil {
		t.Fatalf("unexpected status: %+v", me)
	}
}

func TestStartMissionRejections(t *testing.T) {
	srv := newTestServer(t, false)
	h := srv.bearer(t, "player-1")

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 3}, h)
	expectError(t, res, data, http.StatusForbidden, "mission_unavailable")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 999}, h)
	expectError(t, res, data, http.StatusBadRequest, "mission_not_found")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{}, h)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 0}, h)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	stranger := srv.bearer(t, "nobody")
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 1}, stranger)
	expectError(t, res, data, http.StatusNotFound, "character_not_found")

	c, err := srv.Engine.Character(context.Background(), "player-1")
	if err != nil {
		t.Fatalf("load character: %v", err)
	}
	if c.LastMissionStartedAt != nil {
		t.Fatalf("rejected starts must not touch the cooldown timestamp")
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t, false)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 1}, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	other := auth.NewSigner("other-secret")
	token, err := other.Sign("player-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "sr_unknown"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	plain, _, err := srv.Engine.CreateAPIKey(context.Background(), "player-1", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key me status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"subject": "player-1"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dev login must be disabled by default, got %d", res.StatusCode)
	}
}

func TestAPIKeyLookupFailureIsServerError(t *testing.T) {
	srv := newTestServer(t, false)
	if err := srv.Engine.DB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "sr_whatever"})
	expectError(t, res, data, http.StatusInternalServerError, "internal_error")
}

func TestDevLogin(t *testing.T) {
	srv := newTestServer(t, true)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"subject": "player-1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
}

func TestListMissionsHidesHidden(t *testing.T) {
	srv := newTestServer(t, false)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/missions", nil, srv.bearer(t, "player-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("missions status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Missions []MissionResponse `json:"missions"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal missions: %v", err)
	}
	if len(out.Missions) != 2 {
		t.Fatalf("expected 2 visible missions, got %d", len(out.Missions))
	}
	for _, m := range out.Missions {
		if m.ID == 3 {
			t.Fatalf("hidden mission listed")
		}
	}
}

func TestMyEvents(t *testing.T) {
	srv := newTestServer(t, false)
	h := srv.bearer(t, "player-1")
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/start-mission", map[string]any{"missionId": 1}, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/me/events?limit=1", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Events []EventResponse `json:"events"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(out.Events) != 1 || out.Events[0].Type != "mission.started" {
		t.Fatalf("unexpected events: %+v", out.Events)
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv := newTestServer(t, false)

	var mu sync.Mutex
	var got []webhookEvent
	var headers []http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := newWebhookDispatcher(srv.Engine, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"mission.started"},
		Secret: "s3cret",
	}}, nil)
	ctx := context.Background()
	d.dispatchAll(ctx)

	if _, err := srv.Engine.StartMission(ctx, "player-1", 1); err != nil {
		t.Fatalf("start mission: %v", err)
	}
	srv.Clock.Advance(time.Minute)
	if _, err := srv.Engine.SettleMission(ctx, "player-1"); err != nil {
		t.Fatalf("settle mission: %v", err)
	}
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Type != "mission.started" || got[0].ActorID != "player-1" {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
	var payload map[string]any
	if err := json.Unmarshal(got[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["mission_id"] != float64(1) {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if headers[0].Get("X-Streetrun-Event") != "mission.started" || headers[0].Get("X-Streetrun-Secret") != "s3cret" {
		t.Fatalf("unexpected headers: %v", headers[0])
	}
}

func TestEventFilter(t *testing.T) {
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match everything")
	}
	if !newEventFilter([]string{" ", ""}).match("x") {
		t.Fatalf("blank entries should be ignored")
	}
	f := newEventFilter([]string{"mission.settled"})
	if f.match("mission.started") || !f.match("mission.settled") {
		t.Fatalf("filter mismatch")
	}
}
