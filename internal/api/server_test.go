package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shipsbot/internal/commands"
	"shipsbot/internal/config"
	"shipsbot/internal/game"
	"shipsbot/internal/store/memory"
)

const testToken = "secret-admin-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	content, err := config.DefaultContent()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	store := memory.NewStore(memory.WithClock(func() time.Time { return now }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := game.NewService(store, content, logger)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	srv := New(config.APIConfig{AdminToken: testToken}, logger, svc, commands.New(svc, logger), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t)
	status, body := do(t, ts, http.MethodGet, "/healthz", "", "")
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("healthz = %d %v", status, body)
	}
}

func TestAdminTokenRequired(t *testing.T) {
	ts := newTestServer(t)
	if status, _ := do(t, ts, http.MethodGet, "/v1/players/p1/state", "", ""); status != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", status)
	}
	if status, _ := do(t, ts, http.MethodGet, "/v1/players/p1/state", "wrong", ""); status != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", status)
	}
}

func TestStateAndUpgrade(t *testing.T) {
	ts := newTestServer(t)
	status, body := do(t, ts, http.MethodGet, "/v1/players/p1/state", testToken, "")
	if status != http.StatusOK {
		t.Fatalf("state status = %d %v", status, body)
	}
	balances := body["balances"].(map[string]any)
	if balances["tier1"] != "2000" {
		t.Fatalf("tier1 = %v", balances["tier1"])
	}

	status, body = do(t, ts, http.MethodPost, "/v1/players/p1/upgrades", testToken, `{"resource":"tier1","channel_id":"c1"}`)
	if status != http.StatusCreated || body["new_level"] != float64(2) {
		t.Fatalf("upgrade = %d %v", status, body)
	}
	cost := body["cost"].(map[string]any)
	if cost["tier1"] != "922" || cost["tier2"] != "461" {
		t.Fatalf("cost = %v", cost)
	}

	status, body = do(t, ts, http.MethodGet, "/v1/players/p1/state", testToken, "")
	if status != http.StatusOK {
		t.Fatalf("state status = %d", status)
	}
	if got := body["balances"].(map[string]any)["tier1"]; got != "1078" {
		t.Fatalf("tier1 after upgrade = %v", got)
	}
	if upgrades := body["upgrades"].([]any); len(upgrades) != 1 {
		t.Fatalf("upgrades = %v", upgrades)
	}
}

func TestDomainErrors(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "unknown resource", path: "/v1/players/p1/upgrades", body: `{"resource":"gold"}`, status: http.StatusBadRequest},
		{name: "unaffordable ships", path: "/v1/players/p1/builds", body: `{"ship":"shipSpecial1","count":"1"}`, status: http.StatusBadRequest},
		{name: "bad count", path: "/v1/players/p1/builds", body: `{"ship":"ship1","count":"lots"}`, status: http.StatusBadRequest},
		{name: "empty fleet", path: "/v1/players/p1/raids", body: `{"location_id":1}`, status: http.StatusBadRequest},
		{name: "locked location", path: "/v1/players/p1/raids", body: `{"location_id":2}`, status: http.StatusForbidden},
		{name: "unknown field", path: "/v1/players/p1/raids", body: `{"where":1}`, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		status, body := do(t, ts, http.MethodPost, tc.path, testToken, tc.body)
		if status != tc.status {
			t.Fatalf("%s: status = %d, want %d (%v)", tc.name, status, tc.status, body)
		}
	}
}

func TestCommandEndpoint(t *testing.T) {
	ts := newTestServer(t)
	status, body := do(t, ts, http.MethodPost, "/v1/players/p1/commands", testToken, `{"content":"bal"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d %v", status, body)
	}
	if reply, _ := body["reply"].(string); !strings.Contains(reply, "Iron: 2,000") {
		t.Fatalf("reply = %v", body["reply"])
	}
	if id, _ := body["id"].(string); id == "" {
		t.Fatalf("missing correlation id")
	}
	if status, _ := do(t, ts, http.MethodPost, "/v1/players/p1/commands", testToken, `{"content":"  "}`); status != http.StatusBadRequest {
		t.Fatalf("empty content status = %d", status)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"Basic dXNlcjpw": "",
		"Bearer":         "",
	}
	for in, want := range tests {
		if got := bearerToken(in); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
