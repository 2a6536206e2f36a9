package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionRoundTrip(t *testing.T) {
	dirOverride = t.TempDir()
	t.Cleanup(func() { dirOverride = "" })

	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected error before login")
	}
	in := Session{APIBaseURL: "http://localhost:8080", AdminToken: "tok", ChannelID: "c1"}
	if err := SaveSession(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != in {
		t.Fatalf("session = %+v", got)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected error after clear")
	}
}

func TestClientSendsTokenAndDecodesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid token"})
			return
		}
		if r.URL.Path != "/v1/players/u 1/state" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "no route " + r.URL.Path})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"player_id":  "u 1",
			"balances":   map[string]string{"tier1": "2000"},
			"production": map[string]int{"tier1": 3},
			"inventory":  []map[string]any{{"item_id": 5000, "tier": 2, "count": 12}},
		})
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL, "tok").State(context.Background(), "u 1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Balances["tier1"] != "2000" || st.Production["tier1"] != 3 {
		t.Fatalf("state = %+v", st)
	}
	if len(st.Inventory) != 1 || st.Inventory[0].Count.Int64() != 12 {
		t.Fatalf("inventory = %+v", st.Inventory)
	}

	_, err = NewClient(srv.URL, "bad").State(context.Background(), "u 1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid token" {
		t.Fatalf("err = %v", err)
	}
}
