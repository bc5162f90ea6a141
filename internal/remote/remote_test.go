package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{400, true},
		{401, true},
		{404, true},
		{409, true},
		{408, false},
		{429, false},
		{500, false},
		{503, false},
	}

	for _, tt := range tests {
		err := StatusError(tt.status, "x")
		if err.Permanent != tt.permanent {
			t.Errorf("status %d: expected permanent=%v", tt.status, tt.permanent)
		}
		if IsPermanent(err) != tt.permanent {
			t.Errorf("status %d: IsPermanent mismatch", tt.status)
		}
	}

	if IsPermanent(errors.New("plain")) {
		t.Error("plain errors should not be permanent")
	}
	if IsPermanent(Transient(errors.New("dial tcp"))) {
		t.Error("transient errors should not be permanent")
	}
}

func TestSupabaseInsertSendsHeaders(t *testing.T) {
	var gotPath, gotPrefer, gotAuth, gotKey string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPrefer = r.Header.Get("Prefer")
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"42","event":"tick"}]`))
	}))
	defer srv.Close()

	c := NewSupabase(srv.URL, "anon-key", func() string { return "user-token" })
	row, err := c.InsertRow(context.Background(), "telemetry_events", Row{"event": "tick"})
	if err != nil {
		t.Fatalf("InsertRow failed: %v", err)
	}

	if gotPath != "/rest/v1/telemetry_events" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if gotPrefer != "return=representation" {
		t.Errorf("Unexpected Prefer %q", gotPrefer)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("Expected user token in Authorization, got %q", gotAuth)
	}
	if gotKey != "anon-key" {
		t.Errorf("Expected apikey header, got %q", gotKey)
	}
	if gotBody["event"] != "tick" {
		t.Errorf("Body not forwarded: %+v", gotBody)
	}
	if row["id"] != "42" {
		t.Errorf("Unexpected row %+v", row)
	}
}

func TestSupabaseSelectBuildsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewSupabase(srv.URL, "k", nil)
	_, err := c.SelectRows(context.Background(), "cache", Filter{Eq("cache_key", "realtime_aqi:40.71:-74.01")}, &Order{Column: "created_at", Desc: true}, 1)
	if err != nil {
		t.Fatalf("SelectRows failed: %v", err)
	}

	for _, want := range []string{"cache_key=eq.realtime_aqi", "order=created_at.desc", "limit=1", "select=%2A"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("Query %q missing %q", gotQuery, want)
		}
	}
}

func TestSupabaseUpsertUsesMergeDuplicates(t *testing.T) {
	var gotQuery, gotPrefer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotPrefer = r.Header.Get("Prefer")
		w.Write([]byte(`[{"cache_key":"a"}]`))
	}))
	defer srv.Close()

	c := NewSupabase(srv.URL, "k", nil)
	if _, err := c.UpsertRow(context.Background(), "cache", Row{"cache_key": "a"}, "cache_key"); err != nil {
		t.Fatalf("UpsertRow failed: %v", err)
	}
	if gotQuery != "on_conflict=cache_key" {
		t.Errorf("Unexpected query %q", gotQuery)
	}
	if !strings.Contains(gotPrefer, "resolution=merge-duplicates") {
		t.Errorf("Unexpected Prefer %q", gotPrefer)
	}
}

func TestSupabaseErrorsAreClassified(t *testing.T) {
	status := http.StatusUnprocessableEntity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"message":"invalid input syntax"}`))
	}))
	defer srv.Close()

	c := NewSupabase(srv.URL, "k", nil)
	_, err := c.InsertRow(context.Background(), "t", Row{"a": 1})
	if !IsPermanent(err) {
		t.Fatalf("Expected permanent error for 422, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid input syntax") {
		t.Errorf("Expected PostgREST message in error, got %v", err)
	}

	status = http.StatusBadGateway
	_, err = c.InsertRow(context.Background(), "t", Row{"a": 1})
	if err == nil || IsPermanent(err) {
		t.Fatalf("Expected transient error for 502, got %v", err)
	}
}

func TestSupabaseNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewSupabase(url, "k", nil)
	_, err := c.InsertRow(context.Background(), "t", Row{"a": 1})
	if err == nil {
		t.Fatal("Expected error from closed server")
	}
	if IsPermanent(err) {
		t.Errorf("Network errors must be transient: %v", err)
	}
	if err := c.Health(context.Background()); err == nil {
		t.Error("Expected health check to fail")
	}
}

func TestRealtimeSubscribeDeliversChanges(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan phxMessage, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join phxMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joined <- join

		conn.WriteJSON(map[string]interface{}{
			"topic": join.Topic,
			"event": "postgres_changes",
			"payload": map[string]interface{}{
				"data": map[string]interface{}{
					"type":   "INSERT",
					"table":  "user_achievements",
					"record": map[string]interface{}{"achievement_id": "first_tree"},
				},
			},
		})
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewSupabase(srv.URL, "k", nil)
	got := make(chan Change, 1)

	start := time.Now()
	sub, err := c.Subscribe(context.Background(), "user_achievements", Filter{Eq("user_id", "u1")}, func(ch Change) {
		got <- ch
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Subscribe should not block on the connection")
	}
	defer sub.Unsubscribe()

	select {
	case join := <-joined:
		if join.Topic != "realtime:public:user_achievements" || join.Event != "phx_join" {
			t.Errorf("Unexpected join frame %+v", join)
		}
		if !strings.Contains(string(join.Payload), `user_id=eq.u1`) {
			t.Errorf("Join payload missing filter: %s", join.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for join")
	}

	select {
	case ch := <-got:
		if ch.Type != ChangeInsert || ch.Record["achievement_id"] != "first_tree" {
			t.Errorf("Unexpected change %+v", ch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for change")
	}
}

func TestMemorySelectFilterOrderLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i, score := range []int{30, 10, 20} {
		if _, err := m.InsertRow(ctx, "scores", Row{"user": "u" + string(rune('a'+i)), "score": score}); err != nil {
			t.Fatalf("InsertRow failed: %v", err)
		}
	}

	rows, err := m.SelectRows(ctx, "scores", Filter{Gt("score", 15)}, &Order{Column: "score", Desc: true}, 1)
	if err != nil {
		t.Fatalf("SelectRows failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["score"] != 30 {
		t.Errorf("Unexpected rows %+v", rows)
	}
}

func TestMemoryUpsertAndUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.UpsertRow(ctx, "cache", Row{"cache_key": "a", "v": 1}, "cache_key")
	m.UpsertRow(ctx, "cache", Row{"cache_key": "a", "v": 2}, "cache_key")
	if n := len(m.Rows("cache")); n != 1 {
		t.Fatalf("Expected upsert to merge, got %d rows", n)
	}

	row, err := m.UpdateRow(ctx, "cache", Filter{Eq("cache_key", "a")}, Row{"v": 3})
	if err != nil {
		t.Fatalf("UpdateRow failed: %v", err)
	}
	if row["v"] != 3 {
		t.Errorf("Expected v=3, got %v", row["v"])
	}

	if _, err := m.UpdateRow(ctx, "cache", Filter{Eq("cache_key", "missing")}, Row{"v": 4}); !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
}

func TestMemorySubscribeAndFailureHook(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var changes []Change
	sub, _ := m.Subscribe(ctx, "user_achievements", Filter{Eq("user_id", "u1")}, func(c Change) {
		changes = append(changes, c)
	})

	m.InsertRow(ctx, "user_achievements", Row{"user_id": "u1"})
	m.InsertRow(ctx, "user_achievements", Row{"user_id": "u2"})
	if len(changes) != 1 {
		t.Fatalf("Expected 1 filtered change, got %d", len(changes))
	}

	sub.Unsubscribe()
	m.InsertRow(ctx, "user_achievements", Row{"user_id": "u1"})
	if len(changes) != 1 {
		t.Errorf("Expected no changes after unsubscribe, got %d", len(changes))
	}

	m.SetFailureHook(func(op, table string, values Row) error {
		return StatusError(400, "bad")
	})
	if _, err := m.InsertRow(ctx, "t", Row{}); !IsPermanent(err) {
		t.Errorf("Expected hook error, got %v", err)
	}

	m.SetFailureHook(nil)
	m.SetReachable(false)
	if err := m.Health(ctx); err == nil {
		t.Error("Expected unreachable store to fail health")
	}
}
