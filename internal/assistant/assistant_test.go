package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cleanspace/airquest/internal/sim"
)

func testState() sim.State {
	e := sim.New(sim.DefaultConfig(), 112, 50, sim.DefaultPlayer(), nil)
	return e.Snapshot()
}

func geminiServer(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") || r.URL.Query().Get("key") != "k" {
			t.Errorf("Unexpected request %s", r.URL)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{"content": map[string]interface{}{
					"parts": []interface{}{map[string]interface{}{"text": text}},
				}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecommendWithoutKeyUsesFallback(t *testing.T) {
	c := New("")
	recs := c.Recommend(context.Background(), testState())
	if len(recs) == 0 || len(recs) > 3 {
		t.Fatalf("Expected 1..3 recommendations, got %d", len(recs))
	}
	for i, r := range recs {
		if r.Priority != i+1 || r.ExpectedAQIChange >= 0 {
			t.Errorf("Unexpected recommendation %+v", r)
		}
	}
}

func TestRecommendRemote(t *testing.T) {
	srv := geminiServer(t, http.StatusOK,
		"```json\n"+`[{"action":"plant_tree","title":"Plant","reason":"cheap","priority":1,"expected_aqi_change":-10},
		{"action":"launch_rocket","title":"Nope","priority":2}]`+"\n```")
	c := New("k", WithBaseURL(srv.URL))

	recs := c.Recommend(context.Background(), testState())
	if len(recs) != 1 || recs[0].Action != sim.PlantTree {
		t.Errorf("Expected only the known action, got %+v", recs)
	}
}

func TestRecommendRemoteFailureFallsBack(t *testing.T) {
	srv := geminiServer(t, http.StatusInternalServerError, "")
	c := New("k", WithBaseURL(srv.URL))

	recs := c.Recommend(context.Background(), testState())
	if len(recs) == 0 {
		t.Error("Expected local recommendations after remote failure")
	}
}

func TestAnalyzeRemoteAndFallback(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, `{"summary":"Rising ozone","risk":"moderate","trend":"worsening","tips":["Act"]}`)
	a := New("k", WithBaseURL(srv.URL)).Analyze(context.Background(), testState())
	if a.Source != "gemini" || a.Summary != "Rising ozone" {
		t.Errorf("Unexpected remote analysis: %+v", a)
	}

	bad := geminiServer(t, http.StatusOK, "not json")
	a = New("k", WithBaseURL(bad.URL)).Analyze(context.Background(), testState())
	if a.Source != "local" {
		t.Errorf("Expected local analysis, got %+v", a)
	}
}

func TestLocalAnalysis(t *testing.T) {
	a := LocalAnalysis(testState())
	if a.Risk != "unhealthy_sensitive" {
		t.Errorf("Expected unhealthy_sensitive risk, got %s", a.Risk)
	}
	if !strings.Contains(a.Summary, "62 above") {
		t.Errorf("Unexpected summary %q", a.Summary)
	}
	if len(a.Tips) == 0 {
		t.Error("Expected tips")
	}
}

func TestLocalRecommendationsRespectBudget(t *testing.T) {
	st := testState()
	st.Player.Credits = 90
	recs := LocalRecommendations(st)
	if len(recs) != 1 || recs[0].Action != sim.RemoveVehicle {
		t.Errorf("Expected only vehicle removal to be affordable, got %+v", recs)
	}

	st.Cooldowns = map[sim.ActionType]time.Duration{sim.RemoveVehicle: time.Second}
	if recs := LocalRecommendations(st); len(recs) != 0 {
		t.Errorf("Expected no recommendations while on cooldown, got %+v", recs)
	}
}

func TestLocalRecommendationsSendLowHealthToShelter(t *testing.T) {
	player := sim.DefaultPlayer()
	player.Health = 20
	e := sim.New(sim.DefaultConfig(), 180, 50, player, sim.DefaultParcels())

	recs := LocalRecommendations(e.Snapshot())
	if len(recs) == 0 || recs[0].Action != sim.Relocate || recs[0].Priority != 1 {
		t.Fatalf("Expected relocation first, got %+v", recs)
	}
	if len(recs) > 3 || recs[len(recs)-1].Priority != len(recs) {
		t.Errorf("Unexpected priorities %+v", recs)
	}

	if _, rej := e.ApplyAction(sim.Proposal{Type: sim.Relocate, ParcelID: "shelter"}); rej != nil {
		t.Fatalf("Unexpected rejection: %v", rej)
	}
	for _, r := range LocalRecommendations(e.Snapshot()) {
		if r.Action == sim.Relocate {
			t.Errorf("Expected no relocation once sheltered, got %+v", r)
		}
	}
}
