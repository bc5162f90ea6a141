package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/sim"
)

// Mission describes the goal of a new session.
type Mission struct {
	ID string `json:"id,omitempty"`
	// TargetAQI is the index the player must reach. Zero means a 25%
	// reduction from the sampled baseline.
	TargetAQI int          `json:"target_aqi,omitempty"`
	Parcels   []sim.Parcel `json:"parcels,omitempty"`
}

// NewSession samples the baseline AQI at loc and starts a simulation whose
// accepted actions are queued for the remote store.
func (a *App) NewSession(ctx context.Context, loc models.Location, m Mission) (*sim.Engine, error) {
	if !loc.Valid() {
		return nil, fmt.Errorf("invalid location %s", loc)
	}

	reading := a.Gateway.Get(ctx, gateway.RealtimeAQI, loc)
	if reading.AirQuality == nil {
		return nil, fmt.Errorf("no air quality for %s", loc)
	}
	baseline := reading.AirQuality.AQI

	target := m.TargetAQI
	if target <= 0 {
		target = baseline - baseline/4
	}

	parcels := m.Parcels
	if len(parcels) == 0 {
		parcels = sim.DefaultParcels()
	}

	e := sim.New(a.Config.Sim, baseline, target, sim.DefaultPlayer(), parcels)
	e.SetMission(m.ID)
	e.SetSink(&sessionSink{app: a, startedAt: time.Now().UTC()})

	st := e.Snapshot()
	log.Printf("Started session %s at %s: baseline AQI %d (%s), target %d",
		st.SessionID, loc, baseline, reading.Source, target)
	return e, nil
}

type sessionSink struct {
	app       *App
	startedAt time.Time
}

// ActionApplied queues the updated session row and a telemetry event.
func (s *sessionSink) ActionApplied(st sim.State, action sim.GameAction) {
	s.enqueue(models.KindGameSession, s.sessionRow(st, nil))
	s.enqueue(models.KindTelemetry, s.withUser(map[string]interface{}{
		"event":      "game_action",
		"session_id": st.SessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data": map[string]interface{}{
			"action_id":   action.ID,
			"action_type": string(action.Type),
			"parcel_id":   action.ParcelID,
			"cost":        action.Cost,
			"aqi":         st.CurrentAQI,
		},
	}))
	s.cache(st)
}

// SessionEnded queues the final session row and mission progress.
func (s *sessionSink) SessionEnded(st sim.State) {
	ended := time.Now().UTC()
	s.enqueue(models.KindGameSession, s.sessionRow(st, &ended))
	if st.MissionID != "" {
		s.enqueue(models.KindMissionProgress, s.withUser(map[string]interface{}{
			"mission_id": st.MissionID,
			"progress":   missionProgress(st),
			"completed":  st.Phase == sim.PhaseSucceeded,
			"updated_at": ended.Format(time.RFC3339),
		}))
	}
	s.cache(st)
}

func (s *sessionSink) sessionRow(st sim.State, endedAt *time.Time) map[string]interface{} {
	types := make([]string, 0, len(st.Actions))
	for _, a := range st.Actions {
		types = append(types, string(a.Type))
	}
	row := map[string]interface{}{
		"session_id":   st.SessionID,
		"status":       string(st.Phase),
		"score":        st.Player.Score,
		"baseline_aqi": st.BaselineAQI,
		"final_aqi":    st.CurrentAQI,
		"actions":      types,
		"started_at":   s.startedAt.Format(time.RFC3339),
	}
	if st.MissionID != "" {
		row["mission_id"] = st.MissionID
	}
	if endedAt != nil {
		row["ended_at"] = endedAt.Format(time.RFC3339)
	}
	return s.withUser(row)
}

func (s *sessionSink) withUser(row map[string]interface{}) map[string]interface{} {
	if uid := s.app.Sessions.UserID(); uid != "" {
		row["user_id"] = uid
	}
	return row
}

func (s *sessionSink) enqueue(kind models.ActionKind, payload interface{}) {
	if _, err := s.app.Queue.Enqueue(kind, payload); err != nil {
		log.Printf("Error queueing %s: %v", kind, err)
	}
}

func (s *sessionSink) cache(st sim.State) {
	if err := s.app.Cache.SaveSession(st); err != nil {
		log.Printf("Error caching session %s: %v", st.SessionID, err)
	}
}

// missionProgress is the share of the baseline-to-target gap closed, 0..100.
func missionProgress(st sim.State) float64 {
	if st.Phase == sim.PhaseSucceeded {
		return 100
	}
	gap := st.BaselineAQI - st.TargetAQI
	if gap <= 0 {
		return 0
	}
	p := float64(st.BaselineAQI-st.CurrentAQI) / float64(gap) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
