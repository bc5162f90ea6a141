// Package controlplane provides the local HTTP API and service layer for
// CleanSpace.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cleanspace/airquest/internal/aqi"
	"github.com/cleanspace/airquest/internal/app"
	"github.com/cleanspace/airquest/internal/assistant"
	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/offline"
	"github.com/cleanspace/airquest/internal/queue"
	"github.com/cleanspace/airquest/internal/sim"
)

// Service provides the control plane business logic.
type Service struct {
	app *app.App

	mu      sync.Mutex
	session *sim.Engine
}

// NewService creates a new control plane service.
func NewService(a *app.App) *Service {
	return &Service{app: a}
}

// StatusResponse is the sync state plus its user-facing message.
type StatusResponse struct {
	offline.Status
	Message string `json:"message"`
	Online  bool   `json:"online"`
}

// Status returns the current sync state.
func (s *Service) Status() StatusResponse {
	st := s.app.Sync.Status()
	return StatusResponse{Status: st, Message: offline.Message(st), Online: !st.Offline}
}

// --- Queue Operations ---

// EnqueueAction queues a mutation for the remote store.
func (s *Service) EnqueueAction(kind models.ActionKind, payload interface{}) (string, error) {
	return s.app.Queue.Enqueue(kind, payload)
}

// PendingActions returns the queued actions in order.
func (s *Service) PendingActions() []models.QueuedAction {
	return s.app.Queue.Pending()
}

// DroppedActions returns the newest drop ledger entries.
func (s *Service) DroppedActions(limit int) ([]models.DroppedAction, error) {
	return s.app.Ledger.Recent(limit)
}

// Sync drains the queue now.
func (s *Service) Sync(ctx context.Context) (queue.DrainResult, error) {
	return s.app.Sync.ForceSync(ctx)
}

// SetConnectivity reports a connectivity change.
func (s *Service) SetConnectivity(online bool) StatusResponse {
	s.app.Sync.SetOnline(online)
	return s.Status()
}

// SetVisible reports a foreground or background transition.
func (s *Service) SetVisible(visible bool) StatusResponse {
	s.app.Sync.SetVisible(visible)
	return s.Status()
}

// --- Environmental Data ---

// Reading resolves one data type at loc.
func (s *Service) Reading(ctx context.Context, dt gateway.DataType, loc models.Location) (gateway.Reading, error) {
	if !loc.Valid() {
		return gateway.Reading{}, fmt.Errorf("%w: location out of range", ErrInvalidRequest)
	}
	return s.app.Gateway.Get(ctx, dt, loc), nil
}

// SnapshotResponse is a combined snapshot with its health guidance.
type SnapshotResponse struct {
	Snapshot    models.EnvironmentalSnapshot `json:"snapshot"`
	Precautions aqi.HealthPrecaution         `json:"precautions"`
	Category    aqi.Category                 `json:"category"`
	Cached      bool                         `json:"cached"`
	Stale       bool                         `json:"stale"`
}

// Snapshot returns current conditions at loc. While offline the locally
// cached snapshot is returned instead.
func (s *Service) Snapshot(ctx context.Context, loc models.Location) (SnapshotResponse, error) {
	if s.app.Sync.Status().Offline {
		snap, ok := s.app.Cache.Snapshot()
		if !ok {
			return SnapshotResponse{}, fmt.Errorf("%w: no cached snapshot while offline", ErrNotFound)
		}
		resp := newSnapshotResponse(snap)
		resp.Cached = true
		resp.Stale = s.app.Cache.IsStale(s.app.Config.Cache.MaxAge)
		return resp, nil
	}
	if !loc.Valid() {
		return SnapshotResponse{}, fmt.Errorf("%w: location out of range", ErrInvalidRequest)
	}
	return newSnapshotResponse(s.app.Snapshot(ctx, loc)), nil
}

func newSnapshotResponse(snap models.EnvironmentalSnapshot) SnapshotResponse {
	return SnapshotResponse{
		Snapshot:    snap,
		Precautions: aqi.HealthPrecautionsFromAQI(snap.AirQuality.AQI),
		Category:    aqi.CategoryForAQI(snap.AirQuality.AQI),
	}
}

// --- Simulation ---

// StartSession replaces the active session with a new one at loc.
func (s *Service) StartSession(ctx context.Context, loc models.Location, m app.Mission) (sim.State, error) {
	e, err := s.app.NewSession(ctx, loc, m)
	if err != nil {
		return sim.State{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.mu.Lock()
	s.session = e
	s.mu.Unlock()
	return e.Snapshot(), nil
}

func (s *Service) engine() (*sim.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	return s.session, nil
}

// SessionState returns the active session.
func (s *Service) SessionState() (sim.State, error) {
	e, err := s.engine()
	if err != nil {
		return sim.State{}, err
	}
	return e.Snapshot(), nil
}

// ApplyAction applies p to the active session. A rejection is returned as
// a value alongside the unchanged state.
func (s *Service) ApplyAction(p sim.Proposal) (sim.State, *sim.Rejection, error) {
	e, err := s.engine()
	if err != nil {
		return sim.State{}, nil, err
	}
	_, rej := e.ApplyAction(p)
	return e.Snapshot(), rej, nil
}

// Tick advances the active session by dt.
func (s *Service) Tick(dt time.Duration) (sim.State, error) {
	if dt <= 0 {
		return sim.State{}, fmt.Errorf("%w: tick must be positive", ErrInvalidRequest)
	}
	e, err := s.engine()
	if err != nil {
		return sim.State{}, err
	}
	e.Tick(dt)
	return e.Snapshot(), nil
}

// Recommendations suggests next actions for the active session.
func (s *Service) Recommendations(ctx context.Context) ([]assistant.Recommendation, error) {
	st, err := s.SessionState()
	if err != nil {
		return nil, err
	}
	return s.app.Assistant.Recommend(ctx, st), nil
}

// Analysis summarizes the active session.
func (s *Service) Analysis(ctx context.Context) (assistant.Analysis, error) {
	st, err := s.SessionState()
	if err != nil {
		return assistant.Analysis{}, err
	}
	return s.app.Assistant.Analyze(ctx, st), nil
}

// Catalog lists the available actions.
func (s *Service) Catalog() []sim.ActionSpec {
	return sim.Catalog()
}

func isClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, queue.ErrInvalidPayload) ||
		errors.Is(err, queue.ErrUnknownKind)
}
