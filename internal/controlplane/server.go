package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cleanspace/airquest/internal/aqi"
	"github.com/cleanspace/airquest/internal/app"
	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/offline"
	"github.com/cleanspace/airquest/internal/sim"
)

// Version is reported by /health.
var Version = "dev"

// Pinger checks the local database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the HTTP API for CleanSpace.
type Server struct {
	service  *Service
	db       Pinger
	location models.Location
	addr     string
	server   *http.Server
}

// NewServer creates a new HTTP server. loc is used when a request carries no
// coordinates.
func NewServer(service *Service, db Pinger, loc models.Location, addr string) *Server {
	return &Server{
		service:  service,
		db:       db,
		location: loc,
		addr:     addr,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/connectivity", s.handleConnectivity)
	mux.HandleFunc("/visibility", s.handleVisibility)

	// Queue endpoints
	mux.HandleFunc("/actions", s.handleActions)
	mux.HandleFunc("/actions/dropped", s.handleDropped)
	mux.HandleFunc("/sync", s.handleSync)

	// Environmental data
	mux.HandleFunc("/env/", s.handleEnv)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/precautions", s.handlePrecautions)

	// Simulation
	mux.HandleFunc("/sim", s.handleSim)
	mux.HandleFunc("/sim/", s.handleSimAction)

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting CleanSpace daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case isClientError(err):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, offline.ErrOffline):
		status = http.StatusServiceUnavailable
	case errors.Is(err, offline.ErrSyncInProgress):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// locationFrom reads lat and lon from the query, falling back to the
// server's default location.
func (s *Server) locationFrom(r *http.Request) (models.Location, error) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lon") == "" {
		return s.location, nil
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return models.Location{}, ErrInvalidRequest
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return models.Location{}, ErrInvalidRequest
	}
	return models.Location{Latitude: lat, Longitude: lon}, nil
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{OK: true, DB: "ok", Version: Version, Time: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req connectivityRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.service.SetConnectivity(req.Online))
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req visibilityRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.service.SetVisible(req.Visible))
}

// --- Queue Handlers ---

type enqueueRequest struct {
	Kind    models.ActionKind `json:"kind"`
	Payload json.RawMessage   `json:"payload"`
}

type enqueueResponse struct {
	ID string `json:"id"`
}

// handleActions handles POST /actions and GET /actions
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req enqueueRequest
		if !decode(w, r, &req) {
			return
		}
		id, err := s.service.EnqueueAction(req.Kind, req.Payload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, enqueueResponse{ID: id})
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.service.PendingActions())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDropped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	items, err := s.service.DroppedActions(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.DroppedAction{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.service.Sync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Environmental Handlers ---

// handleEnv handles GET /env/{dataType}
func (s *Server) handleEnv(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dt, err := gateway.ParseDataType(strings.TrimPrefix(r.URL.Path, "/env/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	loc, err := s.locationFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	reading, err := s.service.Reading(r.Context(), dt, loc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	loc, err := s.locationFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.service.Snapshot(r.Context(), loc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrecautions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, err := strconv.Atoi(r.URL.Query().Get("aqi"))
	if err != nil || v < 0 {
		http.Error(w, "aqi must be a non-negative integer", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, aqi.HealthPrecautionsFromAQI(v))
}

// --- Simulation Handlers ---

type startSessionRequest struct {
	Location  *models.Location `json:"location"`
	MissionID string           `json:"mission_id"`
	TargetAQI int              `json:"target_aqi"`
	Parcels   []sim.Parcel     `json:"parcels"`
}

// handleSim handles POST /sim and GET /sim
func (s *Server) handleSim(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req startSessionRequest
		if !decode(w, r, &req) {
			return
		}
		loc := s.location
		if req.Location != nil {
			loc = *req.Location
		}
		st, err := s.service.StartSession(r.Context(), loc, app.Mission{
			ID:        req.MissionID,
			TargetAQI: req.TargetAQI,
			Parcels:   req.Parcels,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, st)
	case http.MethodGet:
		st, err := s.service.SessionState()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type actionResponse struct {
	State     sim.State      `json:"state"`
	Rejection *sim.Rejection `json:"rejection,omitempty"`
}

type tickRequest struct {
	Seconds float64 `json:"seconds"`
}

// handleSimAction handles /sim/{action}
func (s *Server) handleSimAction(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/sim/")

	switch {
	case action == "actions" && r.Method == http.MethodPost:
		var p sim.Proposal
		if !decode(w, r, &p) {
			return
		}
		st, rej, err := s.service.ApplyAction(p)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if rej != nil {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, actionResponse{State: st, Rejection: rej})
	case action == "tick" && r.Method == http.MethodPost:
		var req tickRequest
		if !decode(w, r, &req) {
			return
		}
		st, err := s.service.Tick(time.Duration(req.Seconds * float64(time.Second)))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case action == "catalog" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.service.Catalog())
	case action == "recommendations" && r.Method == http.MethodGet:
		recs, err := s.service.Recommendations(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	case action == "analysis" && r.Method == http.MethodGet:
		a, err := s.service.Analysis(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}
