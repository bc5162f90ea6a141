// Package sim implements the air quality mission simulation: pollutant
// response to player actions, player health under exposure and win/loss.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cleanspace/airquest/internal/aqi"
	"github.com/google/uuid"
)

// Phase is the session lifecycle state. Succeeded and Failed are terminal.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether no further state changes happen.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Config holds the tunables of a session.
type Config struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	// SafeAQI is the exposure level below which health recovers.
	SafeAQI int `yaml:"safe_aqi" json:"safe_aqi"`
	// HealthDrainRate is health lost per second per 100 AQI above SafeAQI.
	HealthDrainRate float64 `yaml:"health_drain_rate" json:"health_drain_rate"`
	// HealthRecoveryRate is health regained per second at or below SafeAQI.
	HealthRecoveryRate float64 `yaml:"health_recovery_rate" json:"health_recovery_rate"`
	EnergyRegenRate    float64 `yaml:"energy_regen_rate" json:"energy_regen_rate"`
	MaxEnergy          float64 `yaml:"max_energy" json:"max_energy"`
	// NO2Weight and O3Weight convert gas changes into AQI points.
	NO2Weight float64 `yaml:"no2_weight" json:"no2_weight"`
	O3Weight  float64 `yaml:"o3_weight" json:"o3_weight"`
	// ProjectionHorizon and ProjectionStep shape the predicted trajectory.
	ProjectionHorizon time.Duration `yaml:"projection_horizon" json:"projection_horizon"`
	ProjectionStep    time.Duration `yaml:"projection_step" json:"projection_step"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Duration:           10 * time.Minute,
		SafeAQI:            50,
		HealthDrainRate:    0.25,
		HealthRecoveryRate: 0.1,
		EnergyRegenRate:    0.5,
		MaxEnergy:          100,
		NO2Weight:          0.5,
		O3Weight:           0.3,
		ProjectionHorizon:  5 * time.Minute,
		ProjectionStep:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Duration <= 0 {
		c.Duration = d.Duration
	}
	if c.SafeAQI <= 0 {
		c.SafeAQI = d.SafeAQI
	}
	if c.HealthDrainRate <= 0 {
		c.HealthDrainRate = d.HealthDrainRate
	}
	if c.HealthRecoveryRate < 0 {
		c.HealthRecoveryRate = 0
	}
	if c.EnergyRegenRate < 0 {
		c.EnergyRegenRate = 0
	}
	if c.MaxEnergy <= 0 {
		c.MaxEnergy = d.MaxEnergy
	}
	if c.NO2Weight == 0 && c.O3Weight == 0 {
		c.NO2Weight, c.O3Weight = d.NO2Weight, d.O3Weight
	}
	if c.ProjectionHorizon <= 0 {
		c.ProjectionHorizon = d.ProjectionHorizon
	}
	if c.ProjectionStep <= 0 {
		c.ProjectionStep = d.ProjectionStep
	}
	return c
}

// PlayerState is the player's resources and position.
type PlayerState struct {
	Credits int     `json:"credits"`
	Health  float64 `json:"health"`
	Energy  float64 `json:"energy"`
	Score   int     `json:"score"`
	// Location is the id of the parcel the player stands on; empty is
	// outdoors at the mission origin.
	Location string `json:"location,omitempty"`
	// SafeTimeRemaining is how long health lasts at the current exposure.
	SafeTimeRemaining time.Duration `json:"safe_time_remaining"`
	IsInSafeZone      bool          `json:"is_in_safe_zone"`
	// Inventory holds prepaid items by action type. An item is used
	// instead of credits.
	Inventory map[ActionType]int `json:"inventory,omitempty"`
}

// DefaultPlayer is a fresh player.
func DefaultPlayer() PlayerState {
	return PlayerState{Credits: 1000, Health: 100, Energy: 100}
}

func (p PlayerState) clone() PlayerState {
	c := p
	if p.Inventory != nil {
		c.Inventory = make(map[ActionType]int, len(p.Inventory))
		for k, v := range p.Inventory {
			c.Inventory[k] = v
		}
	}
	return c
}

// Parcel is a placeable area of the mission map.
type Parcel struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	CanPlant    bool   `json:"can_plant"`
	CanDemolish bool   `json:"can_demolish"`
	SafeZone    bool   `json:"safe_zone,omitempty"`
	Blocked     bool   `json:"blocked,omitempty"`
}

// ActionStatus is the lifecycle of an action: pending while validated,
// failed if refused, otherwise active until its effect expires.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusActive    ActionStatus = "active"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
)

// GameAction is an action instance. Only accepted actions are stored.
type GameAction struct {
	ID        string        `json:"id"`
	Type      ActionType    `json:"type"`
	ParcelID  string        `json:"parcel_id,omitempty"`
	Cost      int           `json:"cost"`
	Cooldown  time.Duration `json:"cooldown"`
	Effect    ActionEffect  `json:"effect"`
	Status    ActionStatus  `json:"status"`
	AppliedAt time.Duration `json:"applied_at"`
	ExpiresAt time.Duration `json:"expires_at"`
}

// Proposal is a player's request to apply an action.
type Proposal struct {
	Type     ActionType `json:"type"`
	ParcelID string     `json:"parcel_id,omitempty"`
}

// RejectReason explains why a proposal was refused.
type RejectReason string

const (
	InsufficientFunds  RejectReason = "insufficient_funds"
	OnCooldown         RejectReason = "on_cooldown"
	IneligibleLocation RejectReason = "ineligible_location"
	SessionOver        RejectReason = "session_over"
	UnknownAction      RejectReason = "unknown_action"
)

// Rejection is a refused proposal. It leaves state untouched.
type Rejection struct {
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// ProjectionPoint is one step of the predicted AQI trajectory.
type ProjectionPoint struct {
	Offset time.Duration `json:"offset"`
	AQI    int           `json:"aqi"`
}

// HealthImpact describes how the current air affects the player.
type HealthImpact struct {
	// CurrentExposure is the AQI the player breathes; zero in a safe zone.
	CurrentExposure int     `json:"current_exposure"`
	SafeThreshold   int     `json:"safe_threshold"`
	RecoveryRate    float64 `json:"recovery_rate"`
	// DrainRate is the health lost per second right now.
	DrainRate float64 `json:"drain_rate"`
}

// State is the full session state.
type State struct {
	SessionID     string                       `json:"session_id"`
	MissionID     string                       `json:"mission_id,omitempty"`
	Phase         Phase                        `json:"phase"`
	Elapsed       time.Duration                `json:"elapsed"`
	TimeRemaining time.Duration                `json:"time_remaining"`
	BaselineAQI   int                          `json:"baseline_aqi"`
	TargetAQI     int                          `json:"target_aqi"`
	CurrentAQI    int                          `json:"current_aqi"`
	Player        PlayerState                  `json:"player"`
	Parcels       []Parcel                     `json:"parcels,omitempty"`
	Actions       []GameAction                 `json:"actions"`
	Cooldowns     map[ActionType]time.Duration `json:"cooldowns"`
	HealthImpact  HealthImpact                 `json:"health_impact"`
	Predicted     []ProjectionPoint            `json:"predicted,omitempty"`
}

func (s State) clone() State {
	c := s
	c.Player = s.Player.clone()
	c.Parcels = append([]Parcel(nil), s.Parcels...)
	c.Actions = append([]GameAction(nil), s.Actions...)
	c.Predicted = append([]ProjectionPoint(nil), s.Predicted...)
	c.Cooldowns = make(map[ActionType]time.Duration, len(s.Cooldowns))
	for k, v := range s.Cooldowns {
		c.Cooldowns[k] = v
	}
	return c
}

// ActionSink receives accepted actions and the final state.
type ActionSink interface {
	ActionApplied(state State, action GameAction)
	SessionEnded(state State)
}

// Engine runs one session. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	sink     ActionSink
	basePM25 float64

	mu    sync.Mutex
	state State
}

// New creates a running session. Parcels may be empty, in which case only
// relocation needs a location and it always fails.
func New(cfg Config, baselineAQI, targetAQI int, player PlayerState, parcels []Parcel) *Engine {
	cfg = cfg.withDefaults()
	if baselineAQI < 0 {
		baselineAQI = 0
	}
	e := &Engine{
		cfg:      cfg,
		basePM25: aqi.PM25FromAQI(baselineAQI),
		state: State{
			SessionID:     uuid.New().String(),
			Phase:         PhaseRunning,
			TimeRemaining: cfg.Duration,
			BaselineAQI:   baselineAQI,
			TargetAQI:     targetAQI,
			CurrentAQI:    baselineAQI,
			Player:        player.clone(),
			Parcels:       append([]Parcel(nil), parcels...),
			Cooldowns:     make(map[ActionType]time.Duration),
		},
	}
	e.state.Player.Health = clamp(e.state.Player.Health, 0, 100)
	e.state.Player.Energy = clamp(e.state.Player.Energy, 0, cfg.MaxEnergy)
	e.refreshDerivedLocked()
	return e
}

// SetSink registers the receiver of accepted actions.
func (e *Engine) SetSink(s ActionSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

// SetMission tags the session with a mission id.
func (e *Engine) SetMission(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.MissionID = id
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Phase
}

// Tick advances the session by dt. It does nothing once the session has
// ended or when dt is not positive.
func (e *Engine) Tick(dt time.Duration) {
	e.mu.Lock()
	if e.state.Phase.Terminal() || dt <= 0 {
		e.mu.Unlock()
		return
	}

	s := &e.state
	s.Elapsed += dt
	s.TimeRemaining -= dt
	if s.TimeRemaining < 0 {
		s.TimeRemaining = 0
	}

	for t, left := range s.Cooldowns {
		left -= dt
		if left <= 0 {
			delete(s.Cooldowns, t)
		} else {
			s.Cooldowns[t] = left
		}
	}
	for i := range s.Actions {
		if s.Actions[i].Status == StatusActive && s.Elapsed >= s.Actions[i].ExpiresAt {
			s.Actions[i].Status = StatusCompleted
		}
	}

	s.CurrentAQI = e.aqiAt(s.Elapsed)

	secs := dt.Seconds()
	if drain := e.drainRateLocked(); drain > 0 {
		s.Player.Health = clamp(s.Player.Health-drain*secs, 0, 100)
	} else {
		s.Player.Health = clamp(s.Player.Health+e.cfg.HealthRecoveryRate*secs, 0, 100)
	}
	s.Player.Energy = clamp(s.Player.Energy+e.cfg.EnergyRegenRate*secs, 0, e.cfg.MaxEnergy)

	switch {
	case s.Player.Health <= 0:
		s.Phase = PhaseFailed
	case s.CurrentAQI <= s.TargetAQI:
		s.Phase = PhaseSucceeded
	case s.TimeRemaining <= 0:
		s.Phase = PhaseFailed
	}
	if s.Phase.Terminal() {
		s.Player.Score = e.scoreLocked()
	}
	e.refreshDerivedLocked()

	var ended *State
	sink := e.sink
	if s.Phase.Terminal() && sink != nil {
		final := s.clone()
		ended = &final
	}
	e.mu.Unlock()

	if ended != nil {
		sink.SessionEnded(*ended)
	}
}

// ApplyAction validates and applies p. A rejection leaves state unchanged
// and the returned action carries StatusFailed.
func (e *Engine) ApplyAction(p Proposal) (GameAction, *Rejection) {
	action := GameAction{Type: p.Type, ParcelID: p.ParcelID, Status: StatusPending}

	e.mu.Lock()
	spec, rej := e.validateLocked(p)
	if rej != nil {
		e.mu.Unlock()
		action.Status = StatusFailed
		return action, rej
	}

	s := &e.state
	action.ID = uuid.New().String()
	action.Cost = spec.Cost
	action.Cooldown = spec.Cooldown
	action.Effect = spec.Effect
	action.AppliedAt = s.Elapsed
	action.ExpiresAt = s.Elapsed + spec.Effect.Duration
	action.Status = StatusActive

	if s.Player.Inventory[spec.Type] > 0 {
		s.Player.Inventory[spec.Type]--
		action.Cost = 0
	}
	s.Player.Credits -= action.Cost
	s.Player.Energy -= spec.EnergyCost
	s.Cooldowns[spec.Type] = spec.Cooldown

	if spec.Placement == PlaceMove {
		parcel, _ := e.parcelLocked(p.ParcelID)
		s.Player.Location = parcel.ID
		s.Player.IsInSafeZone = parcel.SafeZone
		action.Status = StatusCompleted
	}

	s.Actions = append(s.Actions, action)
	s.CurrentAQI = e.aqiAt(s.Elapsed)
	e.refreshDerivedLocked()

	sink := e.sink
	snap := s.clone()
	e.mu.Unlock()

	if sink != nil {
		sink.ActionApplied(snap, action)
	}
	return action, nil
}

// validateLocked checks p in order: session, action type, cooldown,
// location, then funds.
func (e *Engine) validateLocked(p Proposal) (ActionSpec, *Rejection) {
	s := &e.state
	if s.Phase.Terminal() {
		return ActionSpec{}, &Rejection{SessionOver, fmt.Sprintf("session already %s", s.Phase)}
	}
	spec, ok := Lookup(p.Type)
	if !ok {
		return ActionSpec{}, &Rejection{UnknownAction, fmt.Sprintf("no action %q", p.Type)}
	}
	if left, ok := s.Cooldowns[p.Type]; ok && left > 0 {
		return spec, &Rejection{OnCooldown, fmt.Sprintf("%s available in %s", spec.Name, left.Round(time.Second))}
	}
	if rej := e.checkParcelLocked(spec, p.ParcelID); rej != nil {
		return spec, rej
	}
	if s.Player.Inventory[spec.Type] == 0 && s.Player.Credits < spec.Cost {
		return spec, &Rejection{InsufficientFunds, fmt.Sprintf("need %d credits, have %d", spec.Cost, s.Player.Credits)}
	}
	if s.Player.Energy < spec.EnergyCost {
		return spec, &Rejection{InsufficientFunds, fmt.Sprintf("need %.0f energy, have %.0f", spec.EnergyCost, s.Player.Energy)}
	}
	return spec, nil
}

func (e *Engine) parcelLocked(id string) (Parcel, bool) {
	for _, p := range e.state.Parcels {
		if p.ID == id {
			return p, true
		}
	}
	return Parcel{}, false
}

// checkParcelLocked enforces land eligibility. Without a map only
// relocation needs a parcel.
func (e *Engine) checkParcelLocked(spec ActionSpec, parcelID string) *Rejection {
	if len(e.state.Parcels) == 0 && spec.Placement != PlaceMove {
		return nil
	}
	if parcelID == "" {
		return &Rejection{IneligibleLocation, "a parcel is required"}
	}
	p, ok := e.parcelLocked(parcelID)
	if !ok {
		return &Rejection{IneligibleLocation, fmt.Sprintf("no parcel %q", parcelID)}
	}
	if p.Blocked {
		return &Rejection{IneligibleLocation, fmt.Sprintf("parcel %s is blocked", p.ID)}
	}
	switch {
	case spec.Placement == PlaceMove && p.ID == e.state.Player.Location:
		return &Rejection{IneligibleLocation, fmt.Sprintf("already at %s", p.ID)}
	case !spec.CanPlaceOn(p):
		return &Rejection{IneligibleLocation, fmt.Sprintf("%s is not possible on %s", spec.Name, p.ID)}
	}
	return nil
}

// aqiAt computes the index at elapsed time at from the actions active then.
func (e *Engine) aqiAt(at time.Duration) int {
	var pm, no2, o3 float64
	for _, a := range e.state.Actions {
		if a.AppliedAt <= at && at < a.ExpiresAt {
			pm += a.Effect.PM25Change
			no2 += a.Effect.NO2Change
			o3 += a.Effect.O3Change
		}
	}

	base := e.state.BaselineAQI
	pmAQI := aqi.AQIFromPM25(math.Max(0, e.basePM25+pm)) - aqi.AQIFromPM25(e.basePM25)
	gas := int(math.Round(e.cfg.NO2Weight*no2 + e.cfg.O3Weight*o3))
	v := base + pmAQI + gas
	if v < 0 {
		return 0
	}
	return v
}

// drainRateLocked is the health lost per second: zero in a safe zone or at
// or below the safe threshold.
func (e *Engine) drainRateLocked() float64 {
	s := &e.state
	if s.Player.IsInSafeZone || s.CurrentAQI <= e.cfg.SafeAQI {
		return 0
	}
	return e.cfg.HealthDrainRate * float64(s.CurrentAQI-e.cfg.SafeAQI) / 100
}

func (e *Engine) refreshDerivedLocked() {
	s := &e.state
	drain := e.drainRateLocked()
	if drain > 0 {
		s.Player.SafeTimeRemaining = time.Duration(s.Player.Health / drain * float64(time.Second))
	} else {
		s.Player.SafeTimeRemaining = s.TimeRemaining
	}

	exposure := s.CurrentAQI
	if s.Player.IsInSafeZone {
		exposure = 0
	}
	s.HealthImpact = HealthImpact{
		CurrentExposure: exposure,
		SafeThreshold:   e.cfg.SafeAQI,
		RecoveryRate:    e.cfg.HealthRecoveryRate,
		DrainRate:       drain,
	}
	s.Predicted = e.projectLocked(e.cfg.ProjectionHorizon, e.cfg.ProjectionStep)
}

func (e *Engine) scoreLocked() int {
	s := &e.state
	score := s.Player.Credits + int(s.Player.Health)*5
	if improvement := s.BaselineAQI - s.CurrentAQI; improvement > 0 {
		score += improvement * 10
	}
	if s.Phase == PhaseSucceeded {
		score += int(s.TimeRemaining.Seconds())
	}
	return score
}

// Project predicts the AQI every step over horizon assuming no new actions.
func (e *Engine) Project(horizon, step time.Duration) []ProjectionPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectLocked(horizon, step)
}

func (e *Engine) projectLocked(horizon, step time.Duration) []ProjectionPoint {
	if step <= 0 || horizon <= 0 {
		return nil
	}
	if horizon > e.state.TimeRemaining {
		horizon = e.state.TimeRemaining
	}
	var out []ProjectionPoint
	for off := step; off <= horizon; off += step {
		out = append(out, ProjectionPoint{Offset: off, AQI: e.aqiAt(e.state.Elapsed + off)})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
