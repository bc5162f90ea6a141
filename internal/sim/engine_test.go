package sim

import (
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	applied []GameAction
	ended   []State
}

func (r *recordingSink) ActionApplied(s State, a GameAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, a)
}

func (r *recordingSink) SessionEnded(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, s)
}

var testParcels = []Parcel{
	{ID: "p1", CanPlant: true},
	{ID: "r1", CanDemolish: true},
	{ID: "x1", CanPlant: true, CanDemolish: true, Blocked: true},
	{ID: "s1", SafeZone: true},
	{ID: "o1"},
}

func newTestEngine(baseline, target int) *Engine {
	return New(DefaultConfig(), baseline, target, DefaultPlayer(), testParcels)
}

func TestPlantTreeDeductsCostAndLowersAQI(t *testing.T) {
	e := newTestEngine(112, 50)
	sink := &recordingSink{}
	e.SetSink(sink)

	spec, _ := Lookup(PlantTree)
	action, rej := e.ApplyAction(Proposal{Type: PlantTree, ParcelID: "p1"})
	if rej != nil {
		t.Fatalf("Unexpected rejection: %v", rej)
	}

	st := e.Snapshot()
	if st.Player.Credits != 1000-spec.Cost {
		t.Errorf("Expected credits %d, got %d", 1000-spec.Cost, st.Player.Credits)
	}
	if st.CurrentAQI >= 112 {
		t.Errorf("Expected AQI below baseline, got %d", st.CurrentAQI)
	}
	if action.Status != StatusActive || len(st.Actions) != 1 {
		t.Errorf("Expected one active action, got %+v", st.Actions)
	}
	if len(sink.applied) != 1 || sink.applied[0].ID != action.ID {
		t.Errorf("Expected sink to receive the action, got %+v", sink.applied)
	}
}

func TestRejections(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(e *Engine)
		proposal Proposal
		want     RejectReason
	}{
		{"unknown", nil, Proposal{Type: "teleport"}, UnknownAction},
		{"cooldown", func(e *Engine) { e.ApplyAction(Proposal{Type: PlantTree, ParcelID: "p1"}) },
			Proposal{Type: PlantTree, ParcelID: "p1"}, OnCooldown},
		{"plant on unplantable parcel", nil, Proposal{Type: PlantTree, ParcelID: "r1"}, IneligibleLocation},
		{"demolish on plantable parcel", nil, Proposal{Type: ShutdownFactory, ParcelID: "p1"}, IneligibleLocation},
		{"blocked parcel", nil, Proposal{Type: RemoveVehicle, ParcelID: "x1"}, IneligibleLocation},
		{"missing parcel", nil, Proposal{Type: RemoveVehicle}, IneligibleLocation},
		{"no such parcel", nil, Proposal{Type: RemoveVehicle, ParcelID: "zz"}, IneligibleLocation},
		{"relocate in place", func(e *Engine) {
			e.ApplyAction(Proposal{Type: Relocate, ParcelID: "s1"})
			e.mu.Lock()
			delete(e.state.Cooldowns, Relocate)
			e.mu.Unlock()
		}, Proposal{Type: Relocate, ParcelID: "s1"}, IneligibleLocation},
		{"relocate without parcel", nil, Proposal{Type: Relocate}, IneligibleLocation},
		{"funds", func(e *Engine) {
			e.mu.Lock()
			e.state.Player.Credits = 10
			e.mu.Unlock()
		}, Proposal{Type: RemoveVehicle, ParcelID: "r1"}, InsufficientFunds},
		{"energy", func(e *Engine) {
			e.mu.Lock()
			e.state.Player.Energy = 0
			e.mu.Unlock()
		}, Proposal{Type: RemoveVehicle, ParcelID: "r1"}, InsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(112, 50)
			if tt.setup != nil {
				tt.setup(e)
			}
			sink := &recordingSink{}
			e.SetSink(sink)
			before := e.Snapshot()

			action, rej := e.ApplyAction(tt.proposal)
			if rej == nil || rej.Reason != tt.want {
				t.Fatalf("Expected %s, got %v", tt.want, rej)
			}
			if action.Status != StatusFailed || action.ID != "" {
				t.Errorf("Expected failed unstored action, got %+v", action)
			}

			after := e.Snapshot()
			if after.Player.Credits != before.Player.Credits || after.Player.Energy != before.Player.Energy ||
				after.Player.Location != before.Player.Location || len(after.Actions) != len(before.Actions) {
				t.Error("Rejected proposal must not change state")
			}
			if len(sink.applied) != 0 {
				t.Error("Rejected proposal must not reach the sink")
			}
		})
	}
}

func TestCooldownExpires(t *testing.T) {
	e := newTestEngine(112, 10)
	e.ApplyAction(Proposal{Type: RemoveVehicle, ParcelID: "r1"})

	spec, _ := Lookup(RemoveVehicle)
	e.Tick(spec.Cooldown)
	if _, rej := e.ApplyAction(Proposal{Type: RemoveVehicle, ParcelID: "r1"}); rej != nil {
		t.Errorf("Expected cooldown to have expired, got %v", rej)
	}
}

func TestEffectsExpire(t *testing.T) {
	e := newTestEngine(112, 10)
	e.ApplyAction(Proposal{Type: RemoveVehicle, ParcelID: "r1"})
	lowered := e.Snapshot().CurrentAQI

	spec, _ := Lookup(RemoveVehicle)
	e.Tick(spec.Effect.Duration)
	st := e.Snapshot()
	if st.Actions[0].Status != StatusCompleted {
		t.Errorf("Expected completed action, got %s", st.Actions[0].Status)
	}
	if st.CurrentAQI != 112 || st.CurrentAQI <= lowered {
		t.Errorf("Expected AQI back at baseline, got %d", st.CurrentAQI)
	}
}

func TestHealthDepletionFails(t *testing.T) {
	e := New(DefaultConfig(), 300, 50, DefaultPlayer(), nil)
	sink := &recordingSink{}
	e.SetSink(sink)

	e.Tick(200 * time.Second)
	st := e.Snapshot()
	if st.Player.Health != 0 || st.Phase != PhaseFailed {
		t.Fatalf("Expected failed with zero health, got %s health=%.1f", st.Phase, st.Player.Health)
	}
	if len(sink.ended) != 1 {
		t.Errorf("Expected one end notification, got %d", len(sink.ended))
	}

	e.Tick(10 * time.Second)
	if later := e.Snapshot(); later.Elapsed != st.Elapsed || later.Phase != PhaseFailed {
		t.Error("Terminal phase must absorb further ticks")
	}
	if len(sink.ended) != 1 {
		t.Error("End must be reported once")
	}
	if _, rej := e.ApplyAction(Proposal{Type: RemoveVehicle}); rej == nil || rej.Reason != SessionOver {
		t.Errorf("Expected session_over, got %v", rej)
	}
}

func TestReachingTargetSucceeds(t *testing.T) {
	e := New(DefaultConfig(), 60, 55, DefaultPlayer(), nil)
	if _, rej := e.ApplyAction(Proposal{Type: RemoveVehicle}); rej != nil {
		t.Fatalf("Unexpected rejection: %v", rej)
	}
	e.Tick(time.Second)

	st := e.Snapshot()
	if st.Phase != PhaseSucceeded {
		t.Fatalf("Expected success, got %s with AQI %d", st.Phase, st.CurrentAQI)
	}
	if st.Player.Score <= 0 {
		t.Error("Expected a positive score")
	}
}

func TestTimeoutFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Duration = time.Minute
	e := New(cfg, 80, 20, DefaultPlayer(), nil)

	e.Tick(30 * time.Second)
	if e.Phase() != PhaseRunning {
		t.Fatalf("Expected running, got %s", e.Phase())
	}
	e.Tick(31 * time.Second)
	st := e.Snapshot()
	if st.Phase != PhaseFailed || st.TimeRemaining != 0 {
		t.Errorf("Expected timeout failure, got %s remaining=%v", st.Phase, st.TimeRemaining)
	}
}

func TestHealthStaysInRange(t *testing.T) {
	e := New(DefaultConfig(), 20, 0, DefaultPlayer(), nil)
	for i := 0; i < 50; i++ {
		e.Tick(5 * time.Second)
		h := e.Snapshot().Player.Health
		if h < 0 || h > 100 {
			t.Fatalf("Health out of range: %.2f", h)
		}
	}
}

func TestProjection(t *testing.T) {
	e := newTestEngine(112, 10)
	e.ApplyAction(Proposal{Type: RemoveVehicle, ParcelID: "r1"})

	points := e.Project(3*time.Minute, 30*time.Second)
	if len(points) != 6 {
		t.Fatalf("Expected 6 points, got %d", len(points))
	}
	// Vehicle removal lasts two minutes; afterwards the baseline returns.
	if points[0].AQI >= 112 || points[5].AQI != 112 {
		t.Errorf("Unexpected trajectory: %+v", points)
	}
	if len(e.Snapshot().Predicted) == 0 {
		t.Error("Expected state to carry a predicted trajectory")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	e := newTestEngine(112, 10)
	e.ApplyAction(Proposal{Type: RemoveVehicle, ParcelID: "r1"})

	st := e.Snapshot()
	st.Actions[0].Status = StatusCompleted
	st.Cooldowns[RemoveVehicle] = 0
	again := e.Snapshot()
	if again.Actions[0].Status != StatusActive || again.Cooldowns[RemoveVehicle] == 0 {
		t.Error("Snapshot must not alias engine state")
	}
}

func TestCatalog(t *testing.T) {
	specs := Catalog()
	if len(specs) != 7 {
		t.Fatalf("Expected 7 actions, got %d", len(specs))
	}
	for i := 1; i < len(specs); i++ {
		if specs[i].Cost < specs[i-1].Cost {
			t.Error("Catalog must be ordered by cost")
		}
	}
	for _, s := range specs {
		if s.Placement == PlaceMove {
			continue
		}
		if s.Cost <= 0 || s.Effect.Duration <= 0 || s.Effect.PM25Change >= 0 {
			t.Errorf("Implausible spec %+v", s)
		}
	}
}

func TestEveryActionAcceptedOnEligibleParcel(t *testing.T) {
	targets := map[ActionType]string{
		PlantTree:          "p1",
		PlantRooftopGarden: "p1",
		RemoveVehicle:      "r1",
		ShutdownFactory:    "r1",
		RetrofitFactory:    "r1",
		RemoveConstruction: "r1",
		Relocate:           "s1",
	}
	for typ, parcel := range targets {
		t.Run(string(typ), func(t *testing.T) {
			e := newTestEngine(112, 10)
			action, rej := e.ApplyAction(Proposal{Type: typ, ParcelID: parcel})
			if rej != nil {
				t.Fatalf("Unexpected rejection: %v", rej)
			}
			spec, _ := Lookup(typ)
			if action.Cooldown != spec.Cooldown || action.ParcelID != parcel {
				t.Errorf("Unexpected action %+v", action)
			}
		})
	}
}

func TestRelocateToSafeZone(t *testing.T) {
	e := newTestEngine(200, 10)
	action, rej := e.ApplyAction(Proposal{Type: Relocate, ParcelID: "s1"})
	if rej != nil {
		t.Fatalf("Unexpected rejection: %v", rej)
	}
	if action.Status != StatusCompleted {
		t.Errorf("Expected relocation to complete at once, got %s", action.Status)
	}

	st := e.Snapshot()
	if st.Player.Location != "s1" || !st.Player.IsInSafeZone {
		t.Fatalf("Expected player in safe zone s1, got %+v", st.Player)
	}
	if st.CurrentAQI != 200 {
		t.Errorf("Relocation must not change AQI, got %d", st.CurrentAQI)
	}
	if st.HealthImpact.CurrentExposure != 0 || st.HealthImpact.DrainRate != 0 {
		t.Errorf("Expected no exposure in safe zone, got %+v", st.HealthImpact)
	}

	e.Tick(10 * time.Second)
	if _, rej := e.ApplyAction(Proposal{Type: Relocate, ParcelID: "o1"}); rej != nil {
		t.Fatalf("Unexpected rejection: %v", rej)
	}
	if st := e.Snapshot(); st.Player.Location != "o1" || st.Player.IsInSafeZone {
		t.Errorf("Expected player outdoors at o1, got %+v", st.Player)
	}
}

func TestSafeZoneRecoversAtHighAQI(t *testing.T) {
	e := newTestEngine(200, 10)
	e.mu.Lock()
	e.state.Player.Health = 50
	e.mu.Unlock()
	if _, rej := e.ApplyAction(Proposal{Type: Relocate, ParcelID: "s1"}); rej != nil {
		t.Fatalf("Unexpected rejection: %v", rej)
	}

	e.Tick(60 * time.Second)
	st := e.Snapshot()
	if want := 50 + DefaultConfig().HealthRecoveryRate*60; st.Player.Health != want {
		t.Errorf("Expected health %.1f in safe zone, got %.1f", want, st.Player.Health)
	}
	if st.Player.SafeTimeRemaining != st.TimeRemaining {
		t.Errorf("Expected safe time to span the session, got %v", st.Player.SafeTimeRemaining)
	}
}

func TestOutdoorExposureDrainsHealth(t *testing.T) {
	e := New(DefaultConfig(), 200, 10, DefaultPlayer(), nil)
	e.Tick(60 * time.Second)

	st := e.Snapshot()
	if st.Player.Health != 77.5 {
		t.Errorf("Expected health 77.5, got %.2f", st.Player.Health)
	}
	if st.HealthImpact.CurrentExposure != 200 || st.HealthImpact.SafeThreshold != DefaultConfig().SafeAQI {
		t.Errorf("Unexpected health impact %+v", st.HealthImpact)
	}
	if st.Player.IsInSafeZone {
		t.Error("Player must start outdoors")
	}
}

func TestInventoryItemReplacesCredits(t *testing.T) {
	player := DefaultPlayer()
	player.Credits = 0
	player.Inventory = map[ActionType]int{PlantTree: 1}
	e := New(DefaultConfig(), 112, 10, player, testParcels)

	action, rej := e.ApplyAction(Proposal{Type: PlantTree, ParcelID: "p1"})
	if rej != nil {
		t.Fatalf("Unexpected rejection: %v", rej)
	}
	st := e.Snapshot()
	if action.Cost != 0 || st.Player.Credits != 0 || st.Player.Inventory[PlantTree] != 0 {
		t.Errorf("Expected the item to be used, got cost=%d player=%+v", action.Cost, st.Player)
	}
	if player.Inventory[PlantTree] != 1 {
		t.Error("Engine must not alias the caller's inventory")
	}

	e.mu.Lock()
	delete(e.state.Cooldowns, PlantTree)
	e.mu.Unlock()
	if _, rej := e.ApplyAction(Proposal{Type: PlantTree, ParcelID: "p1"}); rej == nil || rej.Reason != InsufficientFunds {
		t.Errorf("Expected insufficient funds once the item is spent, got %v", rej)
	}
}

func TestRunner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Duration = 2 * time.Second
	e := New(cfg, 80, 20, DefaultPlayer(), nil)

	r := NewRunner(e, 5*time.Millisecond, 100)
	r.Start()
	defer r.Stop()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Runner did not finish the session")
	}
	if e.Phase() != PhaseFailed {
		t.Errorf("Expected timeout failure, got %s", e.Phase())
	}
}
