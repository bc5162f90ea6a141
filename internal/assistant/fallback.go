package assistant

import (
	"fmt"
	"sort"

	"github.com/cleanspace/airquest/internal/aqi"
	"github.com/cleanspace/airquest/internal/sim"
)

// LocalRecommendations ranks affordable, ready actions by estimated AQI
// reduction per credit. Fast-acting actions come first when health is low.
func LocalRecommendations(st sim.State) []Recommendation {
	if st.Phase.Terminal() {
		return nil
	}

	type candidate struct {
		spec  sim.ActionSpec
		delta int
		score float64
	}
	var cands []candidate
	for _, spec := range sim.Catalog() {
		if spec.Cost > st.Player.Credits || spec.EnergyCost > st.Player.Energy {
			continue
		}
		if left, ok := st.Cooldowns[spec.Type]; ok && left > 0 {
			continue
		}
		delta := estimateDelta(st.CurrentAQI, spec.Effect)
		if delta >= 0 {
			continue
		}
		score := float64(-delta) / float64(spec.Cost)
		if st.Player.Health < 30 {
			score /= spec.Effect.Duration.Minutes() + 1
		}
		cands = append(cands, candidate{spec, delta, score})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	var out []Recommendation
	if shelter, ok := shelterFor(st); ok {
		out = append(out, Recommendation{
			Action:   sim.Relocate,
			Title:    "Move to " + shelter.Name,
			Reason:   fmt.Sprintf("Health is %.0f and AQI %d; a safe zone stops the drain.", st.Player.Health, st.CurrentAQI),
			Priority: 1,
		})
	}
	for _, c := range cands {
		if len(out) == 3 {
			break
		}
		out = append(out, Recommendation{
			Action:            c.spec.Type,
			Title:             c.spec.Name,
			Reason:            fmt.Sprintf("Lowers AQI by about %d for %d credits.", -c.delta, c.spec.Cost),
			Priority:          len(out) + 1,
			ExpectedAQIChange: c.delta,
		})
	}
	return out
}

// shelterFor returns a safe zone worth moving to: health is low, the
// player is exposed and relocation is available.
func shelterFor(st sim.State) (sim.Parcel, bool) {
	if st.Player.IsInSafeZone || st.Player.Health >= 50 || st.HealthImpact.DrainRate <= 0 {
		return sim.Parcel{}, false
	}
	spec, _ := sim.Lookup(sim.Relocate)
	if spec.Cost > st.Player.Credits || spec.EnergyCost > st.Player.Energy || st.Cooldowns[sim.Relocate] > 0 {
		return sim.Parcel{}, false
	}
	for _, p := range st.Parcels {
		if p.SafeZone && !p.Blocked {
			return p, true
		}
	}
	return sim.Parcel{}, false
}

func estimateDelta(current int, e sim.ActionEffect) int {
	pm := aqi.PM25FromAQI(current)
	next := pm + e.PM25Change
	if next < 0 {
		next = 0
	}
	cfg := sim.DefaultConfig()
	gas := cfg.NO2Weight*e.NO2Change + cfg.O3Weight*e.O3Change
	return aqi.AQIFromPM25(next) - aqi.AQIFromPM25(pm) + int(gas)
}

// LocalAnalysis summarizes st from the AQI bands and predicted trajectory.
func LocalAnalysis(st sim.State) Analysis {
	hp := aqi.HealthPrecautionsFromAQI(st.CurrentAQI)

	trend := "stable"
	if n := len(st.Predicted); n > 0 {
		switch end := st.Predicted[n-1].AQI; {
		case end < st.CurrentAQI-5:
			trend = "improving"
		case end > st.CurrentAQI+5:
			trend = "worsening"
		}
	}

	var summary string
	switch {
	case st.Phase == sim.PhaseSucceeded:
		summary = fmt.Sprintf("Mission complete: AQI brought down to %d.", st.CurrentAQI)
	case st.Phase == sim.PhaseFailed:
		summary = fmt.Sprintf("Mission failed with AQI at %d against a target of %d.", st.CurrentAQI, st.TargetAQI)
	case st.CurrentAQI <= st.TargetAQI:
		summary = fmt.Sprintf("AQI %d already meets the target of %d.", st.CurrentAQI, st.TargetAQI)
	default:
		summary = fmt.Sprintf("AQI %d is %d above the target of %d.", st.CurrentAQI, st.CurrentAQI-st.TargetAQI, st.TargetAQI)
	}

	tips := append([]string{hp.Message}, hp.Recommendations...)
	if st.Player.Health < 30 && !st.Phase.Terminal() {
		tips = append(tips, "Health is low: prioritize fast particulate reductions.")
	}
	if trend == "worsening" {
		tips = append(tips, "Active effects are wearing off; plan the next action now.")
	}

	return Analysis{
		Summary: summary,
		Risk:    string(hp.Level),
		Trend:   trend,
		Tips:    tips,
		Source:  "local",
	}
}
