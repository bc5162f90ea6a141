package sim

import (
	"sort"
	"time"
)

// ActionType names a player intervention.
type ActionType string

const (
	PlantTree          ActionType = "plant_tree"
	PlantRooftopGarden ActionType = "plant_rooftop_garden"
	RemoveVehicle      ActionType = "remove_vehicle"
	ShutdownFactory    ActionType = "shutdown_factory"
	RetrofitFactory    ActionType = "retrofit_factory"
	RemoveConstruction ActionType = "remove_construction"
	Relocate           ActionType = "relocate"
)

// Placement is what an action needs from its target parcel.
type Placement string

const (
	// PlaceAnywhere needs no parcel flag.
	PlaceAnywhere Placement = ""
	// PlacePlant needs a parcel that can be planted.
	PlacePlant Placement = "plant"
	// PlaceDemolish needs a parcel whose emitter can be removed or altered.
	PlaceDemolish Placement = "demolish"
	// PlaceMove moves the player onto the parcel.
	PlaceMove Placement = "move"
)

// ActionEffect is the pollutant change an action applies while active.
// Changes are additive and negative values reduce pollution.
type ActionEffect struct {
	PM25Change float64       `json:"pm25_change"`
	NO2Change  float64       `json:"no2_change"`
	O3Change   float64       `json:"o3_change"`
	Duration   time.Duration `json:"duration"`
	Radius     float64       `json:"radius_m"`
}

// ActionSpec describes an action type in the catalog.
type ActionSpec struct {
	Type        ActionType    `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Cost        int           `json:"cost"`
	EnergyCost  float64       `json:"energy_cost"`
	Cooldown    time.Duration `json:"cooldown"`
	Effect      ActionEffect  `json:"effect"`
	Placement   Placement     `json:"placement,omitempty"`
}

// CanPlaceOn reports whether the action may target parcel p.
func (s ActionSpec) CanPlaceOn(p Parcel) bool {
	if p.Blocked {
		return false
	}
	switch s.Placement {
	case PlacePlant:
		return p.CanPlant
	case PlaceDemolish:
		return p.CanDemolish
	default:
		return true
	}
}

func spec(t ActionType, name, desc string, cost int, energy float64, cooldown time.Duration, place Placement, effect ActionEffect) ActionSpec {
	return ActionSpec{
		Type:        t,
		Name:        name,
		Description: desc,
		Cost:        cost,
		EnergyCost:  energy,
		Cooldown:    cooldown,
		Effect:      effect,
		Placement:   place,
	}
}

var catalog = map[ActionType]ActionSpec{
	PlantTree: spec(PlantTree, "Plant Tree", "Urban trees filter particulates and absorb NO2.",
		100, 10, 30*time.Second, PlacePlant,
		ActionEffect{PM25Change: -5, NO2Change: -2, O3Change: -1, Duration: 5 * time.Minute, Radius: 500}),
	PlantRooftopGarden: spec(PlantRooftopGarden, "Plant Rooftop Garden", "Vegetated roofs cool buildings and trap dust.",
		200, 15, 45*time.Second, PlacePlant,
		ActionEffect{PM25Change: -4, NO2Change: -3, O3Change: -2, Duration: 10 * time.Minute, Radius: 300}),
	RemoveVehicle: spec(RemoveVehicle, "Remove Vehicle", "Takes a high-emission vehicle off the street.",
		80, 5, 15*time.Second, PlaceDemolish,
		ActionEffect{PM25Change: -6, NO2Change: -6, Duration: 2 * time.Minute, Radius: 300}),
	RemoveConstruction: spec(RemoveConstruction, "Remove Construction", "Halts dusty construction work on a site.",
		150, 15, 45*time.Second, PlaceDemolish,
		ActionEffect{PM25Change: -10, Duration: 4 * time.Minute, Radius: 400}),
	RetrofitFactory: spec(RetrofitFactory, "Retrofit Factory", "Fits scrubbers and filters to a factory stack.",
		250, 20, time.Minute, PlaceDemolish,
		ActionEffect{PM25Change: -8, NO2Change: -5, Duration: 15 * time.Minute, Radius: 800}),
	ShutdownFactory: spec(ShutdownFactory, "Shut Down Factory", "Stops a factory outright for a while.",
		300, 25, 90*time.Second, PlaceDemolish,
		ActionEffect{PM25Change: -15, NO2Change: -10, Duration: 3 * time.Minute, Radius: 1000}),
	Relocate: spec(Relocate, "Relocate", "Move to another parcel, for example into a clean-air shelter.",
		20, 10, 10*time.Second, PlaceMove,
		ActionEffect{}),
}

// Lookup returns the catalog entry for t.
func Lookup(t ActionType) (ActionSpec, bool) {
	s, ok := catalog[t]
	return s, ok
}

// Catalog returns every action spec ordered by cost.
func Catalog() []ActionSpec {
	out := make([]ActionSpec, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// DefaultParcels is the district used when a mission brings no map.
func DefaultParcels() []Parcel {
	return []Parcel{
		{ID: "park", Name: "Central Park", CanPlant: true},
		{ID: "rooftops", Name: "Apartment Rooftops", CanPlant: true},
		{ID: "street", Name: "Main Street", CanDemolish: true},
		{ID: "factory", Name: "Riverside Plant", CanDemolish: true},
		{ID: "site", Name: "Construction Site", CanDemolish: true},
		{ID: "plaza", Name: "Town Plaza"},
		{ID: "shelter", Name: "Clean-Air Center", SafeZone: true},
	}
}
