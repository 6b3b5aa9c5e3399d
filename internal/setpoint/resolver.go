// Package setpoint resolves a zone's effective setpoints from its layered
// policy sources: linked profile, zone overrides, hard defaults.
package setpoint

import "storeops-hvac/internal/domain"

// Source tags where resolved values came from, for UI transparency and
// audit rows.
type Source string

const (
	SourceProfile      Source = "profile"
	SourceZoneOverride Source = "zone_override"
	SourceDefault      Source = "default"
)

// Hard defaults applied when a required field is null on all paths.
const (
	DefaultOccupiedHeatF   = 68.0
	DefaultOccupiedCoolF   = 76.0
	DefaultUnoccupiedHeatF = 55.0
	DefaultUnoccupiedCoolF = 85.0

	DefaultHVACMode = "heat_cool"
	DefaultFanMode  = "auto"
)

// Resolved is the effective occupied/unoccupied setpoints, modes, and
// guardrails for a zone at evaluation time. Derived, never stored.
type Resolved struct {
	OccupiedHeatF   float64
	OccupiedCoolF   float64
	UnoccupiedHeatF float64
	UnoccupiedCoolF float64

	OccupiedMode   string
	OccupiedFan    string
	UnoccupiedMode string
	UnoccupiedFan  string

	// Guardrails and manager bounds always come from the zone record.
	GuardrailMinF     float64
	GuardrailMaxF     float64
	ManagerOffsetMaxF float64

	Features domain.ProfileFeatures

	Source Source
}

// SetpointsFor returns the heat/cool pair for one phase.
func (r Resolved) SetpointsFor(phase domain.Phase) (heat, cool float64) {
	if phase == domain.PhaseOccupied {
		return r.OccupiedHeatF, r.OccupiedCoolF
	}
	return r.UnoccupiedHeatF, r.UnoccupiedCoolF
}

// ModesFor returns the HVAC and fan mode for one phase.
func (r Resolved) ModesFor(phase domain.Phase) (hvac, fan string) {
	if phase == domain.PhaseOccupied {
		return r.OccupiedMode, r.OccupiedFan
	}
	return r.UnoccupiedMode, r.UnoccupiedFan
}

// Resolve computes a zone's effective setpoints. Pure and total: no I/O, no
// failure modes.
//
// Profile fields apply when the zone links a profile, is not overridden, and
// the profile was supplied; otherwise the zone's own stored fields apply.
// Any field null on the chosen path falls back to the hard default. Source
// is "profile" or "zone_override" for the chosen path, or "default" when the
// path supplied none of the four setpoints.
func Resolve(zone *domain.Zone, profile *domain.Profile) Resolved {
	useProfile := zone.ProfileID != nil && !zone.IsOverride && profile != nil

	var (
		heatOcc, coolOcc, heatUnocc, coolUnocc *float64
		modeOcc, fanOcc, modeUnocc, fanUnocc   *string
		features                               domain.ProfileFeatures
		source                                 Source
	)

	if useProfile {
		heatOcc, coolOcc = profile.OccupiedHeatF, profile.OccupiedCoolF
		heatUnocc, coolUnocc = profile.UnoccupiedHeatF, profile.UnoccupiedCoolF
		modeOcc, fanOcc = profile.OccupiedMode, profile.OccupiedFan
		modeUnocc, fanUnocc = profile.UnoccupiedMode, profile.UnoccupiedFan
		features = profile.Features.Normalize()
		source = SourceProfile
	} else {
		heatOcc, coolOcc = zone.OccupiedHeatF, zone.OccupiedCoolF
		heatUnocc, coolUnocc = zone.UnoccupiedHeatF, zone.UnoccupiedCoolF
		modeOcc, fanOcc = zone.OccupiedMode, zone.OccupiedFan
		modeUnocc, fanUnocc = zone.UnoccupiedMode, zone.UnoccupiedFan
		features = domain.DefaultProfileFeatures()
		source = SourceZoneOverride
	}

	if heatOcc == nil && coolOcc == nil && heatUnocc == nil && coolUnocc == nil {
		source = SourceDefault
	}

	return Resolved{
		OccupiedHeatF:   orDefault(heatOcc, DefaultOccupiedHeatF),
		OccupiedCoolF:   orDefault(coolOcc, DefaultOccupiedCoolF),
		UnoccupiedHeatF: orDefault(heatUnocc, DefaultUnoccupiedHeatF),
		UnoccupiedCoolF: orDefault(coolUnocc, DefaultUnoccupiedCoolF),

		OccupiedMode:   orDefaultStr(modeOcc, DefaultHVACMode),
		OccupiedFan:    orDefaultStr(fanOcc, DefaultFanMode),
		UnoccupiedMode: orDefaultStr(modeUnocc, DefaultHVACMode),
		UnoccupiedFan:  orDefaultStr(fanUnocc, DefaultFanMode),

		GuardrailMinF:     zone.GuardrailMinF,
		GuardrailMaxF:     zone.GuardrailMaxF,
		ManagerOffsetMaxF: zone.ManagerOffsetMaxF,

		Features: features,
		Source:   source,
	}
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orDefaultStr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}
