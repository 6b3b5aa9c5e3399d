package pusher

import (
	"math"
	"time"

	"storeops-hvac/internal/domain"
	"storeops-hvac/internal/sampler"
	"storeops-hvac/internal/setpoint"
)

// Adjustments is the four signed, capped offsets summed into one additive
// correction applied equally to heat and cool setpoints.
type Adjustments struct {
	FeelsLikeF  float64
	SmartStartF float64
	OccupancyF  float64
	ManagerF    float64
}

// Total returns the combined offset.
func (a Adjustments) Total() float64 {
	return a.FeelsLikeF + a.SmartStartF + a.OccupancyF + a.ManagerF
}

const managerNoiseFloorF = 0.5

// ComputeAdjustments derives the four adjustment factors for one cycle.
// Each factor is independent; disabled or un-evaluable factors contribute
// zero. The manager factor nets the device's observed active setpoint
// against the expected setpoint after the other three factors are applied.
func ComputeAdjustments(resolved setpoint.Resolved, sample *sampler.Sample, window PhaseWindow, lastKnown *domain.ThermostatState, now time.Time) Adjustments {
	feat := resolved.Features
	var adj Adjustments

	// Feels-like biases toward perceived comfort: when humidity makes the
	// zone feel hotter than it reads, the offset goes negative.
	if feat.FeelsLikeEnabled && sample != nil && sample.FeelsLikeTempF != nil && sample.ZoneTempF != nil {
		adj.FeelsLikeF = clamp(*sample.ZoneTempF-*sample.FeelsLikeTempF, feat.FeelsLikeMaxF)
	}

	if feat.SmartStartEnabled && sample != nil && sample.ZoneTempF != nil {
		adj.SmartStartF = smartStart(resolved, *sample.ZoneTempF, window, now, feat.SmartStartLeadMinutes, feat.SmartStartMaxF)
	}

	if feat.OccupancyEnabled && sample != nil {
		adj.OccupancyF = clamp(sample.OccupancyAdj, feat.OccupancyMaxF)
	}

	managerCap := math.Min(resolved.ManagerOffsetMaxF, feat.ManagerMaxF)
	adj.ManagerF = managerDeviation(resolved, window.Phase, lastKnown,
		adj.FeelsLikeF+adj.SmartStartF+adj.OccupancyF, managerCap)

	return adj
}

// smartStart nudges setpoints one degree toward the occupied comfort band
// during the pre-open lead window, only while still in the unoccupied
// phase and only when the zone is outside that band.
func smartStart(resolved setpoint.Resolved, currentTempF float64, window PhaseWindow, now time.Time, leadMinutes int, capF float64) float64 {
	if window.Phase != domain.PhaseUnoccupied || window.Closed || window.Open.IsZero() {
		return 0
	}
	lead := time.Duration(leadMinutes) * time.Minute
	if now.Before(window.Open.Add(-lead)) || !now.Before(window.Open) {
		return 0
	}
	switch {
	case currentTempF < resolved.OccupiedHeatF:
		return clamp(1, capF)
	case currentTempF > resolved.OccupiedCoolF:
		return clamp(-1, capF)
	}
	return 0
}

// managerDeviation honors a setpoint a manager dialed in at the device:
// observed active setpoint minus the setpoint we expected to find there,
// clamped, and zeroed below the noise floor so read-back jitter does not
// chase itself.
func managerDeviation(resolved setpoint.Resolved, phase domain.Phase, lastKnown *domain.ThermostatState, otherAdjustments, capF float64) float64 {
	if lastKnown == nil {
		return 0
	}
	heat, cool := resolved.SetpointsFor(phase)

	var observed, expected float64
	switch lastKnown.HVACMode {
	case "heat":
		if lastKnown.HeatSetpointF == nil {
			return 0
		}
		observed, expected = *lastKnown.HeatSetpointF, heat+otherAdjustments
	case "cool":
		if lastKnown.CoolSetpointF == nil {
			return 0
		}
		observed, expected = *lastKnown.CoolSetpointF, cool+otherAdjustments
	case "heat_cool":
		if lastKnown.TargetTempF != nil {
			observed = *lastKnown.TargetTempF
		} else if lastKnown.HeatSetpointF != nil && lastKnown.CoolSetpointF != nil {
			observed = (*lastKnown.HeatSetpointF + *lastKnown.CoolSetpointF) / 2
		} else {
			return 0
		}
		expected = (heat+cool)/2 + otherAdjustments
	default:
		return 0
	}

	delta := clamp(observed-expected, capF)
	if math.Abs(delta) < managerNoiseFloorF {
		return 0
	}
	return delta
}

func clamp(v, capF float64) float64 {
	if capF <= 0 {
		return 0
	}
	return math.Max(-capF, math.Min(capF, v))
}
