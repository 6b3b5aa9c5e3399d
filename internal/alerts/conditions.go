// Package alerts implements the per-(definition, target) alert evaluation
// state machine: condition evaluation, sustain windows, instance lifecycle,
// and notification dispatch.
package alerts

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"storeops-hvac/internal/domain"
)

// Observation is one target's current value at evaluation time. Numeric is
// nil when the value does not parse as a number.
type Observation struct {
	Value   string
	Numeric *float64
}

// ConditionResult is the outcome of evaluating one condition against one
// observation and the target's prior eval state.
type ConditionResult struct {
	Met bool
	// ReportedValue is what notifications and instances display, e.g.
	// "72.5" or "45 min since last update".
	ReportedValue string
	// Window is the pruned-and-extended rolling window; only populated for
	// rate_of_change.
	Window []domain.WindowPoint
}

// EvaluateCondition applies a definition's condition. Data absence never
// errors: a value that cannot be evaluated yields Met=false.
func EvaluateCondition(def *domain.AlertDefinition, obs *Observation, state *domain.AlertEvalState, now time.Time) ConditionResult {
	switch def.Condition {
	case domain.ConditionAboveThreshold, domain.ConditionBelowThreshold:
		return evalThreshold(def, obs)
	case domain.ConditionChangesTo:
		return evalChangesTo(def, obs, state)
	case domain.ConditionStale:
		return evalStale(def, state, now)
	case domain.ConditionRateOfChange:
		return evalRateOfChange(def, obs, state, now)
	}
	return ConditionResult{}
}

// evalThreshold is a strict numeric comparison. Non-numeric current value
// means the condition is false, not an error.
func evalThreshold(def *domain.AlertDefinition, obs *Observation) ConditionResult {
	if obs == nil || obs.Numeric == nil || def.ThresholdValue == nil {
		return ConditionResult{}
	}
	met := false
	if def.Condition == domain.ConditionAboveThreshold {
		met = *obs.Numeric > *def.ThresholdValue
	} else {
		met = *obs.Numeric < *def.ThresholdValue
	}
	return ConditionResult{Met: met, ReportedValue: obs.Value}
}

// evalChangesTo fires only on the transition into the target value: the
// current value must match and the previous value must differ. Without a
// recorded previous value there is no provable transition.
func evalChangesTo(def *domain.AlertDefinition, obs *Observation, state *domain.AlertEvalState) ConditionResult {
	if obs == nil || def.TargetValue == nil {
		return ConditionResult{}
	}
	if !valueMatches(obs.Value, *def.TargetValue, def.TargetValueType) {
		return ConditionResult{ReportedValue: obs.Value}
	}
	if state == nil || state.LastValue == nil {
		return ConditionResult{ReportedValue: obs.Value}
	}
	if valueMatches(*state.LastValue, *def.TargetValue, def.TargetValueType) {
		// Sustained equality, not a transition.
		return ConditionResult{ReportedValue: obs.Value}
	}
	return ConditionResult{Met: true, ReportedValue: obs.Value}
}

// evalStale measures minutes since the eval state's last recorded update,
// not the raw source timestamp. No history means staleness cannot be
// proven.
func evalStale(def *domain.AlertDefinition, state *domain.AlertEvalState, now time.Time) ConditionResult {
	if def.StaleMinutes == nil || state == nil || state.LastUpdatedAt == nil {
		return ConditionResult{}
	}
	minutes := now.Sub(*state.LastUpdatedAt).Minutes()
	reported := fmt.Sprintf("%d min since last update", int(math.Round(minutes)))
	return ConditionResult{Met: minutes >= *def.StaleMinutes, ReportedValue: reported}
}

// evalRateOfChange maintains a rolling window of timestamped values pruned
// to the configured length, then compares newest vs oldest.
func evalRateOfChange(def *domain.AlertDefinition, obs *Observation, state *domain.AlertEvalState, now time.Time) ConditionResult {
	if def.DeltaValue == nil || def.WindowMinutes == nil {
		return ConditionResult{}
	}

	var window []domain.WindowPoint
	if state != nil {
		window = state.Window
	}
	cutoff := now.Add(-time.Duration(*def.WindowMinutes * float64(time.Minute)))
	pruned := window[:0:0]
	for _, p := range window {
		if !p.T.Before(cutoff) {
			pruned = append(pruned, p)
		}
	}
	if obs != nil && obs.Numeric != nil {
		pruned = append(pruned, domain.WindowPoint{T: now, V: *obs.Numeric})
	}

	result := ConditionResult{Window: pruned}
	if len(pruned) < 2 {
		return result
	}

	oldest, newest := pruned[0], pruned[len(pruned)-1]
	delta := newest.V - oldest.V
	if math.Abs(delta) < *def.DeltaValue {
		result.ReportedValue = fmtFloat(delta)
		return result
	}
	if def.DeltaDirection != nil {
		switch *def.DeltaDirection {
		case "increase":
			if delta <= 0 {
				result.ReportedValue = fmtFloat(delta)
				return result
			}
		case "decrease":
			if delta >= 0 {
				result.ReportedValue = fmtFloat(delta)
				return result
			}
		}
	}
	result.Met = true
	result.ReportedValue = fmtFloat(delta)
	return result
}

// valueMatches compares a raw value to a typed target. Booleans compare
// case-insensitively with on/off and 1/0 coercion; numerics compare by
// parsed value; everything else is a string compare.
func valueMatches(value, target string, valueType *string) bool {
	vt := "string"
	if valueType != nil && *valueType != "" {
		vt = *valueType
	}
	switch vt {
	case "numeric":
		v, verr := strconv.ParseFloat(strings.TrimSpace(value), 64)
		t, terr := strconv.ParseFloat(strings.TrimSpace(target), 64)
		return verr == nil && terr == nil && v == t
	case "boolean":
		return normalizeBool(value) == normalizeBool(target)
	}
	return value == target
}

func normalizeBool(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "1", "yes":
		return "true"
	}
	return "false"
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
