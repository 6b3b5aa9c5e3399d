package sampler

import (
	"math"
	"time"

	"storeops-hvac/internal/domain"
)

// Thresholds holds the effective anomaly-detection thresholds for one zone:
// package defaults overlaid with the zone's stored overrides.
type Thresholds struct {
	CoilFreezeSupplyF     float64
	FilterRestrictDeltaTF float64
	RefrigerantLowDeltaTF float64
	ShortCycleCount       int
	ShortCycleWindow      time.Duration
	LongCycleMinutes      float64
	IdleHeatGainF         float64
	IdleHeatGainWindow    time.Duration
	DelayedResponseF      float64
	DelayedResponseMin    float64
}

// DefaultThresholds returns the documented per-flag defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CoilFreezeSupplyF:     35,
		FilterRestrictDeltaTF: 25,
		RefrigerantLowDeltaTF: 5,
		ShortCycleCount:       4,
		ShortCycleWindow:      time.Hour,
		LongCycleMinutes:      120,
		IdleHeatGainF:         2,
		IdleHeatGainWindow:    15 * time.Minute,
		DelayedResponseF:      0.5,
		DelayedResponseMin:    15,
	}
}

// ThresholdsFor overlays a zone's overrides on the defaults.
func ThresholdsFor(zone *domain.Zone) Thresholds {
	t := DefaultThresholds()
	ov := zone.AnomalyOverrides
	if ov == nil {
		return t
	}
	if ov.CoilFreezeSupplyF != nil {
		t.CoilFreezeSupplyF = *ov.CoilFreezeSupplyF
	}
	if ov.FilterRestrictDeltaTF != nil {
		t.FilterRestrictDeltaTF = *ov.FilterRestrictDeltaTF
	}
	if ov.RefrigerantLowDeltaTF != nil {
		t.RefrigerantLowDeltaTF = *ov.RefrigerantLowDeltaTF
	}
	if ov.ShortCycleCount != nil {
		t.ShortCycleCount = *ov.ShortCycleCount
	}
	if ov.LongCycleMinutes != nil {
		t.LongCycleMinutes = *ov.LongCycleMinutes
	}
	if ov.IdleHeatGainF != nil {
		t.IdleHeatGainF = *ov.IdleHeatGainF
	}
	if ov.DelayedResponseF != nil {
		t.DelayedResponseF = *ov.DelayedResponseF
	}
	if ov.DelayedResponseMin != nil {
		t.DelayedResponseMin = *ov.DelayedResponseMin
	}
	return t
}

// AnomalyReport holds per-flag results. A nil flag means its prerequisite
// data was unavailable: unknown, not false.
type AnomalyReport struct {
	CoilFreeze          *bool
	FilterRestriction   *bool
	RefrigerantLow      *bool
	ShortCycling        *bool
	LongCycle           *bool
	IdleHeatGain        *bool
	DelayedTempResponse *bool
}

// Flags returns the keys of currently-true flags.
func (a AnomalyReport) Flags() []string {
	var flags []string
	for _, f := range []struct {
		key string
		val *bool
	}{
		{"coil_freeze", a.CoilFreeze},
		{"filter_restriction", a.FilterRestriction},
		{"refrigerant_low", a.RefrigerantLow},
		{"short_cycling", a.ShortCycling},
		{"long_cycle", a.LongCycle},
		{"idle_heat_gain", a.IdleHeatGain},
		{"delayed_temp_response", a.DelayedTempResponse},
	} {
		if f.val != nil && *f.val {
			flags = append(flags, f.key)
		}
	}
	return flags
}

// Count returns the number of currently-true flags.
func (a AnomalyReport) Count() int {
	return len(a.Flags())
}

// Flag looks up one flag by key.
func (a AnomalyReport) Flag(key string) *bool {
	switch key {
	case "coil_freeze":
		return a.CoilFreeze
	case "filter_restriction":
		return a.FilterRestriction
	case "refrigerant_low":
		return a.RefrigerantLow
	case "short_cycling":
		return a.ShortCycling
	case "long_cycle":
		return a.LongCycle
	case "idle_heat_gain":
		return a.IdleHeatGain
	case "delayed_temp_response":
		return a.DelayedTempResponse
	}
	return nil
}

// DetectAnomalies evaluates every flag from the current sample and the
// trailing audit-log window. Cycle timing derives from actual log
// timestamps; no sampling cadence is assumed.
func DetectAnomalies(s *Sample, history []*domain.SetpointLog, t Thresholds, now time.Time) AnomalyReport {
	var report AnomalyReport

	if s.SupplyTempF != nil {
		v := *s.SupplyTempF < t.CoilFreezeSupplyF
		report.CoilFreeze = &v
	}

	if s.SupplyTempF != nil && s.ReturnTempF != nil && s.CompressorOn != nil && *s.CompressorOn {
		deltaT := math.Abs(*s.SupplyTempF - *s.ReturnTempF)
		high := deltaT > t.FilterRestrictDeltaTF
		low := deltaT < t.RefrigerantLowDeltaTF
		report.FilterRestriction = &high
		report.RefrigerantLow = &low
	}

	report.ShortCycling = detectShortCycling(history, s.CompressorOn, t, now)
	report.LongCycle = detectLongCycle(history, s.CompressorOn, t, now)
	report.IdleHeatGain = detectIdleHeatGain(history, s, t, now)
	report.DelayedTempResponse = detectDelayedResponse(history, s, t, now)

	return report
}

// detectShortCycling counts on→off transitions in the trailing window.
func detectShortCycling(history []*domain.SetpointLog, current *bool, t Thresholds, now time.Time) *bool {
	cutoff := now.Add(-t.ShortCycleWindow)
	points := compressorPoints(history, cutoff)
	if current != nil {
		points = append(points, compressorPoint{at: now, on: *current})
	}
	if len(points) < 2 {
		return nil
	}

	transitions := 0
	for i := 1; i < len(points); i++ {
		if points[i-1].on && !points[i].on {
			transitions++
		}
	}
	v := transitions > t.ShortCycleCount
	return &v
}

// detectLongCycle measures the current continuous run length from log
// timestamps.
func detectLongCycle(history []*domain.SetpointLog, current *bool, t Thresholds, now time.Time) *bool {
	if current == nil {
		return nil
	}
	if !*current {
		v := false
		return &v
	}

	points := compressorPoints(history, time.Time{})
	runStart := now
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].on {
			break
		}
		runStart = points[i].at
	}
	v := now.Sub(runStart) > time.Duration(t.LongCycleMinutes*float64(time.Minute))
	return &v
}

// detectIdleHeatGain checks for temperature rise over the idle window while
// the compressor stayed off.
func detectIdleHeatGain(history []*domain.SetpointLog, s *Sample, t Thresholds, now time.Time) *bool {
	if s.ZoneTempF == nil || s.CompressorOn == nil || *s.CompressorOn {
		return nil
	}
	base := oldestTempInWindow(history, now.Add(-t.IdleHeatGainWindow), requireCompressorOff)
	if base == nil {
		return nil
	}
	v := *s.ZoneTempF-*base > t.IdleHeatGainF
	return &v
}

// detectDelayedResponse checks for flat temperature despite a continuous
// compressor run over the configured delay window.
func detectDelayedResponse(history []*domain.SetpointLog, s *Sample, t Thresholds, now time.Time) *bool {
	if s.ZoneTempF == nil || s.CompressorOn == nil || !*s.CompressorOn {
		return nil
	}
	window := time.Duration(t.DelayedResponseMin * float64(time.Minute))
	base := oldestTempInWindow(history, now.Add(-window), requireCompressorOn)
	if base == nil {
		return nil
	}
	v := math.Abs(*s.ZoneTempF-*base) < t.DelayedResponseF
	return &v
}

type compressorPoint struct {
	at time.Time
	on bool
}

func compressorPoints(history []*domain.SetpointLog, cutoff time.Time) []compressorPoint {
	var points []compressorPoint
	for _, l := range history {
		if l.CompressorOn == nil {
			continue
		}
		if !cutoff.IsZero() && l.CreatedAt.Before(cutoff) {
			continue
		}
		points = append(points, compressorPoint{at: l.CreatedAt, on: *l.CompressorOn})
	}
	return points
}

func requireCompressorOn(l *domain.SetpointLog) bool {
	return l.CompressorOn != nil && *l.CompressorOn
}

func requireCompressorOff(l *domain.SetpointLog) bool {
	return l.CompressorOn != nil && !*l.CompressorOn
}

// oldestTempInWindow returns the earliest zone temperature at or after the
// cutoff, requiring every in-window row to satisfy the compressor
// predicate. Nil when no qualifying row exists.
func oldestTempInWindow(history []*domain.SetpointLog, cutoff time.Time, keep func(*domain.SetpointLog) bool) *float64 {
	var base *float64
	for _, l := range history {
		if l.CreatedAt.Before(cutoff) {
			continue
		}
		if !keep(l) {
			return nil
		}
		if l.ZoneTempF == nil {
			continue
		}
		if base == nil {
			base = l.ZoneTempF
		}
	}
	return base
}
