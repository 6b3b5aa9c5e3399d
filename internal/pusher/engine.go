package pusher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"storeops-hvac/internal/config"
	"storeops-hvac/internal/domain"
	"storeops-hvac/internal/repository"
	"storeops-hvac/internal/sampler"
	"storeops-hvac/internal/setpoint"
)

// ReasonAlreadyAtTarget is the skip reason recorded when the device already
// matches the desired state.
const ReasonAlreadyAtTarget = "Already at target"

// DesiredState is the device state the engine wants after this cycle.
type DesiredState struct {
	HVACMode      string
	FanMode       string
	HeatSetpointF float64
	CoolSetpointF float64
}

// Result is the full outcome of one zone's push evaluation.
type Result struct {
	Pushed             bool
	Reason             string
	Actions            []string
	GuardrailTriggered bool
	Phase              domain.Phase
	Desired            DesiredState
	Adjustments        Adjustments
	Readback           *domain.ThermostatState
}

// Engine runs the per-zone push pipeline: resolve, sample, adjust, guard,
// compare, push, read back, audit.
type Engine struct {
	zones     repository.ZonesRepository
	profiles  repository.ProfilesRepository
	hours     repository.HoursRepository
	logs      repository.SetpointLogsRepository
	collector *sampler.Collector
	device    DeviceClient
	cfg       *config.DeviceAPIConfig
	logger    *zap.Logger

	now func() time.Time
}

// NewEngine creates a push engine.
func NewEngine(
	zones repository.ZonesRepository,
	profiles repository.ProfilesRepository,
	hours repository.HoursRepository,
	logs repository.SetpointLogsRepository,
	collector *sampler.Collector,
	device DeviceClient,
	cfg *config.DeviceAPIConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		zones:     zones,
		profiles:  profiles,
		hours:     hours,
		logs:      logs,
		collector: collector,
		device:    device,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// RunCycle pushes every zone of every site. Sites run in parallel; zones
// within a site run sequentially so settle delays naturally rate-limit the
// device API.
func (e *Engine) RunCycle(ctx context.Context, trigger string) {
	siteIDs, err := e.zones.ListSiteIDs(ctx)
	if err != nil {
		e.logger.Error("failed to list sites for push cycle", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, siteID := range siteIDs {
		wg.Add(1)
		go func(siteID string) {
			defer wg.Done()
			e.PushSite(ctx, siteID, trigger)
		}(siteID)
	}
	wg.Wait()
}

// PushSite runs one site's push cycle. A failed device API health probe
// skips every zone and leaves its own audit row, distinct from per-zone
// push failures.
func (e *Engine) PushSite(ctx context.Context, siteID, trigger string) {
	if err := e.device.Health(ctx); err != nil {
		e.logger.Error("skipping site push cycle, device API preflight failed",
			zap.String("site_id", siteID), zap.Error(err))
		e.auditConnectivityFailure(ctx, siteID, trigger, err)
		return
	}

	zones, err := e.zones.ListZonesBySite(ctx, siteID)
	if err != nil {
		e.logger.Error("failed to list zones for site",
			zap.String("site_id", siteID), zap.Error(err))
		return
	}

	for _, zone := range zones {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.PushZone(ctx, zone, trigger); err != nil {
			e.logger.Error("zone push failed",
				zap.String("zone_id", zone.ZoneID), zap.Error(err))
		}
	}
}

// PushZone evaluates and pushes one zone. Every invocation writes an audit
// row, pushed or not. Guardrail evaluation precedes the idempotence check
// and overrides everything else.
func (e *Engine) PushZone(ctx context.Context, zone *domain.Zone, trigger string) (*Result, error) {
	now := e.now().UTC()

	window, loc := e.resolveSchedule(ctx, zone.SiteID, now)

	var profile *domain.Profile
	if zone.ProfileID != nil {
		p, err := e.profiles.GetProfile(ctx, *zone.ProfileID)
		if err != nil {
			e.logger.Warn("failed to load profile, falling back to zone fields",
				zap.String("zone_id", zone.ZoneID), zap.Error(err))
		} else {
			profile = p
		}
	}
	resolved := setpoint.Resolve(zone, profile)

	sample, err := e.collector.Sample(ctx, zone, zone.LastKnownState)
	if err != nil {
		e.logger.Warn("failed to sample zone telemetry",
			zap.String("zone_id", zone.ZoneID), zap.Error(err))
		sample = nil
	}

	adj := ComputeAdjustments(resolved, sample, window, zone.LastKnownState, now.In(loc))

	baseHeat, baseCool := resolved.SetpointsFor(window.Phase)
	mode, fan := resolved.ModesFor(window.Phase)
	desired := DesiredState{
		HVACMode:      mode,
		FanMode:       fan,
		HeatSetpointF: baseHeat + adj.Total(),
		CoolSetpointF: baseCool + adj.Total(),
	}

	result := &Result{Phase: window.Phase, Adjustments: adj}

	currentTemp := currentTemperature(sample, zone.LastKnownState)
	if currentTemp != nil {
		switch {
		case *currentTemp <= resolved.GuardrailMinF:
			desired = DesiredState{
				HVACMode:      "heat",
				FanMode:       fan,
				HeatSetpointF: resolved.GuardrailMinF + 10,
				CoolSetpointF: baseCool + adj.Total(),
			}
			result.GuardrailTriggered = true
			result.Reason = fmt.Sprintf("guardrail: zone at %.1f°F, forcing heat to %.0f°F",
				*currentTemp, desired.HeatSetpointF)
		case *currentTemp >= resolved.GuardrailMaxF:
			desired = DesiredState{
				HVACMode:      "cool",
				FanMode:       fan,
				HeatSetpointF: baseHeat + adj.Total(),
				CoolSetpointF: resolved.GuardrailMaxF - 10,
			}
			result.GuardrailTriggered = true
			result.Reason = fmt.Sprintf("guardrail: zone at %.1f°F, forcing cool to %.0f°F",
				*currentTemp, desired.CoolSetpointF)
		}
	}
	result.Desired = desired

	if !result.GuardrailTriggered && atTarget(desired, zone.LastKnownState) {
		result.Pushed = false
		result.Reason = ReasonAlreadyAtTarget
		e.audit(ctx, zone, trigger, window.Phase, resolved, sample, result, now)
		return result, nil
	}

	result.Actions = e.pushCommands(ctx, zone.ThermostatEntityID, desired, zone.LastKnownState)
	result.Pushed = true
	if result.Reason == "" {
		result.Reason = "Pushed"
	}

	result.Readback = e.readBack(ctx, zone, desired, result.GuardrailTriggered)

	e.audit(ctx, zone, trigger, window.Phase, resolved, sample, result, now)
	return result, nil
}

// resolveSchedule loads store hours plus exceptions and resolves the
// current phase window. Any lookup failure degrades to a closed schedule
// in UTC rather than aborting the zone.
func (e *Engine) resolveSchedule(ctx context.Context, siteID string, now time.Time) (PhaseWindow, *time.Location) {
	loc := time.UTC
	hours, err := e.hours.GetStoreHours(ctx, siteID, int(now.UTC().Weekday()))
	if err != nil {
		e.logger.Warn("failed to load store hours", zap.String("site_id", siteID), zap.Error(err))
		return PhaseWindow{Phase: domain.PhaseUnoccupied, Closed: true}, loc
	}
	if hours != nil && hours.TZ != "" {
		if l, lerr := time.LoadLocation(hours.TZ); lerr == nil {
			loc = l
		}
	}

	// The weekday row is keyed by local wall-clock day, which can differ
	// from the UTC day near midnight.
	localWeekday := int(now.In(loc).Weekday())
	if hours == nil || localWeekday != int(now.UTC().Weekday()) {
		hours, err = e.hours.GetStoreHours(ctx, siteID, localWeekday)
		if err != nil {
			e.logger.Warn("failed to load store hours", zap.String("site_id", siteID), zap.Error(err))
			return PhaseWindow{Phase: domain.PhaseUnoccupied, Closed: true}, loc
		}
	}

	exceptions, err := e.hours.ListExceptionsForDate(ctx, siteID, domain.LocalDate(now.In(loc)))
	if err != nil {
		e.logger.Warn("failed to load hours exceptions", zap.String("site_id", siteID), zap.Error(err))
		exceptions = nil
	}

	window, err := ResolvePhase(hours, exceptions, now, loc)
	if err != nil {
		e.logger.Warn("failed to resolve phase window", zap.String("site_id", siteID), zap.Error(err))
		return PhaseWindow{Phase: domain.PhaseUnoccupied, Closed: true}, loc
	}
	return window, loc
}

// pushCommands issues the ordered command sequence. Each stage is
// attempted independently; a failed stage is tagged :FAILED and the
// sequence continues forward.
func (e *Engine) pushCommands(ctx context.Context, entityID string, desired DesiredState, lastKnown *domain.ThermostatState) []string {
	var actions []string

	modeChanged := lastKnown == nil || lastKnown.HVACMode != desired.HVACMode
	if modeChanged {
		action := "set_hvac_mode:" + desired.HVACMode
		if err := e.device.SetHVACMode(ctx, entityID, desired.HVACMode); err != nil {
			e.logger.Error("set_hvac_mode failed", zap.String("entity_id", entityID), zap.Error(err))
			action += ":FAILED"
		}
		actions = append(actions, action)
		// Device firmware applies mode changes asynchronously; commands
		// sent before the settle window can be dropped.
		waitSettle(ctx, e.cfg.ModeSettleDelay)
	}

	if cmd, label, ok := temperatureCommand(desired); ok {
		action := "set_temperature:" + label
		if err := e.device.SetTemperature(ctx, entityID, cmd); err != nil {
			e.logger.Error("set_temperature failed", zap.String("entity_id", entityID), zap.Error(err))
			action += ":FAILED"
		}
		actions = append(actions, action)
	}

	fanChanged := desired.FanMode != "" && (lastKnown == nil || lastKnown.FanMode != desired.FanMode)
	if fanChanged {
		action := "set_fan_mode:" + desired.FanMode
		if err := e.device.SetFanMode(ctx, entityID, desired.FanMode); err != nil {
			e.logger.Error("set_fan_mode failed", zap.String("entity_id", entityID), zap.Error(err))
			action += ":FAILED"
		}
		actions = append(actions, action)
	}

	return actions
}

// readBack queries the device after the settle window and persists the
// reported state as the next cycle's idempotence baseline, regardless of
// what was commanded.
func (e *Engine) readBack(ctx context.Context, zone *domain.Zone, desired DesiredState, guardrail bool) *domain.ThermostatState {
	waitSettle(ctx, e.cfg.ReadbackDelay)

	state, err := e.device.GetState(ctx, zone.ThermostatEntityID)
	if err != nil {
		e.logger.Error("read-back failed",
			zap.String("zone_id", zone.ZoneID),
			zap.String("entity_id", zone.ThermostatEntityID),
			zap.Error(err))
		return nil
	}
	observed := e.now().UTC()
	state.ObservedAt = &observed

	if err := e.zones.UpdateReadback(ctx, zone.ZoneID, state, directiveText(desired, guardrail)); err != nil {
		e.logger.Error("failed to persist read-back state",
			zap.String("zone_id", zone.ZoneID), zap.Error(err))
	}
	return state
}

func (e *Engine) audit(ctx context.Context, zone *domain.Zone, trigger string, phase domain.Phase, resolved setpoint.Resolved, sample *sampler.Sample, result *Result, now time.Time) {
	baseHeat, baseCool := resolved.SetpointsFor(phase)

	row := &domain.SetpointLog{
		ZoneID:  zone.ZoneID,
		SiteID:  zone.SiteID,
		Trigger: trigger,
		Phase:   string(phase),

		BaseHeatF:      &baseHeat,
		BaseCoolF:      &baseCool,
		Source:         string(resolved.Source),
		FeelsLikeAdjF:  result.Adjustments.FeelsLikeF,
		SmartStartAdjF: result.Adjustments.SmartStartF,
		OccupancyAdjF:  result.Adjustments.OccupancyF,
		ManagerAdjF:    result.Adjustments.ManagerF,
		TargetHeatF:    &result.Desired.HeatSetpointF,
		TargetCoolF:    &result.Desired.CoolSetpointF,

		Pushed:             result.Pushed,
		PushReason:         &result.Reason,
		PushActions:        marshalStrings(result.Actions),
		GuardrailTriggered: result.GuardrailTriggered,

		EntityID:  zone.ThermostatEntityID,
		CreatedAt: now,
	}
	if sample != nil {
		row.ZoneTempF = sample.ZoneTempF
		row.ZoneHumidity = sample.ZoneHumidity
		row.SupplyTempF = sample.SupplyTempF
		row.ReturnTempF = sample.ReturnTempF
		row.CompressorOn = sample.CompressorOn
		row.AnomalyFlags = marshalStrings(sample.Anomalies.Flags())
	} else {
		row.AnomalyFlags = "[]"
	}

	if err := e.logs.Append(ctx, row); err != nil {
		e.logger.Error("failed to append setpoint log",
			zap.String("zone_id", zone.ZoneID), zap.Error(err))
	}
}

// auditConnectivityFailure records a site-level preflight failure as its
// own audit row so operators can tell an unreachable device API apart from
// individual zone push failures.
func (e *Engine) auditConnectivityFailure(ctx context.Context, siteID, trigger string, cause error) {
	reason := fmt.Sprintf("device API unreachable: %v", cause)
	row := &domain.SetpointLog{
		SiteID:       siteID,
		Trigger:      trigger,
		Phase:        "n/a",
		Source:       "connectivity",
		Pushed:       false,
		PushReason:   &reason,
		PushActions:  "[]",
		AnomalyFlags: "[]",
		CreatedAt:    e.now().UTC(),
	}
	if err := e.logs.Append(ctx, row); err != nil {
		e.logger.Error("failed to append connectivity audit row",
			zap.String("site_id", siteID), zap.Error(err))
	}
}

// atTarget reports whether the device already matches the desired state:
// mode, fan, and the setpoints relevant to the desired mode.
func atTarget(desired DesiredState, lastKnown *domain.ThermostatState) bool {
	if lastKnown == nil {
		return false
	}
	if lastKnown.HVACMode != desired.HVACMode {
		return false
	}
	if desired.FanMode != "" && lastKnown.FanMode != desired.FanMode {
		return false
	}

	switch desired.HVACMode {
	case "heat":
		return floatEq(lastKnown.HeatSetpointF, desired.HeatSetpointF)
	case "cool":
		return floatEq(lastKnown.CoolSetpointF, desired.CoolSetpointF)
	case "heat_cool":
		return floatEq(lastKnown.HeatSetpointF, desired.HeatSetpointF) &&
			floatEq(lastKnown.CoolSetpointF, desired.CoolSetpointF)
	case "off":
		return true
	}
	return false
}

// temperatureCommand maps the desired mode to the device temperature
// payload. Off needs no temperature command.
func temperatureCommand(desired DesiredState) (TemperatureCommand, string, bool) {
	switch desired.HVACMode {
	case "heat":
		v := desired.HeatSetpointF
		return TemperatureCommand{Setpoint: &v}, fmtTemp(v), true
	case "cool":
		v := desired.CoolSetpointF
		return TemperatureCommand{Setpoint: &v}, fmtTemp(v), true
	case "heat_cool":
		low, high := desired.HeatSetpointF, desired.CoolSetpointF
		return TemperatureCommand{Low: &low, High: &high}, fmtTemp(low) + "/" + fmtTemp(high), true
	}
	return TemperatureCommand{}, "", false
}

func directiveText(desired DesiredState, guardrail bool) string {
	var text string
	switch desired.HVACMode {
	case "heat":
		text = fmt.Sprintf("heat to %s°F", fmtTemp(desired.HeatSetpointF))
	case "cool":
		text = fmt.Sprintf("cool to %s°F", fmtTemp(desired.CoolSetpointF))
	case "heat_cool":
		text = fmt.Sprintf("hold %s-%s°F", fmtTemp(desired.HeatSetpointF), fmtTemp(desired.CoolSetpointF))
	default:
		text = desired.HVACMode
	}
	if guardrail {
		text += " (guardrail)"
	}
	return text
}

func currentTemperature(sample *sampler.Sample, lastKnown *domain.ThermostatState) *float64 {
	if sample != nil && sample.ZoneTempF != nil {
		return sample.ZoneTempF
	}
	if lastKnown != nil {
		return lastKnown.CurrentTempF
	}
	return nil
}

func waitSettle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func floatEq(have *float64, want float64) bool {
	return have != nil && math.Abs(*have-want) < 0.05
}

func fmtTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}
