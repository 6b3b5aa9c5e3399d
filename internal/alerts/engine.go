package alerts

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storeops-hvac/internal/domain"
	"storeops-hvac/internal/repository"
	"storeops-hvac/internal/sampler"
)

// Engine drives the per-(definition, target) state machine over both entry
// paths: realtime entity-change events and the periodic cron pass.
type Engine struct {
	alerts     repository.AlertsRepository
	zones      repository.ZonesRepository
	entities   repository.EntitiesRepository
	collector  *sampler.Collector
	dispatcher *Dispatcher
	logger     *zap.Logger

	now func() time.Time
}

// NewEngine creates an alert evaluation engine.
func NewEngine(
	alerts repository.AlertsRepository,
	zones repository.ZonesRepository,
	entities repository.EntitiesRepository,
	collector *sampler.Collector,
	dispatcher *Dispatcher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		alerts:     alerts,
		zones:      zones,
		entities:   entities,
		collector:  collector,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// RunCronPass evaluates every enabled definition against every resolved
// target, including realtime-eligible ones: a pending sustain window must
// keep elapsing even when no further change events arrive, and eval state
// plus the unique-active constraint make the re-evaluation idempotent.
// Per-definition and per-target failures are logged and skipped; the pass
// always runs to completion.
func (e *Engine) RunCronPass(ctx context.Context) {
	defs, err := e.alerts.ListEnabledDefinitions(ctx)
	if err != nil {
		e.logger.Error("failed to list alert definitions", zap.Error(err))
		return
	}

	samples := NewSampleCache(e.zones, e.collector)
	resolver := NewTargetResolver(e.zones, e.entities, samples, e.logger)

	for _, def := range defs {
		targets, err := resolver.ResolveTargets(ctx, def)
		if err != nil {
			e.logger.Error("failed to resolve alert targets",
				zap.String("definition_id", def.DefinitionID), zap.Error(err))
			continue
		}
		for _, target := range targets {
			obs, err := resolver.Observe(ctx, def, target)
			if err != nil {
				e.logger.Warn("failed to observe alert target",
					zap.String("definition_id", def.DefinitionID),
					zap.String("target_id", target.ID), zap.Error(err))
				continue
			}
			if err := e.EvaluateTarget(ctx, def, target, obs); err != nil {
				e.logger.Error("alert evaluation failed",
					zap.String("definition_id", def.DefinitionID),
					zap.String("target_id", target.ID), zap.Error(err))
			}
		}
	}
}

// HandleEntityChange is the realtime path: one entity's value changed.
// Only realtime-eligible entity-selector definitions evaluate here, for
// lower latency than the cron interval; the cron pass still sweeps them.
func (e *Engine) HandleEntityChange(ctx context.Context, entityID, value string) {
	defs, err := e.alerts.ListRealtimeDefinitionsForEntity(ctx, entityID)
	if err != nil {
		e.logger.Error("failed to list realtime definitions",
			zap.String("entity_id", entityID), zap.Error(err))
		return
	}

	obs := &Observation{Value: value}
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		obs.Numeric = &v
	}

	for _, def := range defs {
		if !def.RealtimeEligible() {
			continue
		}
		target := Target{ID: entityID, Label: entityID, EntityID: entityID}
		if err := e.EvaluateTarget(ctx, def, target, obs); err != nil {
			e.logger.Error("realtime alert evaluation failed",
				zap.String("definition_id", def.DefinitionID),
				zap.String("entity_id", entityID), zap.Error(err))
		}
	}
}

// EvaluateTarget runs one (definition, target) step: evaluate the
// condition, advance the idle/pending/fired state machine, and persist the
// updated eval state.
func (e *Engine) EvaluateTarget(ctx context.Context, def *domain.AlertDefinition, target Target, obs *Observation) error {
	now := e.now().UTC()

	state, err := e.alerts.GetEvalState(ctx, def.DefinitionID, target.ID)
	if err != nil {
		return err
	}
	if state == nil {
		// Created lazily on first evaluation.
		state = &domain.AlertEvalState{DefinitionID: def.DefinitionID, TargetID: target.ID}
	}

	result := EvaluateCondition(def, obs, state, now)

	if result.Met {
		if !state.ConditionMet || state.ConditionSince == nil {
			state.ConditionMet = true
			since := now
			state.ConditionSince = &since
		}
		sustained := now.Sub(*state.ConditionSince).Minutes() >= def.SustainMinutes
		switch {
		case !state.Fired && sustained:
			if err := e.fire(ctx, def, target, state, result.ReportedValue, now); err != nil {
				return err
			}
			state.Fired = true
		case state.Fired:
			e.updatePeak(ctx, def, target, result.ReportedValue)
		}
	} else {
		if state.Fired {
			if err := e.resolve(ctx, def, target, now); err != nil {
				return err
			}
		}
		state.ConditionMet = false
		state.ConditionSince = nil
		state.Fired = false
	}

	// Record the observed value after evaluation so changes_to sees the
	// previous value and stale measures from the last change, not the last
	// pass.
	if obs != nil {
		changed := state.LastValue == nil || *state.LastValue != obs.Value
		if changed {
			v := obs.Value
			state.LastValue = &v
			state.LastNumeric = obs.Numeric
			ts := now
			state.LastUpdatedAt = &ts
		}
	}
	if def.Condition == domain.ConditionRateOfChange {
		state.Window = result.Window
	}

	return e.alerts.UpsertEvalState(ctx, state)
}

// fire creates the instance row and dispatches fired notifications. A
// duplicate-active constraint race is a benign no-op.
func (e *Engine) fire(ctx context.Context, def *domain.AlertDefinition, target Target, state *domain.AlertEvalState, reportedValue string, now time.Time) error {
	firstDetected := now
	if state.ConditionSince != nil {
		firstDetected = *state.ConditionSince
	}

	instance := &domain.AlertInstance{
		InstanceID:      uuid.New().String(),
		DefinitionID:    def.DefinitionID,
		TargetID:        target.ID,
		TargetLabel:     target.Label,
		Status:          domain.InstanceActive,
		FirstDetectedAt: firstDetected,
		FiredAt:         now,
		TriggerValue:    &reportedValue,
		PeakValue:       &reportedValue,
		Context:         instanceContext(def, target),
	}

	created, err := e.alerts.CreateInstance(ctx, instance)
	if err != nil {
		return err
	}
	if !created {
		e.logger.Debug("active instance already exists, skipping duplicate fire",
			zap.String("definition_id", def.DefinitionID),
			zap.String("target_id", target.ID))
		return nil
	}

	e.logger.Info("alert fired",
		zap.String("definition_id", def.DefinitionID),
		zap.String("definition_name", def.Name),
		zap.String("target_id", target.ID),
		zap.String("value", reportedValue))

	e.dispatcher.DispatchFired(ctx, def, instance)
	return nil
}

func (e *Engine) resolve(ctx context.Context, def *domain.AlertDefinition, target Target, now time.Time) error {
	instance, err := e.alerts.GetActiveInstance(ctx, def.DefinitionID, target.ID)
	if err != nil {
		return err
	}
	if instance == nil {
		// Nothing to resolve; another invocation got there first.
		return nil
	}

	duration := int64(now.Sub(instance.FiredAt).Seconds())
	if err := e.alerts.ResolveInstance(ctx, instance.InstanceID, now, duration); err != nil {
		return err
	}

	e.logger.Info("alert resolved",
		zap.String("definition_id", def.DefinitionID),
		zap.String("target_id", target.ID),
		zap.Int64("duration_seconds", duration))

	instance.Status = domain.InstanceResolved
	instance.ResolvedAt = &now
	instance.DurationSeconds = &duration
	e.dispatcher.DispatchResolved(ctx, def, instance)
	return nil
}

// updatePeak keeps the instance's peak value current while fired: max for
// above_threshold, min for below_threshold, latest value otherwise.
func (e *Engine) updatePeak(ctx context.Context, def *domain.AlertDefinition, target Target, reportedValue string) {
	if reportedValue == "" {
		return
	}
	instance, err := e.alerts.GetActiveInstance(ctx, def.DefinitionID, target.ID)
	if err != nil || instance == nil {
		return
	}

	peak := reportedValue
	if instance.PeakValue != nil {
		prev, perr := strconv.ParseFloat(*instance.PeakValue, 64)
		cur, cerr := strconv.ParseFloat(reportedValue, 64)
		if perr == nil && cerr == nil {
			switch def.Condition {
			case domain.ConditionAboveThreshold:
				if prev >= cur {
					peak = *instance.PeakValue
				}
			case domain.ConditionBelowThreshold:
				if prev <= cur {
					peak = *instance.PeakValue
				}
			}
		}
	}
	if instance.PeakValue != nil && peak == *instance.PeakValue {
		return
	}
	if err := e.alerts.UpdateInstancePeak(ctx, instance.InstanceID, peak); err != nil {
		e.logger.Warn("failed to update instance peak",
			zap.String("instance_id", instance.InstanceID), zap.Error(err))
	}
}

// RunRepeatPass re-notifies subscribers of long-lived active instances,
// bounded by each subscription's max repeats and minimum interval.
func (e *Engine) RunRepeatPass(ctx context.Context) {
	instances, err := e.alerts.ListActiveInstances(ctx)
	if err != nil {
		e.logger.Error("failed to list active instances for repeat pass", zap.Error(err))
		return
	}
	for _, instance := range instances {
		def, err := e.alerts.GetDefinition(ctx, instance.DefinitionID)
		if err != nil || def == nil {
			continue
		}
		e.dispatcher.DispatchRepeats(ctx, def, instance)
	}
}

func instanceContext(def *domain.AlertDefinition, target Target) string {
	ctx := map[string]string{
		"definition_name": def.Name,
		"condition":       string(def.Condition),
		"target_label":    target.Label,
	}
	if target.ZoneID != "" {
		ctx["zone_id"] = target.ZoneID
	}
	if target.EquipmentID != "" {
		ctx["equipment_id"] = target.EquipmentID
	}
	if target.EntityID != "" {
		ctx["entity_id"] = target.EntityID
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return "{}"
	}
	return string(b)
}
