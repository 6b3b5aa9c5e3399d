package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storeops-hvac/internal/domain"
	"storeops-hvac/internal/repository"
	"storeops-hvac/internal/sampler"
)

// Target is one concrete instance a definition applies to after selector
// and scope resolution. ID keys the eval-state row.
type Target struct {
	ID    string
	Label string

	SiteID      string
	EquipmentID string
	ZoneID      string
	EntityID    string
}

// Zone-level derived metrics a zone_metric definition can watch.
const (
	MetricZoneTempF      = "zone_temp_f"
	MetricZoneHumidity   = "zone_humidity"
	MetricFeelsLikeTempF = "feels_like_temp_f"
)

// TargetResolver expands a definition's selector into concrete targets and
// derives each target's current value for the cron path.
type TargetResolver struct {
	zones    repository.ZonesRepository
	entities repository.EntitiesRepository
	samples  *SampleCache
	logger   *zap.Logger
}

// NewTargetResolver creates a target resolver.
func NewTargetResolver(zones repository.ZonesRepository, entities repository.EntitiesRepository, samples *SampleCache, logger *zap.Logger) *TargetResolver {
	return &TargetResolver{zones: zones, entities: entities, samples: samples, logger: logger}
}

// ResolveTargets expands one definition. An entity selector yields exactly
// one target; equipment-role selectors yield one per matching unit with a
// sensor of that role; zone-metric and anomaly-flag selectors yield one per
// zone in scope.
func (r *TargetResolver) ResolveTargets(ctx context.Context, def *domain.AlertDefinition) ([]Target, error) {
	switch def.TargetKind {
	case domain.TargetEntity:
		return r.resolveEntity(ctx, def)
	case domain.TargetEquipmentRole:
		return r.resolveEquipmentRole(ctx, def)
	case domain.TargetZoneMetric, domain.TargetAnomalyFlag:
		return r.resolveZones(ctx, def)
	}
	return nil, fmt.Errorf("unknown target kind %q", def.TargetKind)
}

func (r *TargetResolver) resolveEntity(ctx context.Context, def *domain.AlertDefinition) ([]Target, error) {
	if def.EntityID == nil {
		return nil, nil
	}
	entity, err := r.entities.GetEntity(ctx, *def.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entity target: %w", err)
	}
	if entity == nil {
		return nil, nil
	}
	t := Target{ID: entity.EntityID, Label: entity.EntityID, EntityID: entity.EntityID}
	if entity.EquipmentID != nil {
		t.EquipmentID = *entity.EquipmentID
	}
	return []Target{t}, nil
}

func (r *TargetResolver) resolveEquipmentRole(ctx context.Context, def *domain.AlertDefinition) ([]Target, error) {
	if def.EquipmentType == nil || def.SensorRole == nil {
		return nil, nil
	}
	units, err := r.zones.ListEquipmentByType(ctx, *def.EquipmentType)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment for target resolution: %w", err)
	}

	var targets []Target
	for _, unit := range units {
		if !def.Scope.Allows(unit.SiteID, unit.EquipmentID, "") {
			continue
		}
		sensors, err := r.entities.ListSensorsForEquipment(ctx, unit.EquipmentID)
		if err != nil {
			r.logger.Warn("failed to list equipment sensors",
				zap.String("equipment_id", unit.EquipmentID), zap.Error(err))
			continue
		}
		for _, sensor := range sensors {
			if sensor.Role != *def.SensorRole {
				continue
			}
			targets = append(targets, Target{
				ID:          unit.EquipmentID + ":" + string(sensor.Role),
				Label:       unit.EquipmentName + " " + string(sensor.Role),
				SiteID:      unit.SiteID,
				EquipmentID: unit.EquipmentID,
				EntityID:    sensor.EntityID,
			})
			break
		}
	}
	return targets, nil
}

func (r *TargetResolver) resolveZones(ctx context.Context, def *domain.AlertDefinition) ([]Target, error) {
	if def.Metric == nil {
		return nil, nil
	}
	zones, err := r.zones.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones for target resolution: %w", err)
	}

	var targets []Target
	for _, zone := range zones {
		if !def.Scope.Allows(zone.SiteID, zone.EquipmentID, zone.ZoneID) {
			continue
		}
		targets = append(targets, Target{
			ID:          zone.ZoneID + ":" + *def.Metric,
			Label:       zone.ZoneName + " " + *def.Metric,
			SiteID:      zone.SiteID,
			EquipmentID: zone.EquipmentID,
			ZoneID:      zone.ZoneID,
		})
	}
	return targets, nil
}

// Observe derives a target's current value. Nil means "cannot evaluate":
// no reading, no sample, or the flag could not be computed.
func (r *TargetResolver) Observe(ctx context.Context, def *domain.AlertDefinition, target Target) (*Observation, error) {
	switch def.TargetKind {
	case domain.TargetEntity, domain.TargetEquipmentRole:
		return r.observeEntity(ctx, target.EntityID)
	case domain.TargetZoneMetric:
		return r.observeZoneMetric(ctx, target.ZoneID, *def.Metric)
	case domain.TargetAnomalyFlag:
		return r.observeAnomalyFlag(ctx, target.ZoneID, *def.Metric)
	}
	return nil, nil
}

func (r *TargetResolver) observeEntity(ctx context.Context, entityID string) (*Observation, error) {
	entity, err := r.entities.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity value: %w", err)
	}
	if entity == nil || entity.LastValue == nil {
		return nil, nil
	}
	obs := &Observation{Value: *entity.LastValue}
	if v, ok := entity.NumericValue(); ok {
		obs.Numeric = &v
	}
	return obs, nil
}

func (r *TargetResolver) observeZoneMetric(ctx context.Context, zoneID, metric string) (*Observation, error) {
	sample, err := r.samples.Get(ctx, zoneID)
	if err != nil || sample == nil {
		return nil, err
	}
	var v *float64
	switch metric {
	case MetricZoneTempF:
		v = sample.ZoneTempF
	case MetricZoneHumidity:
		v = sample.ZoneHumidity
	case MetricFeelsLikeTempF:
		v = sample.FeelsLikeTempF
	}
	if v == nil {
		return nil, nil
	}
	return &Observation{Value: fmtFloat(*v), Numeric: v}, nil
}

func (r *TargetResolver) observeAnomalyFlag(ctx context.Context, zoneID, flag string) (*Observation, error) {
	sample, err := r.samples.Get(ctx, zoneID)
	if err != nil || sample == nil {
		return nil, err
	}
	state := sample.Anomalies.Flag(flag)
	if state == nil {
		return nil, nil
	}
	value := "false"
	if *state {
		value = "true"
	}
	return &Observation{Value: value}, nil
}

// SampleCache samples each zone at most once per evaluation pass. Not safe
// for concurrent use; each cron pass builds its own.
type SampleCache struct {
	zones     repository.ZonesRepository
	collector *sampler.Collector
	cache     map[string]*sampler.Sample
}

// NewSampleCache creates an empty per-pass cache.
func NewSampleCache(zones repository.ZonesRepository, collector *sampler.Collector) *SampleCache {
	return &SampleCache{zones: zones, collector: collector, cache: make(map[string]*sampler.Sample)}
}

// Get returns the zone's sample, computing it on first use.
func (c *SampleCache) Get(ctx context.Context, zoneID string) (*sampler.Sample, error) {
	if sample, ok := c.cache[zoneID]; ok {
		return sample, nil
	}
	zone, err := c.zones.GetZone(ctx, zoneID)
	if err != nil || zone == nil {
		return nil, err
	}
	sample, err := c.collector.Sample(ctx, zone, zone.LastKnownState)
	if err != nil {
		return nil, err
	}
	c.cache[zoneID] = sample
	return sample, nil
}
