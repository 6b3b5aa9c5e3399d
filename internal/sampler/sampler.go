// Package sampler computes a zone's live state: weighted space-level
// telemetry aggregates, feels-like temperature, occupancy signal, and
// equipment anomaly flags.
package sampler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storeops-hvac/internal/domain"
	"storeops-hvac/internal/repository"
)

// DataSource tags where a sampled value came from, for observability.
type DataSource string

const (
	SourceSpaces     DataSource = "spaces"
	SourceThermostat DataSource = "thermostat"
	SourceNone       DataSource = "none"
)

// FreshnessWindow is how recent a sensor reading must be to contribute to
// an aggregate.
const FreshnessWindow = 30 * time.Minute

// Sample is one zone's live state snapshot. Nil values mean unknown, so
// dependent logic skips them rather than reading zero.
type Sample struct {
	ZoneTempF      *float64
	ZoneHumidity   *float64
	FeelsLikeTempF *float64
	TempSource     DataSource

	// OccupancyAdj is −1 when motion/occupancy sensors exist and none are
	// active, else 0. Callers clamp it against the profile cap.
	OccupancyAdj float64

	SupplyTempF  *float64
	ReturnTempF  *float64
	CompressorOn *bool

	Anomalies AnomalyReport
}

// Collector gathers the telemetry a sample needs and runs the pure
// computations. Lookup tables are built per call; nothing is cached across
// invocations.
type Collector struct {
	entities repository.EntitiesRepository
	logs     repository.SetpointLogsRepository
	logger   *zap.Logger
}

// NewCollector creates a sample collector.
func NewCollector(entities repository.EntitiesRepository, logs repository.SetpointLogsRepository, logger *zap.Logger) *Collector {
	return &Collector{entities: entities, logs: logs, logger: logger}
}

// Sample reads live telemetry for one zone. thermostat is the device's
// last-known state, used as the aggregation fallback; it may be nil.
func (c *Collector) Sample(ctx context.Context, zone *domain.Zone, thermostat *domain.ThermostatState) (*Sample, error) {
	now := time.Now().UTC()

	spaces, err := c.entities.ListSpacesForEquipment(ctx, zone.EquipmentID)
	if err != nil {
		return nil, err
	}

	spaceIDs := make([]string, 0, len(spaces))
	for _, sp := range spaces {
		spaceIDs = append(spaceIDs, sp.SpaceID)
	}

	sensors, err := c.entities.ListSensorsBySpaces(ctx, spaceIDs)
	if err != nil {
		return nil, err
	}

	sample := &Sample{TempSource: SourceNone}

	sample.ZoneTempF = AggregateZoneValue(spaces, sensors, domain.RoleTemperature, now)
	sample.ZoneHumidity = AggregateZoneValue(spaces, sensors, domain.RoleHumidity, now)
	if sample.ZoneTempF != nil {
		sample.TempSource = SourceSpaces
	} else if thermostat != nil && thermostat.CurrentTempF != nil {
		sample.ZoneTempF = thermostat.CurrentTempF
		sample.ZoneHumidity = thermostat.CurrentHumidity
		sample.TempSource = SourceThermostat
		c.logger.Debug("no space sensors resolved, using thermostat telemetry",
			zap.String("zone_id", zone.ZoneID),
		)
	}

	if sample.ZoneTempF != nil {
		fl := FeelsLike(*sample.ZoneTempF, sample.ZoneHumidity)
		sample.FeelsLikeTempF = &fl
	}

	sample.OccupancyAdj = OccupancySignal(sensors)

	// Equipment-scoped telemetry for anomaly detection.
	equipSensors, err := c.entities.ListSensorsForEquipment(ctx, zone.EquipmentID)
	if err != nil {
		return nil, err
	}
	for _, e := range equipSensors {
		if e.LastSeenAt == nil || now.Sub(*e.LastSeenAt) > FreshnessWindow {
			continue
		}
		switch e.Role {
		case domain.RoleSupplyTemp:
			if v, ok := e.NumericValue(); ok {
				sample.SupplyTempF = &v
			}
		case domain.RoleReturnTemp:
			if v, ok := e.NumericValue(); ok {
				sample.ReturnTempF = &v
			}
		case domain.RoleCompressor:
			on := e.IsActive()
			sample.CompressorOn = &on
		}
	}

	history, err := c.logs.ListSince(ctx, zone.ZoneID, now.Add(-2*time.Hour))
	if err != nil {
		return nil, err
	}

	thresholds := ThresholdsFor(zone)
	sample.Anomalies = DetectAnomalies(sample, history, thresholds, now)

	return sample, nil
}

// AggregateZoneValue computes the zone-level weighted average for one
// sensor role: a weighted average per space across its fresh non-null
// sensors, then a weighted average across spaces by zone-weight. Returns
// nil when no sensor resolves.
func AggregateZoneValue(spaces []*domain.Space, sensors []*domain.SensorEntity, role domain.SensorRole, now time.Time) *float64 {
	bySpace := make(map[string][]*domain.SensorEntity, len(spaces))
	for _, e := range sensors {
		if e.Role != role || e.SpaceID == nil {
			continue
		}
		if e.LastSeenAt == nil || now.Sub(*e.LastSeenAt) > FreshnessWindow {
			continue
		}
		bySpace[*e.SpaceID] = append(bySpace[*e.SpaceID], e)
	}

	var weightedSum, weightTotal float64
	for _, sp := range spaces {
		avg := spaceAverage(bySpace[sp.SpaceID])
		if avg == nil {
			continue
		}
		w := sp.EffectiveZoneWeight()
		weightedSum += *avg * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return nil
	}
	v := weightedSum / weightTotal
	return &v
}

// spaceAverage is the per-sensor weighted average within one space.
func spaceAverage(sensors []*domain.SensorEntity) *float64 {
	var weightedSum, weightTotal float64
	for _, e := range sensors {
		v, ok := e.NumericValue()
		if !ok {
			continue
		}
		w := e.EffectiveWeight()
		weightedSum += v * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return nil
	}
	avg := weightedSum / weightTotal
	return &avg
}

// OccupancySignal returns −1 when motion/occupancy sensors exist in the
// served spaces and none report active, else 0. A zone with no such
// sensors yields 0: no signal, no adjustment.
func OccupancySignal(sensors []*domain.SensorEntity) float64 {
	present := false
	for _, e := range sensors {
		if e.Role != domain.RoleMotion && e.Role != domain.RoleOccupancy {
			continue
		}
		present = true
		if e.IsActive() {
			return 0
		}
	}
	if present {
		return -1
	}
	return 0
}
