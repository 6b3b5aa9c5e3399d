package domain

import (
	"strconv"
	"strings"
	"time"
)

// SensorRole is the explicit, enumerated purpose of a sensor entity.
// Roles are assigned at the data-model boundary; nothing in the core
// derives a sensor's purpose from its label.
type SensorRole string

const (
	RoleTemperature SensorRole = "temperature"
	RoleHumidity    SensorRole = "humidity"
	RoleMotion      SensorRole = "motion"
	RoleOccupancy   SensorRole = "occupancy"
	RoleSupplyTemp  SensorRole = "supply_temp"
	RoleReturnTemp  SensorRole = "return_temp"
	RoleCompressor  SensorRole = "compressor"
)

// Space is a physical area served by a zone's equipment. ZoneWeight is the
// space's contribution to zone-level averages; the UI surfaces weight-sum
// violations but does not hard-enforce them.
type Space struct {
	SpaceID    string   `db:"space_id"`
	SiteID     string   `db:"site_id"`
	SpaceName  string   `db:"space_name"`
	ZoneWeight *float64 `db:"zone_weight"` // nil means 1.0
}

// SensorEntity is one row of the entity-value table: a sensor's last known
// value and freshness timestamp. The core reads these; the ingest bridge is
// the only writer.
type SensorEntity struct {
	EntityID    string     `db:"entity_id"`
	SpaceID     *string    `db:"space_id"`
	EquipmentID *string    `db:"equipment_id"`
	Role        SensorRole `db:"role"`
	Weight      *float64   `db:"weight"` // nil means 1.0
	LastValue   *string    `db:"last_value"`
	LastSeenAt  *time.Time `db:"last_seen_at"`
}

// NumericValue parses the entity's last value as a float. The second return
// is false for nil, empty, or non-numeric values.
func (e *SensorEntity) NumericValue() (float64, bool) {
	if e.LastValue == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*e.LastValue), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsActive reports whether a motion/occupancy entity currently reports an
// active state. Matching is case-insensitive.
func (e *SensorEntity) IsActive() bool {
	if e.LastValue == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(*e.LastValue)) {
	case "on", "true", "1", "detected":
		return true
	}
	return false
}

// EffectiveWeight returns the sensor's averaging weight, defaulting to 1.0.
func (e *SensorEntity) EffectiveWeight() float64 {
	if e.Weight == nil || *e.Weight <= 0 {
		return 1.0
	}
	return *e.Weight
}

// EffectiveZoneWeight returns the space's zone-level weight, defaulting to 1.0.
func (s *Space) EffectiveZoneWeight() float64 {
	if s.ZoneWeight == nil || *s.ZoneWeight <= 0 {
		return 1.0
	}
	return *s.ZoneWeight
}
