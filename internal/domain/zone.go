package domain

import (
	"encoding/json"
	"time"
)

// Zone is one controllable HVAC unit: one thermostat, one equipment unit,
// one or more served spaces.
type Zone struct {
	ZoneID             string  `db:"zone_id"`
	SiteID             string  `db:"site_id"`
	ZoneName           string  `db:"zone_name"`
	EquipmentID        string  `db:"equipment_id"`
	ThermostatEntityID string  `db:"thermostat_entity_id"`
	ProfileID          *string `db:"profile_id"` // nullable
	// IsOverride forces the zone's own stored setpoints even when a
	// profile is linked.
	IsOverride bool `db:"is_override"`

	// Per-phase override setpoints and modes. Used when no profile is
	// linked, or when IsOverride is set.
	OccupiedHeatF   *float64 `db:"occupied_heat_f"`
	OccupiedCoolF   *float64 `db:"occupied_cool_f"`
	UnoccupiedHeatF *float64 `db:"unoccupied_heat_f"`
	UnoccupiedCoolF *float64 `db:"unoccupied_cool_f"`
	OccupiedMode    *string  `db:"occupied_hvac_mode"`
	OccupiedFan     *string  `db:"occupied_fan_mode"`
	UnoccupiedMode  *string  `db:"unoccupied_hvac_mode"`
	UnoccupiedFan   *string  `db:"unoccupied_fan_mode"`

	// Guardrails always come from the zone record, never from a profile.
	GuardrailMinF float64 `db:"guardrail_min_f"`
	GuardrailMaxF float64 `db:"guardrail_max_f"`

	// ManagerOffsetMaxF bounds the manager-deviation adjustment.
	ManagerOffsetMaxF float64 `db:"manager_offset_max_f"`

	// AnomalyOverrides holds per-zone anomaly threshold overrides (JSONB).
	AnomalyOverrides *AnomalyThresholdOverrides `db:"anomaly_overrides"`

	// LastKnownState is the thermostat state persisted after the most
	// recent read-back (JSONB). Source of truth for the idempotence check.
	LastKnownState *ThermostatState `db:"last_known_state"`
	LastDirective  *string          `db:"last_directive"`
}

// AnomalyThresholdOverrides is the closed shape of the zone's
// anomaly_overrides JSONB column. Nil fields fall back to package defaults.
type AnomalyThresholdOverrides struct {
	CoilFreezeSupplyF     *float64 `json:"coil_freeze_supply_f,omitempty"`
	FilterRestrictDeltaTF *float64 `json:"filter_restrict_delta_t_f,omitempty"`
	RefrigerantLowDeltaTF *float64 `json:"refrigerant_low_delta_t_f,omitempty"`
	ShortCycleCount       *int     `json:"short_cycle_count,omitempty"`
	LongCycleMinutes      *float64 `json:"long_cycle_minutes,omitempty"`
	IdleHeatGainF         *float64 `json:"idle_heat_gain_f,omitempty"`
	DelayedResponseF      *float64 `json:"delayed_response_f,omitempty"`
	DelayedResponseMin    *float64 `json:"delayed_response_minutes,omitempty"`
}

// ThermostatState is the device-reported state snapshot (JSONB on the zone
// record, and the shape returned by the device API).
type ThermostatState struct {
	HVACMode        string     `json:"hvac_mode"`
	FanMode         string     `json:"fan_mode"`
	CurrentTempF    *float64   `json:"current_temp_f,omitempty"`
	CurrentHumidity *float64   `json:"current_humidity,omitempty"`
	HeatSetpointF   *float64   `json:"heat_setpoint_f,omitempty"`
	CoolSetpointF   *float64   `json:"cool_setpoint_f,omitempty"`
	TargetTempF     *float64   `json:"target_temp_f,omitempty"`
	HVACAction      *string    `json:"hvac_action,omitempty"`
	ObservedAt      *time.Time `json:"observed_at,omitempty"`
}

// MarshalState serializes a thermostat state for the zone's JSONB column.
func MarshalState(s *ThermostatState) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Equipment is the HVAC equipment unit a zone controls.
type Equipment struct {
	EquipmentID   string `db:"equipment_id"`
	SiteID        string `db:"site_id"`
	EquipmentName string `db:"equipment_name"`
	EquipmentType string `db:"equipment_type"` // rtu, split, heat_pump, ...
}
