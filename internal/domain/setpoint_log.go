package domain

import "time"

// SetpointLog is one append-only audit row per zone per push cycle. It is
// also read backward over trailing windows to detect cycling anomalies.
type SetpointLog struct {
	LogID   string `db:"log_id"`
	ZoneID  string `db:"zone_id"`
	SiteID  string `db:"site_id"`
	Trigger string `db:"trigger"` // free-form scheduler label, e.g. "cron-5min"
	Phase   string `db:"phase"`

	// Telemetry snapshot at evaluation time.
	ZoneTempF    *float64 `db:"zone_temp_f"`
	ZoneHumidity *float64 `db:"zone_humidity"`
	SupplyTempF  *float64 `db:"supply_temp_f"`
	ReturnTempF  *float64 `db:"return_temp_f"`
	CompressorOn *bool    `db:"compressor_on"`

	// Resolved base values and each adjustment component.
	BaseHeatF      *float64 `db:"base_heat_f"`
	BaseCoolF      *float64 `db:"base_cool_f"`
	Source         string   `db:"source"`
	FeelsLikeAdjF  float64  `db:"feels_like_adj_f"`
	SmartStartAdjF float64  `db:"smart_start_adj_f"`
	OccupancyAdjF  float64  `db:"occupancy_adj_f"`
	ManagerAdjF    float64  `db:"manager_adj_f"`
	TargetHeatF    *float64 `db:"target_heat_f"`
	TargetCoolF    *float64 `db:"target_cool_f"`

	// Push outcome.
	Pushed             bool    `db:"pushed"`
	PushReason         *string `db:"push_reason"`
	PushActions        string  `db:"push_actions"` // JSON array of action strings
	GuardrailTriggered bool    `db:"guardrail_triggered"`

	AnomalyFlags string `db:"anomaly_flags"` // JSON array of flag keys

	EntityID  string    `db:"entity_id"`
	CreatedAt time.Time `db:"created_at"`
}
