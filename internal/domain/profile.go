package domain

// Profile is a named, reusable bundle of phase setpoints, modes and
// adjustment-feature toggles. Many zones may reference one profile.
type Profile struct {
	ProfileID   string `db:"profile_id"`
	OrgID       string `db:"org_id"`
	ProfileName string `db:"profile_name"`
	// IsGlobal marks a profile shared across organizations.
	IsGlobal bool `db:"is_global"`

	OccupiedHeatF   *float64 `db:"occupied_heat_f"`
	OccupiedCoolF   *float64 `db:"occupied_cool_f"`
	UnoccupiedHeatF *float64 `db:"unoccupied_heat_f"`
	UnoccupiedCoolF *float64 `db:"unoccupied_cool_f"`
	OccupiedMode    *string  `db:"occupied_hvac_mode"`
	OccupiedFan     *string  `db:"occupied_fan_mode"`
	UnoccupiedMode  *string  `db:"unoccupied_hvac_mode"`
	UnoccupiedFan   *string  `db:"unoccupied_fan_mode"`

	Features ProfileFeatures `db:"features"` // JSONB
}

// ProfileFeatures is the closed shape of the profile's features JSONB
// column: per-adjustment enablement and caps.
type ProfileFeatures struct {
	FeelsLikeEnabled bool    `json:"feels_like_enabled"`
	FeelsLikeMaxF    float64 `json:"feels_like_max_f"`

	SmartStartEnabled     bool    `json:"smart_start_enabled"`
	SmartStartMaxF        float64 `json:"smart_start_max_f"`
	SmartStartLeadMinutes int     `json:"smart_start_lead_minutes"`

	OccupancyEnabled bool    `json:"occupancy_enabled"`
	OccupancyMaxF    float64 `json:"occupancy_max_f"`

	ManagerMaxF float64 `json:"manager_max_f"`
}

// DefaultProfileFeatures returns the documented defaults applied when a
// profile's features column is empty or a field is zero-valued.
func DefaultProfileFeatures() ProfileFeatures {
	return ProfileFeatures{
		FeelsLikeEnabled:      false,
		FeelsLikeMaxF:         3,
		SmartStartEnabled:     false,
		SmartStartMaxF:        2,
		SmartStartLeadMinutes: 60,
		OccupancyEnabled:      false,
		OccupancyMaxF:         2,
		ManagerMaxF:           4,
	}
}

// Normalize fills zero-valued caps with defaults. Validation happens at the
// persistence boundary; business logic sees a complete struct.
func (f ProfileFeatures) Normalize() ProfileFeatures {
	d := DefaultProfileFeatures()
	if f.FeelsLikeMaxF <= 0 {
		f.FeelsLikeMaxF = d.FeelsLikeMaxF
	}
	if f.SmartStartMaxF <= 0 {
		f.SmartStartMaxF = d.SmartStartMaxF
	}
	if f.SmartStartLeadMinutes <= 0 {
		f.SmartStartLeadMinutes = d.SmartStartLeadMinutes
	}
	if f.OccupancyMaxF <= 0 {
		f.OccupancyMaxF = d.OccupancyMaxF
	}
	if f.ManagerMaxF <= 0 {
		f.ManagerMaxF = d.ManagerMaxF
	}
	return f
}
