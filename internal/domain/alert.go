package domain

import "time"

// ConditionType enumerates alert condition kinds.
type ConditionType string

const (
	ConditionAboveThreshold ConditionType = "above_threshold"
	ConditionBelowThreshold ConditionType = "below_threshold"
	ConditionChangesTo      ConditionType = "changes_to"
	ConditionStale          ConditionType = "stale"
	ConditionRateOfChange   ConditionType = "rate_of_change"
)

// EvalPath declares where a definition is evaluated.
type EvalPath string

const (
	EvalRealtime EvalPath = "realtime"
	EvalCron     EvalPath = "cron"
	EvalAuto     EvalPath = "auto"
)

// TargetKind is the selector class of an alert definition.
type TargetKind string

const (
	TargetEntity        TargetKind = "entity"
	TargetEquipmentRole TargetKind = "equipment_role"
	TargetZoneMetric    TargetKind = "zone_metric"
	TargetAnomalyFlag   TargetKind = "anomaly_flag"
)

// Alert instance statuses.
const (
	InstanceActive   = "active"
	InstanceResolved = "resolved"
)

// Notification types and statuses.
const (
	NotifyFired    = "fired"
	NotifyRepeat   = "repeat"
	NotifyResolved = "resolved"

	NotifyPending = "pending"
	NotifyFailed  = "failed"

	ChannelDashboard = "dashboard"
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
)

// ScopeFilter restricts a definition to a set of sites, equipment, or zones.
// Mode "all" is unscoped; "include" limits to the listed ids; "exclude"
// removes them.
type ScopeFilter struct {
	Mode         string   `json:"mode"` // all, include, exclude
	SiteIDs      []string `json:"site_ids,omitempty"`
	EquipmentIDs []string `json:"equipment_ids,omitempty"`
	ZoneIDs      []string `json:"zone_ids,omitempty"`
}

// Allows reports whether a target with the given ids passes the filter.
func (s ScopeFilter) Allows(siteID, equipmentID, zoneID string) bool {
	switch s.Mode {
	case "include":
		return s.contains(siteID, equipmentID, zoneID)
	case "exclude":
		return !s.contains(siteID, equipmentID, zoneID)
	}
	return true
}

func (s ScopeFilter) contains(siteID, equipmentID, zoneID string) bool {
	for _, id := range s.SiteIDs {
		if id != "" && id == siteID {
			return true
		}
	}
	for _, id := range s.EquipmentIDs {
		if id != "" && id == equipmentID {
			return true
		}
	}
	for _, id := range s.ZoneIDs {
		if id != "" && id == zoneID {
			return true
		}
	}
	return false
}

// AlertDefinition is one configurable rule (alert_definitions table).
type AlertDefinition struct {
	DefinitionID string `db:"definition_id"`
	OrgID        string `db:"org_id"`
	Name         string `db:"name"`
	Enabled      bool   `db:"enabled"`
	Severity     string `db:"severity"` // info, warning, critical

	TargetKind    TargetKind  `db:"target_kind"`
	EntityID      *string     `db:"entity_id"`      // entity selector
	EquipmentType *string     `db:"equipment_type"` // equipment_role selector
	SensorRole    *SensorRole `db:"sensor_role"`
	Metric        *string     `db:"metric"` // zone_metric / anomaly_flag key

	Condition       ConditionType `db:"condition"`
	ThresholdValue  *float64      `db:"threshold_value"`
	TargetValue     *string       `db:"target_value"`
	TargetValueType *string       `db:"target_value_type"` // string, numeric, boolean
	StaleMinutes    *float64      `db:"stale_minutes"`
	DeltaValue      *float64      `db:"delta_value"`
	DeltaDirection  *string       `db:"delta_direction"` // increase, decrease
	WindowMinutes   *float64      `db:"window_minutes"`

	SustainMinutes float64     `db:"sustain_minutes"`
	EvalPath       EvalPath    `db:"eval_path"`
	Scope          ScopeFilter `db:"scope"` // JSONB
}

// RealtimeEligible reports whether the definition also evaluates on the
// realtime change-event path. Auto routes threshold and changes_to sensor
// conditions realtime; staleness and derived metrics are cron-only. The
// cron pass sweeps every enabled definition regardless.
func (d *AlertDefinition) RealtimeEligible() bool {
	switch d.EvalPath {
	case EvalRealtime:
		return true
	case EvalCron:
		return false
	}
	if d.TargetKind == TargetZoneMetric || d.TargetKind == TargetAnomalyFlag {
		return false
	}
	switch d.Condition {
	case ConditionAboveThreshold, ConditionBelowThreshold, ConditionChangesTo:
		return true
	}
	return false
}

// WindowPoint is one timestamped sample in a rate-of-change rolling window.
type WindowPoint struct {
	T time.Time `json:"t"`
	V float64   `json:"v"`
}

// AlertEvalState is the per-(definition, target) evaluation row, created
// lazily on first evaluation.
type AlertEvalState struct {
	DefinitionID   string        `db:"definition_id"`
	TargetID       string        `db:"target_id"`
	LastValue      *string       `db:"last_value"`
	LastNumeric    *float64      `db:"last_numeric"`
	LastUpdatedAt  *time.Time    `db:"last_updated_at"`
	ConditionMet   bool          `db:"condition_met"`
	ConditionSince *time.Time    `db:"condition_since"`
	Fired          bool          `db:"fired"`
	Window         []WindowPoint `db:"roc_window"` // JSONB, rate_of_change only
}

// AlertInstance is one firing episode. At most one active instance may
// exist per (definition, target); the unique constraint enforces it.
type AlertInstance struct {
	InstanceID      string     `db:"instance_id"`
	DefinitionID    string     `db:"definition_id"`
	TargetID        string     `db:"target_id"`
	TargetLabel     string     `db:"target_label"`
	Status          string     `db:"status"`
	FirstDetectedAt time.Time  `db:"first_detected_at"`
	FiredAt         time.Time  `db:"fired_at"`
	ResolvedAt      *time.Time `db:"resolved_at"`
	TriggerValue    *string    `db:"trigger_value"`
	PeakValue       *string    `db:"peak_value"`
	Context         string     `db:"context"` // JSONB free-form snapshot
	DurationSeconds *int64     `db:"duration_seconds"`
}

// AlertSubscription routes a definition's instances to one recipient.
type AlertSubscription struct {
	SubscriptionID string `db:"subscription_id"`
	DefinitionID   string `db:"definition_id"`
	UserID         string `db:"user_id"`
	Enabled        bool   `db:"enabled"`

	DashboardEnabled bool    `db:"dashboard_enabled"`
	EmailEnabled     bool    `db:"email_enabled"`
	SMSEnabled       bool    `db:"sms_enabled"`
	EmailAddress     *string `db:"email_address"`
	PhoneNumber      *string `db:"phone_number"`

	// Quiet hours in the subscriber's timezone, "HH:MM". The window may
	// wrap midnight.
	QuietHoursStart *string `db:"quiet_hours_start"`
	QuietHoursEnd   *string `db:"quiet_hours_end"`
	Timezone        string  `db:"timezone"`

	SendResolved          bool `db:"send_resolved"`
	MaxRepeats            int  `db:"max_repeats"`
	RepeatIntervalMinutes int  `db:"repeat_interval_minutes"`
}

// Notification is one delivery attempt row. Append-only; the delivery
// worker owns status transitions after enqueue.
type Notification struct {
	NotificationID string    `db:"notification_id"`
	InstanceID     string    `db:"instance_id"`
	SubscriptionID *string   `db:"subscription_id"` // nil for the fallback dashboard row
	Type           string    `db:"type"`
	Channel        string    `db:"channel"`
	Status         string    `db:"status"`
	Recipient      *string   `db:"recipient"`
	Title          string    `db:"title"`
	Message        string    `db:"message"`
	Severity       string    `db:"severity"`
	Sequence       int       `db:"sequence"`
	CreatedAt      time.Time `db:"created_at"`
}
