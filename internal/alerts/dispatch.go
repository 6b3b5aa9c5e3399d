package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storeops-hvac/internal/domain"
	"storeops-hvac/internal/repository"
)

// Dispatcher fans alert lifecycle events out to notification rows. It only
// enqueues; the delivery worker owns transmission and status updates.
type Dispatcher struct {
	alerts repository.AlertsRepository
	subs   repository.SubscriptionsRepository
	logger *zap.Logger

	now func() time.Time
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(alerts repository.AlertsRepository, subs repository.SubscriptionsRepository, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{alerts: alerts, subs: subs, logger: logger, now: time.Now}
}

// DispatchFired enqueues fired notifications for every enabled
// subscription channel. When no subscription produces any row, a fallback
// dashboard notification is written so the firing is never silent.
func (d *Dispatcher) DispatchFired(ctx context.Context, def *domain.AlertDefinition, instance *domain.AlertInstance) {
	now := d.now().UTC()
	title, message := renderFired(def, instance)

	written := 0
	for _, sub := range d.listSubscriptions(ctx, def.DefinitionID) {
		written += d.enqueueForSubscription(ctx, sub, instance, domain.NotifyFired, title, message, def.Severity, 0, now)
	}
	if written == 0 {
		d.enqueueFallbackDashboard(ctx, instance, domain.NotifyFired, title, message, def.Severity, now)
	}
}

// DispatchResolved notifies subscribers that opted into resolution
// notices.
func (d *Dispatcher) DispatchResolved(ctx context.Context, def *domain.AlertDefinition, instance *domain.AlertInstance) {
	now := d.now().UTC()
	title, message := renderResolved(def, instance)

	for _, sub := range d.listSubscriptions(ctx, def.DefinitionID) {
		if !sub.SendResolved {
			continue
		}
		d.enqueueForSubscription(ctx, sub, instance, domain.NotifyResolved, title, message, def.Severity, 0, now)
	}
}

// DispatchRepeats re-notifies each subscription about a still-active
// instance, honoring its max-repeats ceiling and minimum interval since
// the last fired or repeat row.
func (d *Dispatcher) DispatchRepeats(ctx context.Context, def *domain.AlertDefinition, instance *domain.AlertInstance) {
	now := d.now().UTC()
	title, message := renderFired(def, instance)

	for _, sub := range d.listSubscriptions(ctx, def.DefinitionID) {
		if sub.MaxRepeats <= 0 {
			continue
		}
		count, lastAt, err := d.alerts.RepeatStats(ctx, instance.InstanceID, sub.SubscriptionID)
		if err != nil {
			d.logger.Warn("failed to read repeat stats",
				zap.String("instance_id", instance.InstanceID), zap.Error(err))
			continue
		}
		if count >= sub.MaxRepeats {
			continue
		}
		interval := time.Duration(sub.RepeatIntervalMinutes) * time.Minute
		if lastAt != nil && now.Sub(*lastAt) < interval {
			continue
		}
		d.enqueueForSubscription(ctx, sub, instance, domain.NotifyRepeat, title, message, def.Severity, count+1, now)
	}
}

// enqueueForSubscription writes one row per enabled channel and returns
// the number written. Quiet hours suppress email and SMS; dashboard rows
// are passive and always go through.
func (d *Dispatcher) enqueueForSubscription(ctx context.Context, sub *domain.AlertSubscription, instance *domain.AlertInstance, notifyType, title, message, severity string, sequence int, now time.Time) int {
	quiet := inQuietHours(sub, now)
	written := 0

	if sub.DashboardEnabled {
		if d.enqueue(ctx, instance, sub, domain.ChannelDashboard, nil, notifyType, title, message, severity, sequence, now) {
			written++
		}
	}
	if sub.EmailEnabled && sub.EmailAddress != nil && !quiet {
		if d.enqueue(ctx, instance, sub, domain.ChannelEmail, sub.EmailAddress, notifyType, title, message, severity, sequence, now) {
			written++
		}
	}
	if sub.SMSEnabled && sub.PhoneNumber != nil && !quiet {
		if d.enqueue(ctx, instance, sub, domain.ChannelSMS, sub.PhoneNumber, notifyType, title, message, severity, sequence, now) {
			written++
		}
	}
	return written
}

func (d *Dispatcher) enqueue(ctx context.Context, instance *domain.AlertInstance, sub *domain.AlertSubscription, channel string, recipient *string, notifyType, title, message, severity string, sequence int, now time.Time) bool {
	n := &domain.Notification{
		NotificationID: uuid.New().String(),
		InstanceID:     instance.InstanceID,
		SubscriptionID: &sub.SubscriptionID,
		Type:           notifyType,
		Channel:        channel,
		Status:         domain.NotifyPending,
		Recipient:      recipient,
		Title:          title,
		Message:        message,
		Severity:       severity,
		Sequence:       sequence,
		CreatedAt:      now,
	}
	if err := d.alerts.CreateNotification(ctx, n); err != nil {
		d.logger.Error("failed to enqueue notification",
			zap.String("instance_id", instance.InstanceID),
			zap.String("channel", channel), zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) enqueueFallbackDashboard(ctx context.Context, instance *domain.AlertInstance, notifyType, title, message, severity string, now time.Time) {
	n := &domain.Notification{
		NotificationID: uuid.New().String(),
		InstanceID:     instance.InstanceID,
		Type:           notifyType,
		Channel:        domain.ChannelDashboard,
		Status:         domain.NotifyPending,
		Title:          title,
		Message:        message,
		Severity:       severity,
		CreatedAt:      now,
	}
	if err := d.alerts.CreateNotification(ctx, n); err != nil {
		d.logger.Error("failed to enqueue fallback dashboard notification",
			zap.String("instance_id", instance.InstanceID), zap.Error(err))
	}
}

func (d *Dispatcher) listSubscriptions(ctx context.Context, definitionID string) []*domain.AlertSubscription {
	subs, err := d.subs.ListForDefinition(ctx, definitionID)
	if err != nil {
		d.logger.Error("failed to list subscriptions",
			zap.String("definition_id", definitionID), zap.Error(err))
		return nil
	}
	enabled := subs[:0:0]
	for _, sub := range subs {
		if sub.Enabled {
			enabled = append(enabled, sub)
		}
	}
	return enabled
}

// inQuietHours checks the subscriber's local wall clock against the quiet
// window. The window may wrap midnight, e.g. 22:00 to 07:00.
func inQuietHours(sub *domain.AlertSubscription, now time.Time) bool {
	if sub.QuietHoursStart == nil || sub.QuietHoursEnd == nil {
		return false
	}
	loc := time.UTC
	if sub.Timezone != "" {
		if l, err := time.LoadLocation(sub.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	start, ok := parseMinutes(*sub.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := parseMinutes(*sub.QuietHoursEnd)
	if !ok {
		return false
	}

	if start == end {
		return false
	}
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseMinutes(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func renderFired(def *domain.AlertDefinition, instance *domain.AlertInstance) (string, string) {
	title := fmt.Sprintf("[%s] %s", def.Severity, def.Name)
	value := ""
	if instance.TriggerValue != nil {
		value = *instance.TriggerValue
	}
	message := fmt.Sprintf("%s triggered on %s (value: %s)", def.Name, instance.TargetLabel, value)
	return title, message
}

func renderResolved(def *domain.AlertDefinition, instance *domain.AlertInstance) (string, string) {
	title := fmt.Sprintf("[resolved] %s", def.Name)
	message := fmt.Sprintf("%s resolved on %s", def.Name, instance.TargetLabel)
	if instance.DurationSeconds != nil {
		message = fmt.Sprintf("%s after %d min", message, *instance.DurationSeconds/60)
	}
	return title, message
}
