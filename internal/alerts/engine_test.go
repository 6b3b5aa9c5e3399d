package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storeops-hvac/internal/domain"
)

type fakeAlertsRepo struct {
	defs          map[string]*domain.AlertDefinition
	states        map[string]*domain.AlertEvalState
	instances     []*domain.AlertInstance
	notifications []*domain.Notification
}

func newFakeAlertsRepo() *fakeAlertsRepo {
	return &fakeAlertsRepo{
		defs:   map[string]*domain.AlertDefinition{},
		states: map[string]*domain.AlertEvalState{},
	}
}

func stateKey(definitionID, targetID string) string { return definitionID + "|" + targetID }

func (r *fakeAlertsRepo) ListEnabledDefinitions(context.Context) ([]*domain.AlertDefinition, error) {
	var out []*domain.AlertDefinition
	for _, d := range r.defs {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeAlertsRepo) GetDefinition(_ context.Context, id string) (*domain.AlertDefinition, error) {
	return r.defs[id], nil
}

func (r *fakeAlertsRepo) ListRealtimeDefinitionsForEntity(_ context.Context, entityID string) ([]*domain.AlertDefinition, error) {
	var out []*domain.AlertDefinition
	for _, d := range r.defs {
		if d.Enabled && d.TargetKind == domain.TargetEntity && d.EntityID != nil && *d.EntityID == entityID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeAlertsRepo) GetEvalState(_ context.Context, definitionID, targetID string) (*domain.AlertEvalState, error) {
	if s, ok := r.states[stateKey(definitionID, targetID)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeAlertsRepo) UpsertEvalState(_ context.Context, state *domain.AlertEvalState) error {
	cp := *state
	r.states[stateKey(state.DefinitionID, state.TargetID)] = &cp
	return nil
}

func (r *fakeAlertsRepo) GetActiveInstance(_ context.Context, definitionID, targetID string) (*domain.AlertInstance, error) {
	for _, in := range r.instances {
		if in.DefinitionID == definitionID && in.TargetID == targetID && in.Status == domain.InstanceActive {
			return in, nil
		}
	}
	return nil, nil
}

func (r *fakeAlertsRepo) CreateInstance(ctx context.Context, instance *domain.AlertInstance) (bool, error) {
	// Mirrors the partial unique index on (definition, target, active).
	existing, _ := r.GetActiveInstance(ctx, instance.DefinitionID, instance.TargetID)
	if existing != nil {
		return false, nil
	}
	r.instances = append(r.instances, instance)
	return true, nil
}

func (r *fakeAlertsRepo) UpdateInstancePeak(_ context.Context, instanceID, peakValue string) error {
	for _, in := range r.instances {
		if in.InstanceID == instanceID {
			v := peakValue
			in.PeakValue = &v
		}
	}
	return nil
}

func (r *fakeAlertsRepo) ResolveInstance(_ context.Context, instanceID string, resolvedAt time.Time, durationSeconds int64) error {
	for _, in := range r.instances {
		if in.InstanceID == instanceID {
			in.Status = domain.InstanceResolved
			ts := resolvedAt
			in.ResolvedAt = &ts
			d := durationSeconds
			in.DurationSeconds = &d
		}
	}
	return nil
}

func (r *fakeAlertsRepo) ListActiveInstances(context.Context) ([]*domain.AlertInstance, error) {
	var out []*domain.AlertInstance
	for _, in := range r.instances {
		if in.Status == domain.InstanceActive {
			out = append(out, in)
		}
	}
	return out, nil
}

func (r *fakeAlertsRepo) CreateNotification(_ context.Context, n *domain.Notification) error {
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *fakeAlertsRepo) RepeatStats(_ context.Context, instanceID, subscriptionID string) (int, *time.Time, error) {
	count := 0
	var last *time.Time
	for _, n := range r.notifications {
		if n.InstanceID != instanceID || n.SubscriptionID == nil || *n.SubscriptionID != subscriptionID {
			continue
		}
		if n.Type == domain.NotifyRepeat {
			count++
		}
		if n.Type == domain.NotifyRepeat || n.Type == domain.NotifyFired {
			ts := n.CreatedAt
			if last == nil || ts.After(*last) {
				last = &ts
			}
		}
	}
	return count, last, nil
}

type fakeSubsRepo struct{ subs []*domain.AlertSubscription }

func (r *fakeSubsRepo) ListForDefinition(context.Context, string) ([]*domain.AlertSubscription, error) {
	return r.subs, nil
}

type fakeEntityStore struct{ entities map[string]*domain.SensorEntity }

func (r *fakeEntityStore) ListSpacesForEquipment(context.Context, string) ([]*domain.Space, error) {
	return nil, nil
}

func (r *fakeEntityStore) ListSensorsBySpaces(context.Context, []string) ([]*domain.SensorEntity, error) {
	return nil, nil
}

func (r *fakeEntityStore) ListSensorsForEquipment(context.Context, string) ([]*domain.SensorEntity, error) {
	return nil, nil
}

func (r *fakeEntityStore) GetEntity(_ context.Context, entityID string) (*domain.SensorEntity, error) {
	return r.entities[entityID], nil
}

func (r *fakeEntityStore) UpsertEntityValue(_ context.Context, entityID, value string, seenAt time.Time) error {
	if e, ok := r.entities[entityID]; ok {
		v := value
		e.LastValue = &v
		ts := seenAt
		e.LastSeenAt = &ts
	}
	return nil
}

type alertFixture struct {
	engine   *Engine
	repo     *fakeAlertsRepo
	subs     *fakeSubsRepo
	entities *fakeEntityStore
	clock    time.Time
}

func newAlertFixture(t *testing.T) *alertFixture {
	t.Helper()
	repo := newFakeAlertsRepo()
	subs := &fakeSubsRepo{}
	entities := &fakeEntityStore{entities: map[string]*domain.SensorEntity{}}
	fx := &alertFixture{
		repo:     repo,
		subs:     subs,
		entities: entities,
		clock:    time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	}
	dispatcher := NewDispatcher(repo, subs, zap.NewNop())
	dispatcher.now = func() time.Time { return fx.clock }
	fx.engine = NewEngine(repo, nil, entities, nil, dispatcher, zap.NewNop())
	fx.engine.now = func() time.Time { return fx.clock }
	return fx
}

func (fx *alertFixture) advance(d time.Duration) { fx.clock = fx.clock.Add(d) }

func thresholdDef(sustainMinutes float64) *domain.AlertDefinition {
	return &domain.AlertDefinition{
		DefinitionID:   "def-1",
		Name:           "coil freeze risk",
		Enabled:        true,
		Severity:       "critical",
		TargetKind:     domain.TargetEntity,
		EntityID:       s("sensor.supply_temp"),
		Condition:      domain.ConditionBelowThreshold,
		ThresholdValue: f(35),
		SustainMinutes: sustainMinutes,
	}
}

func target() Target {
	return Target{ID: "sensor.supply_temp", Label: "sensor.supply_temp", EntityID: "sensor.supply_temp"}
}

func TestSustainFiresExactlyOnce(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(10)
	ctx := context.Background()

	// Condition turns true: pending, nothing fires yet.
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(30)))
	assert.Empty(t, fx.repo.instances)

	fx.advance(5 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(31)))
	assert.Empty(t, fx.repo.instances, "sustain window not yet elapsed")

	fx.advance(5 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(29)))
	require.Len(t, fx.repo.instances, 1, "fires exactly at sustain elapsed")

	// Continued true evaluations do not re-fire.
	fx.advance(5 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(25)))
	assert.Len(t, fx.repo.instances, 1)

	// Goes false: resolves. Goes true again: a fresh episode fires after a
	// fresh sustain window.
	fx.advance(5 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(40)))
	assert.Equal(t, domain.InstanceResolved, fx.repo.instances[0].Status)

	fx.advance(5 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(30)))
	assert.Len(t, fx.repo.instances, 1, "new episode must re-sustain first")

	fx.advance(10 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(30)))
	assert.Len(t, fx.repo.instances, 2)
}

func TestCronPassSweepsPendingRealtimeDefinition(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(10)
	def.EvalPath = domain.EvalRealtime
	fx.repo.defs[def.DefinitionID] = def
	fx.entities.entities["sensor.supply_temp"] = &domain.SensorEntity{
		EntityID:  "sensor.supply_temp",
		LastValue: s("30"),
	}
	ctx := context.Background()

	// The last change event the sensor ever sends: the pair goes pending
	// but the sustain window has not elapsed.
	fx.engine.HandleEntityChange(ctx, "sensor.supply_temp", "30")
	assert.Empty(t, fx.repo.instances)

	// No further events arrive. The cron sweep re-evaluates the pending
	// pair so the sustain window can elapse and the alert fires.
	fx.advance(60 * time.Minute)
	fx.engine.RunCronPass(ctx)
	require.Len(t, fx.repo.instances, 1)
	assert.Equal(t, domain.InstanceActive, fx.repo.instances[0].Status)

	// A second sweep is idempotent.
	fx.advance(15 * time.Minute)
	fx.engine.RunCronPass(ctx)
	assert.Len(t, fx.repo.instances, 1)
}

func TestZeroSustainFiresImmediately(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)

	require.NoError(t, fx.engine.EvaluateTarget(context.Background(), def, target(), obsNum(30)))
	require.Len(t, fx.repo.instances, 1)
	assert.Equal(t, "30", *fx.repo.instances[0].TriggerValue)
}

func TestPeakValueTracksWorstReading(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)
	ctx := context.Background()

	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(30)))
	fx.advance(5 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(25)))
	fx.advance(5 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(28)))

	require.Len(t, fx.repo.instances, 1)
	assert.Equal(t, "25", *fx.repo.instances[0].PeakValue, "below_threshold peak is the minimum")
}

func TestDuplicateFireIsBenign(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)

	// Another invocation already created the active instance.
	fx.repo.instances = append(fx.repo.instances, &domain.AlertInstance{
		InstanceID:   "pre-existing",
		DefinitionID: def.DefinitionID,
		TargetID:     target().ID,
		Status:       domain.InstanceActive,
	})

	require.NoError(t, fx.engine.EvaluateTarget(context.Background(), def, target(), obsNum(30)))
	assert.Len(t, fx.repo.instances, 1)
	assert.Empty(t, fx.repo.notifications, "duplicate fire dispatches nothing")

	state := fx.repo.states[stateKey(def.DefinitionID, target().ID)]
	require.NotNil(t, state)
	assert.True(t, state.Fired)
}

func TestResolveWithoutActiveInstanceIsNoop(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)
	ctx := context.Background()

	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(30)))
	fx.repo.instances[0].Status = domain.InstanceResolved

	fx.advance(time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(40)))
	assert.Len(t, fx.repo.instances, 1)
}

func TestStaleMeasuresFromEvalState(t *testing.T) {
	fx := newAlertFixture(t)
	def := &domain.AlertDefinition{
		DefinitionID:   "def-stale",
		Name:           "sensor offline",
		Enabled:        true,
		Severity:       "warning",
		TargetKind:     domain.TargetEntity,
		EntityID:       s("sensor.temp"),
		Condition:      domain.ConditionStale,
		StaleMinutes:   f(30),
		SustainMinutes: 0,
	}
	tgt := Target{ID: "sensor.temp", Label: "sensor.temp", EntityID: "sensor.temp"}
	ctx := context.Background()

	// First observation records the baseline timestamp.
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, tgt, &Observation{Value: "72"}))
	assert.Empty(t, fx.repo.instances)

	// The source keeps reporting the same value; the eval-state timestamp
	// does not advance, so staleness accrues.
	fx.advance(45 * time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, tgt, &Observation{Value: "72"}))
	require.Len(t, fx.repo.instances, 1)
	assert.Equal(t, "45 min since last update", *fx.repo.instances[0].TriggerValue)

	// A changed value refreshes the timestamp and resolves the alert on
	// the next pass.
	fx.advance(time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, tgt, &Observation{Value: "73"}))
	fx.advance(time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, tgt, &Observation{Value: "73"}))
	assert.Equal(t, domain.InstanceResolved, fx.repo.instances[0].Status)
}

func TestHandleEntityChangeRealtimePath(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)
	fx.repo.defs[def.DefinitionID] = def

	fx.engine.HandleEntityChange(context.Background(), "sensor.supply_temp", "30")
	assert.Len(t, fx.repo.instances, 1)

	// Cron-only definitions never evaluate on the realtime path.
	staleDef := &domain.AlertDefinition{
		DefinitionID: "def-stale",
		Enabled:      true,
		TargetKind:   domain.TargetEntity,
		EntityID:     s("sensor.other"),
		Condition:    domain.ConditionStale,
		StaleMinutes: f(30),
	}
	fx.repo.defs[staleDef.DefinitionID] = staleDef
	fx.engine.HandleEntityChange(context.Background(), "sensor.other", "72")
	assert.Len(t, fx.repo.instances, 1)
}

func TestFallbackDashboardNotification(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)

	require.NoError(t, fx.engine.EvaluateTarget(context.Background(), def, target(), obsNum(30)))

	require.Len(t, fx.repo.notifications, 1)
	n := fx.repo.notifications[0]
	assert.Equal(t, domain.ChannelDashboard, n.Channel)
	assert.Nil(t, n.SubscriptionID)
	assert.Equal(t, domain.NotifyFired, n.Type)
}

func TestDispatchPerChannelEnablement(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)
	fx.subs.subs = []*domain.AlertSubscription{{
		SubscriptionID:   "sub-1",
		Enabled:          true,
		DashboardEnabled: true,
		EmailEnabled:     true,
		EmailAddress:     s("ops@example.com"),
		SMSEnabled:       false,
		Timezone:         "UTC",
	}}

	require.NoError(t, fx.engine.EvaluateTarget(context.Background(), def, target(), obsNum(30)))

	channels := map[string]int{}
	for _, n := range fx.repo.notifications {
		channels[n.Channel]++
	}
	assert.Equal(t, map[string]int{domain.ChannelDashboard: 1, domain.ChannelEmail: 1}, channels)
}

func TestQuietHoursSuppressEmailAndSMSOnly(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)
	// Clock is 12:00 UTC; quiet window wraps midnight and covers it in
	// Chicago (06:00 local).
	fx.subs.subs = []*domain.AlertSubscription{{
		SubscriptionID:   "sub-1",
		Enabled:          true,
		DashboardEnabled: true,
		EmailEnabled:     true,
		EmailAddress:     s("ops@example.com"),
		SMSEnabled:       true,
		PhoneNumber:      s("+15555550100"),
		QuietHoursStart:  s("22:00"),
		QuietHoursEnd:    s("07:00"),
		Timezone:         "America/Chicago",
	}}

	require.NoError(t, fx.engine.EvaluateTarget(context.Background(), def, target(), obsNum(30)))

	require.Len(t, fx.repo.notifications, 1)
	assert.Equal(t, domain.ChannelDashboard, fx.repo.notifications[0].Channel)
}

func TestRepeatPassHonorsCapAndInterval(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)
	fx.repo.defs[def.DefinitionID] = def
	fx.subs.subs = []*domain.AlertSubscription{{
		SubscriptionID:        "sub-1",
		Enabled:               true,
		DashboardEnabled:      true,
		MaxRepeats:            2,
		RepeatIntervalMinutes: 15,
		Timezone:              "UTC",
	}}
	ctx := context.Background()

	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(30)))
	require.Len(t, fx.repo.notifications, 1)

	// Too soon after the fired notification.
	fx.advance(5 * time.Minute)
	fx.engine.RunRepeatPass(ctx)
	assert.Len(t, fx.repo.notifications, 1)

	fx.advance(10 * time.Minute)
	fx.engine.RunRepeatPass(ctx)
	require.Len(t, fx.repo.notifications, 2)
	assert.Equal(t, domain.NotifyRepeat, fx.repo.notifications[1].Type)
	assert.Equal(t, 1, fx.repo.notifications[1].Sequence)

	fx.advance(15 * time.Minute)
	fx.engine.RunRepeatPass(ctx)
	assert.Len(t, fx.repo.notifications, 3)
	assert.Equal(t, 2, fx.repo.notifications[2].Sequence)

	// Cap reached: no further repeats.
	fx.advance(15 * time.Minute)
	fx.engine.RunRepeatPass(ctx)
	assert.Len(t, fx.repo.notifications, 3)
}

func TestResolvedNotificationRespectsOptIn(t *testing.T) {
	fx := newAlertFixture(t)
	def := thresholdDef(0)
	fx.subs.subs = []*domain.AlertSubscription{
		{SubscriptionID: "sub-quiet", Enabled: true, DashboardEnabled: true, SendResolved: false, Timezone: "UTC"},
		{SubscriptionID: "sub-loud", Enabled: true, DashboardEnabled: true, SendResolved: true, Timezone: "UTC"},
	}
	ctx := context.Background()

	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(30)))
	fx.advance(time.Minute)
	require.NoError(t, fx.engine.EvaluateTarget(ctx, def, target(), obsNum(40)))

	var resolved []*domain.Notification
	for _, n := range fx.repo.notifications {
		if n.Type == domain.NotifyResolved {
			resolved = append(resolved, n)
		}
	}
	require.Len(t, resolved, 1)
	assert.Equal(t, "sub-loud", *resolved[0].SubscriptionID)
}
