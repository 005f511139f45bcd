package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type escalationFixture struct {
	clock      *fakeClock
	store      *Store
	registry   *Registry
	dispatcher *Dispatcher
	scheduler  *EscalationScheduler
	sms        *fakeHandler
}

func newEscalationFixture(t *testing.T) *escalationFixture {
	t.Helper()

	clock := newFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	store := NewStore(DefaultStoreConfig(), testLogger(), clock)
	registry := NewRegistry(testLogger(), clock)
	dispatcher := NewDispatcher(store, registry, testLogger(), clock, nil)
	t.Cleanup(dispatcher.Stop)

	sms := newFakeHandler(ChannelChat)
	dispatcher.RegisterHandler(sms)

	scheduler := NewEscalationScheduler(store, registry, dispatcher, testLogger(), clock, nil, time.Minute)
	return &escalationFixture{
		clock:      clock,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		sms:        sms,
	}
}

func (f *escalationFixture) addLadderRule(t *testing.T, steps ...EscalationStep) {
	t.Helper()
	rule := validRule("ladder-rule")
	rule.Escalations = steps
	_, err := f.registry.AddRule(rule)
	require.NoError(t, err)
}

func smsStep(level int, delay time.Duration, gate EscalationGate) EscalationStep {
	return EscalationStep{
		Level:    level,
		Delay:    delay,
		Channels: []ChannelConfig{enabledChannel(ChannelChat)},
		Gate:     gate,
	}
}

func TestEscalationFiresAfterDelay(t *testing.T) {
	f := newEscalationFixture(t)
	f.addLadderRule(t, smsStep(1, 15*time.Minute, GateUnacknowledged))

	alert, _ := f.store.Create("DB down", "conn refused", SeverityCritical, "db", nil, nil)
	ctx := context.Background()

	// Before the delay elapses nothing fires.
	f.clock.Advance(14 * time.Minute)
	f.scheduler.ProcessOnce(ctx)
	assert.Zero(t, f.sms.sendCount())

	f.clock.Advance(time.Minute)
	f.scheduler.ProcessOnce(ctx)
	require.Equal(t, 1, f.sms.sendCount())

	updated, _ := f.store.Get(alert.ID)
	assert.Equal(t, 1, updated.EscalationLevel)

	payload, _ := f.sms.lastPayload()
	assert.True(t, payload.IsEscalation)
	assert.Equal(t, 1, payload.EscalationLevel)
}

func TestAcknowledgementBlocksGatedEscalation(t *testing.T) {
	f := newEscalationFixture(t)
	f.addLadderRule(t, smsStep(1, 15*time.Minute, GateUnacknowledged))

	alert, _ := f.store.Create("DB down", "conn refused", SeverityCritical, "db", nil, nil)
	require.True(t, f.store.Acknowledge(alert.ID, "ops"))

	f.clock.Advance(time.Hour)
	f.scheduler.ProcessOnce(context.Background())

	assert.Zero(t, f.sms.sendCount())
	updated, _ := f.store.Get(alert.ID)
	assert.Zero(t, updated.EscalationLevel)
}

func TestUngatedEscalationFiresDespiteAcknowledgement(t *testing.T) {
	f := newEscalationFixture(t)
	f.addLadderRule(t, smsStep(1, 15*time.Minute, GateAlways))

	alert, _ := f.store.Create("DB down", "conn refused", SeverityCritical, "db", nil, nil)
	f.store.Acknowledge(alert.ID, "ops")

	f.clock.Advance(time.Hour)
	f.scheduler.ProcessOnce(context.Background())

	assert.Equal(t, 1, f.sms.sendCount())
}

func TestSuppressedAlertsSkipEscalation(t *testing.T) {
	f := newEscalationFixture(t)
	f.addLadderRule(t, smsStep(1, 15*time.Minute, GateUnacknowledged))

	alert, _ := f.store.Create("Noisy", "flapping", SeverityCritical, "probe", nil, nil)
	require.True(t, f.store.Suppress(alert.ID, 2*time.Hour))

	f.clock.Advance(time.Hour)
	f.scheduler.ProcessOnce(context.Background())
	assert.Zero(t, f.sms.sendCount())

	// Once suppression lapses the alert escalates again.
	f.clock.Advance(2 * time.Hour)
	f.scheduler.ProcessOnce(context.Background())
	assert.Equal(t, 1, f.sms.sendCount())
}

func TestEscalationWalksLadderOneStepPerPass(t *testing.T) {
	f := newEscalationFixture(t)
	f.addLadderRule(t,
		smsStep(1, 15*time.Minute, GateUnacknowledged),
		smsStep(2, 30*time.Minute, GateUnacknowledged),
	)

	alert, _ := f.store.Create("DB down", "conn refused", SeverityCritical, "db", nil, nil)
	ctx := context.Background()

	// Both delays already elapsed; the ladder still advances one level
	// per pass per rule.
	f.clock.Advance(time.Hour)
	f.scheduler.ProcessOnce(ctx)
	updated, _ := f.store.Get(alert.ID)
	assert.Equal(t, 1, updated.EscalationLevel)

	f.scheduler.ProcessOnce(ctx)
	updated, _ = f.store.Get(alert.ID)
	assert.Equal(t, 2, updated.EscalationLevel)
	assert.Equal(t, 2, f.sms.sendCount())

	// Ladder exhausted: further passes do nothing.
	f.scheduler.ProcessOnce(ctx)
	updated, _ = f.store.Get(alert.ID)
	assert.Equal(t, 2, updated.EscalationLevel)
	assert.Equal(t, 2, f.sms.sendCount())
}

func TestEscalationLevelIsSharedAcrossRules(t *testing.T) {
	f := newEscalationFixture(t)

	ladder := []EscalationStep{smsStep(1, 15*time.Minute, GateAlways), smsStep(2, 30*time.Minute, GateAlways)}

	first := validRule("first-ladder")
	first.Escalations = ladder
	_, err := f.registry.AddRule(first)
	require.NoError(t, err)

	second := validRule("second-ladder")
	second.Escalations = ladder
	_, err = f.registry.AddRule(second)
	require.NoError(t, err)

	alert, _ := f.store.Create("DB down", "conn refused", SeverityCritical, "db", nil, nil)

	f.clock.Advance(time.Hour)
	f.scheduler.ProcessOnce(context.Background())

	// One rule advances the shared counter to 1; the other sees the
	// advanced counter and fires its level-2 step instead of re-firing
	// level 1.
	updated, _ := f.store.Get(alert.ID)
	assert.Equal(t, 2, updated.EscalationLevel)
	assert.Equal(t, 2, f.sms.sendCount())
}

func TestResolvedAlertsNeverEscalate(t *testing.T) {
	f := newEscalationFixture(t)
	f.addLadderRule(t, smsStep(1, 15*time.Minute, GateAlways))

	alert, _ := f.store.Create("DB down", "conn refused", SeverityCritical, "db", nil, nil)
	f.store.Resolve(alert.ID, "ops")

	f.clock.Advance(time.Hour)
	f.scheduler.ProcessOnce(context.Background())

	assert.Zero(t, f.sms.sendCount())
}
