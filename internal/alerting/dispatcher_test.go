package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	store      *Store
	registry   *Registry
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	store := newTestStore(nil)
	registry := NewRegistry(testLogger(), nil)
	dispatcher := NewDispatcher(store, registry, testLogger(), nil, nil)
	t.Cleanup(dispatcher.Stop)
	return &dispatcherFixture{store: store, registry: registry, dispatcher: dispatcher}
}

func (f *dispatcherFixture) addRule(t *testing.T, rule Rule) {
	t.Helper()
	_, err := f.registry.AddRule(rule)
	require.NoError(t, err)
}

func TestDispatchRoutesToMatchingRuleChannels(t *testing.T) {
	f := newDispatcherFixture(t)

	webhook := newFakeHandler(ChannelWebhook)
	chat := newFakeHandler(ChannelChat)
	f.dispatcher.RegisterHandler(webhook)
	f.dispatcher.RegisterHandler(chat)

	matching := validRule("critical-route")
	matching.Severity = SeverityError
	matching.Channels = []ChannelConfig{enabledChannel(ChannelWebhook), enabledChannel(ChannelChat)}
	f.addRule(t, matching)

	tooHigh := validRule("critical-only")
	tooHigh.Severity = SeverityCritical
	tooHigh.Channels = []ChannelConfig{enabledChannel(ChannelWebhook)}
	f.addRule(t, tooHigh)

	alert, _ := f.store.Create("DB slow", "p99 above 2s", SeverityError, "db", nil, nil)
	f.dispatcher.Dispatch(context.Background(), alert)

	assert.Equal(t, 1, webhook.sendCount())
	assert.Equal(t, 1, chat.sendCount())

	payload, _ := webhook.lastPayload()
	assert.Equal(t, alert.ID, payload.Alert.ID)
	assert.Equal(t, "critical-route", payload.Rule.Name)
	assert.False(t, payload.IsEscalation)
}

func TestDispatchSkipsDisabledAndUnknownChannels(t *testing.T) {
	f := newDispatcherFixture(t)

	webhook := newFakeHandler(ChannelWebhook)
	f.dispatcher.RegisterHandler(webhook)

	rule := validRule("mixed-channels")
	disabled := enabledChannel(ChannelWebhook)
	disabled.Enabled = false
	rule.Channels = []ChannelConfig{
		disabled,
		enabledChannel(ChannelChat), // no handler registered
		enabledChannel(ChannelWebhook),
	}
	f.addRule(t, rule)

	alert, _ := f.store.Create("a", "m", SeverityWarning, "src", nil, nil)
	f.dispatcher.Dispatch(context.Background(), alert)

	assert.Equal(t, 1, webhook.sendCount())
}

func TestDispatchEscalationUsesStepChannels(t *testing.T) {
	f := newDispatcherFixture(t)

	base := newFakeHandler(ChannelWebhook)
	sms := newFakeHandler(ChannelChat)
	f.dispatcher.RegisterHandler(base)
	f.dispatcher.RegisterHandler(sms)

	rule := validRule("escalating")
	rule.Channels = []ChannelConfig{enabledChannel(ChannelWebhook)}
	step := EscalationStep{Level: 1, Delay: 15 * time.Minute, Channels: []ChannelConfig{enabledChannel(ChannelChat)}}
	rule.Escalations = []EscalationStep{step}
	f.addRule(t, rule)

	alert, _ := f.store.Create("a", "m", SeverityWarning, "src", nil, nil)
	alert.EscalationLevel = 1
	f.dispatcher.DispatchEscalation(context.Background(), alert, rule, step)

	assert.Zero(t, base.sendCount(), "escalation must not touch base channels")
	require.Equal(t, 1, sms.sendCount())

	payload, _ := sms.lastPayload()
	assert.True(t, payload.IsEscalation)
	assert.Equal(t, 1, payload.EscalationLevel)
}

func TestFailedSendIsRetriedWithBackoff(t *testing.T) {
	f := newDispatcherFixture(t)

	handler := newFakeHandler(ChannelWebhook)
	handler.failures = 2
	f.dispatcher.RegisterHandler(handler)

	rule := validRule("retry-rule")
	rule.Channels = []ChannelConfig{enabledChannel(ChannelWebhook)}
	f.addRule(t, rule)

	alert, _ := f.store.Create("a", "m", SeverityWarning, "src", nil, nil)
	f.dispatcher.Dispatch(context.Background(), alert)

	// Two failures then a success: three sends in total.
	assert.Eventually(t, func() bool {
		return handler.sendCount() == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return f.dispatcher.PendingRetries() == 0
	}, time.Second, 5*time.Millisecond)

	count, _ := f.store.RetryCount(alert.ID)
	assert.Equal(t, 2, count)
}

func TestRetriesStopWhenExhausted(t *testing.T) {
	f := newDispatcherFixture(t)

	handler := newFakeHandler(ChannelWebhook)
	handler.alwaysFail = true
	f.dispatcher.RegisterHandler(handler)

	rule := validRule("doomed-rule")
	rule.Channels = []ChannelConfig{enabledChannel(ChannelWebhook)}
	f.addRule(t, rule)

	alert, _ := f.store.Create("a", "m", SeverityWarning, "src", nil, nil)
	f.dispatcher.Dispatch(context.Background(), alert)

	// Initial attempt plus MaxRetries re-sends, then the counter gate
	// refuses further scheduling.
	assert.Eventually(t, func() bool {
		return handler.sendCount() == 4 && f.dispatcher.PendingRetries() == 0
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, handler.sendCount())
}

func TestRetrySkippedOnceAlertResolved(t *testing.T) {
	f := newDispatcherFixture(t)

	handler := newFakeHandler(ChannelWebhook)
	handler.alwaysFail = true
	f.dispatcher.RegisterHandler(handler)

	rule := validRule("resolved-mid-retry")
	cfg := enabledChannel(ChannelWebhook)
	cfg.Retry.RetryDelay = 50 * time.Millisecond
	rule.Channels = []ChannelConfig{cfg}
	f.addRule(t, rule)

	alert, _ := f.store.Create("a", "m", SeverityWarning, "src", nil, nil)
	f.dispatcher.Dispatch(context.Background(), alert)
	require.Equal(t, 1, handler.sendCount())

	f.store.Resolve(alert.ID, "ops")

	assert.Eventually(t, func() bool {
		return f.dispatcher.PendingRetries() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, handler.sendCount(), "resolved alerts must not be re-sent")
}

func TestStopCancelsPendingRetries(t *testing.T) {
	store := newTestStore(nil)
	registry := NewRegistry(testLogger(), nil)
	dispatcher := NewDispatcher(store, registry, testLogger(), nil, nil)

	handler := newFakeHandler(ChannelWebhook)
	handler.alwaysFail = true
	dispatcher.RegisterHandler(handler)

	rule := validRule("stopped-rule")
	cfg := enabledChannel(ChannelWebhook)
	cfg.Retry.RetryDelay = time.Hour
	rule.Channels = []ChannelConfig{cfg}
	_, err := registry.AddRule(rule)
	require.NoError(t, err)

	alert, _ := store.Create("a", "m", SeverityWarning, "src", nil, nil)
	dispatcher.Dispatch(context.Background(), alert)
	require.Equal(t, 1, dispatcher.PendingRetries())

	dispatcher.Stop()
	assert.Zero(t, dispatcher.PendingRetries())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, handler.sendCount())
}
