package alerting

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// retryKey identifies one pending retry task. Keying by alert and channel
// lets Stop cancel every in-flight retry deterministically.
type retryKey struct {
	AlertID string
	Channel ChannelType
}

// Dispatcher routes an alert and its matching rules to channel handlers
// and owns per-alert retry/backoff for failed deliveries.
type Dispatcher struct {
	store    *Store
	registry *Registry
	logger   *logrus.Logger
	clock    Clock
	metrics  *Metrics

	handlers   map[ChannelType]ChannelHandler
	handlersMu sync.RWMutex

	retries  map[retryKey]*time.Timer
	retryMu  sync.Mutex
	stopped  bool
	retryCtx context.Context
	cancel   context.CancelFunc
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(store *Store, registry *Registry, logger *logrus.Logger, clock Clock, metrics *Metrics) *Dispatcher {
	if clock == nil {
		clock = SystemClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		store:    store,
		registry: registry,
		logger:   logger,
		clock:    clock,
		metrics:  metrics,
		handlers: make(map[ChannelType]ChannelHandler),
		retries:  make(map[retryKey]*time.Timer),
		retryCtx: ctx,
		cancel:   cancel,
	}
}

// RegisterHandler installs a channel handler under its own type
func (d *Dispatcher) RegisterHandler(handler ChannelHandler) {
	d.RegisterChannel(handler.Type(), handler)
}

// RegisterChannel installs a channel handler under an explicit type,
// replacing any existing handler for that type
func (d *Dispatcher) RegisterChannel(channelType ChannelType, handler ChannelHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()

	d.handlers[channelType] = handler
	d.logger.WithField("channel", channelType).Info("Notification channel registered")
}

// Handler returns the handler registered for a channel type
func (d *Dispatcher) Handler(channelType ChannelType) (ChannelHandler, bool) {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()

	handler, ok := d.handlers[channelType]
	return handler, ok
}

// Dispatch sends the initial notifications for an alert to the base
// channels of every matching, enabled rule. Failures are absorbed into
// retry scheduling and never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) {
	rules := d.registry.MatchingRules(&alert)
	if len(rules) == 0 {
		d.logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"severity": alert.Severity,
		}).Debug("No matching rules for alert, nothing to dispatch")
		return
	}

	for i := range rules {
		rule := rules[i]
		d.sendToChannels(ctx, alert, rule, rule.Channels, false, 0)
	}
}

// DispatchEscalation sends notifications for one escalation step, using
// the step's channel list instead of the rule's base channels
func (d *Dispatcher) DispatchEscalation(ctx context.Context, alert Alert, rule Rule, step EscalationStep) {
	d.logger.WithFields(logrus.Fields{
		"alert_id":         alert.ID,
		"rule_id":          rule.ID,
		"escalation_level": alert.EscalationLevel,
	}).Info("Dispatching escalation notifications")

	d.sendToChannels(ctx, alert, rule, step.Channels, true, alert.EscalationLevel)
}

// Stop cancels every pending retry task. Pending work is tracked, not
// fire-and-forget, so shutdown leaks no timers.
func (d *Dispatcher) Stop() {
	d.cancel()

	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	d.stopped = true
	for key, timer := range d.retries {
		timer.Stop()
		delete(d.retries, key)
	}
}

// PendingRetries returns the number of tracked retry tasks
func (d *Dispatcher) PendingRetries() int {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()
	return len(d.retries)
}

func (d *Dispatcher) sendToChannels(ctx context.Context, alert Alert, rule Rule, channels []ChannelConfig, isEscalation bool, level int) {
	ordered := make([]ChannelConfig, 0, len(channels))
	for _, cfg := range channels {
		if cfg.Enabled {
			ordered = append(ordered, cfg)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for i := range ordered {
		cfg := ordered[i]
		d.send(ctx, alert, rule, cfg, isEscalation, level)
	}
}

func (d *Dispatcher) send(ctx context.Context, alert Alert, rule Rule, cfg ChannelConfig, isEscalation bool, level int) {
	handler, ok := d.Handler(cfg.Type)
	if !ok {
		d.logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"channel":  cfg.Type,
		}).Warn("No handler registered for channel, skipping")
		return
	}

	payload := &Payload{
		Alert:           &alert,
		Rule:            &rule,
		IsEscalation:    isEscalation,
		EscalationLevel: level,
	}

	if err := handler.Send(ctx, payload, &cfg); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"rule_id":  rule.ID,
			"channel":  cfg.Type,
		}).Error("Notification delivery failed")

		if d.metrics != nil {
			d.metrics.NotificationFailures.WithLabelValues(string(cfg.Type)).Inc()
		}
		d.scheduleRetry(alert.ID, rule, cfg, isEscalation, level)
		return
	}

	if d.metrics != nil {
		d.metrics.NotificationsSent.WithLabelValues(string(cfg.Type)).Inc()
	}
	d.logger.WithFields(logrus.Fields{
		"alert_id":      alert.ID,
		"channel":       cfg.Type,
		"is_escalation": isEscalation,
	}).Debug("Notification delivered")
}

// scheduleRetry queues a delayed re-send with exponential backoff. The
// retry counter is shared across all channels and rules for one alert.
func (d *Dispatcher) scheduleRetry(alertID string, rule Rule, cfg ChannelConfig, isEscalation bool, level int) {
	policy := cfg.Retry
	if policy.MaxRetries == 0 && policy.RetryDelay == 0 {
		policy = DefaultRetryPolicy()
	}

	count, ok := d.store.RetryCount(alertID)
	if !ok {
		return
	}
	if count >= policy.MaxRetries {
		d.logger.WithFields(logrus.Fields{
			"alert_id":    alertID,
			"channel":     cfg.Type,
			"retry_count": count,
		}).Warn("Retries exhausted, dropping notification")
		return
	}

	backoff := policy.BackoffMultiplier
	if backoff <= 0 {
		backoff = 1
	}
	delay := time.Duration(float64(policy.RetryDelay) * math.Pow(backoff, float64(count)))

	d.store.IncrementRetry(alertID)
	if d.metrics != nil {
		d.metrics.NotificationRetries.Inc()
	}

	key := retryKey{AlertID: alertID, Channel: cfg.Type}

	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	if d.stopped {
		return
	}
	if existing, pending := d.retries[key]; pending {
		existing.Stop()
	}

	d.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"channel":  cfg.Type,
		"delay":    delay,
	}).Info("Notification retry scheduled")

	d.retries[key] = time.AfterFunc(delay, func() {
		d.retryMu.Lock()
		delete(d.retries, key)
		stopped := d.stopped
		d.retryMu.Unlock()
		if stopped {
			return
		}

		alert, exists := d.store.Get(alertID)
		if !exists || alert.Status == StatusResolved {
			return
		}
		d.send(d.retryCtx, alert, rule, cfg, isEscalation, level)
	})
}
