package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config contains alerting engine configuration
type Config struct {
	Enabled            bool          `json:"enabled"`
	EvaluationInterval time.Duration `json:"evaluation_interval"`
	EscalationInterval time.Duration `json:"escalation_interval"`
	Retention          time.Duration `json:"retention"`
	MaxAlerts          int           `json:"max_alerts"`
	DedupEnabled       bool          `json:"dedup_enabled"`
	WebhookTimeout     time.Duration `json:"webhook_timeout"`
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:            true,
		EvaluationInterval: time.Minute,
		EscalationInterval: time.Minute,
		Retention:          24 * time.Hour,
		MaxAlerts:          1000,
		DedupEnabled:       true,
		WebhookTimeout:     30 * time.Second,
	}
}

// Engine is the public facade over the alerting subsystem. It is an
// explicit value with a Start/Stop lifecycle; construction starts no
// timers, so tests drive the components deterministically.
type Engine struct {
	config     *Config
	logger     *logrus.Logger
	clock      Clock
	store      *Store
	registry   *Registry
	dispatcher *Dispatcher
	evaluator  *Evaluator
	escalator  *EscalationScheduler
	metrics    *Metrics
	promReg    *prometheus.Registry
	cron       *cron.Cron

	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewEngine creates an alerting engine with the system clock
func NewEngine(config *Config, source MetricsSource, logger *logrus.Logger) *Engine {
	return NewEngineWithClock(config, source, logger, SystemClock())
}

// NewEngineWithClock creates an alerting engine with an injected clock
func NewEngineWithClock(config *Config, source MetricsSource, logger *logrus.Logger, clock Clock) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = SystemClock()
	}

	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg)

	store := NewStore(&StoreConfig{
		MaxAlerts:    config.MaxAlerts,
		Retention:    config.Retention,
		DedupEnabled: config.DedupEnabled,
	}, logger, clock)

	registry := NewRegistry(logger, clock)
	dispatcher := NewDispatcher(store, registry, logger, clock, metrics)

	engine := &Engine{
		config:     config,
		logger:     logger,
		clock:      clock,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    metrics,
		promReg:    promReg,
		cron:       cron.New(),
	}

	engine.evaluator = NewEvaluator(registry, source, engine, logger, metrics, config.EvaluationInterval)
	engine.escalator = NewEscalationScheduler(store, registry, dispatcher, logger, clock, metrics, config.EscalationInterval)

	// Console output is always available as a delivery target.
	dispatcher.RegisterHandler(NewConsoleHandler(logger))

	return engine
}

// Start launches the evaluation and escalation timers plus the hourly
// retention cleanup job
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.config.Enabled {
		e.logger.Info("Alerting engine is disabled")
		return nil
	}
	if e.started {
		return fmt.Errorf("alerting engine already started")
	}
	// Stop cancels retry state and cron for good; a fresh engine value is
	// required to run again.
	if e.stopped {
		return fmt.Errorf("alerting engine cannot be restarted after stop")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	go e.evaluator.Run(runCtx)
	go e.escalator.Run(runCtx)

	if _, err := e.cron.AddFunc("@hourly", func() { e.store.Cleanup() }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule retention cleanup: %w", err)
	}
	e.cron.Start()

	e.started = true
	e.logger.WithFields(logrus.Fields{
		"evaluation_interval": e.config.EvaluationInterval,
		"escalation_interval": e.config.EscalationInterval,
	}).Info("Alerting engine started")

	return nil
}

// Stop halts both timers, the cleanup job, and every pending retry task
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return
	}

	e.cancel()
	<-e.cron.Stop().Done()
	e.dispatcher.Stop()
	e.started = false
	e.stopped = true

	e.logger.Info("Alerting engine stopped")
}

// CreateAlert ingests one abnormal-condition signal. The returned id is
// the stored alert's, which for deduplicated signals is the id of the
// existing record. Dispatch happens asynchronously; the call never
// blocks on delivery. The condition evaluator feeds rule-triggered
// alerts through this same path via the AlertSink interface.
func (e *Engine) CreateAlert(title, message string, severity Severity, source string, tags []string, metadata map[string]interface{}) string {
	if title == "" || !severity.Valid() {
		e.logger.WithFields(logrus.Fields{
			"title":    title,
			"severity": severity,
		}).Warn("Rejected malformed alert signal")
		return ""
	}

	alert, created := e.store.Create(title, message, severity, source, tags, metadata)
	if !created {
		e.metrics.AlertsDeduplicated.Inc()
		return alert.ID
	}

	e.metrics.AlertsCreated.WithLabelValues(string(severity)).Inc()
	go e.dispatcher.Dispatch(context.Background(), alert)
	return alert.ID
}

// AcknowledgeAlert marks an active alert as acknowledged by a user
func (e *Engine) AcknowledgeAlert(id, user string) bool {
	return e.store.Acknowledge(id, user)
}

// ResolveAlert resolves an alert from any non-terminal status
func (e *Engine) ResolveAlert(id, user string) bool {
	return e.store.Resolve(id, user)
}

// SuppressAlert hides an alert from active views and escalation for the
// given duration without changing its status
func (e *Engine) SuppressAlert(id string, duration time.Duration) bool {
	return e.store.Suppress(id, duration)
}

// RegisterChannel installs a delivery handler for a channel type
func (e *Engine) RegisterChannel(channelType ChannelType, handler ChannelHandler) {
	e.dispatcher.RegisterChannel(channelType, handler)
}

// AddRule registers an alert rule, overwriting on id collision
func (e *Engine) AddRule(rule Rule) (string, error) {
	return e.registry.AddRule(rule)
}

// UpdateRule replaces an existing rule
func (e *Engine) UpdateRule(rule Rule) error {
	return e.registry.UpdateRule(rule)
}

// RemoveRule deletes a rule
func (e *Engine) RemoveRule(id string) bool {
	return e.registry.RemoveRule(id)
}

// GetRule returns a rule by id
func (e *Engine) GetRule(id string) (Rule, bool) {
	return e.registry.GetRule(id)
}

// GetRules returns all registered rules
func (e *Engine) GetRules() []Rule {
	return e.registry.GetRules()
}

// GetAlert returns an alert by id
func (e *Engine) GetAlert(id string) (Alert, bool) {
	return e.store.Get(id)
}

// GetAllAlerts returns all stored alerts
func (e *Engine) GetAllAlerts() []Alert {
	return e.store.GetAll()
}

// GetActiveAlerts returns active, unsuppressed alerts
func (e *Engine) GetActiveAlerts() []Alert {
	return e.store.GetActive()
}

// GetAlertsByStatus returns alerts filtered by status
func (e *Engine) GetAlertsByStatus(status Status) []Alert {
	return e.store.GetByStatus(status)
}

// GetAlertsBySeverity returns alerts filtered by severity
func (e *Engine) GetAlertsBySeverity(severity Severity) []Alert {
	return e.store.GetBySeverity(severity)
}

// GetAlertsBySource returns alerts filtered by source
func (e *Engine) GetAlertsBySource(source string) []Alert {
	return e.store.GetBySource(source)
}

// GetStatistics returns alert counts by status and severity
func (e *Engine) GetStatistics() Statistics {
	stats := e.store.GetStatistics()
	stats.RuleCount = e.registry.Count()
	return stats
}

// OnAlertCreated registers a callback for new alerts
func (e *Engine) OnAlertCreated(callback func(Alert)) {
	e.store.OnCreated(callback)
}

// OnAlertAcknowledged registers a callback for acknowledgements
func (e *Engine) OnAlertAcknowledged(callback func(Alert)) {
	e.store.OnAcknowledged(callback)
}

// OnAlertResolved registers a callback for resolutions
func (e *Engine) OnAlertResolved(callback func(Alert)) {
	e.store.OnResolved(callback)
}

// OnAlertEscalated registers a callback for escalations
func (e *Engine) OnAlertEscalated(callback func(Alert)) {
	e.store.OnEscalated(callback)
}

// MetricsRegistry exposes the engine's Prometheus registry for the
// /metrics endpoint
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.promReg
}

// WebhookTimeout returns the configured webhook delivery timeout
func (e *Engine) WebhookTimeout() time.Duration {
	return e.config.WebhookTimeout
}

// Clock returns the engine's clock, shared with handlers that stamp
// outbound payloads
func (e *Engine) Clock() Clock {
	return e.clock
}
