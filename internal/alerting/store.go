package alerting

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StoreConfig contains alert store configuration
type StoreConfig struct {
	MaxAlerts    int           `json:"max_alerts"`
	Retention    time.Duration `json:"retention"`
	DedupEnabled bool          `json:"dedup_enabled"`
}

// DefaultStoreConfig returns default store configuration
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		MaxAlerts:    1000,
		Retention:    24 * time.Hour,
		DedupEnabled: true,
	}
}

// Store is the in-memory keyed collection of alerts. It exclusively owns
// alert lifecycle transitions: ACTIVE -> ACKNOWLEDGED -> RESOLVED, with
// ACTIVE -> RESOLVED allowed directly. RESOLVED is terminal.
type Store struct {
	config *StoreConfig
	logger *logrus.Logger
	clock  Clock
	alerts map[string]*Alert
	mu     sync.RWMutex

	// Callbacks for alert lifecycle events
	onCreated      []func(Alert)
	onAcknowledged []func(Alert)
	onResolved     []func(Alert)
	onEscalated    []func(Alert)
}

// NewStore creates a new alert store
func NewStore(config *StoreConfig, logger *logrus.Logger, clock Clock) *Store {
	if config == nil {
		config = DefaultStoreConfig()
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &Store{
		config: config,
		logger: logger,
		clock:  clock,
		alerts: make(map[string]*Alert),
	}
}

// Create inserts a new alert or, when dedup is enabled and an ACTIVE,
// unsuppressed alert with identical title, source, and severity exists,
// touches that record instead. Returns the stored alert and whether a new
// record was inserted.
func (s *Store) Create(title, message string, severity Severity, source string, tags []string, metadata map[string]interface{}) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if s.config.DedupEnabled {
		if existing := s.findDuplicateLocked(title, source, severity, now); existing != nil {
			existing.UpdatedAt = now
			existing.RetryCount++
			s.logger.WithFields(logrus.Fields{
				"alert_id":    existing.ID,
				"title":       title,
				"source":      source,
				"retry_count": existing.RetryCount,
			}).Debug("Duplicate alert signal collapsed into existing record")
			return *existing, false
		}
	}

	if len(s.alerts) >= s.config.MaxAlerts {
		s.cleanupResolvedLocked(now.Add(-24 * time.Hour))
	}

	alert := &Alert{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Status:    StatusActive,
		Source:    source,
		Tags:      tags,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if alert.Metadata == nil {
		alert.Metadata = make(map[string]interface{})
	}

	s.alerts[alert.ID] = alert

	s.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"severity": alert.Severity,
		"source":   alert.Source,
		"title":    alert.Title,
	}).Info("Alert created")

	s.fireLocked(s.onCreated, *alert)
	return *alert, true
}

// Acknowledge moves an alert from ACTIVE to ACKNOWLEDGED. Returns false
// for any other status, so acknowledging twice is a detectable no-op.
func (s *Store) Acknowledge(id, actor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, exists := s.alerts[id]
	if !exists || alert.Status != StatusActive {
		return false
	}

	now := s.clock.Now()
	alert.Status = StatusAcknowledged
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	alert.UpdatedAt = now

	s.logger.WithFields(logrus.Fields{
		"alert_id":        id,
		"acknowledged_by": actor,
	}).Info("Alert acknowledged")

	s.fireLocked(s.onAcknowledged, *alert)
	return true
}

// Resolve moves an alert to RESOLVED from any non-terminal status.
func (s *Store) Resolve(id, actor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, exists := s.alerts[id]
	if !exists || alert.Status == StatusResolved {
		return false
	}

	now := s.clock.Now()
	alert.Status = StatusResolved
	alert.ResolvedBy = actor
	alert.ResolvedAt = &now
	alert.UpdatedAt = now

	s.logger.WithFields(logrus.Fields{
		"alert_id":    id,
		"resolved_by": actor,
		"duration":    now.Sub(alert.CreatedAt),
	}).Info("Alert resolved")

	s.fireLocked(s.onResolved, *alert)
	return true
}

// Suppress sets the time-boxed suppressed flag on a non-resolved alert
// without changing its status.
func (s *Store) Suppress(id string, duration time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, exists := s.alerts[id]
	if !exists || alert.Status == StatusResolved {
		return false
	}

	now := s.clock.Now()
	alert.Suppressed = true
	alert.SuppressedUntil = now.Add(duration)
	alert.UpdatedAt = now

	s.logger.WithFields(logrus.Fields{
		"alert_id":         id,
		"suppressed_until": alert.SuppressedUntil,
	}).Info("Alert suppressed")

	return true
}

// Escalate advances the alert's escalation level by exactly one step.
// The level is monotonic non-decreasing; a stale target level is rejected.
func (s *Store) Escalate(id string, toLevel int) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, exists := s.alerts[id]
	if !exists || toLevel != alert.EscalationLevel+1 {
		return Alert{}, false
	}

	alert.EscalationLevel = toLevel
	alert.UpdatedAt = s.clock.Now()

	s.logger.WithFields(logrus.Fields{
		"alert_id":         id,
		"escalation_level": toLevel,
	}).Warn("Alert escalated")

	s.fireLocked(s.onEscalated, *alert)
	return *alert, true
}

// IncrementRetry bumps the alert's shared retry counter and returns the
// new value. One counter covers all channels and rules for the alert.
func (s *Store) IncrementRetry(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, exists := s.alerts[id]
	if !exists {
		return 0
	}
	alert.RetryCount++
	return alert.RetryCount
}

// RetryCount returns the alert's current retry counter
func (s *Store) RetryCount(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, exists := s.alerts[id]
	if !exists {
		return 0, false
	}
	return alert.RetryCount, true
}

// Get returns a copy of the alert with the given id
func (s *Store) Get(id string) (Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, exists := s.alerts[id]
	if !exists {
		return Alert{}, false
	}
	return *alert, true
}

// GetAll returns copies of all stored alerts
func (s *Store) GetAll() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		alerts = append(alerts, *alert)
	}
	return alerts
}

// GetActive returns ACTIVE alerts that are not currently suppressed
func (s *Store) GetActive() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	var alerts []Alert
	for _, alert := range s.alerts {
		if alert.Status == StatusActive && !alert.SuppressedAt(now) {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// GetEscalatable returns non-resolved, unsuppressed alerts. Escalation
// gates decide per step whether an acknowledged alert still escalates.
func (s *Store) GetEscalatable() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	var alerts []Alert
	for _, alert := range s.alerts {
		if alert.Status != StatusResolved && !alert.SuppressedAt(now) {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// GetByStatus returns alerts with the given status
func (s *Store) GetByStatus(status Status) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []Alert
	for _, alert := range s.alerts {
		if alert.Status == status {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// GetBySeverity returns alerts with the given severity
func (s *Store) GetBySeverity(severity Severity) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []Alert
	for _, alert := range s.alerts {
		if alert.Severity == severity {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// GetBySource returns alerts originating from the given source
func (s *Store) GetBySource(source string) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []Alert
	for _, alert := range s.alerts {
		if alert.Source == source {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// GetStatistics returns counts of stored alerts by status and severity
func (s *Store) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	stats := Statistics{
		Total:      len(s.alerts),
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
	}

	for _, alert := range s.alerts {
		stats.ByStatus[alert.Status]++
		stats.BySeverity[alert.Severity]++
		if alert.SuppressedAt(now) {
			stats.Suppressed++
		} else if alert.Status == StatusActive {
			stats.Active++
		}
	}
	return stats
}

// Cleanup removes RESOLVED alerts older than the retention window and
// returns how many were removed
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.cleanupResolvedLocked(s.clock.Now().Add(-s.config.Retention))
	if removed > 0 {
		s.logger.WithField("removed_count", removed).Info("Cleaned up old resolved alerts")
	}
	return removed
}

// OnCreated registers a callback invoked after an alert is inserted
func (s *Store) OnCreated(callback func(Alert)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreated = append(s.onCreated, callback)
}

// OnAcknowledged registers a callback invoked after acknowledgement
func (s *Store) OnAcknowledged(callback func(Alert)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAcknowledged = append(s.onAcknowledged, callback)
}

// OnResolved registers a callback invoked after resolution
func (s *Store) OnResolved(callback func(Alert)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResolved = append(s.onResolved, callback)
}

// OnEscalated registers a callback invoked after an escalation
func (s *Store) OnEscalated(callback func(Alert)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEscalated = append(s.onEscalated, callback)
}

func (s *Store) findDuplicateLocked(title, source string, severity Severity, now time.Time) *Alert {
	for _, alert := range s.alerts {
		if alert.Status == StatusActive && !alert.SuppressedAt(now) &&
			alert.Title == title && alert.Source == source && alert.Severity == severity {
			return alert
		}
	}
	return nil
}

func (s *Store) cleanupResolvedLocked(cutoff time.Time) int {
	removed := 0
	for id, alert := range s.alerts {
		if alert.Status == StatusResolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed
}

func (s *Store) fireLocked(callbacks []func(Alert), alert Alert) {
	for _, callback := range callbacks {
		go callback(alert)
	}
}
