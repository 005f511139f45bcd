package alerting

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// EscalationScheduler walks non-resolved, unsuppressed alerts on a fixed timer
// and advances their escalation level along the ladders of matching rules.
// The escalation level is intrinsic alert state shared across rules.
type EscalationScheduler struct {
	store      *Store
	registry   *Registry
	dispatcher *Dispatcher
	logger     *logrus.Logger
	clock      Clock
	metrics    *Metrics
	interval   time.Duration
}

// NewEscalationScheduler creates a new escalation scheduler
func NewEscalationScheduler(store *Store, registry *Registry, dispatcher *Dispatcher, logger *logrus.Logger, clock Clock, metrics *Metrics, interval time.Duration) *EscalationScheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &EscalationScheduler{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      clock,
		metrics:    metrics,
		interval:   interval,
	}
}

// Run processes escalations on a fixed timer until the context is
// cancelled
func (s *EscalationScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce runs a single escalation pass over all non-resolved,
// unsuppressed alerts; per-step gates decide whether acknowledged
// alerts keep escalating
func (s *EscalationScheduler) ProcessOnce(ctx context.Context) {
	for _, alert := range s.store.GetEscalatable() {
		s.processAlert(ctx, alert)
	}
}

// processAlert advances one alert along the ladders of its matching
// rules. Each rule is evaluated against the alert's shared escalation
// counter; a rule whose ladder is exhausted stops escalating this alert
// without blocking the others.
func (s *EscalationScheduler) processAlert(ctx context.Context, alert Alert) {
	now := s.clock.Now()

	for _, rule := range s.registry.MatchingRules(&alert) {
		if len(rule.Escalations) == 0 {
			continue
		}

		idx := alert.EscalationLevel
		if idx >= len(rule.Escalations) {
			continue
		}
		step := rule.Escalations[idx]

		escalationTime := alert.CreatedAt.Add(step.Delay)
		if now.Before(escalationTime) {
			continue
		}
		if step.Blocked(alert.Status) {
			s.logger.WithFields(logrus.Fields{
				"alert_id": alert.ID,
				"rule_id":  rule.ID,
				"level":    step.Level,
				"gate":     step.Gate,
				"status":   alert.Status,
			}).Debug("Escalation blocked by gate")
			continue
		}

		updated, ok := s.store.Escalate(alert.ID, idx+1)
		if !ok {
			// Lost a race with another escalation pass; re-read and
			// keep walking with the fresh counter.
			fresh, exists := s.store.Get(alert.ID)
			if !exists {
				return
			}
			alert = fresh
			continue
		}

		if s.metrics != nil {
			s.metrics.Escalations.Inc()
		}
		s.dispatcher.DispatchEscalation(ctx, updated, rule, step)

		// Remaining rules see the advanced shared counter.
		alert = updated
	}
}
