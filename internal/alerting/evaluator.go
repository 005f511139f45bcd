package alerting

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sitewatch-dev/sitewatch-backend-go/pkg/errors"
)

// RuleEngineSource is the source string stamped on alerts created by
// condition evaluation
const RuleEngineSource = "rule-engine"

// AlertSink receives alerts emitted by the evaluator. The engine facade
// implements it; tests substitute a recorder.
type AlertSink interface {
	CreateAlert(title, message string, severity Severity, source string, tags []string, metadata map[string]interface{}) string
}

// Evaluator samples the injected metrics source on a fixed timer and
// emits alerts for breached rule conditions. Evaluation failures are
// isolated per rule; one bad rule never aborts the others.
type Evaluator struct {
	registry *Registry
	source   MetricsSource
	sink     AlertSink
	logger   *logrus.Logger
	metrics  *Metrics
	interval time.Duration

	streaks map[string]int
	mu      sync.Mutex
}

// NewEvaluator creates a new condition evaluator
func NewEvaluator(registry *Registry, source MetricsSource, sink AlertSink, logger *logrus.Logger, metrics *Metrics, interval time.Duration) *Evaluator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Evaluator{
		registry: registry,
		source:   source,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
		streaks:  make(map[string]int),
	}
}

// Run evaluates rules on a fixed timer until the context is cancelled
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs a single evaluation pass over all enabled rules
func (e *Evaluator) EvaluateOnce(ctx context.Context) {
	for _, rule := range e.registry.EnabledRules() {
		e.evaluateRule(ctx, rule)
	}
}

// evaluateRule evaluates one rule, recovering from panics so that fault
// isolation holds per rule rather than per pass
func (e *Evaluator) evaluateRule(ctx context.Context, rule Rule) {
	defer func() {
		if r := recover(); r != nil {
			e.recordFailure(rule, fmt.Errorf("panic: %v", r))
		}
	}()

	if rule.Condition.Metric == "" {
		return
	}

	breached, sample, err := e.checkCondition(ctx, rule.Condition)
	if err != nil {
		e.recordFailure(rule, err)
		return
	}

	if !breached {
		e.resetStreak(rule.ID)
		return
	}

	required := rule.Condition.ConsecutiveFailures
	if required < 1 {
		required = 1
	}
	if e.bumpStreak(rule.ID) < required {
		e.logger.WithFields(logrus.Fields{
			"rule_id": rule.ID,
			"metric":  rule.Condition.Metric,
		}).Debug("Condition breached, waiting for consecutive failures")
		return
	}

	message := fmt.Sprintf("%s: %s %s %.2f (observed %.2f over %s)",
		rule.Description, rule.Condition.Metric, rule.Condition.Operator,
		rule.Condition.Threshold, sample.Value, rule.Condition.TimeWindow)
	if rule.Description == "" {
		message = fmt.Sprintf("%s %s %.2f (observed %.2f over %s)",
			rule.Condition.Metric, rule.Condition.Operator,
			rule.Condition.Threshold, sample.Value, rule.Condition.TimeWindow)
	}

	e.sink.CreateAlert(rule.Name, message, rule.Severity, RuleEngineSource, rule.Tags, map[string]interface{}{
		"rule_id":        rule.ID,
		"metric":         rule.Condition.Metric,
		"observed_value": sample.Value,
		"threshold":      rule.Condition.Threshold,
	})
}

// checkCondition samples the metric over the condition's window and
// applies the operator. Numeric operators compare the aggregated value;
// contains/regex match the raw sample text.
func (e *Evaluator) checkCondition(ctx context.Context, cond Condition) (bool, MetricSample, error) {
	window := cond.TimeWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	sample, err := e.source.Sample(ctx, cond.Metric, window)
	if err != nil {
		return false, MetricSample{}, fmt.Errorf("sampling %s: %w", cond.Metric, err)
	}

	switch cond.Operator {
	case OpGreaterThan:
		return sample.Value > cond.Threshold, sample, nil
	case OpGreaterOrEqual:
		return sample.Value >= cond.Threshold, sample, nil
	case OpLessThan:
		return sample.Value < cond.Threshold, sample, nil
	case OpLessOrEqual:
		return sample.Value <= cond.Threshold, sample, nil
	case OpEqual:
		return sample.Value == cond.Threshold, sample, nil
	case OpNotEqual:
		return sample.Value != cond.Threshold, sample, nil
	case OpContains:
		return strings.Contains(sample.Raw, cond.Pattern), sample, nil
	case OpRegex:
		matched, err := regexp.MatchString(cond.Pattern, sample.Raw)
		if err != nil {
			return false, sample, fmt.Errorf("bad pattern %q: %w", cond.Pattern, err)
		}
		return matched, sample, nil
	default:
		return false, sample, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

func (e *Evaluator) recordFailure(rule Rule, err error) {
	evalErr := errors.NewEvaluationError(rule.ID, rule.Name, err)
	e.logger.WithError(evalErr).WithField("rule_id", rule.ID).Error("Rule evaluation failed")
	if e.metrics != nil {
		e.metrics.EvaluationErrors.Inc()
	}
}

func (e *Evaluator) bumpStreak(ruleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streaks[ruleID]++
	return e.streaks[ruleID]
}

func (e *Evaluator) resetStreak(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streaks, ruleID)
}
