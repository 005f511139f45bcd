package alerting

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry is the keyed collection of alert rules. It exclusively owns
// rule definitions; the rule-to-alert association is recomputed by
// matching, never cached.
type Registry struct {
	rules  map[string]*Rule
	logger *logrus.Logger
	clock  Clock
	mu     sync.RWMutex
}

// NewRegistry creates a new rule registry
func NewRegistry(logger *logrus.Logger, clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		rules:  make(map[string]*Rule),
		logger: logger,
		clock:  clock,
	}
}

// AddRule validates and stores a rule, overwriting any rule with the
// same id
func (r *Registry) AddRule(rule Rule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
		rule.CreatedAt = now
	} else if existing, ok := r.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	r.rules[rule.ID] = &rule

	r.logger.WithFields(logrus.Fields{
		"rule_id":  rule.ID,
		"name":     rule.Name,
		"severity": rule.Severity,
	}).Info("Alert rule added")

	return rule.ID, nil
}

// UpdateRule replaces an existing rule; the rule must already exist
func (r *Registry) UpdateRule(rule Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required for update")
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if !ok {
		return fmt.Errorf("rule %s not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = r.clock.Now()
	r.rules[rule.ID] = &rule

	r.logger.WithFields(logrus.Fields{
		"rule_id": rule.ID,
		"name":    rule.Name,
	}).Info("Alert rule updated")

	return nil
}

// RemoveRule deletes a rule by id
func (r *Registry) RemoveRule(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return false
	}
	delete(r.rules, id)

	r.logger.WithField("rule_id", id).Info("Alert rule removed")
	return true
}

// GetRule returns a copy of the rule with the given id
func (r *Registry) GetRule(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return Rule{}, false
	}
	return *rule, true
}

// GetRules returns copies of all rules
func (r *Registry) GetRules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, *rule)
	}
	return rules
}

// EnabledRules returns copies of all enabled rules
func (r *Registry) EnabledRules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rules []Rule
	for _, rule := range r.rules {
		if rule.Enabled {
			rules = append(rules, *rule)
		}
	}
	return rules
}

// Count returns the number of registered rules
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Matches reports whether a rule applies to an alert: the alert severity
// must meet the rule's floor, and when the rule carries tags at least one
// must be present on the alert (tag filter is OR, not AND).
func Matches(alert *Alert, rule *Rule) bool {
	if alert.Severity.Ordinal() < rule.Severity.Ordinal() {
		return false
	}
	if len(rule.Tags) == 0 {
		return true
	}
	for _, tag := range rule.Tags {
		if alert.HasTag(tag) {
			return true
		}
	}
	return false
}

// MatchingRules returns copies of all enabled rules matching the alert
func (r *Registry) MatchingRules(alert *Alert) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Rule
	for _, rule := range r.rules {
		if rule.Enabled && Matches(alert, rule) {
			matched = append(matched, *rule)
		}
	}
	return matched
}
