package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewatch-dev/sitewatch-backend-go/pkg/errors"
)

// Severity represents the severity level of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// Ordinal returns the numeric rank of a severity for floor comparisons
func (s Severity) Ordinal() int {
	return severityOrder[s]
}

// Valid reports whether the severity is one of the known levels
func (s Severity) Valid() bool {
	_, ok := severityOrder[s]
	return ok
}

// Status represents the lifecycle status of an alert
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert represents one detected abnormal condition and its lifecycle state.
// Suppression is an orthogonal, time-boxed flag, not a status value.
type Alert struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	Message         string                 `json:"message"`
	Severity        Severity               `json:"severity"`
	Status          Status                 `json:"status"`
	Source          string                 `json:"source"`
	Tags            []string               `json:"tags,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Suppressed      bool                   `json:"suppressed"`
	SuppressedUntil time.Time              `json:"suppressed_until,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	AcknowledgedBy  string                 `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time             `json:"acknowledged_at,omitempty"`
	ResolvedBy      string                 `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time             `json:"resolved_at,omitempty"`
	EscalationLevel int                    `json:"escalation_level"`
	RetryCount      int                    `json:"retry_count"`
}

// HasTag reports whether the alert carries the given tag
func (a *Alert) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SuppressedAt reports whether the alert is suppressed at the given instant.
// The suppressed flag is never cleared by a background process; expiry is
// checked lazily on every read and escalation pass.
func (a *Alert) SuppressedAt(now time.Time) bool {
	return a.Suppressed && now.Before(a.SuppressedUntil)
}

// Operator compares a sampled metric against a rule threshold
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
	OpContains       Operator = "contains"
	OpRegex          Operator = "regex"
)

// Valid reports whether the operator is one of the known comparators
func (o Operator) Valid() bool {
	switch o {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual,
		OpEqual, OpNotEqual, OpContains, OpRegex:
		return true
	}
	return false
}

// Condition binds a metric sample to a threshold comparison
type Condition struct {
	Metric              string        `json:"metric"`
	Operator            Operator      `json:"operator"`
	Threshold           float64       `json:"threshold"`
	Pattern             string        `json:"pattern,omitempty"`
	TimeWindow          time.Duration `json:"time_window"`
	EvaluationInterval  time.Duration `json:"evaluation_interval"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// ChannelType identifies a delivery mechanism
type ChannelType string

const (
	ChannelConsole  ChannelType = "console"
	ChannelWebhook  ChannelType = "webhook"
	ChannelEmail    ChannelType = "email"
	ChannelChat     ChannelType = "chat"
	ChannelDatabase ChannelType = "database"
)

// RetryPolicy defines retry behavior for failed notifications
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryPolicy returns the retry policy applied when a channel
// config does not carry its own
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		RetryDelay:        time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// WebhookSettings is the typed payload for webhook channels
type WebhookSettings struct {
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`
}

// EmailSettings is the typed payload for email channels
type EmailSettings struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject,omitempty"`
}

// ChatSettings is the typed payload for chat channels
type ChatSettings struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
}

// ChannelConfig describes one routing target for a rule. The per-type
// settings payload is a tagged variant validated when the owning rule is
// registered, not at send time.
type ChannelConfig struct {
	Type     ChannelType      `json:"type"`
	Enabled  bool             `json:"enabled"`
	Priority int              `json:"priority"`
	Retry    RetryPolicy      `json:"retry"`
	Webhook  *WebhookSettings `json:"webhook,omitempty"`
	Email    *EmailSettings   `json:"email,omitempty"`
	Chat     *ChatSettings    `json:"chat,omitempty"`
}

// Validate checks that the variant payload matching the channel type is
// present and well formed
func (c *ChannelConfig) Validate() error {
	switch c.Type {
	case ChannelWebhook:
		if c.Webhook == nil || c.Webhook.URL == "" {
			return errors.NewValidationError("webhook.url", "webhook channel requires a url")
		}
	case ChannelEmail:
		if c.Email == nil || len(c.Email.Recipients) == 0 {
			return errors.NewValidationError("email.recipients", "email channel requires at least one recipient")
		}
	case ChannelChat:
		if c.Chat == nil || c.Chat.WebhookURL == "" {
			return errors.NewValidationError("chat.webhook_url", "chat channel requires a webhook url")
		}
	case ChannelConsole, ChannelDatabase:
		// No settings payload required.
	default:
		if c.Type == "" {
			return errors.NewValidationError("type", "channel type is required")
		}
	}
	return nil
}

// EscalationGate restricts when an escalation step may fire
type EscalationGate string

const (
	// GateAlways fires regardless of alert status
	GateAlways EscalationGate = ""
	// GateUnacknowledged blocks once the alert is acknowledged
	GateUnacknowledged EscalationGate = "unacknowledged"
	// GateUnresolved blocks once the alert is resolved
	GateUnresolved EscalationGate = "unresolved"
)

// EscalationStep is one rung of a rule's escalation ladder
type EscalationStep struct {
	Level    int             `json:"level"`
	Delay    time.Duration   `json:"delay"`
	Channels []ChannelConfig `json:"channels"`
	Gate     EscalationGate  `json:"gate,omitempty"`
}

// Blocked reports whether the step's gate stops escalation for the
// given alert status
func (s *EscalationStep) Blocked(status Status) bool {
	switch s.Gate {
	case GateUnacknowledged:
		return status == StatusAcknowledged || status == StatusResolved
	case GateUnresolved:
		return status == StatusResolved
	default:
		return false
	}
}

// Rule binds a condition to a severity floor, channel routing, and an
// escalation ladder
type Rule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	Condition        Condition              `json:"condition"`
	Severity         Severity               `json:"severity"`
	Channels         []ChannelConfig        `json:"channels"`
	Enabled          bool                   `json:"enabled"`
	Tags             []string               `json:"tags,omitempty"`
	SuppressDuration time.Duration          `json:"suppress_duration,omitempty"`
	Escalations      []EscalationStep       `json:"escalations,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Validate checks rule invariants: known severity and operator, valid
// channel configs, and escalation levels strictly increasing from 1
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errors.NewValidationError("name", "rule name is required")
	}
	if !r.Severity.Valid() {
		return errors.NewValidationError("severity", fmt.Sprintf("unknown severity %q", r.Severity))
	}
	if r.Condition.Metric != "" && !r.Condition.Operator.Valid() {
		return errors.NewValidationError("condition.operator", fmt.Sprintf("unknown operator %q", r.Condition.Operator))
	}
	for i := range r.Channels {
		if err := r.Channels[i].Validate(); err != nil {
			return err
		}
	}
	for i := range r.Escalations {
		step := &r.Escalations[i]
		if step.Level != i+1 {
			return errors.NewValidationError("escalations", fmt.Sprintf("escalation levels must increase strictly from 1, got %d at position %d", step.Level, i))
		}
		for j := range step.Channels {
			if err := step.Channels[j].Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Payload is the transient bundle handed to a channel handler for one send
type Payload struct {
	Alert           *Alert `json:"alert"`
	Rule            *Rule  `json:"rule"`
	IsEscalation    bool   `json:"is_escalation"`
	EscalationLevel int    `json:"escalation_level"`
}

// ChannelHandler is the polymorphic send capability of a delivery channel.
// Send either succeeds or fails with a ChannelDeliveryError.
type ChannelHandler interface {
	Type() ChannelType
	Send(ctx context.Context, payload *Payload, config *ChannelConfig) error
}

// MetricSample is one aggregated observation of a metric over a time window
type MetricSample struct {
	Value float64
	Raw   string
}

// MetricsSource supplies aggregated metric samples for rule evaluation.
// Implementations live outside the engine core.
type MetricsSource interface {
	Sample(ctx context.Context, metric string, window time.Duration) (MetricSample, error)
}

// Clock abstracts time for deterministic tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now
func SystemClock() Clock { return systemClock{} }

// Statistics summarizes stored alerts by status and severity
type Statistics struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	Suppressed int              `json:"suppressed"`
	ByStatus   map[Status]int   `json:"by_status"`
	BySeverity map[Severity]int `json:"by_severity"`
	RuleCount  int              `json:"rule_count,omitempty"`
}
