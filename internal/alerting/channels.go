package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sitewatch-dev/sitewatch-backend-go/pkg/errors"
)

// ConsoleHandler formats alerts and writes them to a local writer.
// It never fails.
type ConsoleHandler struct {
	logger *logrus.Logger
	out    io.Writer
}

// NewConsoleHandler creates a console channel handler writing to stdout
func NewConsoleHandler(logger *logrus.Logger) *ConsoleHandler {
	return &ConsoleHandler{logger: logger, out: os.Stdout}
}

// NewConsoleHandlerWithWriter creates a console handler with a custom writer
func NewConsoleHandlerWithWriter(logger *logrus.Logger, out io.Writer) *ConsoleHandler {
	return &ConsoleHandler{logger: logger, out: out}
}

func (h *ConsoleHandler) Type() ChannelType { return ChannelConsole }

func (h *ConsoleHandler) Send(ctx context.Context, payload *Payload, config *ChannelConfig) error {
	alert := payload.Alert
	prefix := "ALERT"
	if payload.IsEscalation {
		prefix = fmt.Sprintf("ESCALATION L%d", payload.EscalationLevel)
	}

	fmt.Fprintf(h.out, "[%s] [%s] %s: %s (source=%s, status=%s)\n",
		prefix, strings.ToUpper(string(alert.Severity)), alert.Title, alert.Message, alert.Source, alert.Status)
	return nil
}

// webhookAlertBody is the alert subset posted to webhook receivers
type webhookAlertBody struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Status    Status    `json:"status"`
	Source    string    `json:"source"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type webhookBody struct {
	Alert           webhookAlertBody `json:"alert"`
	IsEscalation    bool             `json:"isEscalation"`
	EscalationLevel int              `json:"escalationLevel"`
	Timestamp       time.Time        `json:"timestamp"`
}

// WebhookHandler delivers alerts as HTTP POST requests with a JSON body.
// A non-2xx response or a transport error fails the send. Body templates
// support {{field}} substitution against alert fields.
type WebhookHandler struct {
	logger *logrus.Logger
	client *http.Client
	clock  Clock
}

// NewWebhookHandler creates a webhook channel handler
func NewWebhookHandler(logger *logrus.Logger, timeout time.Duration, clock Clock) *WebhookHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &WebhookHandler{
		logger: logger,
		client: &http.Client{Timeout: timeout},
		clock:  clock,
	}
}

func (h *WebhookHandler) Type() ChannelType { return ChannelWebhook }

func (h *WebhookHandler) Send(ctx context.Context, payload *Payload, config *ChannelConfig) error {
	if config.Webhook == nil || config.Webhook.URL == "" {
		return errors.NewChannelDeliveryError(string(ChannelWebhook), fmt.Errorf("webhook url not configured"))
	}

	var body []byte
	if config.Webhook.BodyTemplate != "" {
		body = []byte(substituteFields(config.Webhook.BodyTemplate, payload))
	} else {
		alert := payload.Alert
		encoded, err := json.Marshal(webhookBody{
			Alert: webhookAlertBody{
				ID:        alert.ID,
				Title:     alert.Title,
				Message:   alert.Message,
				Severity:  alert.Severity,
				Status:    alert.Status,
				Source:    alert.Source,
				Tags:      alert.Tags,
				CreatedAt: alert.CreatedAt,
			},
			IsEscalation:    payload.IsEscalation,
			EscalationLevel: payload.EscalationLevel,
			Timestamp:       h.clock.Now(),
		})
		if err != nil {
			return errors.NewChannelDeliveryError(string(ChannelWebhook), err)
		}
		body = encoded
	}

	url := substituteFields(config.Webhook.URL, payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.NewChannelDeliveryError(string(ChannelWebhook), err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range config.Webhook.Headers {
		req.Header.Set(name, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.NewChannelDeliveryError(string(ChannelWebhook), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewChannelDeliveryError(string(ChannelWebhook),
			fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}

// substituteFields replaces {{field}} placeholders with alert values
func substituteFields(template string, payload *Payload) string {
	alert := payload.Alert
	replacer := strings.NewReplacer(
		"{{id}}", alert.ID,
		"{{title}}", alert.Title,
		"{{message}}", alert.Message,
		"{{severity}}", string(alert.Severity),
		"{{status}}", string(alert.Status),
		"{{source}}", alert.Source,
		"{{createdAt}}", alert.CreatedAt.Format(time.RFC3339),
		"{{escalationLevel}}", strconv.Itoa(payload.EscalationLevel),
	)
	return replacer.Replace(template)
}

// EmailMessage is the contract handed to an email transport
type EmailMessage struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// EmailSender is the transport boundary for email delivery. Concrete
// SMTP wiring lives outside the engine core.
type EmailSender interface {
	SendEmail(ctx context.Context, msg *EmailMessage) error
}

// EmailHandler composes alert emails and hands them to an EmailSender
type EmailHandler struct {
	logger *logrus.Logger
	sender EmailSender
}

// NewEmailHandler creates an email channel handler. A nil sender logs
// composed messages instead of delivering them.
func NewEmailHandler(logger *logrus.Logger, sender EmailSender) *EmailHandler {
	return &EmailHandler{logger: logger, sender: sender}
}

func (h *EmailHandler) Type() ChannelType { return ChannelEmail }

func (h *EmailHandler) Send(ctx context.Context, payload *Payload, config *ChannelConfig) error {
	if config.Email == nil || len(config.Email.Recipients) == 0 {
		return errors.NewChannelDeliveryError(string(ChannelEmail), fmt.Errorf("no recipients configured"))
	}

	alert := payload.Alert
	subject := config.Email.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	}
	if payload.IsEscalation {
		subject = fmt.Sprintf("[ESCALATED L%d] %s", payload.EscalationLevel, subject)
	}

	msg := &EmailMessage{
		Recipients: config.Email.Recipients,
		Subject:    subject,
		Body: fmt.Sprintf("%s\n\nSeverity: %s\nSource: %s\nStatus: %s\nCreated: %s\n",
			alert.Message, alert.Severity, alert.Source, alert.Status, alert.CreatedAt.Format(time.RFC1123)),
	}

	if h.sender == nil {
		h.logger.WithFields(logrus.Fields{
			"alert_id":   alert.ID,
			"recipients": msg.Recipients,
			"subject":    msg.Subject,
		}).Info("Email transport not configured, message logged only")
		return nil
	}

	if err := h.sender.SendEmail(ctx, msg); err != nil {
		return errors.NewChannelDeliveryError(string(ChannelEmail), err)
	}
	return nil
}

// chatAttachment is a severity-colored message attachment in the
// Slack-compatible shape most chat webhooks accept
type chatAttachment struct {
	Color  string      `json:"color"`
	Title  string      `json:"title"`
	Text   string      `json:"text"`
	Fields []chatField `json:"fields"`
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type chatMessage struct {
	Channel     string           `json:"channel,omitempty"`
	Username    string           `json:"username,omitempty"`
	Attachments []chatAttachment `json:"attachments"`
}

// ChatHandler posts severity-colored attachment messages to a chat
// webhook endpoint
type ChatHandler struct {
	logger *logrus.Logger
	client *http.Client
}

// NewChatHandler creates a chat channel handler
func NewChatHandler(logger *logrus.Logger, timeout time.Duration) *ChatHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatHandler{
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *ChatHandler) Type() ChannelType { return ChannelChat }

func (h *ChatHandler) Send(ctx context.Context, payload *Payload, config *ChannelConfig) error {
	if config.Chat == nil || config.Chat.WebhookURL == "" {
		return errors.NewChannelDeliveryError(string(ChannelChat), fmt.Errorf("chat webhook url not configured"))
	}

	alert := payload.Alert
	title := alert.Title
	if payload.IsEscalation {
		title = fmt.Sprintf("[Escalation L%d] %s", payload.EscalationLevel, title)
	}

	msg := chatMessage{
		Channel:  config.Chat.Channel,
		Username: config.Chat.Username,
		Attachments: []chatAttachment{{
			Color: severityColor(alert.Severity),
			Title: title,
			Text:  alert.Message,
			Fields: []chatField{
				{Title: "Severity", Value: string(alert.Severity), Short: true},
				{Title: "Source", Value: alert.Source, Short: true},
				{Title: "Status", Value: string(alert.Status), Short: true},
				{Title: "Created", Value: alert.CreatedAt.Format(time.RFC1123), Short: true},
			},
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.NewChannelDeliveryError(string(ChannelChat), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.Chat.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.NewChannelDeliveryError(string(ChannelChat), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.NewChannelDeliveryError(string(ChannelChat), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewChannelDeliveryError(string(ChannelChat),
			fmt.Errorf("chat webhook returned status %d", resp.StatusCode))
	}
	return nil
}

// severityColor maps severities onto chat attachment colors
func severityColor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "danger"
	case SeverityError, SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

// NotificationRecord is one delivered or attempted notification archived
// through the database channel
type NotificationRecord struct {
	ID              string    `db:"id" json:"id"`
	AlertID         string    `db:"alert_id" json:"alert_id"`
	RuleID          string    `db:"rule_id" json:"rule_id"`
	Channel         string    `db:"channel" json:"channel"`
	Severity        string    `db:"severity" json:"severity"`
	Title           string    `db:"title" json:"title"`
	Message         string    `db:"message" json:"message"`
	IsEscalation    bool      `db:"is_escalation" json:"is_escalation"`
	EscalationLevel int       `db:"escalation_level" json:"escalation_level"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// NotificationArchive persists notification records. The SQLite
// repository implements it.
type NotificationArchive interface {
	SaveNotification(ctx context.Context, record *NotificationRecord) error
}

// DatabaseHandler archives notifications through a NotificationArchive
type DatabaseHandler struct {
	logger  *logrus.Logger
	archive NotificationArchive
	clock   Clock
}

// NewDatabaseHandler creates a database channel handler
func NewDatabaseHandler(logger *logrus.Logger, archive NotificationArchive, clock Clock) *DatabaseHandler {
	if clock == nil {
		clock = SystemClock()
	}
	return &DatabaseHandler{logger: logger, archive: archive, clock: clock}
}

func (h *DatabaseHandler) Type() ChannelType { return ChannelDatabase }

func (h *DatabaseHandler) Send(ctx context.Context, payload *Payload, config *ChannelConfig) error {
	if h.archive == nil {
		return errors.NewChannelDeliveryError(string(ChannelDatabase), fmt.Errorf("notification archive not configured"))
	}

	alert := payload.Alert
	record := &NotificationRecord{
		ID:              uuid.New().String(),
		AlertID:         alert.ID,
		RuleID:          payload.Rule.ID,
		Channel:         string(ChannelDatabase),
		Severity:        string(alert.Severity),
		Title:           alert.Title,
		Message:         alert.Message,
		IsEscalation:    payload.IsEscalation,
		EscalationLevel: payload.EscalationLevel,
		CreatedAt:       h.clock.Now(),
	}

	if err := h.archive.SaveNotification(ctx, record); err != nil {
		return errors.NewChannelDeliveryError(string(ChannelDatabase), err)
	}
	return nil
}
