package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/sitewatch-dev/sitewatch-backend-go/internal/alerting"
)

const notificationSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	id               TEXT PRIMARY KEY,
	alert_id         TEXT NOT NULL,
	rule_id          TEXT NOT NULL,
	channel          TEXT NOT NULL,
	severity         TEXT NOT NULL,
	title            TEXT NOT NULL,
	message          TEXT NOT NULL,
	is_escalation    BOOLEAN NOT NULL DEFAULT 0,
	escalation_level INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_alert_id ON notifications(alert_id);
CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
`

// NotificationRepository archives notifications in SQLite. It implements
// alerting.NotificationArchive for the database channel handler.
type NotificationRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewNotificationRepository creates the repository and bootstraps its schema
func NewNotificationRepository(db *sqlx.DB, logger *logrus.Logger) (*NotificationRepository, error) {
	if _, err := db.Exec(notificationSchema); err != nil {
		return nil, fmt.Errorf("failed to create notifications schema: %w", err)
	}
	return &NotificationRepository{db: db, logger: logger}, nil
}

// SaveNotification persists one notification record
func (r *NotificationRepository) SaveNotification(ctx context.Context, record *alerting.NotificationRecord) error {
	query := `
		INSERT INTO notifications (id, alert_id, rule_id, channel, severity, title, message, is_escalation, escalation_level, created_at)
		VALUES (:id, :alert_id, :rule_id, :channel, :severity, :title, :message, :is_escalation, :escalation_level, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListByAlert returns archived notifications for one alert, newest first
func (r *NotificationRepository) ListByAlert(ctx context.Context, alertID string) ([]alerting.NotificationRecord, error) {
	var records []alerting.NotificationRecord
	err := r.db.SelectContext(ctx, &records,
		`SELECT * FROM notifications WHERE alert_id = ? ORDER BY created_at DESC`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	return records, nil
}

// ListRecent returns the most recent archived notifications
func (r *NotificationRepository) ListRecent(ctx context.Context, limit int) ([]alerting.NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []alerting.NotificationRecord
	err := r.db.SelectContext(ctx, &records,
		`SELECT * FROM notifications ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	return records, nil
}
