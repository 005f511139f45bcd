package database

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch-dev/sitewatch-backend-go/internal/alerting"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestRepository(t *testing.T) *NotificationRepository {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewNotificationRepository(db, testLogger())
	require.NoError(t, err)
	return repo
}

func testRecord(id, alertID string, createdAt time.Time) *alerting.NotificationRecord {
	return &alerting.NotificationRecord{
		ID:        id,
		AlertID:   alertID,
		RuleID:    "rule-1",
		Channel:   "database",
		Severity:  "critical",
		Title:     "DB down",
		Message:   "conn refused",
		CreatedAt: createdAt,
	}
}

func TestSaveAndListByAlert(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.SaveNotification(ctx, testRecord("n1", "alert-1", now.Add(-time.Minute))))
	require.NoError(t, repo.SaveNotification(ctx, testRecord("n2", "alert-1", now)))
	require.NoError(t, repo.SaveNotification(ctx, testRecord("n3", "alert-2", now)))

	records, err := repo.ListByAlert(ctx, "alert-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "n2", records[0].ID, "newest first")
	assert.Equal(t, "n1", records[1].ID)
	assert.Equal(t, "DB down", records[0].Title)
}

func TestListByAlertEmpty(t *testing.T) {
	repo := newTestRepository(t)

	records, err := repo.ListByAlert(context.Background(), "no-such-alert")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListRecentHonorsLimit(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		record := testRecord(fmt.Sprintf("n%d", i), "alert-1", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.SaveNotification(ctx, record))
	}

	records, err := repo.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "n4", records[0].ID)

	all, err := repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "non-positive limit falls back to the default")
}
