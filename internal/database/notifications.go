package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gearshare/internal/models"
)

const notificationColumns = `id, event_key, event_type, booking_id, recipient_email, recipient_role,
	template_data, status, retry_count, last_error, created_at, processed_at, next_retry_at`

// CreateNotification stores n unless its event key already exists.
// It reports whether a new row was written.
func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	data, err := json.Marshal(n.TemplateData)
	if err != nil {
		return false, fmt.Errorf("encode template data: %w", err)
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}

	query := `INSERT OR IGNORE INTO notifications (
				event_key, event_type, booking_id, recipient_email, recipient_role,
				template_data, status, retry_count, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		n.EventKey,
		n.EventType,
		n.BookingID,
		n.RecipientEmail,
		n.RecipientRole,
		string(data),
		n.Status,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create notification: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	n.CreatedAt = now
	return true, nil
}

func (db *DB) GetNotificationByKey(ctx context.Context, eventKey string) (*models.Notification, error) {
	row := db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE event_key = ?`, eventKey)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", eventKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// GetPendingNotifications returns due pending/retry rows and processing rows whose lease expired.
func (db *DB) GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
              FROM notifications
              WHERE (status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?))
                 OR (status = ? AND next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	now := time.Now().UTC()
	rows, err := db.QueryContext(ctx, query,
		models.NotificationPending, models.NotificationRetry, now,
		models.NotificationProcessing, now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (db *DB) GetFailedNotifications(ctx context.Context) ([]models.Notification, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE status = ? ORDER BY created_at DESC`,
		models.NotificationFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// ClaimNotification moves a deliverable row to processing for lease. It
// returns false when another consumer got there first.
func (db *DB) ClaimNotification(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, next_retry_at = ?
         WHERE id = ? AND (status IN (?, ?) OR (status = ? AND next_retry_at <= ?))`,
		models.NotificationProcessing, now.Add(lease),
		id, models.NotificationPending, models.NotificationRetry, models.NotificationProcessing, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (db *DB) UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	switch status {
	case models.NotificationRetry:
		query = `UPDATE notifications SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), nullTime(nextRetryAt), id}
	case models.NotificationCompleted, models.NotificationFailed:
		query = `UPDATE notifications SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), now, id}
	default:
		query = `UPDATE notifications SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), nullTime(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	return nil
}

func collectNotifications(rows *sql.Rows) ([]models.Notification, error) {
	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                  models.Notification
		data               string
		lastErr            sql.NullString
		processed, nextTry sql.NullTime
	)
	err := row.Scan(
		&n.ID, &n.EventKey, &n.EventType, &n.BookingID, &n.RecipientEmail, &n.RecipientRole,
		&data, &n.Status, &n.RetryCount, &lastErr, &n.CreatedAt, &processed, &nextTry,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &n.TemplateData); err != nil {
		return nil, fmt.Errorf("decode template data of notification %d: %w", n.ID, err)
	}
	if lastErr.Valid {
		msg := lastErr.String
		n.LastError = &msg
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.ProcessedAt = timePtr(processed)
	n.NextRetryAt = timePtr(nextTry)
	return &n, nil
}
