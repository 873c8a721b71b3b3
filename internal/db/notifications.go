package db

import (
	"database/sql"
	"fmt"

	"github.com/rsclarke/dnsmon/internal/models"
)

// CreateNotification stores n.
func CreateNotification(d *sql.DB, n models.Notification) error {
	_, err := d.Exec(
		"INSERT INTO notifications (id, key, severity, text, created_at) VALUES (?, ?, ?, ?, ?)",
		n.ID, n.Key, string(n.Severity), n.Text, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns up to limit notifications, newest first. A
// non-positive limit returns all of them.
func ListNotifications(d *sql.DB, limit int) ([]models.Notification, error) {
	query := "SELECT id, key, severity, text, created_at FROM notifications ORDER BY created_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var severity string
		if err := rows.Scan(&n.ID, &n.Key, &severity, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Severity = models.Severity(severity)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// LatestNotification returns the newest notification, or nil when there are
// none.
func LatestNotification(d *sql.DB) (*models.Notification, error) {
	list, err := ListNotifications(d, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// DeleteNotificationsBefore removes notifications created before ts and
// returns how many were removed.
func DeleteNotificationsBefore(d *sql.DB, ts int64) (int64, error) {
	result, err := d.Exec("DELETE FROM notifications WHERE created_at < ?", ts)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted notifications: %w", err)
	}
	return n, nil
}
