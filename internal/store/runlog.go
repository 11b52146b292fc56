package store

import (
	"context"
	"fmt"
	"time"
)

// InsertRunLog appends one cycle outcome.
func (s *Store) InsertRunLog(ctx context.Context, l *RunLog) error {
	if l.CreatedAt == 0 {
		l.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO scrape_logs (id, source_id, owner_id, status, records_seen,
		new_records, duplicate_records, duration_ms, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.SourceID, l.OwnerID, l.Status, l.RecordsSeen,
		l.NewRecords, l.DuplicateRecords, l.DurationMs, l.ErrorDetail, l.CreatedAt,
	)
	return err
}

// ListRunLogs returns cycle outcomes for a source, newest first.
// An empty sourceID lists across all sources.
func (s *Store) ListRunLogs(ctx context.Context, sourceID string, limit int) ([]*RunLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, source_id, owner_id, status, records_seen, new_records,
		duplicate_records, duration_ms, error_detail, created_at
		FROM scrape_logs`
	args := []any{}
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*RunLog
	for rows.Next() {
		var l RunLog
		if err := rows.Scan(&l.ID, &l.SourceID, &l.OwnerID, &l.Status, &l.RecordsSeen,
			&l.NewRecords, &l.DuplicateRecords, &l.DurationMs, &l.ErrorDetail, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// InsertNotification stores a pipeline event for the owner.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) error {
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().UnixMilli()
	}
	if n.MetadataJSON == "" {
		n.MetadataJSON = "{}"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO notifications (id, owner_id, kind, title, message, link,
		metadata_json, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.OwnerID, n.Kind, n.Title, n.Message, n.Link,
		n.MetadataJSON, n.CreatedAt,
	)
	return err
}

// ListNotifications returns stored events, newest first. unreadOnly
// restricts the list to events not yet marked read.
func (s *Store) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, owner_id, kind, title, message, link, metadata_json,
		is_read, created_at
		FROM notifications`
	if unreadOnly {
		query += ` WHERE is_read = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Kind, &n.Title, &n.Message,
			&n.Link, &n.MetadataJSON, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flips the read flag. Unknown ids are a no-op.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	return err
}
