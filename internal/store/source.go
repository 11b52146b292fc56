package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sourceColumns = `id, owner_id, name, url, kind, enabled, defended,
	interval_hours, min_body_bytes, last_content_hash, last_scraped_at,
	last_status, last_error, consec_failures, total_runs, total_new_records,
	created_at, updated_at`

// InsertSource adds a new source.
func (s *Store) InsertSource(ctx context.Context, src *Source) error {
	now := time.Now().UnixMilli()
	if src.CreatedAt == 0 {
		src.CreatedAt = now
	}
	if src.UpdatedAt == 0 {
		src.UpdatedAt = now
	}
	if src.Kind == "" {
		src.Kind = "single"
	}
	if src.IntervalHours == 0 {
		src.IntervalHours = 24
	}
	if src.LastStatus == "" {
		src.LastStatus = "pending"
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.OwnerID, src.Name, src.URL, src.Kind, src.Enabled, src.Defended,
		src.IntervalHours, src.MinBodyBytes, src.LastContentHash, src.LastScrapedAt,
		src.LastStatus, src.LastError, src.ConsecFailures, src.TotalRuns, src.TotalNewRecords,
		src.CreatedAt, src.UpdatedAt,
	)
	return err
}

// GetSource retrieves a source by ID. Returns nil when not found.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return src, err
}

// GetSourceByURL returns the source matching the (normalized) URL, or nil.
func (s *Store) GetSourceByURL(ctx context.Context, url string) (*Source, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE url = ? LIMIT 1`, url)
	src, err := scanSource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return src, err
}

// ListSources returns all sources, newest first.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

// EnabledSources returns all enabled sources regardless of schedule.
// Used by the on-demand full-cycle trigger.
func (s *Store) EnabledSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE enabled = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

// DueSources returns enabled sources whose next scrape time has passed and
// whose consecutive-failure count is below maxFailures. A source never
// scraped is always due.
func (s *Store) DueSources(ctx context.Context, maxFailures int) ([]*Source, error) {
	now := time.Now().UnixMilli()
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources
		WHERE enabled = 1
		  AND consec_failures < ?
		  AND (last_scraped_at IS NULL
		       OR last_scraped_at + interval_hours * 3600000 <= ?)
		ORDER BY last_scraped_at ASC NULLS FIRST`, maxFailures, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

// UpdateSource updates a source's operator-mutable fields.
func (s *Store) UpdateSource(ctx context.Context, src *Source) error {
	src.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sources SET name=?, url=?, kind=?, enabled=?, defended=?,
		interval_hours=?, min_body_bytes=?, updated_at=?
		WHERE id=?`,
		src.Name, src.URL, src.Kind, src.Enabled, src.Defended,
		src.IntervalHours, src.MinBodyBytes, src.UpdatedAt, src.ID,
	)
	return err
}

// DeleteSource removes a source (cascades to transactions and scrape_logs).
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	return err
}

// RecordRunSuccess updates a source after a cycle that persisted its results.
// The content hash is committed here, not at detection time, so a failed
// extraction never masks a future comparison.
func (s *Store) RecordRunSuccess(ctx context.Context, id, contentHash string, newRecords int) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sources SET last_scraped_at=?, last_content_hash=?, last_status='success',
		last_error='', consec_failures=0, total_runs=total_runs+1,
		total_new_records=total_new_records+?, updated_at=?
		WHERE id=?`, now, contentHash, newRecords, now, id)
	return err
}

// RecordRunUnchanged updates last_scraped_at without touching the hash.
func (s *Store) RecordRunUnchanged(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sources SET last_scraped_at=?, last_status='unchanged',
		last_error='', consec_failures=0, total_runs=total_runs+1, updated_at=?
		WHERE id=?`, now, now, id)
	return err
}

// RecordRunError updates a source after a failed cycle.
func (s *Store) RecordRunError(ctx context.Context, id, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sources SET last_scraped_at=?, last_status='error',
		last_error=?, consec_failures=consec_failures+1,
		total_runs=total_runs+1, updated_at=?
		WHERE id=?`, now, errMsg, now, id)
	return err
}

func collectSources(rows *sql.Rows) ([]*Source, error) {
	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func scanSource(scan func(...any) error) (*Source, error) {
	var src Source
	var enabled, defended int
	err := scan(
		&src.ID, &src.OwnerID, &src.Name, &src.URL, &src.Kind, &enabled, &defended,
		&src.IntervalHours, &src.MinBodyBytes, &src.LastContentHash, &src.LastScrapedAt,
		&src.LastStatus, &src.LastError, &src.ConsecFailures, &src.TotalRuns,
		&src.TotalNewRecords, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Enabled = enabled != 0
	src.Defended = defended != 0
	return &src, nil
}
