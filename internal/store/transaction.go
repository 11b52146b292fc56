package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const transactionColumns = `id, source_id, owner_id, project_name, procurement_number,
	bidding_unit, bidder_unit, winning_unit, total_price, quantity, unit_price,
	detail_link, is_channel, cert_years, bid_start_date, bid_end_date,
	award_date, publish_date, data_hash, first_seen_at, last_updated_at`

// ExistingHashes returns the subset of hashes already stored for the source.
func (s *Store) ExistingHashes(ctx context.Context, sourceID string, hashes []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return existing, nil
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(hashes)+1)
	args = append(args, sourceID)
	for _, h := range hashes {
		args = append(args, h)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT data_hash FROM transactions
		WHERE source_id = ? AND data_hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		existing[h] = true
	}
	return existing, rows.Err()
}

// InsertTransactions stores new records in one transaction. The unique index
// on (source_id, data_hash) absorbs the benign race between the hash lookup
// and the insert: a conflicting row counts as already-existing, not an error.
// Returns the number of rows actually inserted.
func (s *Store) InsertTransactions(ctx context.Context, records []*Transaction) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		now := time.Now().UnixMilli()
		for _, r := range records {
			if r.FirstSeenAt == 0 {
				r.FirstSeenAt = now
			}
			if r.LastUpdatedAt == 0 {
				r.LastUpdatedAt = now
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (`+transactionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(source_id, data_hash) DO NOTHING`,
				r.ID, r.SourceID, r.OwnerID, r.ProjectName, r.ProcurementNumber,
				r.BiddingUnit, r.BidderUnit, r.WinningUnit, r.TotalPrice, r.Quantity,
				r.UnitPrice, r.DetailLink, boolPtrToInt(r.IsChannel), yearsToJSON(r.CertYears),
				r.BidStartDate, r.BidEndDate, r.AwardDate, r.PublishDate,
				r.DataHash, r.FirstSeenAt, r.LastUpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// ListTransactions returns stored records for a source, newest first.
// An empty sourceID lists across all sources.
func (s *Store) ListTransactions(ctx context.Context, sourceID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	args := []any{}
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY first_seen_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanTransaction(rows *sql.Rows) (*Transaction, error) {
	var t Transaction
	var isChannel sql.NullInt64
	var certYears sql.NullString
	err := rows.Scan(
		&t.ID, &t.SourceID, &t.OwnerID, &t.ProjectName, &t.ProcurementNumber,
		&t.BiddingUnit, &t.BidderUnit, &t.WinningUnit, &t.TotalPrice, &t.Quantity,
		&t.UnitPrice, &t.DetailLink, &isChannel, &certYears,
		&t.BidStartDate, &t.BidEndDate, &t.AwardDate, &t.PublishDate,
		&t.DataHash, &t.FirstSeenAt, &t.LastUpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if isChannel.Valid {
		b := isChannel.Int64 != 0
		t.IsChannel = &b
	}
	if certYears.Valid && certYears.String != "" {
		if err := json.Unmarshal([]byte(certYears.String), &t.CertYears); err != nil {
			return nil, fmt.Errorf("decode cert_years: %w", err)
		}
	}
	return &t, nil
}

func boolPtrToInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func yearsToJSON(years []string) any {
	if len(years) == 0 {
		return nil
	}
	data, _ := json.Marshal(years)
	return string(data)
}
