// Package dedupe decides which extracted candidates are new.
//
// Identity is a content hash over the fields that distinguish one tender
// transaction from another. Dedup is insert-only: an already-seen hash is
// dropped, never merged into the stored row.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/gecwatch/gecwatch/internal/extract"
	"github.com/gecwatch/gecwatch/internal/store"
)

// DataHash digests the identifying fields of a candidate. The field set
// and order are fixed; changing either would re-ingest every stored row
// as "new".
func DataHash(c *extract.Candidate) string {
	parts := []string{
		c.ProjectName,
		strOrEmpty(c.BiddingUnit),
		strOrEmpty(c.WinningUnit),
		floatOrEmpty(c.TotalPrice),
		strOrEmpty(c.AwardDate),
		strOrEmpty(c.BidStartDate),
		strOrEmpty(c.DetailLink),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of one dedup pass.
type Result struct {
	// New holds the transactions not yet stored, in candidate order.
	New []*store.Transaction
	// Duplicates counts candidates dropped as already stored or as
	// repeats within the same batch.
	Duplicates int
}

// HashStore is the slice of storage dedup needs.
type HashStore interface {
	ExistingHashes(ctx context.Context, sourceID string, hashes []string) (map[string]bool, error)
}

// Dedupe hashes each candidate, drops the ones whose hash is already
// stored for this source (or already seen earlier in the batch), and
// materializes the rest as transactions ready to insert.
func Dedupe(ctx context.Context, st HashStore, sourceID, ownerID string, cands []*extract.Candidate, now int64, newID func() string) (*Result, error) {
	if len(cands) == 0 {
		return &Result{}, nil
	}

	hashes := make([]string, len(cands))
	for i, c := range cands {
		hashes[i] = DataHash(c)
	}
	existing, err := st.ExistingHashes(ctx, sourceID, hashes)
	if err != nil {
		return nil, fmt.Errorf("dedupe: query existing hashes: %w", err)
	}

	res := &Result{}
	seen := make(map[string]bool, len(cands))
	for i, c := range cands {
		h := hashes[i]
		if existing[h] || seen[h] {
			res.Duplicates++
			continue
		}
		seen[h] = true
		res.New = append(res.New, &store.Transaction{
			ID:                newID(),
			SourceID:          sourceID,
			OwnerID:           ownerID,
			ProjectName:       c.ProjectName,
			ProcurementNumber: c.ProcurementNumber,
			BiddingUnit:       c.BiddingUnit,
			BidderUnit:        c.BidderUnit,
			WinningUnit:       c.WinningUnit,
			TotalPrice:        c.TotalPrice,
			Quantity:          c.Quantity,
			UnitPrice:         c.UnitPrice,
			DetailLink:        c.DetailLink,
			IsChannel:         c.IsChannel,
			CertYears:         c.CertYears,
			BidStartDate:      c.BidStartDate,
			BidEndDate:        c.BidEndDate,
			AwardDate:         c.AwardDate,
			PublishDate:       c.PublishDate,
			DataHash:          h,
			FirstSeenAt:       now,
			LastUpdatedAt:     now,
		})
	}
	return res, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatOrEmpty(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
