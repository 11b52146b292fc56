package pipeline

import (
	"context"
	"fmt"

	"github.com/gecwatch/gecwatch/internal/store"
)

// SingleHandler scrapes a source whose URL is itself the announcement
// page: one fetch, one extraction.
type SingleHandler struct{}

func (h *SingleHandler) Handle(ctx context.Context, src *store.Source, p *Pipeline) (*result, error) {
	page, hash, err := p.fetchPage(ctx, src.URL, src)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if hash == src.LastContentHash {
		return &result{ContentHash: hash, Unchanged: true}, nil
	}

	cands, strategy, err := p.extractFrom(ctx, page.Content, src.URL)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return &result{
		ContentHash: hash,
		Candidates:  cands,
		Strategy:    strategy,
	}, nil
}
