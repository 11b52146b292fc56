package pipeline

import (
	"context"
	"fmt"

	"github.com/gecwatch/gecwatch/internal/discover"
	"github.com/gecwatch/gecwatch/internal/fetch"
	"github.com/gecwatch/gecwatch/internal/store"
)

// ListingHandler scrapes an index page of announcements: it discovers
// detail links, then fetches and extracts each one sequentially with a
// jittered pause between fetches. One bad link never aborts the rest of
// the cycle.
type ListingHandler struct{}

func (h *ListingHandler) Handle(ctx context.Context, src *store.Source, p *Pipeline) (*result, error) {
	log := p.logger.With("source_id", src.ID)

	page, hash, err := p.fetchPage(ctx, src.URL, src)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	if hash == src.LastContentHash {
		return &result{ContentHash: hash, Unchanged: true}, nil
	}

	d, err := discover.New(p.cfg.Discover)
	if err != nil {
		return nil, err
	}

	var links []string
	if p.cfg.PageParam != "" {
		links, err = d.Paginate(ctx, src.URL, discover.Paginator{
			Param:    p.cfg.PageParam,
			MaxPages: p.cfg.MaxPages,
		}, func(ctx context.Context, pageURL string) ([]byte, error) {
			if pageURL == src.URL {
				return page.Content, nil
			}
			r, ferr := p.fetcher.Fetch(ctx, pageURL, fetch.Options{
				Defended:     src.Defended,
				MinBodyBytes: src.MinBodyBytes,
			})
			if ferr != nil {
				return nil, ferr
			}
			return r.Content, nil
		})
	} else {
		links, err = d.Links(src.URL, page.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("discover links: %w", err)
	}
	if len(links) > p.cfg.MaxDetailLinks {
		links = links[:p.cfg.MaxDetailLinks]
	}

	res := &result{ContentHash: hash, LinksSeen: len(links), Strategy: "listing"}
	for i, link := range links {
		if i > 0 {
			if err := p.sleep(ctx, p.detailDelay()); err != nil {
				return nil, err
			}
		}

		detail, err := p.fetchDetail(ctx, link, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.LinksFailed++
			log.Warn("pipeline: detail fetch failed", "link", link, "error", err)
			continue
		}

		cands, _, err := p.extractFrom(ctx, detail.Content, link)
		if err != nil {
			res.LinksFailed++
			log.Warn("pipeline: detail extract failed", "link", link, "error", err)
			continue
		}
		res.Candidates = append(res.Candidates, cands...)
	}
	return res, nil
}
