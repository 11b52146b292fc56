package extract

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotRelevant marks content with no green-certificate connection.
// Such pages are skipped, not failed.
var ErrNotRelevant = errors.New("extract: content not related to green certificates")

// ErrNoCandidates means every strategy came up empty.
var ErrNoCandidates = errors.New("extract: no strategy produced candidates")

// Extractor runs the strategy chain: deterministic parsers in fixed
// order, first non-empty result wins, then the LLM when configured.
// An LLM failure is reported as a failure; the chain never loops back
// to the deterministic parsers after it.
type Extractor struct {
	strategies []Strategy
	llm        *LLM
}

// New builds an Extractor with the standard chain. llm may be nil; the
// chain then ends with the deterministic parsers.
func New(llm *LLM) *Extractor {
	return &Extractor{
		strategies: []Strategy{
			AnnouncementStrategy{},
			TableStrategy{},
			ListStrategy{},
			KeyValueStrategy{},
		},
		llm: llm,
	}
}

// Extract runs the chain over in and returns the candidates and the name
// of the strategy that produced them.
func (e *Extractor) Extract(ctx context.Context, in Input) ([]*Candidate, string, error) {
	if !IsGECRelated(in.Text) && !IsGECRelated(in.Markdown) {
		return nil, "", ErrNotRelevant
	}

	for _, s := range e.strategies {
		if cands := s.Extract(in); len(cands) > 0 {
			return cands, s.Name(), nil
		}
	}

	if e.llm != nil {
		cands, err := e.llm.Extract(ctx, in)
		if err != nil {
			return nil, "llm", fmt.Errorf("extract: %w", err)
		}
		if len(cands) == 0 {
			return nil, "llm", ErrNoCandidates
		}
		return cands, "llm", nil
	}

	return nil, "", ErrNoCandidates
}
