package index

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	"github.com/Aman-CERP/pagesearch/internal/config"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// SummaryPolicy derives the summary stored and embedded for a page.
type SummaryPolicy interface {
	Name() string
	Summarize(pc PageContext, chunks []chunk.Chunk) string
}

// FirstChunkSummary uses the first chunk's text.
type FirstChunkSummary struct{}

func (FirstChunkSummary) Name() string { return config.SummaryFirstChunk }

func (FirstChunkSummary) Summarize(_ PageContext, chunks []chunk.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	return chunks[0].Text
}

// SuppliedSummary uses the page's synopsis, falling back to Fallback (the
// first chunk when nil) for pages that arrive without one.
type SuppliedSummary struct {
	Fallback SummaryPolicy
}

func (SuppliedSummary) Name() string { return config.SummarySupplied }

func (s SuppliedSummary) Summarize(pc PageContext, chunks []chunk.Chunk) string {
	if synopsis := strings.Join(strings.Fields(pc.Synopsis), " "); synopsis != "" {
		return synopsis
	}
	fallback := s.Fallback
	if fallback == nil {
		fallback = FirstChunkSummary{}
	}
	return fallback.Summarize(pc, chunks)
}

// NewSummaryPolicy maps a settings value to a policy.
func NewSummaryPolicy(name string) (SummaryPolicy, error) {
	switch name {
	case "", config.SummaryFirstChunk:
		return FirstChunkSummary{}, nil
	case config.SummarySupplied:
		return SuppliedSummary{}, nil
	default:
		return nil, apperr.ConfigError(fmt.Sprintf("unknown summary policy %q", name), nil)
	}
}
