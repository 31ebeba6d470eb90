package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/domain/song"
	"github.com/osa030/duet/internal/domain/track"
)

// Chain runs the admission filters in the order they were added.
type Chain struct {
	filters []Filter
}

// NewChain creates an empty chain, which admits every pick.
func NewChain() *Chain {
	return &Chain{}
}

// Add appends f to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute checks a pick made by side. The first rejection wins and carries
// the rejecting filter's name.
func (c *Chain) Execute(ctx context.Context, t track.Track, side song.Side) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(side) {
			continue
		}

		result := f.Check(ctx, t)
		if !result.Accepted {
			result.Filter = f.Name()
			zlog.Debug().Msgf("pick rejected: filter=%s side=%s track_id=%s code=%s detail=%s",
				result.Filter, side, t.ID, result.Code, result.Detail)
			return result
		}
	}
	return Accept()
}

// Filters returns the filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}

// ReturnCodes returns every code the chain can reject with, without repeats.
func (c *Chain) ReturnCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	for _, f := range c.filters {
		for _, code := range f.ReturnCodes() {
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
	}
	return codes
}
