// Package inventory fetches an account's paginated inventory and merges it
// into item stack descriptors ready for canonicalization.
package inventory

import (
	"context"

	"invcrawler/pkg/errors"
	"invcrawler/pkg/gate"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
	"invcrawler/pkg/steam"
)

// DefaultMaxPages bounds the requests spent on one account
const DefaultMaxPages = 3

// Source returns inventory pages for one proxy identity
type Source interface {
	GetInventoryPage(ctx context.Context, id64, startAssetID string) (*steam.InventoryPage, error)
}

// Outcome classifies a fetch attempt
type Outcome int

const (
	// OutcomeOK carries the merged stacks (possibly none)
	OutcomeOK Outcome = iota
	// OutcomeForbidden is a private inventory or an account without the game
	OutcomeForbidden
	// OutcomeRateLimited means upstream throttled us; the gate was tripped
	OutcomeRateLimited
	// OutcomeUnsuccessful is an unsuccessful or unparsable page, or a later
	// page that turned forbidden
	OutcomeUnsuccessful
	// OutcomeTransport is any other failure
	OutcomeTransport
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeUnsuccessful:
		return "unsuccessful"
	default:
		return "transport"
	}
}

// Retryable reports whether the account should be attempted again later
func (o Outcome) Retryable() bool {
	return o == OutcomeRateLimited || o == OutcomeUnsuccessful || o == OutcomeTransport
}

// Fetcher runs the inventory fetch protocol
type Fetcher struct {
	maxPages int
	logger   logger.Logger
}

// NewFetcher creates a fetcher that reads at most maxPages pages per account
func NewFetcher(maxPages int, log logger.Logger) *Fetcher {
	if maxPages < 1 {
		maxPages = DefaultMaxPages
	}
	return &Fetcher{
		maxPages: maxPages,
		logger:   logger.OrNop(log),
	}
}

// FetchInventory reads up to maxPages pages of id64's inventory through src,
// waiting on g before every request. A forbidden first page returns
// OutcomeForbidden with a nil error. Throttling trips g.
func (f *Fetcher) FetchInventory(ctx context.Context, src Source, g *gate.Gate, id64 string) ([]*model.ItemStack, Outcome, error) {
	log := f.logger.WithField("id64", id64)
	m := newMerger(log)

	startAssetID := ""
	for page := 0; ; page++ {
		if page == f.maxPages {
			log.WarnWithFields("inventory truncated", map[string]interface{}{
				"pages":         f.maxPages,
				"next_asset_id": startAssetID,
			})
			break
		}

		if err := g.AwaitClear(ctx); err != nil {
			return nil, OutcomeTransport, err
		}

		p, err := src.GetInventoryPage(ctx, id64, startAssetID)
		if err != nil {
			outcome, err := f.classify(ctx, g, log, page, err)
			return nil, outcome, err
		}

		m.addPage(p)
		if !p.MoreItems || p.LastAssetID == "" {
			break
		}
		startAssetID = p.LastAssetID
	}

	return m.stacks(), OutcomeOK, nil
}

// classify maps a page error to an outcome, tripping the gate on throttling.
// Only the first page can answer for a private inventory; a later 403 is a
// failed attempt.
func (f *Fetcher) classify(ctx context.Context, g *gate.Gate, log logger.Logger, page int, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeTransport, ctx.Err()
	}

	errType := errors.TypeOf(err)
	switch {
	case errType == errors.ErrorTypeForbidden && page == 0:
		return OutcomeForbidden, nil
	case errType == errors.ErrorTypeForbidden:
		log.WithField("page", page+1).Warn("inventory became unavailable mid-fetch")
		return OutcomeUnsuccessful, err
	case errType == errors.ErrorTypeRateLimit:
		g.Trip(string(errType))
		return OutcomeRateLimited, err
	case errors.TripsGate(errType):
		g.Trip(string(errType))
		return OutcomeUnsuccessful, err
	}

	log.WithError(err).Debug("inventory request failed")
	return OutcomeTransport, err
}
