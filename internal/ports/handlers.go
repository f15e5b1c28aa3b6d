package ports

import (
	"context"
	"time"

	"github.com/betbot/lagbet/internal/domain"
)

// TickFunc receives spot trades for one asset (serial delivery recommended).
type TickFunc func(asset string, price float64, at time.Time)

// PriceFeed streams spot prices.
//
// NOTE: This interface is intentionally defined in a "neutral" package to avoid
// circular dependencies between the engine, the feed and the rotator.
type PriceFeed interface {
	// Subscribe registers fn for one asset and returns an unsubscribe func.
	Subscribe(asset string, fn TickFunc) (func(), error)
	Close() error
}

// MarketSource finds candidate prediction markets for an asset.
// phrases are tried in order until one yields usable candidates.
type MarketSource interface {
	Query(ctx context.Context, asset string, phrases []string) ([]domain.MarketCandidate, error)
}
