package ports

import (
	"context"
)

// Small capability interfaces shared across layers (engine/execution/rotator).

// Time-in-force values understood by Executor implementations.
const (
	TifGTC = "GTC" // rests on the book until canceled (maker attempt)
	TifFOK = "FOK" // fill completely and immediately or kill (taker)
	TifFAK = "FAK" // fill what is available immediately, kill the rest
)

// OrderSpec describes a single limit order to place.
type OrderSpec struct {
	TokenID string
	NegRisk bool
	Price   float64
	Shares  float64
	Tif     string // one of TifGTC / TifFOK / TifFAK
}

// OrderResult is the immediate outcome of placing an order.
// FOK orders report their final fill here; GTC orders usually start unfilled.
type OrderResult struct {
	OrderID      string
	Status       string
	FilledShares float64
	AvgPrice     float64
}

// FillState is the polled state of a resting order.
type FillState struct {
	Open         bool
	FilledShares float64
	AvgPrice     float64
}

// Executor places and manages limit orders on the venue.
type Executor interface {
	BuyLimit(ctx context.Context, spec OrderSpec) (OrderResult, error)
	SellLimit(ctx context.Context, spec OrderSpec) (OrderResult, error)
	OrderFill(ctx context.Context, orderID string) (FillState, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type BestPriceGetter interface {
	// GetBestPrice returns (bestBid, bestAsk) as decimal floats.
	GetBestPrice(ctx context.Context, assetID string) (bestBid float64, bestAsk float64, err error)
}
