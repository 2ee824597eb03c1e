// Package broker defines the brokerage interface the stop engine and export
// pipeline run against, and provides the Alpaca implementation.
package broker

import (
	"context"
	"time"

	"palisade/internal/domain"
)

// Broker abstracts the brokerage operations the stop engine and the export
// pipeline need. Authentication and the token lifecycle belong entirely to
// the implementation.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca").
	Name() string

	// VerifyAccount checks credentials and account standing. It is called
	// once before any symbol is processed; an AuthError here aborts the run.
	VerifyAccount(ctx context.Context) error

	// GetPriceHistory returns daily bars for the symbol covering the trailing
	// lookback window in calendar days, ordered oldest to newest.
	GetPriceHistory(ctx context.Context, symbol string, lookbackDays int) ([]domain.Bar, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetOpenOrders returns all open orders.
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)

	// GetClosedOrders returns closed orders submitted after the cutoff,
	// oldest first, with bracket legs nested.
	GetClosedOrders(ctx context.Context, since time.Time) ([]domain.Order, error)

	// PlaceStopOrder submits a GTC sell-stop order tagged with a managed
	// client order ID and returns the new order ID.
	PlaceStopOrder(ctx context.Context, symbol string, qty, stopPrice float64) (string, error)

	// ReplaceOrder moves an existing order to a new stop price in place and
	// returns the replacement order ID.
	ReplaceOrder(ctx context.Context, orderID string, newStop float64) (string, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// LatestTradingDay returns the most recent trading day whose market
	// session has ended.
	LatestTradingDay(ctx context.Context) (time.Time, error)
}
