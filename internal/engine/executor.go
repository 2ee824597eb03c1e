package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"palisade/internal/broker"
)

// ErrReplaceNotSupported means the venue cannot modify the order in place.
// The reconciler falls back to cancel-then-create.
var ErrReplaceNotSupported = errors.New("replace not supported")

// OrderExecutor is the reconciler's execution capability. The live
// implementation talks to the brokerage; the dry-run one only logs.
type OrderExecutor interface {
	Name() string
	PlaceStop(ctx context.Context, symbol string, qty, stopPrice float64) (orderID string, err error)
	ReplaceStop(ctx context.Context, orderID string, newStop float64) (newID string, err error)
	Cancel(ctx context.Context, orderID string) error
}

// ---------------------------------------------------------------------------
// Live
// ---------------------------------------------------------------------------

var _ OrderExecutor = (*liveExecutor)(nil)

type liveExecutor struct {
	broker broker.Broker
}

// NewLiveExecutor returns an executor that places real orders.
func NewLiveExecutor(b broker.Broker) OrderExecutor {
	return &liveExecutor{broker: b}
}

func (e *liveExecutor) Name() string { return "live" }

func (e *liveExecutor) PlaceStop(ctx context.Context, symbol string, qty, stopPrice float64) (string, error) {
	return e.broker.PlaceStopOrder(ctx, symbol, qty, stopPrice)
}

func (e *liveExecutor) ReplaceStop(ctx context.Context, orderID string, newStop float64) (string, error) {
	id, err := e.broker.ReplaceOrder(ctx, orderID, newStop)
	if err != nil && broker.IsReplaceUnsupported(err) {
		return "", fmt.Errorf("%w: %v", ErrReplaceNotSupported, err)
	}
	return id, err
}

func (e *liveExecutor) Cancel(ctx context.Context, orderID string) error {
	return e.broker.CancelOrder(ctx, orderID)
}

// ---------------------------------------------------------------------------
// Dry run
// ---------------------------------------------------------------------------

var _ OrderExecutor = (*dryRunExecutor)(nil)

type dryRunExecutor struct {
	log *zap.Logger
}

// NewDryRunExecutor returns an executor that logs intended actions without
// touching the account. Returned order IDs are fabricated.
func NewDryRunExecutor(log *zap.Logger) OrderExecutor {
	return &dryRunExecutor{log: log.Named("dry-run")}
}

func (e *dryRunExecutor) Name() string { return "dry-run" }

func (e *dryRunExecutor) PlaceStop(_ context.Context, symbol string, qty, stopPrice float64) (string, error) {
	id := "dry-" + uuid.NewString()[:8]
	e.log.Info("would place stop order",
		zap.String("symbol", symbol),
		zap.Float64("qty", qty),
		zap.Float64("stop_price", stopPrice),
		zap.String("order_id", id),
	)
	return id, nil
}

func (e *dryRunExecutor) ReplaceStop(_ context.Context, orderID string, newStop float64) (string, error) {
	id := "dry-" + uuid.NewString()[:8]
	e.log.Info("would replace stop order",
		zap.String("order_id", orderID),
		zap.Float64("new_stop", newStop),
		zap.String("new_order_id", id),
	)
	return id, nil
}

func (e *dryRunExecutor) Cancel(_ context.Context, orderID string) error {
	e.log.Info("would cancel order", zap.String("order_id", orderID))
	return nil
}
