package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"palisade/internal/domain"
)

var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements Broker in memory. It backs offline development
// and tests; no external calls are made. Seed it with bars, positions, and
// orders, then drive it like the real thing.
type SimulatorBroker struct {
	mu         sync.Mutex
	bars       map[string][]domain.Bar
	positions  map[string]domain.Position
	orders     map[string]domain.Order
	tradingDay time.Time
	replaceErr error
	placeErr   error
	cancelErr  error
	nextID     int
}

// NewSimulatorBroker creates an empty SimulatorBroker.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		bars:      make(map[string][]domain.Bar),
		positions: make(map[string]domain.Position),
		orders:    make(map[string]domain.Order),
	}
}

// Name returns the broker identifier.
func (b *SimulatorBroker) Name() string { return "simulator" }

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// SetBars seeds the price history for a symbol, oldest first.
func (b *SimulatorBroker) SetBars(symbol string, bars []domain.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bars[symbol] = append([]domain.Bar(nil), bars...)
}

// SetPosition seeds or overwrites a position.
func (b *SimulatorBroker) SetPosition(p domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.Symbol] = p
}

// SeedOrder installs an order with its given ID and status.
func (b *SimulatorBroker) SeedOrder(o domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[o.ID] = o
}

// SetLatestTradingDay fixes the value LatestTradingDay returns.
func (b *SimulatorBroker) SetLatestTradingDay(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tradingDay = t
}

// FailReplaceWith makes every ReplaceOrder call return err.
func (b *SimulatorBroker) FailReplaceWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replaceErr = err
}

// FailPlaceWith makes every PlaceStopOrder call return err.
func (b *SimulatorBroker) FailPlaceWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placeErr = err
}

// FailCancelWith makes every CancelOrder call return err.
func (b *SimulatorBroker) FailCancelWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelErr = err
}

// Order returns the stored order by ID for inspection.
func (b *SimulatorBroker) Order(id string) (domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	return o, ok
}

// ---------------------------------------------------------------------------
// Broker implementation
// ---------------------------------------------------------------------------

// VerifyAccount always succeeds.
func (b *SimulatorBroker) VerifyAccount(_ context.Context) error { return nil }

// GetPriceHistory returns the seeded bars for the symbol. Unknown symbols
// yield an empty slice, matching the live broker.
func (b *SimulatorBroker) GetPriceHistory(_ context.Context, symbol string, _ int) ([]domain.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Bar(nil), b.bars[symbol]...), nil
}

// GetPositions returns all seeded positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetOpenOrders returns orders still working or pending.
func (b *SimulatorBroker) GetOpenOrders(_ context.Context) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Order
	for _, o := range b.orders {
		if o.Open() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetClosedOrders returns filled and canceled orders created after since.
func (b *SimulatorBroker) GetClosedOrders(_ context.Context, since time.Time) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Order
	for _, o := range b.orders {
		if o.Open() || !o.CreatedAt.After(since) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PlaceStopOrder records a working sell-stop order and returns its ID.
func (b *SimulatorBroker) PlaceStopOrder(_ context.Context, symbol string, qty, stopPrice float64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.placeErr != nil {
		return "", b.placeErr
	}

	b.nextID++
	id := fmt.Sprintf("sim-%d", b.nextID)
	b.orders[id] = domain.Order{
		ID:            id,
		ClientOrderID: domain.NewManagedOrderID(),
		Symbol:        symbol,
		Side:          domain.OrderSideSell,
		Type:          domain.OrderTypeStop,
		Qty:           qty,
		StopPrice:     stopPrice,
		Status:        domain.OrderStatusWorking,
		CreatedAt:     time.Now().UTC(),
	}
	return id, nil
}

// ReplaceOrder cancels the existing order and records its replacement.
func (b *SimulatorBroker) ReplaceOrder(_ context.Context, orderID string, newStop float64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.replaceErr != nil {
		return "", b.replaceErr
	}

	old, ok := b.orders[orderID]
	if !ok {
		return "", fmt.Errorf("order %s not found", orderID)
	}
	old.Status = domain.OrderStatusCanceled
	b.orders[orderID] = old

	b.nextID++
	id := fmt.Sprintf("sim-%d", b.nextID)
	b.orders[id] = domain.Order{
		ID:            id,
		ClientOrderID: domain.NewManagedOrderID(),
		Symbol:        old.Symbol,
		Side:          old.Side,
		Type:          old.Type,
		Qty:           old.Qty,
		StopPrice:     newStop,
		Status:        domain.OrderStatusWorking,
		CreatedAt:     time.Now().UTC(),
	}
	return id, nil
}

// CancelOrder marks the order canceled.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelErr != nil {
		return b.cancelErr
	}
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	o.Status = domain.OrderStatusCanceled
	b.orders[orderID] = o
	return nil
}

// LatestTradingDay returns the seeded trading day, or the date of the newest
// seeded bar when none was set.
func (b *SimulatorBroker) LatestTradingDay(_ context.Context) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tradingDay.IsZero() {
		return b.tradingDay, nil
	}
	var latest time.Time
	for _, bars := range b.bars {
		if n := len(bars); n > 0 && bars[n-1].Date.After(latest) {
			latest = bars[n-1].Date
		}
	}
	if latest.IsZero() {
		return time.Time{}, fmt.Errorf("no trading day seeded")
	}
	return latest, nil
}
