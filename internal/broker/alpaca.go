package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"palisade/internal/domain"
	"palisade/internal/util"
)

var _ Broker = (*AlpacaBroker)(nil)

// closedOrderPageSize is the broker's per-request cap when listing orders.
const closedOrderPageSize = 500

// Options configures the Alpaca broker client.
type Options struct {
	APIKey          string
	APISecret       string
	BaseURL         string
	DataURL         string
	Feed            string
	RateLimitPerMin int
}

// AlpacaBroker implements Broker against the Alpaca trading and market-data
// APIs. All calls are paced by a shared rate limiter.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
	feed    string
	limiter *util.RateLimiter
	log     *zap.Logger
}

// NewAlpaca creates an AlpacaBroker from the given options.
func NewAlpaca(opts Options, log *zap.Logger) *AlpacaBroker {
	tradingOpts := alpaca.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.BaseURL != "" {
		tradingOpts.BaseURL = opts.BaseURL
	}

	dataOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		dataOpts.BaseURL = opts.DataURL
	}

	return &AlpacaBroker{
		trading: alpaca.NewClient(tradingOpts),
		data:    marketdata.NewClient(dataOpts),
		feed:    opts.Feed,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     log.Named("broker"),
	}
}

// Name returns the broker identifier.
func (b *AlpacaBroker) Name() string { return "alpaca" }

// VerifyAccount checks the credentials and account standing.
func (b *AlpacaBroker) VerifyAccount(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	acct, err := b.trading.GetAccount()
	if err != nil {
		if IsAuth(err) {
			return &AuthError{Msg: "credentials rejected", Err: err}
		}
		return fmt.Errorf("verifying account: %w", err)
	}
	if acct.Status != "ACTIVE" {
		return &AuthError{Msg: fmt.Sprintf("account status %q", acct.Status)}
	}

	b.log.Debug("account verified",
		zap.String("status", string(acct.Status)),
		zap.String("buying_power", acct.BuyingPower.String()),
	)
	return nil
}

// GetPriceHistory fetches daily bars covering the trailing lookback window,
// oldest first.
func (b *AlpacaBroker) GetPriceHistory(ctx context.Context, symbol string, lookbackDays int) ([]domain.Bar, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)

	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	}
	// Config validation pins the feed to one of these two.
	if b.feed == "sip" {
		req.Feed = "sip"
	} else {
		req.Feed = "iex"
	}

	alpacaBars, err := b.data.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol: strings.ToUpper(symbol),
			Date:   ab.Timestamp,
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
		})
	}

	b.log.Debug("fetched price history",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)
	return bars, nil
}

// GetPositions returns all current positions.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}

	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		qty, _ := p.Qty.Float64()
		avg, _ := p.AvgEntryPrice.Float64()
		out = append(out, domain.Position{
			Symbol:     strings.ToUpper(p.Symbol),
			Qty:        qty,
			AvgCost:    avg,
			Side:       string(p.Side),
			AssetClass: string(p.AssetClass),
		})
	}
	return out, nil
}

// GetOpenOrders returns all open orders.
func (b *AlpacaBroker) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	orders, err := b.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		return nil, fmt.Errorf("listing open orders: %w", err)
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, fromAlpacaOrder(o))
	}
	return out, nil
}

// GetClosedOrders pages through closed orders submitted after the cutoff,
// oldest first, with bracket legs nested.
func (b *AlpacaBroker) GetClosedOrders(ctx context.Context, since time.Time) ([]domain.Order, error) {
	var out []domain.Order
	after := since

	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := b.trading.GetOrders(alpaca.GetOrdersRequest{
			Status:    "closed",
			After:     after,
			Direction: "asc",
			Limit:     closedOrderPageSize,
			Nested:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("listing closed orders: %w", err)
		}
		for _, o := range batch {
			out = append(out, fromAlpacaOrder(o))
		}
		if len(batch) < closedOrderPageSize {
			break
		}

		next := batch[len(batch)-1].CreatedAt
		if !next.After(after) {
			break
		}
		after = next
	}

	b.log.Debug("fetched closed orders",
		zap.Time("since", since),
		zap.Int("orders", len(out)),
	)
	return out, nil
}

// PlaceStopOrder submits a GTC sell-stop order tagged with a managed client
// order ID.
func (b *AlpacaBroker) PlaceStopOrder(ctx context.Context, symbol string, qty, stopPrice float64) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	qtyDec := decimal.NewFromFloat(qty)
	stopDec := decimal.NewFromFloat(stopPrice).Round(2)

	order, err := b.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qtyDec,
		Side:          alpaca.Sell,
		Type:          alpaca.Stop,
		TimeInForce:   alpaca.GTC,
		StopPrice:     &stopDec,
		ClientOrderID: domain.NewManagedOrderID(),
	})
	if err != nil {
		return "", fmt.Errorf("placing stop order for %s: %w", symbol, err)
	}

	b.log.Debug("stop order placed",
		zap.String("symbol", symbol),
		zap.String("order_id", order.ID),
		zap.String("stop_price", stopDec.String()),
	)
	return order.ID, nil
}

// ReplaceOrder moves an existing order to a new stop price in place. The
// replacement keeps a managed client order ID so the next run still
// recognizes it.
func (b *AlpacaBroker) ReplaceOrder(ctx context.Context, orderID string, newStop float64) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	stopDec := decimal.NewFromFloat(newStop).Round(2)

	order, err := b.trading.ReplaceOrder(orderID, alpaca.ReplaceOrderRequest{
		StopPrice:     &stopDec,
		ClientOrderID: domain.NewManagedOrderID(),
	})
	if err != nil {
		return "", fmt.Errorf("replacing order %s: %w", orderID, err)
	}

	b.log.Debug("order replaced",
		zap.String("old_order_id", orderID),
		zap.String("new_order_id", order.ID),
		zap.String("stop_price", stopDec.String()),
	)
	return order.ID, nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.trading.CancelOrder(orderID); err != nil {
		return fmt.Errorf("canceling order %s: %w", orderID, err)
	}
	return nil
}

// LatestTradingDay returns the most recent trading day whose session has
// ended (after 20:05 ET, giving extended-hours data time to settle), using
// the Alpaca trading calendar.
func (b *AlpacaBroker) LatestTradingDay(ctx context.Context) (time.Time, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}

	now := time.Now().In(et)
	calendar, err := b.trading.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -10),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(calendar) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(calendar) - 1; i >= 0; i-- {
		day := calendar[i]
		if day.Date == today && now.Before(cutoff) {
			// Today's session is not finished yet.
			continue
		}
		t, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		if !t.After(now) {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}

// ---------------------------------------------------------------------------
// Mapping helpers
// ---------------------------------------------------------------------------

func decFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// fromAlpacaOrder maps a brokerage order into the domain record, normalizing
// the status and converting nested legs recursively.
func fromAlpacaOrder(o alpaca.Order) domain.Order {
	ord := domain.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         strings.ToUpper(o.Symbol),
		Side:           string(o.Side),
		Type:           string(o.Type),
		Qty:            decFloat(o.Qty),
		StopPrice:      decFloat(o.StopPrice),
		LimitPrice:     decFloat(o.LimitPrice),
		Status:         normalizeStatus(o.Status),
		FilledAvgPrice: decFloat(o.FilledAvgPrice),
		CreatedAt:      o.CreatedAt,
	}
	ord.FilledQty, _ = o.FilledQty.Float64()
	if o.FilledAt != nil {
		ord.FilledAt = *o.FilledAt
	}
	for _, leg := range o.Legs {
		ord.Legs = append(ord.Legs, fromAlpacaOrder(leg))
	}
	return ord
}

// normalizeStatus collapses the broker's order states into the four the rest
// of the system understands. Unknown states pass through untouched.
func normalizeStatus(s string) string {
	switch s {
	case "new", "accepted", "partially_filled", "calculated":
		return domain.OrderStatusWorking
	case "pending_new", "pending_replace", "pending_cancel", "accepted_for_bidding", "held":
		return domain.OrderStatusPending
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired", "rejected", "replaced", "stopped", "suspended", "done_for_day":
		return domain.OrderStatusCanceled
	default:
		return s
	}
}
