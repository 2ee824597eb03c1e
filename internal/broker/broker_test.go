package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"palisade/internal/domain"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpaca(Options{APIKey: "key", APISecret: "secret"}, zap.NewNop())
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"new", domain.OrderStatusWorking},
		{"accepted", domain.OrderStatusWorking},
		{"partially_filled", domain.OrderStatusWorking},
		{"pending_new", domain.OrderStatusPending},
		{"pending_replace", domain.OrderStatusPending},
		{"pending_cancel", domain.OrderStatusPending},
		{"held", domain.OrderStatusPending},
		{"filled", domain.OrderStatusFilled},
		{"canceled", domain.OrderStatusCanceled},
		{"expired", domain.OrderStatusCanceled},
		{"rejected", domain.OrderStatusCanceled},
		{"replaced", domain.OrderStatusCanceled},
		{"done_for_day", domain.OrderStatusCanceled},
		{"something_else", "something_else"},
	}
	for _, tt := range tests {
		if got := normalizeStatus(tt.in); got != tt.want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromAlpacaOrder(t *testing.T) {
	stop := decimal.NewFromFloat(95.50)
	qty := decimal.NewFromFloat(10)
	created := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	filled := created.Add(time.Hour)

	o := alpaca.Order{
		ID:            "abc-123",
		ClientOrderID: "palisade-deadbeef",
		Symbol:        "msft",
		Side:          "sell",
		Type:          "stop",
		Qty:           &qty,
		StopPrice:     &stop,
		Status:        "new",
		FilledQty:     decimal.NewFromFloat(4),
		CreatedAt:     created,
		FilledAt:      &filled,
		Legs: []alpaca.Order{
			{ID: "leg-1", Symbol: "MSFT", Status: "filled", FilledQty: decimal.NewFromFloat(4)},
		},
	}

	got := fromAlpacaOrder(o)
	if got.ID != "abc-123" {
		t.Errorf("ID = %q, want %q", got.ID, "abc-123")
	}
	if got.Symbol != "MSFT" {
		t.Errorf("Symbol = %q, want %q", got.Symbol, "MSFT")
	}
	if got.Side != "sell" || got.Type != "stop" {
		t.Errorf("Side/Type = %q/%q, want sell/stop", got.Side, got.Type)
	}
	if got.Qty != 10 {
		t.Errorf("Qty = %v, want 10", got.Qty)
	}
	if got.StopPrice != 95.50 {
		t.Errorf("StopPrice = %v, want 95.50", got.StopPrice)
	}
	if got.Status != domain.OrderStatusWorking {
		t.Errorf("Status = %q, want %q", got.Status, domain.OrderStatusWorking)
	}
	if got.FilledQty != 4 {
		t.Errorf("FilledQty = %v, want 4", got.FilledQty)
	}
	if !got.FilledAt.Equal(filled) {
		t.Errorf("FilledAt = %v, want %v", got.FilledAt, filled)
	}
	if len(got.Legs) != 1 || got.Legs[0].ID != "leg-1" || got.Legs[0].Status != domain.OrderStatusFilled {
		t.Errorf("Legs = %+v, want one filled leg-1", got.Legs)
	}
}

func TestFromAlpacaOrderNilPrices(t *testing.T) {
	got := fromAlpacaOrder(alpaca.Order{ID: "x", Symbol: "A", Status: "canceled"})
	if got.StopPrice != 0 || got.LimitPrice != 0 || got.Qty != 0 {
		t.Errorf("nil decimals should map to zero, got %+v", got)
	}
	if !got.FilledAt.IsZero() {
		t.Errorf("FilledAt = %v, want zero", got.FilledAt)
	}
}

func TestIsAuth(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth error", &AuthError{Msg: "bad key"}, true},
		{"wrapped auth error", fmt.Errorf("verify: %w", &AuthError{Msg: "bad key"}), true},
		{"api 401", &alpaca.APIError{StatusCode: 401}, true},
		{"api 403", &alpaca.APIError{StatusCode: 403}, true},
		{"api 500", &alpaca.APIError{StatusCode: 500}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsAuth(tt.err); got != tt.want {
			t.Errorf("%s: IsAuth = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"api 429", &alpaca.APIError{StatusCode: 429}, true},
		{"api 408", &alpaca.APIError{StatusCode: 408}, true},
		{"api 503", &alpaca.APIError{StatusCode: 503}, true},
		{"api 422", &alpaca.APIError{StatusCode: 422}, false},
		{"api 401", &alpaca.APIError{StatusCode: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"text 429", errors.New("request failed: 429 too many requests"), true},
		{"text timeout", errors.New("dial tcp: i/o timeout"), true},
		{"plain", errors.New("invalid stop price"), false},
		{"auth", &AuthError{Msg: "expired"}, false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("%s: IsTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsReplaceUnsupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"api 422", &alpaca.APIError{StatusCode: 422}, true},
		{"api 500", &alpaca.APIError{StatusCode: 500}, false},
		{"text", errors.New("order is not replaceable"), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsReplaceUnsupported(tt.err); got != tt.want {
			t.Errorf("%s: IsReplaceUnsupported = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	inner := errors.New("401")
	err := &AuthError{Msg: "rejected", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("AuthError should unwrap to its cause")
	}
	if err.Error() != "broker auth: rejected: 401" {
		t.Errorf("Error() = %q", err.Error())
	}
}

// ---------------------------------------------------------------------------
// Simulator
// ---------------------------------------------------------------------------

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker()
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorPlaceAndList(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker()

	id, err := b.PlaceStopOrder(ctx, "AAPL", 10, 95.5)
	if err != nil {
		t.Fatalf("PlaceStopOrder: %v", err)
	}

	open, err := b.GetOpenOrders(ctx)
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("len(open) = %d, want 1", len(open))
	}
	o := open[0]
	if o.ID != id || o.Symbol != "AAPL" || o.Qty != 10 || o.StopPrice != 95.5 {
		t.Errorf("order = %+v", o)
	}
	if o.Side != domain.OrderSideSell || o.Type != domain.OrderTypeStop {
		t.Errorf("Side/Type = %q/%q, want sell/stop", o.Side, o.Type)
	}
	if !domain.IsManagedOrder(o.ClientOrderID) {
		t.Errorf("ClientOrderID %q should be managed", o.ClientOrderID)
	}
}

func TestSimulatorReplace(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker()

	oldID, _ := b.PlaceStopOrder(ctx, "AAPL", 10, 90)
	newID, err := b.ReplaceOrder(ctx, oldID, 95)
	if err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}
	if newID == oldID {
		t.Error("replacement should get a new ID")
	}

	old, _ := b.Order(oldID)
	if old.Status != domain.OrderStatusCanceled {
		t.Errorf("old order status = %q, want canceled", old.Status)
	}
	repl, _ := b.Order(newID)
	if repl.StopPrice != 95 || repl.Status != domain.OrderStatusWorking {
		t.Errorf("replacement = %+v", repl)
	}
}

func TestSimulatorReplaceFailure(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker()

	id, _ := b.PlaceStopOrder(ctx, "AAPL", 10, 90)
	sentinel := errors.New("replace rejected")
	b.FailReplaceWith(sentinel)

	if _, err := b.ReplaceOrder(ctx, id, 95); !errors.Is(err, sentinel) {
		t.Errorf("ReplaceOrder err = %v, want %v", err, sentinel)
	}
}

func TestSimulatorCancel(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker()

	id, _ := b.PlaceStopOrder(ctx, "AAPL", 10, 90)
	if err := b.CancelOrder(ctx, id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	open, _ := b.GetOpenOrders(ctx)
	if len(open) != 0 {
		t.Errorf("len(open) = %d after cancel, want 0", len(open))
	}
	if err := b.CancelOrder(ctx, "missing"); err == nil {
		t.Error("canceling unknown order should fail")
	}
}

func TestSimulatorClosedOrders(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker()
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	b.SeedOrder(domain.Order{
		ID: "old", Symbol: "A", Status: domain.OrderStatusFilled,
		CreatedAt: cutoff.AddDate(0, 0, -1),
	})
	b.SeedOrder(domain.Order{
		ID: "recent", Symbol: "B", Status: domain.OrderStatusFilled,
		CreatedAt: cutoff.AddDate(0, 0, 1),
	})
	b.SeedOrder(domain.Order{
		ID: "working", Symbol: "C", Status: domain.OrderStatusWorking,
		CreatedAt: cutoff.AddDate(0, 0, 2),
	})

	closed, err := b.GetClosedOrders(ctx, cutoff)
	if err != nil {
		t.Fatalf("GetClosedOrders: %v", err)
	}
	if len(closed) != 1 || closed[0].ID != "recent" {
		t.Errorf("closed = %+v, want only recent", closed)
	}
}

func TestSimulatorLatestTradingDay(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker()

	if _, err := b.LatestTradingDay(ctx); err == nil {
		t.Error("empty simulator should not report a trading day")
	}

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	b.SetBars("AAPL", []domain.Bar{{Symbol: "AAPL", Date: day, Close: 100}})
	got, err := b.LatestTradingDay(ctx)
	if err != nil {
		t.Fatalf("LatestTradingDay: %v", err)
	}
	if !got.Equal(day) {
		t.Errorf("LatestTradingDay = %v, want %v", got, day)
	}
}
