// Package snapshot maps raw brokerage positions and open orders into the
// per-symbol views the decision engine works from.
package snapshot

import (
	"sort"

	"palisade/internal/domain"
)

// View is everything known about one held symbol at the start of a run.
type View struct {
	Position domain.Position
	// Stops holds the managed open sell-stop orders for the symbol.
	Stops []domain.Order
	// Anomaly is set when more than one managed stop exists. The run reports
	// it and leaves the orders alone rather than guessing which to keep.
	Anomaly bool
}

// PrimaryStop returns the managed stop when exactly one exists.
func (v View) PrimaryStop() (domain.Order, bool) {
	if len(v.Stops) == 1 {
		return v.Stops[0], true
	}
	return domain.Order{}, false
}

// Snapshot is the per-symbol state for one run.
type Snapshot struct {
	Views map[string]View
	// Orphans are managed stops whose symbol has no held position. They are
	// reported but never touched.
	Orphans []domain.Order
	// Errs collects shape problems in the broker data. Each is surfaced as a
	// per-symbol skip, never a run abort.
	Errs []error
}

// Symbols returns the held symbols in sorted order.
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Views))
	for sym := range s.Views {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Build filters and indexes broker state. Positions must be long equities
// with positive quantity; everything else is dropped. Only open sell-stop
// orders carrying the managed client-order prefix attach to a view.
func Build(positions []domain.Position, openOrders []domain.Order) Snapshot {
	snap := Snapshot{Views: make(map[string]View)}

	for _, p := range positions {
		if p.Symbol == "" {
			snap.Errs = append(snap.Errs, &domain.ShapeError{Kind: "position", Field: "symbol"})
			continue
		}
		if p.Qty <= 0 {
			continue
		}
		if p.Side != "" && p.Side != domain.PositionSideLong {
			continue
		}
		if p.AssetClass != "" && p.AssetClass != domain.AssetClassEquity {
			continue
		}
		snap.Views[p.Symbol] = View{Position: p}
	}

	for _, o := range openOrders {
		if !o.Open() {
			continue
		}
		if !domain.IsManagedOrder(o.ClientOrderID) {
			continue
		}
		if o.Side != domain.OrderSideSell || o.Type != domain.OrderTypeStop {
			continue
		}
		if o.Symbol == "" {
			snap.Errs = append(snap.Errs, &domain.ShapeError{Kind: "order", Field: "symbol"})
			continue
		}
		if o.StopPrice <= 0 {
			snap.Errs = append(snap.Errs, &domain.ShapeError{Kind: "order", Symbol: o.Symbol, Field: "stop_price"})
			continue
		}

		v, held := snap.Views[o.Symbol]
		if !held {
			snap.Orphans = append(snap.Orphans, o)
			continue
		}
		v.Stops = append(v.Stops, o)
		v.Anomaly = len(v.Stops) > 1
		snap.Views[o.Symbol] = v
	}

	return snap
}
