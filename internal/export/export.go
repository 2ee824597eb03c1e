// Package export turns filled brokerage orders into warehouse-ready CSV
// files and a local parquet archive. It has no dependency on the stop
// engine; the two pipelines share only the broker client and the domain
// types.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"palisade/internal/broker"
	"palisade/internal/domain"
)

// closedOrderLookback pads the broker query window. Brokers filter closed
// orders on submission time while the cutoff tracks fill times, and a GTC
// stop can fill long after it was submitted. The query reaches back past
// the cutoff and the exact fill-time filter trims the overlap.
const closedOrderLookback = 90 * 24 * time.Hour

// Options controls which closed orders become execution rows.
type Options struct {
	// Cutoff excludes executions at or before this instant. Rows exactly at
	// the cutoff were exported by the previous run. Zero exports everything
	// the broker returns.
	Cutoff time.Time
	// IncludeCancelled keeps cancelled orders that carry partial fills.
	IncludeCancelled bool
}

// Result is one export pass: the rows produced, sorted by execution time,
// and the newest execution time seen, which becomes the next run's cutoff.
type Result struct {
	Executions []domain.Execution
	NewCutoff  time.Time
}

// Exporter pulls closed orders from the broker and flattens their fills
// into execution rows.
type Exporter struct {
	broker broker.Broker
	log    *zap.Logger
}

// NewExporter returns an Exporter backed by the given broker.
func NewExporter(b broker.Broker, log *zap.Logger) *Exporter {
	return &Exporter{broker: b, log: log.Named("export")}
}

// Run fetches closed orders since opts.Cutoff and flattens them. Bracket
// legs flatten to their own rows under the leg order ID.
func (e *Exporter) Run(ctx context.Context, opts Options) (Result, error) {
	since := opts.Cutoff
	if !since.IsZero() {
		since = since.Add(-closedOrderLookback)
	}
	orders, err := e.broker.GetClosedOrders(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("fetching closed orders: %w", err)
	}
	e.log.Debug("fetched closed orders", zap.Int("count", len(orders)))

	res := Result{NewCutoff: opts.Cutoff}
	for _, o := range orders {
		for _, ex := range flatten(o, opts.IncludeCancelled) {
			if !opts.Cutoff.IsZero() && !ex.Time.After(opts.Cutoff) {
				continue
			}
			res.Executions = append(res.Executions, ex)
			if ex.Time.After(res.NewCutoff) {
				res.NewCutoff = ex.Time
			}
		}
	}

	sort.Slice(res.Executions, func(i, j int) bool {
		return res.Executions[i].Time.Before(res.Executions[j].Time)
	})
	e.log.Info("flattened executions",
		zap.Int("orders", len(orders)),
		zap.Int("rows", len(res.Executions)),
		zap.Time("new_cutoff", res.NewCutoff))
	return res, nil
}

// flatten emits one execution row for the order itself when it carries a
// fill, then recurses into bracket legs. Leg rows stand on their own: a
// cancelled bracket parent can still have a filled stop leg worth
// exporting.
func flatten(o domain.Order, includeCancelled bool) []domain.Execution {
	var rows []domain.Execution
	if counts(o, includeCancelled) {
		// Cancelled orders with partial fills carry no fill timestamp from
		// some brokers; the submission time is the best stand-in.
		at := o.FilledAt
		if at.IsZero() {
			at = o.CreatedAt
		}
		rows = append(rows, domain.Execution{
			OrderID:     o.ID,
			Symbol:      strings.ToUpper(o.Symbol),
			Instruction: instruction(o.Side),
			Qty:         o.FilledQty,
			Price:       o.FilledAvgPrice,
			Time:        at.UTC(),
		})
	}
	for _, leg := range o.Legs {
		rows = append(rows, flatten(leg, includeCancelled)...)
	}
	return rows
}

// counts reports whether the order contributes a row of its own.
func counts(o domain.Order, includeCancelled bool) bool {
	switch o.Status {
	case domain.OrderStatusFilled:
		return o.FilledQty > 0
	case domain.OrderStatusCanceled:
		return includeCancelled && o.FilledQty > 0
	default:
		return false
	}
}

func instruction(side string) string {
	if side == domain.OrderSideBuy {
		return domain.InstructionBuy
	}
	return domain.InstructionSell
}
