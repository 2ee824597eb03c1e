// Package domain defines the types shared by the broker, snapshot, engine,
// and export layers.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one daily price bar. Sequences are ordered oldest to newest with no
// duplicate dates, and all numeric fields are non-negative.
type Bar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// ---------------------------------------------------------------------------
// Account state
// ---------------------------------------------------------------------------

// Position is one holding as reported by the broker. The snapshot builder
// filters it down to long equity positions before the decision engine sees
// it.
type Position struct {
	Symbol     string
	Qty        float64
	AvgCost    float64
	Side       string
	AssetClass string
}

// Position sides and the asset class eligible for stop management.
const (
	PositionSideLong  = "long"
	PositionSideShort = "short"
	AssetClassEquity  = "us_equity"
)

// Order sides.
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Order types.
const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"
)

// Order statuses. Broker-specific statuses are normalized into these four;
// only working and pending orders count as open.
const (
	OrderStatusWorking  = "working"
	OrderStatusPending  = "pending"
	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
)

// Order is a brokerage order record. Open stop orders feed the snapshot
// builder; filled orders feed the export pipeline. Legs carries the child
// orders of a bracket order when the broker returns them nested.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           string
	Type           string
	Qty            float64
	StopPrice      float64
	LimitPrice     float64
	Status         string
	FilledQty      float64
	FilledAvgPrice float64
	CreatedAt      time.Time
	FilledAt       time.Time
	Legs           []Order
}

// Open reports whether the order is still live at the broker.
func (o Order) Open() bool {
	return o.Status == OrderStatusWorking || o.Status == OrderStatusPending
}

// ManagedOrderPrefix marks the client order IDs of stop orders this system
// placed. Anything else touching the account is left alone.
const ManagedOrderPrefix = "palisade-"

// NewManagedOrderID returns a fresh client order ID carrying the managed
// prefix. Alpaca caps client order IDs at 48 characters; prefix plus UUID is
// 45.
func NewManagedOrderID() string {
	return ManagedOrderPrefix + uuid.NewString()
}

// IsManagedOrder reports whether the client order ID was issued by this
// system.
func IsManagedOrder(clientOrderID string) bool {
	return strings.HasPrefix(clientOrderID, ManagedOrderPrefix)
}

// ---------------------------------------------------------------------------
// Decisions and outcomes
// ---------------------------------------------------------------------------

// Action is what the decision engine wants done for one symbol.
type Action string

// Decision actions.
const (
	ActionNone    Action = "none"
	ActionCreate  Action = "create"
	ActionReplace Action = "replace"
)

// Decision is the per-symbol output of the decision engine, consumed by the
// reconciler within the same run.
type Decision struct {
	Symbol          string
	Action          Action
	Qty             float64
	TargetStop      float64
	ExistingOrderID string
	ExistingStop    float64
	Reason          string
}

// Outcome statuses.
const (
	OutcomeCreated  = "created"
	OutcomeReplaced = "replaced"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Outcome records what happened to one symbol during a run.
type Outcome struct {
	Symbol    string
	Status    string
	Action    Action
	OrderID   string
	StopPrice float64
	Reason    string
	Error     string
}

// RunReport aggregates per-symbol outcomes for one run. The report, not the
// raw decisions, is what gets logged and recorded.
type RunReport struct {
	Started  time.Time
	Finished time.Time
	Mode     string
	Created  int
	Replaced int
	Skipped  int
	Failed   int
	Outcomes []Outcome
}

// Run modes.
const (
	ModeLive   = "live"
	ModeDryRun = "dry-run"
)

// Add appends an outcome and bumps the matching counter.
func (r *RunReport) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeCreated:
		r.Created++
	case OutcomeReplaced:
		r.Replaced++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// Execution instructions.
const (
	InstructionBuy  = "BUY"
	InstructionSell = "SELL"
)

// Execution is one exported trade row: a filled order, or a filled leg of a
// bracket order, flattened for the warehouse schema.
type Execution struct {
	OrderID     string
	Symbol      string
	Instruction string
	Qty         float64
	Price       float64
	Time        time.Time
}
