package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"palisade/internal/broker"
	"palisade/internal/domain"
	"palisade/internal/util"
)

// PartialReplaceError means the old stop was canceled but the replacement
// could not be created. The position is unprotected until the next run, so
// this is reported at error level and in the run report, never swallowed.
type PartialReplaceError struct {
	Symbol     string
	CanceledID string
	Err        error
}

func (e *PartialReplaceError) Error() string {
	return fmt.Sprintf("partial replace for %s: canceled %s but create failed: %v",
		e.Symbol, e.CanceledID, e.Err)
}

func (e *PartialReplaceError) Unwrap() error { return e.Err }

// Reconciler applies decisions through an executor. Transient failures retry
// with doubling delay up to the attempt budget; permanent failures surface
// immediately.
type Reconciler struct {
	exec        OrderExecutor
	maxAttempts int
	baseDelay   time.Duration
	log         *zap.Logger
}

// NewReconciler creates a Reconciler over the given executor.
func NewReconciler(exec OrderExecutor, maxAttempts int, baseDelay time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		exec:        exec,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		log:         log.Named("reconcile"),
	}
}

// Apply executes one decision and reports the outcome. The returned error is
// non-nil only for authentication failures, which abort the whole run; every
// other failure is contained in the outcome.
func (r *Reconciler) Apply(ctx context.Context, d domain.Decision) (domain.Outcome, error) {
	switch d.Action {
	case domain.ActionCreate:
		return r.create(ctx, d)
	case domain.ActionReplace:
		return r.replace(ctx, d)
	default:
		return domain.Outcome{
			Symbol: d.Symbol,
			Status: domain.OutcomeSkipped,
			Action: domain.ActionNone,
			Reason: d.Reason,
		}, nil
	}
}

func (r *Reconciler) create(ctx context.Context, d domain.Decision) (domain.Outcome, error) {
	out := domain.Outcome{
		Symbol:    d.Symbol,
		Action:    d.Action,
		StopPrice: d.TargetStop,
		Reason:    d.Reason,
	}

	var orderID string
	err := r.retry(ctx, func() error {
		id, err := r.exec.PlaceStop(ctx, d.Symbol, d.Qty, d.TargetStop)
		if err == nil {
			orderID = id
		}
		return err
	})
	if err != nil {
		out.Status = domain.OutcomeFailed
		out.Error = err.Error()
		return out, runAbort(err)
	}

	out.Status = domain.OutcomeCreated
	out.OrderID = orderID
	r.log.Info("stop order created",
		zap.String("executor", r.exec.Name()),
		zap.String("symbol", d.Symbol),
		zap.String("order_id", orderID),
		zap.Float64("stop_price", d.TargetStop),
	)
	return out, nil
}

func (r *Reconciler) replace(ctx context.Context, d domain.Decision) (domain.Outcome, error) {
	out := domain.Outcome{
		Symbol:    d.Symbol,
		Action:    d.Action,
		StopPrice: d.TargetStop,
		Reason:    d.Reason,
	}

	var newID string
	err := r.retry(ctx, func() error {
		id, err := r.exec.ReplaceStop(ctx, d.ExistingOrderID, d.TargetStop)
		if err == nil {
			newID = id
		}
		return err
	})
	if errors.Is(err, ErrReplaceNotSupported) {
		r.log.Warn("replace unsupported, falling back to cancel and create",
			zap.String("symbol", d.Symbol),
			zap.String("order_id", d.ExistingOrderID),
		)
		return r.cancelAndCreate(ctx, d)
	}
	if err != nil {
		out.Status = domain.OutcomeFailed
		out.Error = err.Error()
		return out, runAbort(err)
	}

	out.Status = domain.OutcomeReplaced
	out.OrderID = newID
	r.log.Info("stop order replaced",
		zap.String("executor", r.exec.Name()),
		zap.String("symbol", d.Symbol),
		zap.String("old_order_id", d.ExistingOrderID),
		zap.String("order_id", newID),
		zap.Float64("stop_price", d.TargetStop),
	)
	return out, nil
}

// cancelAndCreate is the fallback when in-place replacement is unsupported.
// Cancel and create are one logical step; a failure between them leaves the
// position unprotected.
func (r *Reconciler) cancelAndCreate(ctx context.Context, d domain.Decision) (domain.Outcome, error) {
	out := domain.Outcome{
		Symbol:    d.Symbol,
		Action:    d.Action,
		StopPrice: d.TargetStop,
		Reason:    d.Reason,
	}

	if err := r.retry(ctx, func() error { return r.exec.Cancel(ctx, d.ExistingOrderID) }); err != nil {
		// The old stop is still working, so the position stays protected.
		out.Status = domain.OutcomeFailed
		out.Error = fmt.Sprintf("cancel before re-create failed: %v", err)
		return out, runAbort(err)
	}

	var orderID string
	err := r.retry(ctx, func() error {
		id, err := r.exec.PlaceStop(ctx, d.Symbol, d.Qty, d.TargetStop)
		if err == nil {
			orderID = id
		}
		return err
	})
	if err != nil {
		perr := &PartialReplaceError{Symbol: d.Symbol, CanceledID: d.ExistingOrderID, Err: err}
		r.log.Error("position left unprotected",
			zap.String("symbol", d.Symbol),
			zap.String("canceled_order_id", d.ExistingOrderID),
			zap.Error(perr),
		)
		out.Status = domain.OutcomeFailed
		out.Error = perr.Error()
		return out, runAbort(err)
	}

	out.Status = domain.OutcomeReplaced
	out.OrderID = orderID
	r.log.Info("stop order replaced via cancel and create",
		zap.String("executor", r.exec.Name()),
		zap.String("symbol", d.Symbol),
		zap.String("old_order_id", d.ExistingOrderID),
		zap.String("order_id", orderID),
		zap.Float64("stop_price", d.TargetStop),
	)
	return out, nil
}

func (r *Reconciler) retry(ctx context.Context, fn func() error) error {
	return util.RetryIf(ctx, r.maxAttempts, r.baseDelay, broker.IsTransient, fn)
}

// runAbort passes through only errors that must stop the whole run.
func runAbort(err error) error {
	if broker.IsAuth(err) {
		return err
	}
	return nil
}
