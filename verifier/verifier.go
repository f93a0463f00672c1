// Package verifier implements spec.md §4.4: for each outbound
// transaction, check whether it has reached the required confirmation
// depth, and promote or fail the owning tunnel accordingly.
package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/tnbridge/gateway/chain"
	"github.com/tnbridge/gateway/store"
)

// Result is the outcome of a single verification check.
type Result string

const (
	ResultVerified Result = "verified"
	ResultPending  Result = "pending"
	ResultError    Result = "error"
)

// Route tells the verifier which chain an outbound transaction for a
// given direction was sent on, and how many confirmations it needs.
type Route struct {
	Chain             chain.Chain
	ConfirmationDepth int64
}

// Verifier checks pending outbound transactions against their
// destination chain and drives the verifying -> verified/error tunnel
// transition.
type Verifier struct {
	store       store.Store
	routes      map[store.Direction]Route
	maxAttempts int
	log         log.Logger
}

// New builds a Verifier. routes must have an entry for every
// store.Direction the system uses.
func New(st store.Store, routes map[store.Direction]Route, maxAttempts int) *Verifier {
	return &Verifier{
		store:       st,
		routes:      routes,
		maxAttempts: maxAttempts,
		log:         log.New("component", "verifier"),
	}
}

// Check verifies a single outbound transaction (spec.md §4.4 steps
// 1-4). It is safe to call both inline (immediately after a send) and
// from the Controller's periodic sweep.
func (v *Verifier) Check(ctx context.Context, row store.VerifyRow) (Result, error) {
	route, ok := v.routes[row.Direction]
	if !ok {
		return ResultError, fmt.Errorf("%w: %s", ErrNoRoute, row.Direction)
	}

	executed, err := v.store.GetExecutedByOutbound(ctx, row.OutboundTxID)
	if err != nil {
		return ResultError, fmt.Errorf("verifier: lookup executed row for %s: %w", row.OutboundTxID, err)
	}

	includedAt, found, err := route.Chain.CheckTx(ctx, row.OutboundTxID)
	if err != nil {
		return ResultPending, fmt.Errorf("verifier: check tx %s: %w", row.OutboundTxID, err)
	}

	if !found {
		if row.Attempts+1 > v.maxAttempts {
			return v.fail(ctx, executed, row, "tx not found")
		}
		if err := v.store.IncrementVerifyAttempts(ctx, row.OutboundTxID, row.LastCheckedHeight); err != nil {
			return ResultPending, err
		}
		return ResultPending, nil
	}

	tip, err := route.Chain.CurrentBlock(ctx)
	if err != nil {
		return ResultPending, fmt.Errorf("verifier: current block: %w", err)
	}

	if tip-includedAt >= route.ConfirmationDepth {
		applied, err := v.store.UpdateTunnelStatus(ctx, executed.SourceAddress, executed.TargetAddress,
			store.TunnelVerified, store.TunnelVerifying)
		if err != nil {
			return ResultPending, fmt.Errorf("verifier: promote tunnel: %w", err)
		}
		if !applied {
			v.log.Warn("tunnel was not in verifying state at confirmation time",
				"source", executed.SourceAddress, "target", executed.TargetAddress)
		}
		if err := v.store.DequeueVerified(ctx, row.OutboundTxID); err != nil {
			return ResultPending, fmt.Errorf("verifier: dequeue: %w", err)
		}
		v.log.Info("outbound transaction verified", "tx", row.OutboundTxID, "direction", row.Direction)
		return ResultVerified, nil
	}

	if err := v.store.IncrementVerifyAttempts(ctx, row.OutboundTxID, includedAt); err != nil {
		return ResultPending, err
	}
	return ResultPending, nil
}

func (v *Verifier) fail(ctx context.Context, executed store.Executed, row store.VerifyRow, reason string) (Result, error) {
	applied, err := v.store.UpdateTunnelStatus(ctx, executed.SourceAddress, executed.TargetAddress,
		store.TunnelError, store.TunnelVerifying)
	if err != nil {
		return ResultError, fmt.Errorf("verifier: fail tunnel: %w", err)
	}
	if !applied {
		v.log.Warn("tunnel was not in verifying state when verification gave up",
			"source", executed.SourceAddress, "target", executed.TargetAddress)
	}

	if _, err := v.store.InsertError(ctx, store.ErrorRow{
		SourceAddress: executed.SourceAddress,
		TargetAddress: executed.TargetAddress,
		OutboundTxID:  row.OutboundTxID,
		InboundTxID:   executed.InboundTxID,
		Amount:        executed.Amount,
		Reason:        store.ReasonManual,
		Detail:        reason,
	}); err != nil {
		return ResultError, fmt.Errorf("verifier: insert error row: %w", err)
	}

	if err := v.store.DequeueVerified(ctx, row.OutboundTxID); err != nil {
		return ResultError, fmt.Errorf("verifier: dequeue failed tx: %w", err)
	}

	v.log.Error("outbound transaction failed verification", "tx", row.OutboundTxID, "reason", reason)
	return ResultError, nil
}

// ErrNoRoute is returned when Check is asked to verify a direction
// that was never configured in routes.
var ErrNoRoute = errors.New("verifier: no route for direction")
