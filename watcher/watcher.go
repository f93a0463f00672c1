// Package watcher implements the generic chain watcher of spec.md
// §4.2, instantiated once per side. The scan-tick-interrupt shape
// mirrors the teacher's miner/worker.go goroutine (a ticker driving a
// retryable unit of work, with errors backing off rather than
// crashing the loop) generalized from "build a block" to "scan a
// block".
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/tnbridge/gateway/chain"
	"github.com/tnbridge/gateway/policy"
	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/verifier"
)

// Config parameterizes one Watcher instance (spec.md §4.2).
type Config struct {
	Chain               store.Chain
	Direction           store.Direction
	Confirmations       int64
	TickInterval        time.Duration
	Decimals            uint8
	Bounds              policy.Bounds
	DestinationFees     policy.Fees
	GatewayAddress      string
}

// Watcher scans one chain's finalized blocks for deposits and drives
// the opposite chain's outbound send.
type Watcher struct {
	cfg      Config
	inbound  chain.Chain // the chain being scanned
	outbound chain.Chain // the chain outbound sends land on
	store    store.Store
	verifier *verifier.Verifier
	log      log.Logger
}

// New builds a Watcher.
func New(cfg Config, inbound, outbound chain.Chain, st store.Store, v *verifier.Verifier) *Watcher {
	return &Watcher{
		cfg:      cfg,
		inbound:  inbound,
		outbound: outbound,
		store:    st,
		verifier: v,
		log:      log.New("component", "watcher", "chain", cfg.Chain),
	}
}

// Run executes the watcher loop until ctx is cancelled (spec.md §4.2
// step 1-2). It always finishes the block it is currently on before
// returning.
func (w *Watcher) Run(ctx context.Context) error {
	lastScanned, err := w.store.GetHeight(ctx, w.cfg.Chain)
	if err == store.ErrNotFound {
		// Fresh backend, no seeded height (spec.md §6's legacy import is
		// the only other source of one). Start from the chain's current
		// tip rather than block 0, and persist it immediately so a crash
		// before the first tick doesn't lose the seed.
		tip, tipErr := w.inbound.CurrentBlock(ctx)
		if tipErr != nil {
			return fmt.Errorf("watcher[%s]: seed height: current block: %w", w.cfg.Chain, tipErr)
		}
		lastScanned = tip
		if err := w.store.SetHeight(ctx, w.cfg.Chain, lastScanned); err != nil {
			return fmt.Errorf("watcher[%s]: seed height: %w", w.cfg.Chain, err)
		}
		w.log.Info("seeded starting height from chain tip", "height", lastScanned)
	} else if err != nil {
		return fmt.Errorf("watcher[%s]: initial height: %w", w.cfg.Chain, err)
	}

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		next := lastScanned + 1

		tip, err := w.inbound.CurrentBlock(ctx)
		if err != nil {
			w.log.Error("could not read chain tip", "error", err)
			w.waitTick(ctx, ticker)
			continue
		}

		if tip-w.cfg.Confirmations < next {
			w.waitTick(ctx, ticker)
			continue
		}

		if err := w.processBlock(ctx, next); err != nil {
			w.log.Error("block processing failed, will re-scan", "height", next, "error", err)
			// lastScanned is left unchanged: the already-attempted
			// block is retried on the next tick. processBlock is
			// idempotent by construction (executed rows are keyed on
			// (direction, inboundTxId)), so re-scanning is safe.
			w.waitTick(ctx, ticker)
			continue
		}

		lastScanned = next
		if err := w.store.SetHeight(ctx, w.cfg.Chain, lastScanned); err != nil {
			w.log.Error("could not persist scanned height", "height", lastScanned, "error", err)
		}

		w.waitTick(ctx, ticker)
	}
}

func (w *Watcher) waitTick(ctx context.Context, ticker *time.Ticker) {
	select {
	case <-ctx.Done():
	case <-ticker.C:
	}
}

// processBlock implements spec.md §4.2's per-block algorithm.
func (w *Watcher) processBlock(ctx context.Context, height int64) error {
	block, err := w.inbound.GetBlock(ctx, height)
	if err != nil {
		return fmt.Errorf("get block %d: %w", height, err)
	}

	for _, tx := range block.Transactions {
		if err := w.processTransaction(ctx, tx); err != nil {
			// Per-transaction problems never hold the block back; only
			// block-fetch failures hold lastScanned back. Rejections and
			// failed sends are written to the errors table inside
			// processTransaction; an error returned here (a store or CAS
			// failure) is only logged.
			w.log.Error("transaction processing failed, continuing", "tx", tx.ID, "error", err)
		}
	}

	return nil
}

func (w *Watcher) processTransaction(ctx context.Context, tx chain.Transaction) error {
	if tx.Attachment == "" {
		return w.recordError(ctx, tx, store.ReasonNoAttachment, "no attachment found on transaction", "")
	}

	if !w.outbound.ValidateAddress(tx.Attachment) {
		return w.recordError(ctx, tx, store.ReasonTxError, "tx error, possible incorrect address", tx.Attachment)
	}
	targetAddress := w.outbound.NormalizeAddress(tx.Attachment)

	amount := policy.RawToAmount(tx.Amount, w.cfg.Decimals)

	quote, err := policy.Evaluate(amount, w.cfg.Bounds, w.cfg.DestinationFees)
	if err != nil {
		return w.recordError(ctx, tx, store.ReasonSendError, "outside amount ranges", targetAddress)
	}

	// Idempotence check (spec.md §4.2's rule): skip if this inbound tx
	// was already executed by a prior scan of this block.
	if _, err := w.store.GetExecutedByInbound(ctx, w.cfg.Direction, tx.ID); err == nil {
		return nil
	} else if err != store.ErrNotFound {
		return fmt.Errorf("check existing executed row: %w", err)
	}

	tunnelRow, err := w.store.GetTunnelBySource(ctx, tx.Sender)
	if err == nil && (tunnelRow.Status == store.TunnelVerifying || tunnelRow.Status == store.TunnelVerified) {
		// Already in flight or done from a prior scan of this block;
		// this is a re-scan, so do nothing (spec.md §4.2 step e).
		return nil
	}

	if err == store.ErrNotFound {
		if _, err := w.store.InsertTunnel(ctx, tx.Sender, targetAddress, store.TunnelSending); err != nil && err != store.ErrConflict {
			return fmt.Errorf("insert tunnel: %w", err)
		}
	} else if err == nil {
		if _, err := w.store.UpdateTunnelStatus(ctx, tx.Sender, targetAddress, store.TunnelSending, tunnelRow.Status); err != nil {
			return fmt.Errorf("cas tunnel to sending: %w", err)
		}
	} else {
		return fmt.Errorf("lookup tunnel by source: %w", err)
	}

	correlationID := uuid.NewString()

	outboundTxID, sendErr := w.outbound.SendTx(ctx, targetAddress, quote.CreditedAmount)
	if sendErr != nil {
		var rejected *chain.RejectedError
		if errors.As(sendErr, &rejected) {
			// The chain itself refused the transaction: definitive, not
			// ambiguous (spec.md §7's senderror).
			if _, err := w.store.InsertError(ctx, store.ErrorRow{
				SourceAddress: tx.Sender,
				TargetAddress: targetAddress,
				InboundTxID:   tx.ID,
				OutboundTxID:  outboundTxID,
				Amount:        amount.InexactFloat64(),
				Reason:        store.ReasonSendError,
				Detail:        sendErr.Error(),
			}); err != nil {
				return fmt.Errorf("record send error: %w", err)
			}
		} else {
			// Transport/RPC-level failure: unknown whether the chain ever
			// saw the transaction, so this needs an operator to check
			// manually (spec.md §7's manual).
			if _, err := w.store.InsertError(ctx, store.ErrorRow{
				SourceAddress: tx.Sender,
				TargetAddress: targetAddress,
				InboundTxID:   tx.ID,
				Amount:        amount.InexactFloat64(),
				Reason:        store.ReasonManual,
				Detail:        "tx failed to send - manual intervention required: " + sendErr.Error(),
			}); err != nil {
				return fmt.Errorf("record manual-intervention error: %w", err)
			}
		}
		if _, err := w.store.UpdateTunnelStatus(ctx, tx.Sender, targetAddress, store.TunnelError, store.TunnelSending); err != nil {
			return fmt.Errorf("cas tunnel to error: %w", err)
		}
		w.log.Error("outbound send failed", "correlationID", correlationID, "sender", tx.Sender, "error", sendErr)
		return nil
	}

	feeFloat, _ := quote.FeeCharged.Float64()
	amountFloat, _ := amount.Float64()
	if _, err := w.store.InsertExecuted(ctx, store.Executed{
		SourceAddress: tx.Sender,
		TargetAddress: targetAddress,
		OutboundTxID:  outboundTxID,
		InboundTxID:   tx.ID,
		Amount:        amountFloat,
		Fee:           feeFloat,
		Direction:     w.cfg.Direction,
	}); err != nil {
		return fmt.Errorf("insert executed: %w", err)
	}

	if _, err := w.store.UpdateTunnelStatus(ctx, tx.Sender, targetAddress, store.TunnelVerifying, store.TunnelSending); err != nil {
		return fmt.Errorf("cas tunnel to verifying: %w", err)
	}

	if err := w.store.EnqueueVerify(ctx, outboundTxID, w.cfg.Direction); err != nil {
		return fmt.Errorf("enqueue verify: %w", err)
	}

	if err := w.outbound.VerifyTx(ctx, outboundTxID, tx.Sender, targetAddress); err != nil {
		w.log.Warn("verify hint failed, controller will still pick this up", "tx", outboundTxID, "error", err)
	}

	w.log.Info("sent outbound transfer", "correlationID", correlationID, "inboundTx", tx.ID, "outboundTx", outboundTxID,
		"amount", amountFloat, "fee", feeFloat)

	if w.verifier != nil {
		if _, err := w.verifier.Check(ctx, store.VerifyRow{OutboundTxID: outboundTxID, Direction: w.cfg.Direction}); err != nil {
			w.log.Warn("inline verification attempt failed, controller will retry", "tx", outboundTxID, "error", err)
		}
	}

	return nil
}

func (w *Watcher) recordError(ctx context.Context, tx chain.Transaction, reason store.ErrorReason, detail, targetAddress string) error {
	amount := policy.RawToAmount(tx.Amount, w.cfg.Decimals)
	if _, err := w.store.InsertError(ctx, store.ErrorRow{
		SourceAddress: tx.Sender,
		TargetAddress: targetAddress,
		InboundTxID:   tx.ID,
		Amount:        amount.InexactFloat64(),
		Reason:        reason,
		Detail:        detail,
	}); err != nil {
		return fmt.Errorf("insert error row: %w", err)
	}
	w.log.Error("recorded transaction error", "reason", reason, "tx", tx.ID, "sender", tx.Sender)
	return nil
}
