// Package chain defines the RPC contract the watchers, verifier and
// controller require of each side's blockchain client (spec.md §6).
// Concrete implementations live in chain/tn (a bare JSON-RPC client,
// since TN is not EVM-shaped) and chain/other (wrapping the real
// go-ethereum ethclient.Client).
package chain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// RejectedError wraps a SendTx failure the chain itself definitively
// refused (insufficient balance, nonce conflict, a chain-level error
// payload) as opposed to an ambiguous transport/RPC failure where it
// is unknown whether the transaction was ever broadcast. Watchers use
// this distinction to record a senderror (chain said no) rather than a
// manual-intervention error (we don't know what happened) — spec.md
// §7's taxonomy, mirroring the original project's `if 'error' in txId`
// check in tnChecker.py.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string { return e.Err.Error() }
func (e *RejectedError) Unwrap() error { return e.Err }

// Transaction is one transaction found inside a scanned block. Amount
// is denominated in the chain's smallest unit (raw, pre-decimals).
type Transaction struct {
	ID         string
	Sender     string
	Amount     *big.Int
	Attachment string // memo/attachment payload as text; the client has already undone any chain-specific encoding (TN's base58)
}

// Block is the subset of block content the watcher needs.
type Block struct {
	Height       int64
	Transactions []Transaction
}

// Chain is the RPC contract both sides' clients satisfy.
type Chain interface {
	// CurrentBlock returns the chain's current tip height.
	CurrentBlock(ctx context.Context) (int64, error)
	// CurrentBalance returns this side's gateway wallet balance, in
	// raw units.
	CurrentBalance(ctx context.Context) (*big.Int, error)
	// GetBlock fetches the full transaction list of block height.
	GetBlock(ctx context.Context, height int64) (Block, error)
	// ValidateAddress reports whether address is well-formed on this
	// chain.
	ValidateAddress(address string) bool
	// NormalizeAddress returns the canonical (checksummed/cased) form
	// of address.
	NormalizeAddress(address string) string
	// GetNewAddress allocates a fresh gateway-owned deposit address on
	// this chain (used for tunnel creation).
	GetNewAddress(ctx context.Context) (string, error)
	// SendTx submits an outbound transfer of amount (display units,
	// e.g. "1.5", not raw on-chain units) to to. Implementations
	// convert to their own chain's raw units internally using their
	// configured decimals.
	SendTx(ctx context.Context, to string, amount decimal.Decimal) (string, error)
	// CheckTx returns the inclusion block of txID, or ok=false if it
	// has not been seen yet.
	CheckTx(ctx context.Context, txID string) (includedAt int64, ok bool, err error)
	// VerifyTx is a side-effecting hint some chain backends use to
	// pin a transaction for expedited confirmation tracking; backends
	// that need nothing here may no-op.
	VerifyTx(ctx context.Context, txID, from, to string) error
}
