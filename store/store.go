// Package store defines the persistence contract shared by the
// watchers, verifier, controller and API (spec.md §3/§4.1). Concrete
// backends live in store/pgstore (primary) and store/legacy (one-shot
// import of the predecessor file-based datastore).
package store

import (
	"context"
	"errors"
	"time"
)

// Chain identifies one side of the bridge.
type Chain string

const (
	ChainTN    Chain = "TN"
	ChainOther Chain = "Other"
)

// Direction identifies which side a deposit came from, and therefore
// which side the gateway sent the matching outbound transfer on.
type Direction string

const (
	DirectionTNToOther Direction = "TN_TO_OTHER"
	DirectionOtherToTN Direction = "OTHER_TO_TN"
)

// TunnelStatus is the tunnel state machine's state (spec.md §4.3).
type TunnelStatus string

const (
	TunnelCreated   TunnelStatus = "created"
	TunnelSending   TunnelStatus = "sending"
	TunnelVerifying TunnelStatus = "verifying"
	TunnelVerified  TunnelStatus = "verified"
	TunnelError     TunnelStatus = "error"
)

// ErrorReason enumerates the taxonomy in spec.md §7.
type ErrorReason string

const (
	ReasonNoAttachment ErrorReason = "noattachment"
	ReasonTxError      ErrorReason = "txerror"
	ReasonSendError    ErrorReason = "senderror"
	ReasonSendLost     ErrorReason = "sendlost"
	ReasonManual       ErrorReason = "manual"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by InsertTunnel when a unique constraint
// (sourceAddress or targetAddress already bound) would be violated.
var ErrConflict = errors.New("store: conflict")

// Tunnel binds a user's foreign-chain deposit address to a TN
// withdrawal address.
type Tunnel struct {
	SourceAddress string       `json:"sourceAddress"`
	TargetAddress string       `json:"targetAddress"`
	Status        TunnelStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Executed is one successful outbound send.
type Executed struct {
	ID            int64     `json:"id"`
	SourceAddress string    `json:"sourceAddress"`
	TargetAddress string    `json:"targetAddress"`
	OutboundTxID  string    `json:"outboundTxId"`
	InboundTxID   string    `json:"inboundTxId"`
	Amount        float64   `json:"amount"`
	Fee           float64   `json:"fee"`
	Direction     Direction `json:"direction"`
	Timestamp     time.Time `json:"timestamp"`
}

// VerifyRow is a pending-confirmation outbound transaction.
type VerifyRow struct {
	OutboundTxID      string    `json:"outboundTxId"`
	Direction         Direction `json:"direction"`
	Attempts          int       `json:"attempts"`
	LastCheckedHeight int64     `json:"lastCheckedHeight"`
	EnqueuedAt        time.Time `json:"enqueuedAt"`
}

// ErrorRow is an append-only operator-visible error record.
type ErrorRow struct {
	ID            int64       `json:"id"`
	SourceAddress string      `json:"sourceAddress"`
	TargetAddress string      `json:"targetAddress"`
	InboundTxID   string      `json:"inboundTxId"`
	OutboundTxID  string      `json:"outboundTxId"`
	Amount        float64     `json:"amount"`
	Reason        ErrorReason `json:"reason"`
	Detail        string      `json:"detail"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Store is the full persistence contract. All mutation in the system
// goes through it; it is the sole serialization point between the two
// watchers, the verifier and the controller (spec.md §5).
type Store interface {
	GetHeight(ctx context.Context, chain Chain) (int64, error)
	SetHeight(ctx context.Context, chain Chain, height int64) error

	GetTunnelByTarget(ctx context.Context, targetAddress string) (Tunnel, error)
	GetTunnelBySource(ctx context.Context, sourceAddress string) (Tunnel, error)
	InsertTunnel(ctx context.Context, sourceAddress, targetAddress string, status TunnelStatus) (Tunnel, error)
	// UpdateTunnelStatus performs a CAS on the current status: the
	// transition only applies if the row's current status equals
	// expectedOld. Returns whether it applied.
	UpdateTunnelStatus(ctx context.Context, sourceAddress, targetAddress string, newStatus, expectedOld TunnelStatus) (bool, error)
	ListTunnelsByStatus(ctx context.Context, status TunnelStatus, olderThan time.Time) ([]Tunnel, error)
	ListTunnelsInErrorSince(ctx context.Context, since time.Time) ([]Tunnel, error)

	// InsertExecuted is idempotent on (direction, inboundTxID): a
	// second insert for the same pair is a no-op that returns the
	// existing row.
	InsertExecuted(ctx context.Context, e Executed) (Executed, error)
	GetExecutedByInbound(ctx context.Context, direction Direction, inboundTxID string) (Executed, error)
	GetExecutedByOutbound(ctx context.Context, outboundTxID string) (Executed, error)
	GetExecutedForTunnel(ctx context.Context, sourceAddress, targetAddress string) (Executed, error)
	ListExecuted(ctx context.Context) ([]Executed, error)
	ListVerified(ctx context.Context) ([]Executed, error)
	ListTxsForAddress(ctx context.Context, address string) ([]Executed, error)
	SumFees(ctx context.Context, from, to time.Time) (float64, error)

	InsertError(ctx context.Context, e ErrorRow) (ErrorRow, error)
	ListErrors(ctx context.Context) ([]ErrorRow, error)

	EnqueueVerify(ctx context.Context, outboundTxID string, direction Direction) error
	DequeueVerified(ctx context.Context, outboundTxID string) error
	ListPendingVerify(ctx context.Context, olderThan time.Time) ([]VerifyRow, error)
	IncrementVerifyAttempts(ctx context.Context, outboundTxID string, checkedHeight int64) error

	// WithTx runs fn against a store bound to a single transaction: every
	// write fn makes through the Store it is handed either all commit
	// together when fn returns nil, or all roll back when fn returns an
	// error (which WithTx then returns unchanged). Used by the legacy
	// importer (spec.md §6) so a one-shot migration either lands in full
	// or leaves the backend untouched.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Close() error
}
