// Package pgstore is the primary Store backend: Postgres accessed
// through sqlx, following the access pattern in the retrieval pack's
// arcanetechnology-npm-teslacoil example (internal/transactions/
// dbtransactions.go), the closest analogue to a deposit/withdrawal
// ledger in the corpus.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/store/migrations"
	"github.com/tnbridge/gateway/tunnel"
)

// postgresUniqueViolation is the SQLSTATE code Postgres raises on a
// unique-constraint failure.
const postgresUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == postgresUniqueViolation
}

// sqlxExt is the subset of *sqlx.DB and *sqlx.Tx every query in this
// file runs through, letting Store run unmodified against either a
// plain connection or a single transaction.
type sqlxExt interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements store.Store against a Postgres database. raw is
// non-nil only on the top-level Store Open returns; a Store handed to
// a WithTx callback wraps a *sqlx.Tx instead and cannot itself start a
// nested transaction.
type Store struct {
	db  sqlxExt
	raw *sqlx.DB
}

// Open connects to dsn, applies pending schema migrations, and returns
// a ready Store.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}

	if err := migrations.Apply(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, raw: db}, nil
}

func (s *Store) Close() error { return s.raw.Close() }

// WithTx runs fn against a Store bound to a single Postgres
// transaction, committing on a nil return and rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.raw == nil {
		return fmt.Errorf("pgstore: nested transactions are not supported")
	}

	sqlTx, err := s.raw.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}

	if err := fn(ctx, &Store{db: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("pgstore: rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

func (s *Store) GetHeight(ctx context.Context, chain store.Chain) (int64, error) {
	var h int64
	err := s.db.GetContext(ctx, &h, `SELECT height FROM heights WHERE chain = $1`, string(chain))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: get height: %w", err)
	}
	return h, nil
}

func (s *Store) SetHeight(ctx context.Context, chain store.Chain, height int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heights (chain, height) VALUES ($1, $2)
		ON CONFLICT (chain) DO UPDATE SET height = EXCLUDED.height`,
		string(chain), height)
	if err != nil {
		return fmt.Errorf("pgstore: set height: %w", err)
	}
	return nil
}

type tunnelRow struct {
	SourceAddress string    `db:"source_address"`
	TargetAddress string    `db:"target_address"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r tunnelRow) toModel() store.Tunnel {
	return store.Tunnel{
		SourceAddress: r.SourceAddress,
		TargetAddress: r.TargetAddress,
		Status:        store.TunnelStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *Store) GetTunnelByTarget(ctx context.Context, targetAddress string) (store.Tunnel, error) {
	var r tunnelRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM tunnels WHERE target_address = $1`, targetAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tunnel{}, store.ErrNotFound
	}
	if err != nil {
		return store.Tunnel{}, fmt.Errorf("pgstore: get tunnel by target: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) GetTunnelBySource(ctx context.Context, sourceAddress string) (store.Tunnel, error) {
	var r tunnelRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM tunnels WHERE source_address = $1`, sourceAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tunnel{}, store.ErrNotFound
	}
	if err != nil {
		return store.Tunnel{}, fmt.Errorf("pgstore: get tunnel by source: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) InsertTunnel(ctx context.Context, sourceAddress, targetAddress string, status store.TunnelStatus) (store.Tunnel, error) {
	var r tunnelRow
	err := s.db.GetContext(ctx, &r, `
		INSERT INTO tunnels (source_address, target_address, status)
		VALUES ($1, $2, $3)
		RETURNING *`,
		sourceAddress, targetAddress, string(status))
	if isUniqueViolation(err) {
		return store.Tunnel{}, store.ErrConflict
	}
	if err != nil {
		return store.Tunnel{}, fmt.Errorf("pgstore: insert tunnel: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) UpdateTunnelStatus(ctx context.Context, sourceAddress, targetAddress string, newStatus, expectedOld store.TunnelStatus) (bool, error) {
	if !tunnel.ValidTransition(expectedOld, newStatus) {
		return false, fmt.Errorf("pgstore: invalid tunnel transition %s -> %s", expectedOld, newStatus)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tunnels SET status = $1, updated_at = now()
		WHERE source_address = $2 AND target_address = $3 AND status = $4`,
		string(newStatus), sourceAddress, targetAddress, string(expectedOld))
	if err != nil {
		return false, fmt.Errorf("pgstore: cas tunnel status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgstore: cas tunnel status rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ListTunnelsByStatus(ctx context.Context, status store.TunnelStatus, olderThan time.Time) ([]store.Tunnel, error) {
	var rows []tunnelRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tunnels WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`,
		string(status), olderThan)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list tunnels by status: %w", err)
	}
	out := make([]store.Tunnel, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) ListTunnelsInErrorSince(ctx context.Context, since time.Time) ([]store.Tunnel, error) {
	var rows []tunnelRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tunnels WHERE status = $1 AND updated_at >= $2 ORDER BY updated_at`,
		string(store.TunnelError), since)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list tunnels in error: %w", err)
	}
	out := make([]store.Tunnel, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

type executedRow struct {
	ID            int64     `db:"id"`
	SourceAddress string    `db:"source_address"`
	TargetAddress string    `db:"target_address"`
	OutboundTxID  string    `db:"outbound_tx_id"`
	InboundTxID   string    `db:"inbound_tx_id"`
	Amount        float64   `db:"amount"`
	Fee           float64   `db:"fee"`
	Direction     string    `db:"direction"`
	Ts            time.Time `db:"ts"`
}

func (r executedRow) toModel() store.Executed {
	return store.Executed{
		ID:            r.ID,
		SourceAddress: r.SourceAddress,
		TargetAddress: r.TargetAddress,
		OutboundTxID:  r.OutboundTxID,
		InboundTxID:   r.InboundTxID,
		Amount:        r.Amount,
		Fee:           r.Fee,
		Direction:     store.Direction(r.Direction),
		Timestamp:     r.Ts,
	}
}

func (s *Store) InsertExecuted(ctx context.Context, e store.Executed) (store.Executed, error) {
	var r executedRow
	err := s.db.GetContext(ctx, &r, `
		INSERT INTO executed (source_address, target_address, outbound_tx_id, inbound_tx_id, amount, fee, direction)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (direction, inbound_tx_id) DO UPDATE SET direction = executed.direction
		RETURNING *`,
		e.SourceAddress, e.TargetAddress, e.OutboundTxID, e.InboundTxID, e.Amount, e.Fee, string(e.Direction))
	if err != nil {
		return store.Executed{}, fmt.Errorf("pgstore: insert executed: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) GetExecutedByInbound(ctx context.Context, direction store.Direction, inboundTxID string) (store.Executed, error) {
	var r executedRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM executed WHERE direction = $1 AND inbound_tx_id = $2`,
		string(direction), inboundTxID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Executed{}, store.ErrNotFound
	}
	if err != nil {
		return store.Executed{}, fmt.Errorf("pgstore: get executed by inbound: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) GetExecutedByOutbound(ctx context.Context, outboundTxID string) (store.Executed, error) {
	var r executedRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM executed WHERE outbound_tx_id = $1`, outboundTxID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Executed{}, store.ErrNotFound
	}
	if err != nil {
		return store.Executed{}, fmt.Errorf("pgstore: get executed by outbound: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) GetExecutedForTunnel(ctx context.Context, sourceAddress, targetAddress string) (store.Executed, error) {
	var r executedRow
	err := s.db.GetContext(ctx, &r, `
		SELECT * FROM executed WHERE source_address = $1 AND target_address = $2
		ORDER BY ts DESC LIMIT 1`, sourceAddress, targetAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Executed{}, store.ErrNotFound
	}
	if err != nil {
		return store.Executed{}, fmt.Errorf("pgstore: get executed for tunnel: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) ListExecuted(ctx context.Context) ([]store.Executed, error) {
	return s.listExecutedWhere(ctx, `1=1`, nil)
}

func (s *Store) ListVerified(ctx context.Context) ([]store.Executed, error) {
	return s.listExecutedWhere(ctx, `
		EXISTS (SELECT 1 FROM tunnels t WHERE t.source_address = executed.source_address
			AND t.target_address = executed.target_address AND t.status = 'verified')`, nil)
}

func (s *Store) ListTxsForAddress(ctx context.Context, address string) ([]store.Executed, error) {
	return s.listExecutedWhere(ctx, `source_address = $1 OR target_address = $1`, []any{address})
}

func (s *Store) listExecutedWhere(ctx context.Context, where string, args []any) ([]store.Executed, error) {
	var rows []executedRow
	q := fmt.Sprintf(`SELECT * FROM executed WHERE %s ORDER BY ts DESC`, where)
	err := s.db.SelectContext(ctx, &rows, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list executed: %w", err)
	}
	out := make([]store.Executed, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) SumFees(ctx context.Context, from, to time.Time) (float64, error) {
	var sum sql.NullFloat64
	var err error
	switch {
	case from.IsZero() && to.IsZero():
		err = s.db.GetContext(ctx, &sum, `SELECT SUM(fee) FROM executed`)
	case to.IsZero():
		err = s.db.GetContext(ctx, &sum, `SELECT SUM(fee) FROM executed WHERE ts >= $1`, from)
	default:
		err = s.db.GetContext(ctx, &sum, `SELECT SUM(fee) FROM executed WHERE ts >= $1 AND ts <= $2`, from, to)
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: sum fees: %w", err)
	}
	return sum.Float64, nil
}

type errorRow struct {
	ID            int64     `db:"id"`
	SourceAddress string    `db:"source_address"`
	TargetAddress string    `db:"target_address"`
	InboundTxID   string    `db:"inbound_tx_id"`
	OutboundTxID  string    `db:"outbound_tx_id"`
	Amount        float64   `db:"amount"`
	Reason        string    `db:"reason"`
	Detail        string    `db:"detail"`
	Ts            time.Time `db:"ts"`
}

func (r errorRow) toModel() store.ErrorRow {
	return store.ErrorRow{
		ID:            r.ID,
		SourceAddress: r.SourceAddress,
		TargetAddress: r.TargetAddress,
		InboundTxID:   r.InboundTxID,
		OutboundTxID:  r.OutboundTxID,
		Amount:        r.Amount,
		Reason:        store.ErrorReason(r.Reason),
		Detail:        r.Detail,
		Timestamp:     r.Ts,
	}
}

func (s *Store) InsertError(ctx context.Context, e store.ErrorRow) (store.ErrorRow, error) {
	var r errorRow
	err := s.db.GetContext(ctx, &r, `
		INSERT INTO errors (source_address, target_address, inbound_tx_id, outbound_tx_id, amount, reason, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`,
		e.SourceAddress, e.TargetAddress, e.InboundTxID, e.OutboundTxID, e.Amount, string(e.Reason), e.Detail)
	if err != nil {
		return store.ErrorRow{}, fmt.Errorf("pgstore: insert error: %w", err)
	}
	return r.toModel(), nil
}

func (s *Store) ListErrors(ctx context.Context) ([]store.ErrorRow, error) {
	var rows []errorRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM errors ORDER BY ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list errors: %w", err)
	}
	out := make([]store.ErrorRow, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) EnqueueVerify(ctx context.Context, outboundTxID string, direction store.Direction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verify (outbound_tx_id, direction) VALUES ($1, $2)
		ON CONFLICT (direction, outbound_tx_id) DO NOTHING`,
		outboundTxID, string(direction))
	if err != nil {
		return fmt.Errorf("pgstore: enqueue verify: %w", err)
	}
	return nil
}

func (s *Store) DequeueVerified(ctx context.Context, outboundTxID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verify WHERE outbound_tx_id = $1`, outboundTxID)
	if err != nil {
		return fmt.Errorf("pgstore: dequeue verified: %w", err)
	}
	return nil
}

func (s *Store) ListPendingVerify(ctx context.Context, olderThan time.Time) ([]store.VerifyRow, error) {
	type row struct {
		OutboundTxID      string    `db:"outbound_tx_id"`
		Direction         string    `db:"direction"`
		Attempts          int       `db:"attempts"`
		LastCheckedHeight int64     `db:"last_checked_height"`
		EnqueuedAt        time.Time `db:"enqueued_at"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM verify WHERE enqueued_at < $1 ORDER BY enqueued_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list pending verify: %w", err)
	}
	out := make([]store.VerifyRow, len(rows))
	for i, r := range rows {
		out[i] = store.VerifyRow{
			OutboundTxID:      r.OutboundTxID,
			Direction:         store.Direction(r.Direction),
			Attempts:          r.Attempts,
			LastCheckedHeight: r.LastCheckedHeight,
			EnqueuedAt:        r.EnqueuedAt,
		}
	}
	return out, nil
}

func (s *Store) IncrementVerifyAttempts(ctx context.Context, outboundTxID string, checkedHeight int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE verify SET attempts = attempts + 1, last_checked_height = $1 WHERE outbound_tx_id = $2`,
		checkedHeight, outboundTxID)
	if err != nil {
		return fmt.Errorf("pgstore: increment verify attempts: %w", err)
	}
	return nil
}
