// Package legacy implements the one-shot migration described in
// spec.md §6: if a legacy file-based datastore is present at startup,
// every row is imported into the primary backend and the legacy file
// is renamed with a ".imported" suffix, atomically in effect — either
// everything imports and the rename happens, or nothing is written and
// startup aborts.
//
// The legacy format mirrors the original Python project's SQLite
// database (_examples/original_source/start.py's dbClass/gateway.db),
// so the importer opens it with mattn/go-sqlite3 through database/sql
// directly; it never needs sqlx's struct scanning since it only ever
// streams rows into the new schema.
package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tnbridge/gateway/store"
)

// ImportIfPresent checks for a legacy SQLite file at legacyPath. If
// none exists, it returns (false, nil) and does nothing. If one
// exists, every row is imported into dst inside a single dst.WithTx
// transaction: a failure partway through (e.g. importExecuted) rolls
// back everything importHeights/importTunnels already wrote, leaving
// dst exactly as it was and the legacy file untouched. Only on full
// success is the legacy file renamed to <path>.imported.
func ImportIfPresent(ctx context.Context, legacyPath string, dst store.Store) (bool, error) {
	if _, err := os.Stat(legacyPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("legacy: stat %s: %w", legacyPath, err)
	}

	log.Info("importing legacy datastore", "path", legacyPath)

	src, err := sql.Open("sqlite3", legacyPath)
	if err != nil {
		return false, fmt.Errorf("legacy: open %s: %w", legacyPath, err)
	}
	defer src.Close()

	err = dst.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := importHeights(ctx, src, tx); err != nil {
			return fmt.Errorf("legacy: import heights: %w", err)
		}
		if err := importTunnels(ctx, src, tx); err != nil {
			return fmt.Errorf("legacy: import tunnels: %w", err)
		}
		if err := importExecuted(ctx, src, tx); err != nil {
			return fmt.Errorf("legacy: import executed: %w", err)
		}
		if err := importErrors(ctx, src, tx); err != nil {
			return fmt.Errorf("legacy: import errors: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	renamed := legacyPath + ".imported"
	if err := os.Rename(legacyPath, renamed); err != nil {
		return false, fmt.Errorf("legacy: rename %s -> %s: %w", legacyPath, renamed, err)
	}

	log.Info("legacy datastore imported", "renamedTo", renamed)
	return true, nil
}

func importHeights(ctx context.Context, src *sql.DB, dst store.Store) error {
	rows, err := src.QueryContext(ctx, `SELECT chain, height FROM heights`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var chain string
		var height int64
		if err := rows.Scan(&chain, &height); err != nil {
			return err
		}
		if err := dst.SetHeight(ctx, store.Chain(chain), height); err != nil {
			return err
		}
	}
	return rows.Err()
}

func importTunnels(ctx context.Context, src *sql.DB, dst store.Store) error {
	rows, err := src.QueryContext(ctx, `SELECT source_address, target_address, status FROM tunnels`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sourceAddress, targetAddress, status string
		if err := rows.Scan(&sourceAddress, &targetAddress, &status); err != nil {
			return err
		}
		if _, err := dst.InsertTunnel(ctx, sourceAddress, targetAddress, store.TunnelStatus(status)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func importExecuted(ctx context.Context, src *sql.DB, dst store.Store) error {
	rows, err := src.QueryContext(ctx, `
		SELECT source_address, target_address, outbound_tx_id, inbound_tx_id, amount, fee, direction, ts
		FROM executed`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e store.Executed
		var direction string
		var ts time.Time
		if err := rows.Scan(&e.SourceAddress, &e.TargetAddress, &e.OutboundTxID, &e.InboundTxID, &e.Amount, &e.Fee, &direction, &ts); err != nil {
			return err
		}
		e.Direction = store.Direction(direction)
		e.Timestamp = ts
		if _, err := dst.InsertExecuted(ctx, e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func importErrors(ctx context.Context, src *sql.DB, dst store.Store) error {
	rows, err := src.QueryContext(ctx, `
		SELECT source_address, target_address, inbound_tx_id, outbound_tx_id, amount, reason, detail
		FROM errors`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e store.ErrorRow
		var reason string
		if err := rows.Scan(&e.SourceAddress, &e.TargetAddress, &e.InboundTxID, &e.OutboundTxID, &e.Amount, &reason, &e.Detail); err != nil {
			return err
		}
		e.Reason = store.ErrorReason(reason)
		if _, err := dst.InsertError(ctx, e); err != nil {
			return err
		}
	}
	return rows.Err()
}
