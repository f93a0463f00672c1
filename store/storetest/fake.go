// Package storetest provides an in-memory store.Store double for unit
// tests, the way the retrieval pack's teslacoil package tests its
// business logic against a stub repository rather than a live
// Postgres instance.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/tunnel"
)

// Store is a goroutine-safe, in-memory store.Store implementation.
type Store struct {
	mu sync.Mutex

	heights  map[store.Chain]int64
	tunnels  map[string]store.Tunnel // keyed by sourceAddress
	byTarget map[string]string       // targetAddress -> sourceAddress
	executed []store.Executed
	errors   []store.ErrorRow
	verify   map[string]store.VerifyRow // keyed by outboundTxId
	nextID   int64
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		heights:  make(map[store.Chain]int64),
		tunnels:  make(map[string]store.Tunnel),
		byTarget: make(map[string]string),
		verify:   make(map[string]store.VerifyRow),
	}
}

func (s *Store) GetHeight(ctx context.Context, chain store.Chain) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heights[chain]
	if !ok {
		return 0, store.ErrNotFound
	}
	return h, nil
}

func (s *Store) SetHeight(ctx context.Context, chain store.Chain, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heights[chain] = height
	return nil
}

func (s *Store) GetTunnelByTarget(ctx context.Context, targetAddress string) (store.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.byTarget[targetAddress]
	if !ok {
		return store.Tunnel{}, store.ErrNotFound
	}
	return s.tunnels[source], nil
}

func (s *Store) GetTunnelBySource(ctx context.Context, sourceAddress string) (store.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tunnels[sourceAddress]
	if !ok {
		return store.Tunnel{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) InsertTunnel(ctx context.Context, sourceAddress, targetAddress string, status store.TunnelStatus) (store.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tunnels[sourceAddress]; ok {
		return store.Tunnel{}, store.ErrConflict
	}
	if _, ok := s.byTarget[targetAddress]; ok {
		return store.Tunnel{}, store.ErrConflict
	}

	now := time.Now()
	t := store.Tunnel{
		SourceAddress: sourceAddress,
		TargetAddress: targetAddress,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tunnels[sourceAddress] = t
	s.byTarget[targetAddress] = sourceAddress
	return t, nil
}

func (s *Store) UpdateTunnelStatus(ctx context.Context, sourceAddress, targetAddress string, newStatus, expectedOld store.TunnelStatus) (bool, error) {
	if !tunnel.ValidTransition(expectedOld, newStatus) {
		return false, fmt.Errorf("storetest: invalid tunnel transition %s -> %s", expectedOld, newStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tunnels[sourceAddress]
	if !ok || t.Status != expectedOld {
		return false, nil
	}
	t.Status = newStatus
	t.UpdatedAt = time.Now()
	s.tunnels[sourceAddress] = t
	return true, nil
}

func (s *Store) ListTunnelsByStatus(ctx context.Context, status store.TunnelStatus, olderThan time.Time) ([]store.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Tunnel
	for _, t := range s.tunnels {
		if t.Status == status && !t.UpdatedAt.After(olderThan) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListTunnelsInErrorSince(ctx context.Context, since time.Time) ([]store.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Tunnel
	for _, t := range s.tunnels {
		if t.Status == store.TunnelError && !t.UpdatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) InsertExecuted(ctx context.Context, e store.Executed) (store.Executed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.executed {
		if existing.Direction == e.Direction && existing.InboundTxID == e.InboundTxID {
			return existing, nil
		}
	}

	s.nextID++
	e.ID = s.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.executed = append(s.executed, e)
	return e, nil
}

func (s *Store) GetExecutedByInbound(ctx context.Context, direction store.Direction, inboundTxID string) (store.Executed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.executed {
		if e.Direction == direction && e.InboundTxID == inboundTxID {
			return e, nil
		}
	}
	return store.Executed{}, store.ErrNotFound
}

func (s *Store) GetExecutedByOutbound(ctx context.Context, outboundTxID string) (store.Executed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.executed {
		if e.OutboundTxID == outboundTxID {
			return e, nil
		}
	}
	return store.Executed{}, store.ErrNotFound
}

func (s *Store) GetExecutedForTunnel(ctx context.Context, sourceAddress, targetAddress string) (store.Executed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.Executed
	for i, e := range s.executed {
		if e.SourceAddress == sourceAddress && e.TargetAddress == targetAddress {
			if best == nil || e.Timestamp.After(best.Timestamp) {
				best = &s.executed[i]
			}
		}
	}
	if best == nil {
		return store.Executed{}, store.ErrNotFound
	}
	return *best, nil
}

func (s *Store) ListExecuted(ctx context.Context) ([]store.Executed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Executed, len(s.executed))
	copy(out, s.executed)
	return out, nil
}

func (s *Store) ListVerified(ctx context.Context) ([]store.Executed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Executed
	for _, e := range s.executed {
		if t, ok := s.tunnels[e.SourceAddress]; ok && t.Status == store.TunnelVerified {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListTxsForAddress(ctx context.Context, address string) ([]store.Executed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Executed
	for _, e := range s.executed {
		if e.SourceAddress == address || e.TargetAddress == address {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) SumFees(ctx context.Context, from, to time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, e := range s.executed {
		if (e.Timestamp.Equal(from) || e.Timestamp.After(from)) && e.Timestamp.Before(to) {
			total += e.Fee
		}
	}
	return total, nil
}

func (s *Store) InsertError(ctx context.Context, e store.ErrorRow) (store.ErrorRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.errors = append(s.errors, e)
	return e, nil
}

func (s *Store) ListErrors(ctx context.Context) ([]store.ErrorRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ErrorRow, len(s.errors))
	copy(out, s.errors)
	return out, nil
}

func (s *Store) EnqueueVerify(ctx context.Context, outboundTxID string, direction store.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verify[outboundTxID] = store.VerifyRow{
		OutboundTxID: outboundTxID,
		Direction:    direction,
		EnqueuedAt:   time.Now(),
	}
	return nil
}

func (s *Store) DequeueVerified(ctx context.Context, outboundTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verify, outboundTxID)
	return nil
}

func (s *Store) ListPendingVerify(ctx context.Context, olderThan time.Time) ([]store.VerifyRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.VerifyRow
	for _, v := range s.verify {
		if !v.EnqueuedAt.After(olderThan) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) IncrementVerifyAttempts(ctx context.Context, outboundTxID string, checkedHeight int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verify[outboundTxID]
	if !ok {
		return store.ErrNotFound
	}
	v.Attempts++
	v.LastCheckedHeight = checkedHeight
	s.verify[outboundTxID] = v
	return nil
}

// WithTx snapshots every map/slice before running fn and restores the
// snapshot if fn returns an error, so callers (store/legacy) get the
// same all-or-nothing semantics a real backend's transaction gives
// them. There is no isolation between WithTx and concurrent callers
// beyond the store's single mutex; fn runs against s itself, not a
// separate handle, since this double has no notion of a connection.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.Lock()
	heights := make(map[store.Chain]int64, len(s.heights))
	for k, v := range s.heights {
		heights[k] = v
	}
	tunnels := make(map[string]store.Tunnel, len(s.tunnels))
	for k, v := range s.tunnels {
		tunnels[k] = v
	}
	byTarget := make(map[string]string, len(s.byTarget))
	for k, v := range s.byTarget {
		byTarget[k] = v
	}
	executed := make([]store.Executed, len(s.executed))
	copy(executed, s.executed)
	errorRows := make([]store.ErrorRow, len(s.errors))
	copy(errorRows, s.errors)
	verify := make(map[string]store.VerifyRow, len(s.verify))
	for k, v := range s.verify {
		verify[k] = v
	}
	nextID := s.nextID
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.heights = heights
		s.tunnels = tunnels
		s.byTarget = byTarget
		s.executed = executed
		s.errors = errorRows
		s.verify = verify
		s.nextID = nextID
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }
