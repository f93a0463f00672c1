package watcher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tnbridge/gateway/chain"
	"github.com/tnbridge/gateway/chain/chaintest"
	"github.com/tnbridge/gateway/policy"
	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/store/storetest"
)

func newTestWatcher(t *testing.T, inbound, outbound *chaintest.Chain) (*Watcher, *storetest.Store) {
	t.Helper()
	st := storetest.New()
	cfg := Config{
		Chain:         store.ChainTN,
		Direction:     store.DirectionTNToOther,
		Confirmations: 2,
		TickInterval:  time.Millisecond,
		Decimals:      8,
		Bounds:        policy.Bounds{Min: decimal.NewFromFloat(0.01), Max: decimal.NewFromInt(1000)},
		DestinationFees: policy.Fees{
			GatewayFee: decimal.NewFromFloat(0.01),
			NetworkFee: decimal.NewFromFloat(0.01),
		},
		GatewayAddress: "gateway-tn",
	}
	return New(cfg, inbound, outbound, st, nil), st
}

func TestProcessTransactionHappyPath(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	w, st := newTestWatcher(t, inbound, outbound)

	tx := chain.Transaction{
		ID:         "in-1",
		Sender:     "user-tn",
		Amount:     big.NewInt(150000000), // 1.5 at 8 decimals
		Attachment: "other-addr-1",
	}

	err := w.processTransaction(context.Background(), tx)
	require.NoError(t, err)

	require.Len(t, outbound.Sent, 1)
	require.Equal(t, "other-addr-1", outbound.Sent[0].To)
	require.True(t, outbound.Sent[0].Amount.Equal(decimal.NewFromFloat(1.48)))

	tunnel, err := st.GetTunnelBySource(context.Background(), "user-tn")
	require.NoError(t, err)
	require.Equal(t, store.TunnelVerifying, tunnel.Status)

	executed, err := st.GetExecutedByInbound(context.Background(), store.DirectionTNToOther, "in-1")
	require.NoError(t, err)
	require.Equal(t, outbound.Sent[0].TxID, executed.OutboundTxID)
}

func TestProcessTransactionNoAttachment(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	w, st := newTestWatcher(t, inbound, outbound)

	tx := chain.Transaction{ID: "in-2", Sender: "user-tn-2", Amount: big.NewInt(100000000)}
	require.NoError(t, w.processTransaction(context.Background(), tx))

	require.Empty(t, outbound.Sent)
	errs, err := st.ListErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, store.ReasonNoAttachment, errs[0].Reason)
}

func TestProcessTransactionInvalidAddress(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	w, st := newTestWatcher(t, inbound, outbound)

	tx := chain.Transaction{ID: "in-3", Sender: "user-tn-3", Amount: big.NewInt(100000000), Attachment: "invalid"}
	require.NoError(t, w.processTransaction(context.Background(), tx))

	errs, err := st.ListErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, store.ReasonTxError, errs[0].Reason)
}

func TestProcessTransactionOutsideBounds(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	w, st := newTestWatcher(t, inbound, outbound)

	tx := chain.Transaction{ID: "in-4", Sender: "user-tn-4", Amount: big.NewInt(1), Attachment: "other-addr-4"}
	require.NoError(t, w.processTransaction(context.Background(), tx))

	errs, err := st.ListErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, store.ReasonSendError, errs[0].Reason)
}

func TestProcessTransactionIsIdempotentOnRescan(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	w, _ := newTestWatcher(t, inbound, outbound)

	tx := chain.Transaction{ID: "in-5", Sender: "user-tn-5", Amount: big.NewInt(200000000), Attachment: "other-addr-5"}
	require.NoError(t, w.processTransaction(context.Background(), tx))
	require.Len(t, outbound.Sent, 1)

	// Re-scanning the same block must not send twice.
	require.NoError(t, w.processTransaction(context.Background(), tx))
	require.Len(t, outbound.Sent, 1)
}

func TestProcessTransactionSendFailureMarksTunnelError(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	outbound.SendErr = context.DeadlineExceeded
	w, st := newTestWatcher(t, inbound, outbound)

	tx := chain.Transaction{ID: "in-6", Sender: "user-tn-6", Amount: big.NewInt(100000000), Attachment: "other-addr-6"}
	require.NoError(t, w.processTransaction(context.Background(), tx))

	tunnelRow, err := st.GetTunnelBySource(context.Background(), "user-tn-6")
	require.NoError(t, err)
	require.Equal(t, store.TunnelError, tunnelRow.Status)

	errs, err := st.ListErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, store.ReasonManual, errs[0].Reason)
}

func TestProcessTransactionChainRejectionMarksSendError(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	outbound.SendErr = &chain.RejectedError{Err: errors.New("insufficient balance")}
	w, st := newTestWatcher(t, inbound, outbound)

	tx := chain.Transaction{ID: "in-7", Sender: "user-tn-7", Amount: big.NewInt(100000000), Attachment: "other-addr-7"}
	require.NoError(t, w.processTransaction(context.Background(), tx))

	tunnelRow, err := st.GetTunnelBySource(context.Background(), "user-tn-7")
	require.NoError(t, err)
	require.Equal(t, store.TunnelError, tunnelRow.Status)

	errs, err := st.ListErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, store.ReasonSendError, errs[0].Reason)
}

func TestRunAdvancesHeightOnlyAfterConfirmations(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	w, st := newTestWatcher(t, inbound, outbound)

	inbound.SetTip(1) // confirmations=2, so block 1 is not yet final
	inbound.PutBlock(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	// On a fresh store, Run seeds the height from the chain tip (1) and
	// then never advances past it, since block 2 isn't confirmed yet.
	height, err := st.GetHeight(context.Background(), store.ChainTN)
	require.NoError(t, err)
	require.Equal(t, int64(1), height)
}

func TestRunSeedsHeightFromTipOnFreshStore(t *testing.T) {
	inbound := chaintest.New()
	outbound := chaintest.New()
	w, st := newTestWatcher(t, inbound, outbound)

	inbound.SetTip(42)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	height, err := st.GetHeight(context.Background(), store.ChainTN)
	require.NoError(t, err)
	require.Equal(t, int64(42), height)
}
