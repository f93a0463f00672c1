package verifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tnbridge/gateway/chain/chaintest"
	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/store/storetest"
)

func setup(t *testing.T, confirmations int64) (*Verifier, *storetest.Store, *chaintest.Chain) {
	t.Helper()
	st := storetest.New()
	destChain := chaintest.New()
	routes := map[store.Direction]Route{
		store.DirectionTNToOther: {Chain: destChain, ConfirmationDepth: confirmations},
	}
	return New(st, routes, 3), st, destChain
}

func seedExecuted(t *testing.T, st *storetest.Store, outboundTxID string) {
	t.Helper()
	_, err := st.InsertTunnel(context.Background(), "source-1", "target-1", store.TunnelVerifying)
	require.NoError(t, err)
	_, err = st.InsertExecuted(context.Background(), store.Executed{
		SourceAddress: "source-1",
		TargetAddress: "target-1",
		OutboundTxID:  outboundTxID,
		InboundTxID:   "inbound-1",
		Direction:     store.DirectionTNToOther,
	})
	require.NoError(t, err)
	require.NoError(t, st.EnqueueVerify(context.Background(), outboundTxID, store.DirectionTNToOther))
}

func TestCheckPromotesOnSufficientConfirmations(t *testing.T) {
	v, st, destChain := setup(t, 2)
	seedExecuted(t, st, "tx-1")
	destChain.ConfirmAt("tx-1", 10)
	destChain.SetTip(12)

	result, err := v.Check(context.Background(), store.VerifyRow{OutboundTxID: "tx-1", Direction: store.DirectionTNToOther})
	require.NoError(t, err)
	require.Equal(t, ResultVerified, result)

	tunnel, err := st.GetTunnelBySource(context.Background(), "source-1")
	require.NoError(t, err)
	require.Equal(t, store.TunnelVerified, tunnel.Status)
}

func TestCheckStaysPendingBeforeConfirmationDepth(t *testing.T) {
	v, st, destChain := setup(t, 5)
	seedExecuted(t, st, "tx-2")
	destChain.ConfirmAt("tx-2", 10)
	destChain.SetTip(11)

	result, err := v.Check(context.Background(), store.VerifyRow{OutboundTxID: "tx-2", Direction: store.DirectionTNToOther})
	require.NoError(t, err)
	require.Equal(t, ResultPending, result)

	tunnel, err := st.GetTunnelBySource(context.Background(), "source-1")
	require.NoError(t, err)
	require.Equal(t, store.TunnelVerifying, tunnel.Status)
}

func TestCheckFailsAfterMaxAttemptsWithoutInclusion(t *testing.T) {
	v, st, _ := setup(t, 2)
	seedExecuted(t, st, "tx-3")

	row := store.VerifyRow{OutboundTxID: "tx-3", Direction: store.DirectionTNToOther, Attempts: 3}
	result, err := v.Check(context.Background(), row)
	require.NoError(t, err)
	require.Equal(t, ResultError, result)

	tunnel, err := st.GetTunnelBySource(context.Background(), "source-1")
	require.NoError(t, err)
	require.Equal(t, store.TunnelError, tunnel.Status)

	errs, err := st.ListErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
}

func TestCheckUnknownDirectionReturnsErrNoRoute(t *testing.T) {
	v, st, _ := setup(t, 2)
	seedExecuted(t, st, "tx-4")

	_, err := v.Check(context.Background(), store.VerifyRow{OutboundTxID: "tx-4", Direction: store.DirectionOtherToTN})
	require.ErrorIs(t, err, ErrNoRoute)
}
