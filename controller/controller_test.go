package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tnbridge/gateway/chain/chaintest"
	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/store/storetest"
	"github.com/tnbridge/gateway/verifier"
)

func newTestController(t *testing.T, sendingTimeout time.Duration) (*Controller, *storetest.Store, *chaintest.Chain, *chaintest.Chain) {
	t.Helper()
	st := storetest.New()
	tn := chaintest.New()
	other := chaintest.New()

	routes := map[store.Direction]verifier.Route{
		store.DirectionTNToOther: {Chain: other, ConfirmationDepth: 1},
		store.DirectionOtherToTN: {Chain: tn, ConfirmationDepth: 1},
	}
	v := verifier.New(st, routes, 3)

	ctl := New(Config{TickInterval: time.Millisecond, SendingTimeout: sendingTimeout}, st, v, tn, other)
	return ctl, st, tn, other
}

func TestRecoverStuckSendsMarksSendLost(t *testing.T) {
	ctl, st, _, _ := newTestController(t, -time.Hour)
	ctx := context.Background()

	_, err := st.InsertTunnel(ctx, "source-stuck", "target-stuck", store.TunnelSending)
	require.NoError(t, err)

	ctl.recoverStuckSends(ctx)

	tunnel, err := st.GetTunnelBySource(ctx, "source-stuck")
	require.NoError(t, err)
	require.Equal(t, store.TunnelError, tunnel.Status)

	errs, err := st.ListErrors(ctx)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, store.ReasonSendLost, errs[0].Reason)
}

func TestRecoverStuckSendsLeavesExecutedTunnelAlone(t *testing.T) {
	ctl, st, _, _ := newTestController(t, -time.Hour)
	ctx := context.Background()

	_, err := st.InsertTunnel(ctx, "source-ok", "target-ok", store.TunnelSending)
	require.NoError(t, err)
	_, err = st.InsertExecuted(ctx, store.Executed{
		SourceAddress: "source-ok",
		TargetAddress: "target-ok",
		OutboundTxID:  "tx-ok",
		InboundTxID:   "inbound-ok",
		Direction:     store.DirectionTNToOther,
	})
	require.NoError(t, err)

	ctl.recoverStuckSends(ctx)

	tunnel, err := st.GetTunnelBySource(ctx, "source-ok")
	require.NoError(t, err)
	require.Equal(t, store.TunnelSending, tunnel.Status)
}

func TestSelfHealErrorsPromotesAndReenqueues(t *testing.T) {
	ctl, st, _, other := newTestController(t, time.Minute)
	ctx := context.Background()

	// The outbound tx of a TN->Other transfer lands on Other.
	other.ConfirmAt("tx-healed", 1)

	_, err := st.InsertTunnel(ctx, "source-healed", "target-healed", store.TunnelError)
	require.NoError(t, err)
	_, err = st.InsertExecuted(ctx, store.Executed{
		SourceAddress: "source-healed",
		TargetAddress: "target-healed",
		OutboundTxID:  "tx-healed",
		InboundTxID:   "inbound-healed",
		Direction:     store.DirectionTNToOther,
	})
	require.NoError(t, err)

	ctl.selfHealErrors(ctx)

	tunnel, err := st.GetTunnelBySource(ctx, "source-healed")
	require.NoError(t, err)
	require.Equal(t, store.TunnelVerifying, tunnel.Status)

	pending, err := st.ListPendingVerify(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "tx-healed", pending[0].OutboundTxID)
}

func TestPublishHealthReportsConnectivity(t *testing.T) {
	ctl, _, tn, other := newTestController(t, time.Minute)
	tn.SetTip(100)
	other.SetTip(50)

	ctl.publishHealth(context.Background())

	h := ctl.Health()
	require.True(t, h.ConnectionTN)
	require.True(t, h.ConnectionOther)
}
