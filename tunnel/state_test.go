package tunnel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tnbridge/gateway/store"
)

func TestValidTransitionForwardPath(t *testing.T) {
	require.True(t, ValidTransition(store.TunnelCreated, store.TunnelSending))
	require.True(t, ValidTransition(store.TunnelSending, store.TunnelVerifying))
	require.True(t, ValidTransition(store.TunnelVerifying, store.TunnelVerified))
}

func TestValidTransitionToError(t *testing.T) {
	require.True(t, ValidTransition(store.TunnelSending, store.TunnelError))
	require.True(t, ValidTransition(store.TunnelVerifying, store.TunnelError))
}

func TestValidTransitionSelfHeal(t *testing.T) {
	require.True(t, ValidTransition(store.TunnelError, store.TunnelVerifying))
	require.True(t, IsSelfHeal(store.TunnelError, store.TunnelVerifying))
}

func TestValidTransitionRejectsSkips(t *testing.T) {
	require.False(t, ValidTransition(store.TunnelCreated, store.TunnelVerified))
	require.False(t, ValidTransition(store.TunnelVerified, store.TunnelSending))
	require.False(t, ValidTransition(store.TunnelError, store.TunnelVerified))
}

func TestValidTransitionRejectsAutomaticResumeFromError(t *testing.T) {
	// Only the controller's error -> verifying self-heal may leave
	// "error"; a watcher re-scan must not resume straight to "sending".
	require.False(t, ValidTransition(store.TunnelError, store.TunnelSending))
}

func TestValidTransitionAllowsSameStateReassertion(t *testing.T) {
	require.True(t, ValidTransition(store.TunnelSending, store.TunnelSending))
	require.True(t, ValidTransition(store.TunnelError, store.TunnelError))
}

func TestIsSelfHealOnlyMatchesErrorToVerifying(t *testing.T) {
	require.False(t, IsSelfHeal(store.TunnelSending, store.TunnelVerifying))
	require.False(t, IsSelfHeal(store.TunnelError, store.TunnelSending))
}
