// Package tunnel implements the tunnel state machine of spec.md §4.3:
//
//	created --deposit--> sending --send ok--> verifying --k confirms--> verified
//	            |                     |
//	            +--send fail--> error <--timeout/revert--+
//
// Transitions are validated here; the actual CAS write lives in
// store.Store.UpdateTunnelStatus, which this package's ValidTransition
// guards against misuse from watcher/verifier/controller call sites.
package tunnel

import "github.com/tnbridge/gateway/store"

// forward enumerates every transition the automated pipeline may take,
// plus the controller's single backward self-heal (error -> verifying).
var forward = map[store.TunnelStatus]map[store.TunnelStatus]bool{
	store.TunnelCreated: {
		store.TunnelSending: true,
	},
	store.TunnelSending: {
		store.TunnelVerifying: true,
		store.TunnelError:     true,
	},
	store.TunnelVerifying: {
		store.TunnelVerified: true,
		store.TunnelError:    true,
	},
	store.TunnelError: {
		// Controller self-heal only (spec.md §4.5): a send previously
		// marked lost or unconfirmed turns up on-chain after all.
		store.TunnelVerifying: true,
	},
}

// ValidTransition reports whether moving a tunnel from `from` to `to`
// is ever legal under the state machine, independent of who performs
// it. A no-op reassertion (from == to) is always legal: the watcher's
// crash-recovery re-scan (spec.md §4.2 step e, scenario S6) CASes a
// tunnel already in "sending" back onto "sending" before retrying the
// outbound submission.
func ValidTransition(from, to store.TunnelStatus) bool {
	if from == to {
		return true
	}
	next, ok := forward[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsSelfHeal reports whether the transition is the controller's
// error -> verifying recovery path (the only backward move allowed).
func IsSelfHeal(from, to store.TunnelStatus) bool {
	return from == store.TunnelError && to == store.TunnelVerifying
}
