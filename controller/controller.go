// Package controller implements spec.md §4.5: the periodic reconciler
// that re-drives verification, recovers stuck sends, self-heals
// tunnels whose outbound transaction turns up late, and publishes
// health.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tnbridge/gateway/chain"
	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/verifier"
)

// metrics are the Prometheus gauges backing the /metrics endpoint,
// the same client_golang registration style the teacher's eth/
// package uses for its sync/peer counters.
var (
	metricBlockLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "block_lag",
		Help:      "blocks between chain tip and last scanned height",
	}, []string{"chain"})

	metricConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "chain_connected",
		Help:      "1 if the chain RPC endpoint answered, 0 otherwise",
	}, []string{"chain"})

	metricErrorCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "error_count",
		Help:      "total rows in the errors table",
	})
)

// Health is the operator-visible snapshot spec.md §4.5/§6 describes.
type Health struct {
	ConnectionTN    bool
	ConnectionOther bool
	BlockLagTN      int64
	BlockLagOther   int64
	BalanceTN       string
	BalanceOther    string
	ErrorCount      int
	CheckedAt       time.Time
}

// Config parameterizes the Controller.
type Config struct {
	TickInterval time.Duration
	// SendingTimeout is Tsending in spec.md §4.5: how long a tunnel may
	// sit in "sending" with no matching Executed row before it is
	// declared lost.
	SendingTimeout time.Duration
}

// Controller is the periodic reconciler.
type Controller struct {
	cfg      Config
	store    store.Store
	verifier *verifier.Verifier
	tn       chain.Chain
	other    chain.Chain
	log      log.Logger

	mu         sync.RWMutex
	lastHealth Health
}

// New builds a Controller.
func New(cfg Config, st store.Store, v *verifier.Verifier, tn, other chain.Chain) *Controller {
	return &Controller{
		cfg:      cfg,
		store:    st,
		verifier: v,
		tn:       tn,
		other:    other,
		log:      log.New("component", "controller"),
	}
}

// Run executes the reconciliation loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		c.reconcile(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Controller) reconcile(ctx context.Context) {
	c.driveVerification(ctx)
	c.recoverStuckSends(ctx)
	c.selfHealErrors(ctx)
	c.publishHealth(ctx)
}

func (c *Controller) driveVerification(ctx context.Context) {
	pending, err := c.store.ListPendingVerify(ctx, time.Now())
	if err != nil {
		c.log.Error("list pending verify failed", "error", err)
		return
	}

	for _, row := range pending {
		if _, err := c.verifier.Check(ctx, row); err != nil {
			c.log.Error("verification check failed", "tx", row.OutboundTxID, "error", err)
		}
	}
}

func (c *Controller) recoverStuckSends(ctx context.Context) {
	stuck, err := c.store.ListTunnelsByStatus(ctx, store.TunnelSending, time.Now().Add(-c.cfg.SendingTimeout))
	if err != nil {
		c.log.Error("list stuck tunnels failed", "error", err)
		return
	}

	for _, t := range stuck {
		if _, err := c.store.GetExecutedForTunnel(ctx, t.SourceAddress, t.TargetAddress); err == nil {
			// An Executed row showed up since the tunnel was marked
			// sending; the send succeeded after all, leave it be (the
			// watcher itself will have already moved it to verifying).
			continue
		} else if err != store.ErrNotFound {
			c.log.Error("lookup executed for stuck tunnel failed", "source", t.SourceAddress, "error", err)
			continue
		}

		applied, err := c.store.UpdateTunnelStatus(ctx, t.SourceAddress, t.TargetAddress, store.TunnelError, store.TunnelSending)
		if err != nil {
			c.log.Error("transition stuck tunnel to error failed", "source", t.SourceAddress, "error", err)
			continue
		}
		if !applied {
			continue
		}

		if _, err := c.store.InsertError(ctx, store.ErrorRow{
			SourceAddress: t.SourceAddress,
			TargetAddress: t.TargetAddress,
			Reason:        store.ReasonSendLost,
			Detail:        "tunnel stuck in sending past timeout with no matching executed row",
		}); err != nil {
			c.log.Error("record sendlost error failed", "source", t.SourceAddress, "error", err)
		}

		c.log.Warn("tunnel send lost, marked error", "source", t.SourceAddress, "target", t.TargetAddress)
	}
}

func (c *Controller) selfHealErrors(ctx context.Context) {
	errored, err := c.store.ListTunnelsInErrorSince(ctx, time.Time{})
	if err != nil {
		c.log.Error("list errored tunnels failed", "error", err)
		return
	}

	for _, t := range errored {
		executed, err := c.store.GetExecutedForTunnel(ctx, t.SourceAddress, t.TargetAddress)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			c.log.Error("lookup executed for errored tunnel failed", "source", t.SourceAddress, "error", err)
			continue
		}

		dest := c.other
		if executed.Direction == store.DirectionOtherToTN {
			dest = c.tn
		}
		if _, found, err := dest.CheckTx(ctx, executed.OutboundTxID); err != nil {
			c.log.Error("check outbound tx for errored tunnel failed", "tx", executed.OutboundTxID, "error", err)
			continue
		} else if !found {
			continue
		}

		applied, err := c.store.UpdateTunnelStatus(ctx, t.SourceAddress, t.TargetAddress, store.TunnelVerifying, store.TunnelError)
		if err != nil {
			c.log.Error("self-heal cas failed", "source", t.SourceAddress, "error", err)
			continue
		}
		if !applied {
			continue
		}

		if err := c.store.EnqueueVerify(ctx, executed.OutboundTxID, executed.Direction); err != nil {
			c.log.Error("re-enqueue verify after self-heal failed", "tx", executed.OutboundTxID, "error", err)
			continue
		}

		c.log.Info("tunnel self-healed from error", "source", t.SourceAddress, "target", t.TargetAddress, "tx", executed.OutboundTxID)
	}
}

func (c *Controller) publishHealth(ctx context.Context) {
	h := Health{CheckedAt: time.Now()}

	if tip, err := c.tn.CurrentBlock(ctx); err == nil {
		h.ConnectionTN = true
		metricConnected.WithLabelValues("TN").Set(1)
		if scanned, err := c.store.GetHeight(ctx, store.ChainTN); err == nil {
			h.BlockLagTN = tip - scanned
			metricBlockLag.WithLabelValues("TN").Set(float64(h.BlockLagTN))
		}
	} else {
		metricConnected.WithLabelValues("TN").Set(0)
	}
	if tip, err := c.other.CurrentBlock(ctx); err == nil {
		h.ConnectionOther = true
		metricConnected.WithLabelValues("Other").Set(1)
		if scanned, err := c.store.GetHeight(ctx, store.ChainOther); err == nil {
			h.BlockLagOther = tip - scanned
			metricBlockLag.WithLabelValues("Other").Set(float64(h.BlockLagOther))
		}
	} else {
		metricConnected.WithLabelValues("Other").Set(0)
	}
	if bal, err := c.tn.CurrentBalance(ctx); err == nil {
		h.BalanceTN = bal.String()
	}
	if bal, err := c.other.CurrentBalance(ctx); err == nil {
		h.BalanceOther = bal.String()
	}
	if errs, err := c.store.ListErrors(ctx); err == nil {
		h.ErrorCount = len(errs)
		metricErrorCount.Set(float64(len(errs)))
	}

	c.mu.Lock()
	c.lastHealth = h
	c.mu.Unlock()
}

// Health returns the most recently published health snapshot.
func (c *Controller) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealth
}
