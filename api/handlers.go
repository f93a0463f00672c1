package api

import (
	"net/http"
	"strconv"
	"time"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/tnbridge/gateway/store"
)

// sanitizeAddress strips anything but letters and digits from a path
// parameter before it reaches a store lookup, the same guard the
// original project's `re.sub('[\W_]+', '', address)` applied.
func sanitizeAddress(addr string) string {
	out := make([]rune, 0, len(addr))
	for _, r := range addr {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return string(out)
}

type heightsResponse struct {
	TN    int64 `json:"TN"`
	Other int64 `json:"Other"`
}

func (s *Server) handleHeights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// A chain with no stored height yet (its watcher has not seeded one)
	// is reported as 0.
	tnHeight, err := s.store.GetHeight(ctx, store.ChainTN)
	if err != nil && err != store.ErrNotFound {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}
	otherHeight, err := s.store.GetHeight(ctx, store.ChainOther)
	if err != nil && err != store.ErrNotFound {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	writeJSON(w, http.StatusOK, heightsResponse{TN: tnHeight, Other: otherHeight})
}

type tunnelResponse struct {
	SourceAddress string            `json:"sourceAddress"`
	TargetAddress string            `json:"targetAddress"`
	Status        store.TunnelStatus `json:"status"`
}

// handleTNAddress looks a tunnel up by either endpoint address, per
// spec.md §6.
func (s *Server) handleTNAddress(w http.ResponseWriter, r *http.Request) {
	addr := sanitizeAddress(mux.Vars(r)["addr"])
	ctx := r.Context()

	if t, err := s.store.GetTunnelBySource(ctx, addr); err == nil {
		writeJSON(w, http.StatusOK, toTunnelResponse(t))
		return
	} else if err != store.ErrNotFound {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	t, err := s.store.GetTunnelByTarget(ctx, addr)
	if err == store.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, toTunnelResponse(t))
}

type createTunnelResponse struct {
	Successful int    `json:"successful"`
	Address    string `json:"address,omitempty"`
}

// handleTunnel implements the create-or-return semantics of spec.md
// §6: 0=invalid target address, 1=newly created, 2=already existed.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	targetAddress := sanitizeAddress(mux.Vars(r)["targetAddress"])
	ctx := r.Context()

	if !s.tn.ValidateAddress(targetAddress) {
		writeJSON(w, http.StatusOK, createTunnelResponse{Successful: 0})
		return
	}
	normalized := s.tn.NormalizeAddress(targetAddress)

	if _, err := s.store.GetTunnelByTarget(ctx, normalized); err == nil {
		writeJSON(w, http.StatusOK, createTunnelResponse{Successful: 2, Address: normalized})
		return
	} else if err != store.ErrNotFound {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	sourceAddress, err := s.other.GetNewAddress(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	if _, err := s.store.InsertTunnel(ctx, sourceAddress, normalized, store.TunnelCreated); err != nil {
		if err == store.ErrConflict {
			writeJSON(w, http.StatusOK, createTunnelResponse{Successful: 2, Address: normalized})
			return
		}
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	writeJSON(w, http.StatusOK, createTunnelResponse{Successful: 1, Address: sourceAddress})
}

type fullInfoResponse struct {
	Name         string  `json:"name"`
	BalanceTN    string  `json:"balanceTN"`
	BalanceOther string  `json:"balanceOther"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	GatewayFeeTN float64 `json:"gatewayFeeTN"`
	NetworkFeeTN float64 `json:"networkFeeTN"`
	GatewayFeeOther float64 `json:"gatewayFeeOther"`
	NetworkFeeOther float64 `json:"networkFeeOther"`
	Disclaimer   string  `json:"disclaimer"`
}

func (s *Server) handleFullInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	balTN, err := s.tn.CurrentBalance(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}
	balOther, err := s.other.CurrentBalance(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	minF, _ := s.bounds.Min.Float64()
	maxF, _ := s.bounds.Max.Float64()
	tnGateway, _ := s.fees[store.ChainTN].GatewayFee.Float64()
	tnNetwork, _ := s.fees[store.ChainTN].NetworkFee.Float64()
	otherGateway, _ := s.fees[store.ChainOther].GatewayFee.Float64()
	otherNetwork, _ := s.fees[store.ChainOther].NetworkFee.Float64()

	writeJSON(w, http.StatusOK, fullInfoResponse{
		Name:            s.cfg.Main.Name,
		BalanceTN:       balTN.String(),
		BalanceOther:    balOther.String(),
		Min:             minF,
		Max:             maxF,
		GatewayFeeTN:    tnGateway,
		NetworkFeeTN:    tnNetwork,
		GatewayFeeOther: otherGateway,
		NetworkFeeOther: otherNetwork,
		Disclaimer:      s.cfg.Main.Disclaimer,
	})
}

type depositStatusResponse struct {
	Status string `json:"status"`
	Tx     string `json:"tx,omitempty"`
	Block  int64  `json:"block,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleDeposit and handleWithdraw both report a tunnel's progress
// looked up by its source address, falling back to its target address;
// spec.md §6 treats them as two views on
// the same underlying state, distinguished only by the URL the
// integrator uses.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTunnelStatus(w, r, sanitizeAddress(mux.Vars(r)["addr"]))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTunnelStatus(w, r, sanitizeAddress(mux.Vars(r)["addr"]))
}

func (s *Server) handleTunnelStatus(w http.ResponseWriter, r *http.Request, addr string) {
	ctx := r.Context()

	t, err := s.store.GetTunnelBySource(ctx, addr)
	if err == store.ErrNotFound {
		t, err = s.store.GetTunnelByTarget(ctx, addr)
	}
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusNotFound, depositStatusResponse{Status: "error", Error: "unknown address"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	if t.Status == store.TunnelError {
		errs, err := s.store.ListErrors(ctx)
		reason := string(store.ReasonManual)
		if err == nil {
			for _, e := range errs {
				if e.SourceAddress == t.SourceAddress {
					reason = string(e.Reason)
				}
			}
		}
		writeJSON(w, http.StatusOK, depositStatusResponse{Status: "error", Error: reason})
		return
	}

	executed, err := s.store.GetExecutedForTunnel(ctx, t.SourceAddress, t.TargetAddress)
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusOK, depositStatusResponse{Status: string(t.Status)})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	writeJSON(w, http.StatusOK, depositStatusResponse{Status: string(t.Status), Tx: executed.OutboundTxID})
}

func (s *Server) handleCheckTxs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, hasAddr := mux.Vars(r)["addr"]
	addr = sanitizeAddress(addr)

	var (
		txs []store.Executed
		err error
	)
	if hasAddr {
		txs, err = s.store.ListTxsForAddress(ctx, addr)
	} else {
		txs, err = s.store.ListExecuted(ctx)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}

	writeJSON(w, http.StatusOK, txs)
}

type feesResponse struct {
	TotalFees float64 `json:"totalFees"`
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctx := r.Context()

	from := parseUnixOrZero(vars["from"])
	to := parseUnixOrNow(vars["to"])

	total, err := s.store.SumFees(ctx, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, feesResponse{TotalFees: total})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Health())
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := s.store.ListErrors(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, errs)
}

func (s *Server) handleExecuted(w http.ResponseWriter, r *http.Request) {
	executed, err := s.store.ListExecuted(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, s.errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, executed)
}

func toTunnelResponse(t store.Tunnel) tunnelResponse {
	return tunnelResponse{SourceAddress: t.SourceAddress, TargetAddress: t.TargetAddress, Status: t.Status}
}

// errorBody logs the real cause of a 500 server-side and returns a
// generic body to the client: spec.md §7 asks that user-visible
// failures not leak exception detail.
func (s *Server) errorBody(err error) depositStatusResponse {
	s.log.Error("request failed", "err", err)
	return depositStatusResponse{Status: "error", Error: "internal error"}
}

func parseUnixOrZero(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func parseUnixOrNow(v string) time.Time {
	if v == "" {
		return time.Now()
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
