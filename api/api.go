// Package api implements the HTTP surface of spec.md §6: the public
// quote/status endpoints and the basic-auth admin endpoints, routed
// with the same github.com/gorilla/mux the retrieval pack's
// stellar-disbursement-platform-backend example uses for its own
// REST layer.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/tnbridge/gateway/chain"
	"github.com/tnbridge/gateway/config"
	"github.com/tnbridge/gateway/controller"
	"github.com/tnbridge/gateway/policy"
	"github.com/tnbridge/gateway/store"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	cfg        config.Config
	store      store.Store
	tn         chain.Chain
	other      chain.Chain
	controller *controller.Controller
	bounds     policy.Bounds
	fees       map[store.Chain]policy.Fees
	log        log.Logger
}

// New builds a Server and its http.Handler.
func New(cfg config.Config, st store.Store, tn, other chain.Chain, ctl *controller.Controller) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		tn:         tn,
		other:      other,
		controller: ctl,
		bounds: policy.Bounds{
			Min: decimal.NewFromFloat(cfg.Main.Min),
			Max: decimal.NewFromFloat(cfg.Main.Max),
		},
		fees: map[store.Chain]policy.Fees{
			store.ChainTN: {
				GatewayFee: decimal.NewFromFloat(cfg.TN.GatewayFee),
				NetworkFee: decimal.NewFromFloat(cfg.TN.NetworkFee),
			},
			store.ChainOther: {
				GatewayFee: decimal.NewFromFloat(cfg.Other.GatewayFee),
				NetworkFee: decimal.NewFromFloat(cfg.Other.NetworkFee),
			},
		},
		log: log.New("component", "api"),
	}
}

// Router builds the full mux.Router, public routes plus basic-auth
// admin routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/heights", s.handleHeights).Methods(http.MethodGet)
	r.HandleFunc("/tnAddress/{addr}", s.handleTNAddress).Methods(http.MethodGet)
	r.HandleFunc("/tunnel/{targetAddress}", s.handleTunnel).Methods(http.MethodGet)
	r.HandleFunc("/api/fullinfo", s.handleFullInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/deposit/{addr}", s.handleDeposit).Methods(http.MethodGet)
	r.HandleFunc("/api/wd/{addr}", s.handleWithdraw).Methods(http.MethodGet)
	r.HandleFunc("/api/checktxs", s.handleCheckTxs).Methods(http.MethodGet)
	r.HandleFunc("/api/checktxs/{addr}", s.handleCheckTxs).Methods(http.MethodGet)
	r.HandleFunc("/api/fees", s.handleFees).Methods(http.MethodGet)
	r.HandleFunc("/api/fees/{from}", s.handleFees).Methods(http.MethodGet)
	r.HandleFunc("/api/fees/{from}/{to}", s.handleFees).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	admin := r.PathPrefix("").Subrouter()
	admin.Use(s.basicAuth)
	admin.HandleFunc("/errors", s.handleErrors).Methods(http.MethodGet)
	admin.HandleFunc("/executed", s.handleExecuted).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// basicAuth guards the admin routes, refusing to serve at all while
// the operator is still running with the well-known default
// credentials (spec.md §6).
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.UsesDefaultAdminCredentials() {
			s.log.Warn("admin endpoint refused: default credentials still in effect")
			http.Error(w, "admin credentials have not been configured", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		validUser := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Main.AdminUsername)) == 1
		validPass := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Main.AdminPassword)) == 1
		if !ok || !validUser || !validPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

