package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tnbridge/gateway/chain/chaintest"
	"github.com/tnbridge/gateway/config"
	"github.com/tnbridge/gateway/controller"
	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/store/storetest"
	"github.com/tnbridge/gateway/verifier"
)

func newTestServer(t *testing.T) (*Server, *storetest.Store, *chaintest.Chain, *chaintest.Chain) {
	t.Helper()
	st := storetest.New()
	tn := chaintest.New()
	other := chaintest.New()

	routes := map[store.Direction]verifier.Route{
		store.DirectionTNToOther: {Chain: other, ConfirmationDepth: 1},
		store.DirectionOtherToTN: {Chain: tn, ConfirmationDepth: 1},
	}
	v := verifier.New(st, routes, 3)
	ctl := controller.New(controller.Config{TickInterval: time.Minute, SendingTimeout: time.Minute}, st, v, tn, other)

	cfg := config.Config{
		Main: config.Main{
			Name:          "test-gateway",
			Min:           1,
			Max:           1000,
			Port:          8080,
			AdminUsername: "ops",
			AdminPassword: "s3cret",
		},
	}

	return New(cfg, st, tn, other, ctl), st, tn, other
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHandleHeights(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	require.NoError(t, st.SetHeight(httptest.NewRequest(http.MethodGet, "/", nil).Context(), store.ChainTN, 42))

	req := httptest.NewRequest(http.MethodGet, "/heights", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body heightsResponse
	decodeJSON(t, rec, &body)
	require.Equal(t, int64(42), body.TN)
}

func TestHandleTunnelCreatesThenReturnsExisting(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/tunnel/target-addr-1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var first createTunnelResponse
	decodeJSON(t, rec, &first)
	require.Equal(t, 1, first.Successful)

	req2 := httptest.NewRequest(http.MethodGet, "/tunnel/target-addr-1", nil)
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)

	var second createTunnelResponse
	decodeJSON(t, rec2, &second)
	require.Equal(t, 2, second.Successful)
}

func TestHandleTunnelRejectsInvalidAddress(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/tunnel/invalid", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var body createTunnelResponse
	decodeJSON(t, rec, &body)
	require.Equal(t, 0, body.Successful)
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/errors", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/errors", nil)
	req2.SetBasicAuth("ops", "s3cret")
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestAdminRoutesRefuseDefaultCredentials(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	s.cfg.Main.AdminUsername = config.DefaultAdminUsername
	s.cfg.Main.AdminPassword = config.DefaultAdminPassword

	req := httptest.NewRequest(http.MethodGet, "/errors", nil)
	req.SetBasicAuth(config.DefaultAdminUsername, config.DefaultAdminPassword)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
