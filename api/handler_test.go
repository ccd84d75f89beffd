package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/dispatch"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/outbound"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/tracker"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/mesh"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/clock"
)

type stubGeocoder struct{ pos model.Coordinates }

func (g stubGeocoder) Resolve(context.Context, string) (model.Coordinates, error) {
	return g.pos, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	dispatch.ResetMetrics(nil)
	outbound.ResetMetrics(nil)
	tracker.ResetMetrics(nil)
	st := store.NewMemoryStore()
	tr := mesh.NewMockTransport()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0).UTC())
	out, err := outbound.NewManager(st, tr, outbound.Config{}, clk, nil, logger.NopLogger{})
	require.NoError(t, err)
	trk, err := tracker.New(st, tracker.Config{}, clk, nil, logger.NopLogger{})
	require.NoError(t, err)
	geo := stubGeocoder{pos: model.Coordinates{Lat: 44.389, Lon: -79.690}}
	coord, err := dispatch.NewCoordinator(st, trk, out, tr, geo, dispatch.Config{}, clk, nil, nil, logger.NopLogger{})
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(coord).Mux())
	t.Cleanup(srv.Close)

	// seed one idle unit
	require.NoError(t, st.PutUnit(context.Background(), model.Unit{
		ID: "unit-1", Status: model.UnitIdle, LastContact: clk.Now(), UpdatedAt: clk.Now(),
	}))
	return srv, st
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCreateAndListDeliveries(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/deliveries", `{"address":"29 Main St"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/deliveries")
	require.NoError(t, err)
	defer func() { _ = listResp.Body.Close() }()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	assert.Equal(t, "application/json", listResp.Header.Get("Content-Type"))
}

func TestCreateDeliveryRequiresAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := post(t, srv.URL+"/api/deliveries", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssignFlow(t *testing.T) {
	srv, st := newTestServer(t)

	resp := post(t, srv.URL+"/api/deliveries", `{"address":"29 Main St"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = post(t, srv.URL+"/api/deliveries/1/assign", `{"unit_id":"unit-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	d, err := st.Delivery(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryAssigned, d.Status)

	// busy unit conflicts
	resp = post(t, srv.URL+"/api/deliveries", `{"address":"30 Main St"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = post(t, srv.URL+"/api/deliveries/2/assign", `{"unit_id":"unit-1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAssignUnknownDelivery(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := post(t, srv.URL+"/api/deliveries/99/assign", `{"unit_id":"unit-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailAndReopen(t *testing.T) {
	srv, st := newTestServer(t)

	post(t, srv.URL+"/api/deliveries", `{"address":"29 Main St"}`)
	post(t, srv.URL+"/api/deliveries/1/assign", `{"unit_id":"unit-1"}`)

	resp := post(t, srv.URL+"/api/deliveries/1/fail", `{"reason":"no access"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	d, err := st.Delivery(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, d.Status)
	assert.Equal(t, "no access", d.FailureReason)

	resp = post(t, srv.URL+"/api/units/unit-1/clear-error", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv.URL+"/api/deliveries/1/reopen", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	d, err = st.Delivery(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryPending, d.Status)
}

func TestCompleteRequiresArrival(t *testing.T) {
	srv, _ := newTestServer(t)
	post(t, srv.URL+"/api/deliveries", `{"address":"29 Main St"}`)
	post(t, srv.URL+"/api/deliveries/1/assign", `{"unit_id":"unit-1"}`)

	resp := post(t, srv.URL+"/api/deliveries/1/complete", ``)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "completion before arrival must be refused")
}

func TestListUnits(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/units")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
