package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coregeocode "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/geocode"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Nominatim {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	n := New(Config{URL: srv.URL, Retries: 3, BaseDelayMS: 1, TimeoutMS: 2000})
	n.wait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return n
}

func TestResolve(t *testing.T) {
	n := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "29 Main St", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"lat":"44.3894","lon":"-79.6903"}]`))
	})
	pos, err := n.Resolve(context.Background(), "29 Main St")
	require.NoError(t, err)
	assert.InDelta(t, 44.3894, pos.Lat, 1e-6)
	assert.InDelta(t, -79.6903, pos.Lon, 1e-6)
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	var hits int
	n := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"44.3894","lon":"-79.6903"}]`))
	})
	_, err := n.Resolve(context.Background(), "29 Main St")
	require.NoError(t, err)
	assert.Equal(t, 3, hits)
}

func TestResolveGivesUpAfterRetries(t *testing.T) {
	var hits int
	n := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := n.Resolve(context.Background(), "29 Main St")
	require.Error(t, err)
	assert.Equal(t, 3, hits)
}

func TestResolveUnknownAddressIsTerminal(t *testing.T) {
	var hits int
	n := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := n.Resolve(context.Background(), "nowhere at all")
	assert.ErrorIs(t, err, coregeocode.ErrNotFound)
	assert.Equal(t, 1, hits, "an empty result set must not be retried")
}

func TestResolveHonorsContext(t *testing.T) {
	n := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.Resolve(ctx, "29 Main St")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveCancelInterruptsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	n := New(Config{URL: srv.URL, Retries: 3, BaseDelayMS: 30000, TimeoutMS: 2000})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := n.Resolve(ctx, "29 Main St")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the backoff wait short")
}
