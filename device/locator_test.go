package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPLocatorSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/position", r.URL.Path)
		require.Equal(t, "high", r.URL.Query().Get("accuracy"))
		json.NewEncoder(w).Encode(map[string]float64{"latitude": -6.2, "longitude": 106.8})
	}))
	defer server.Close()

	locator := NewHTTPLocator(server.URL)
	loc, err := locator.Locate(context.Background(), LocateOptions{HighAccuracy: true})
	require.NoError(t, err)
	require.InDelta(t, -6.2, loc.Latitude, 1e-9)
	require.InDelta(t, 106.8, loc.Longitude, 1e-9)
}

func TestHTTPLocatorMaximumAgeServesCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]float64{"latitude": 1, "longitude": 2})
	}))
	defer server.Close()

	locator := NewHTTPLocator(server.URL)

	_, err := locator.Locate(context.Background(), LocateOptions{MaximumAge: time.Minute})
	require.NoError(t, err)
	_, err = locator.Locate(context.Background(), LocateOptions{MaximumAge: time.Minute})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load(), "second fix within MaximumAge must come from cache")

	_, err = locator.Locate(context.Background(), LocateOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load(), "no MaximumAge means a fresh fix")
}

func TestHTTPLocatorPermissionDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	locator := NewHTTPLocator(server.URL)
	_, err := locator.Locate(context.Background(), LocateOptions{})
	require.True(t, IsPermissionDenied(err))
}

func TestHTTPLocatorTimeout(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	locator := NewHTTPLocator(server.URL)
	_, err := locator.Locate(context.Background(), LocateOptions{Timeout: 50 * time.Millisecond})
	require.True(t, IsTimeout(err), "expected classified timeout, got %v", err)
	<-started
}

func TestHTTPLocatorUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	locator := NewHTTPLocator(server.URL)
	_, err := locator.Locate(context.Background(), LocateOptions{})

	var de *Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, KindUnavailable, de.Kind)
	require.Equal(t, CapabilityLocation, de.Capability)
}
