package trip

import (
	"context"
	"testing"

	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/gateway"
	"github.com/blindroute-core/internal/reservation"
)

func newTestManager(t *testing.T, feed *fakeFeed, store reservation.Store) *Manager {
	t.Helper()
	mgr := NewManager(store, feed, nil, nil, logger.Discard(), testTripConfig(), nil)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return mgr
}

func TestOpenIsIdempotent(t *testing.T) {
	mgr := newTestManager(t, &fakeFeed{}, reservation.NewMemoryStore())

	m1 := mgr.Open("rider-1")
	m2 := mgr.Open("rider-1")
	if m1 != m2 {
		t.Error("Reopening a session must return the live machine")
	}

	if _, err := mgr.Get("rider-1"); err != nil {
		t.Errorf("Get after open failed: %v", err)
	}
}

func TestGetUnknownRider(t *testing.T) {
	mgr := newTestManager(t, &fakeFeed{}, reservation.NewMemoryStore())

	if _, err := mgr.Get("ghost"); err != ErrNoSession {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
}

func TestEndReleasesLiveReservation(t *testing.T) {
	stations, routes, _ := stationScript()
	feed := &fakeFeed{
		stations: stations,
		routes:   routes,
		arrivals: []arrivalStep{
			{sample: gateway.ArrivalSample{Message: "5분0초후[3번째 전]", VehicleID: "V1"}, active: true},
		},
	}
	store := &countingStore{MemoryStore: reservation.NewMemoryStore()}
	mgr := newTestManager(t, feed, store)

	m := mgr.Open("rider-1")
	driveToWaitingBus(t, m)
	if store.Live("rider-1") != 1 {
		t.Fatalf("Expected one live reservation, got %d", store.Live("rider-1"))
	}

	mgr.End(context.Background(), "rider-1")

	if store.Live("rider-1") != 0 {
		t.Errorf("End must release the live reservation, %d left", store.Live("rider-1"))
	}
	if _, err := mgr.Get("rider-1"); err != ErrNoSession {
		t.Errorf("Session should be gone after end, got %v", err)
	}

	// Ending twice is harmless.
	mgr.End(context.Background(), "rider-1")
}
