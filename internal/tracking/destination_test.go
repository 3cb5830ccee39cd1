package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/gateway"
)

func snapshotStops(n int) []gateway.Station {
	stops := make([]gateway.Station, n)
	for i := range stops {
		stops[i] = gateway.Station{
			StopID: string(rune('A' + i)),
			Seq:    i + 1,
			Name:   "정류장",
		}
	}
	return stops
}

func collectDestinationEvents(t *testing.T, evs <-chan DestinationEvent, n int) []DestinationEvent {
	t.Helper()
	out := make([]DestinationEvent, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-evs:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("Timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func newDestinationTrackerForTest(gw gateway.Client, stops []gateway.Station, destIndex int) *DestinationTracker {
	return NewDestinationTracker(gw, "V1", stops, destIndex,
		5*time.Millisecond, time.Millisecond, logger.Discard(), nil)
}

func TestDestinationTrackerCountsDown(t *testing.T) {
	stops := snapshotStops(8)
	gw := &scriptedGateway{pos: []positionResult{
		{pos: gateway.Position{StopID: stops[2].StopID, Seq: stops[2].Seq}, ok: true},
		{pos: gateway.Position{StopID: stops[3].StopID, Seq: stops[3].Seq}, ok: true},
		{pos: gateway.Position{StopID: stops[5].StopID, Seq: stops[5].Seq}, ok: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newDestinationTrackerForTest(gw, stops, 5)
	tr.Start(ctx)

	evs := collectDestinationEvents(t, tr.Events(), 3)

	if evs[0].Outcome != DestinationEnRoute || evs[0].StopsRemaining != 3 {
		t.Errorf("First event: got %+v, want en-route with 3 remaining", evs[0])
	}
	if evs[1].Outcome != DestinationEnRoute || evs[1].StopsRemaining != 2 {
		t.Errorf("Second event: got %+v, want en-route with 2 remaining", evs[1])
	}
	if evs[2].Outcome != DestinationArrived {
		t.Errorf("Third event outcome = %d, want arrived", evs[2].Outcome)
	}

	if _, ok := <-tr.Events(); ok {
		t.Error("Events channel should be closed after arrival")
	}
}

func TestDestinationTrackerMissedStopStillArrives(t *testing.T) {
	stops := snapshotStops(8)
	gw := &scriptedGateway{pos: []positionResult{
		{pos: gateway.Position{StopID: stops[3].StopID, Seq: stops[3].Seq}, ok: true},
		// The vehicle jumped past the destination between ticks.
		{pos: gateway.Position{StopID: stops[7].StopID, Seq: stops[7].Seq}, ok: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newDestinationTrackerForTest(gw, stops, 5)
	tr.Start(ctx)

	evs := collectDestinationEvents(t, tr.Events(), 2)
	if evs[1].Outcome != DestinationArrived {
		t.Errorf("Expected arrival after the destination was passed, got %+v", evs[1])
	}
}

func TestDestinationTrackerSkipsUnresolvablePositions(t *testing.T) {
	stops := snapshotStops(8)
	gw := &scriptedGateway{pos: []positionResult{
		{ok: false},
		// Neither stop id nor sequence matches the snapshot.
		{pos: gateway.Position{StopID: "zzz", Seq: 99}, ok: true},
		{pos: gateway.Position{StopID: stops[5].StopID, Seq: stops[5].Seq}, ok: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newDestinationTrackerForTest(gw, stops, 5)
	tr.Start(ctx)

	// The two unresolvable ticks emit nothing; the first event is terminal.
	evs := collectDestinationEvents(t, tr.Events(), 1)
	if evs[0].Outcome != DestinationArrived {
		t.Errorf("Expected arrived as the first emitted event, got %+v", evs[0])
	}
}

func TestDestinationTrackerMatchesBySequenceFallback(t *testing.T) {
	stops := snapshotStops(8)
	gw := &scriptedGateway{pos: []positionResult{
		// Stop id unknown, sequence resolvable.
		{pos: gateway.Position{StopID: "unknown", Seq: stops[2].Seq}, ok: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newDestinationTrackerForTest(gw, stops, 5)
	tr.Start(ctx)

	evs := collectDestinationEvents(t, tr.Events(), 1)
	if evs[0].Outcome != DestinationEnRoute || evs[0].StopsRemaining != 3 {
		t.Errorf("Sequence fallback: got %+v, want en-route with 3 remaining", evs[0])
	}
}
