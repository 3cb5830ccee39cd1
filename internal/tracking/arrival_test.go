package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/gateway"
)

// scriptedGateway replays a fixed sequence of poll results. The last entry
// repeats once the script runs out.
type scriptedGateway struct {
	mu       sync.Mutex
	arrivals []arrivalResult
	ai       int
	stops    []gateway.Station
	pos      []positionResult
	pi       int
	polls    int
}

type arrivalResult struct {
	sample gateway.ArrivalSample
	active bool
	err    error
}

type positionResult struct {
	pos gateway.Position
	ok  bool
	err error
}

func (g *scriptedGateway) PollArrival(context.Context, string, string) (gateway.ArrivalSample, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	r := g.arrivals[g.ai]
	if g.ai < len(g.arrivals)-1 {
		g.ai++
	}
	return r.sample, r.active, r.err
}

func (g *scriptedGateway) PollVehiclePosition(context.Context, string) (gateway.Position, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	r := g.pos[g.pi]
	if g.pi < len(g.pos)-1 {
		g.pi++
	}
	return r.pos, r.ok, r.err
}

func (g *scriptedGateway) SearchStations(context.Context, string) ([]gateway.Station, error) {
	return nil, nil
}

func (g *scriptedGateway) ListRoutesAtStop(context.Context, string) ([]gateway.Route, error) {
	return nil, nil
}

func (g *scriptedGateway) ListRemainingStops(context.Context, string, string) ([]gateway.Station, error) {
	return g.stops, nil
}

func (g *scriptedGateway) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

func collectArrivalEvents(t *testing.T, evs <-chan ArrivalEvent, n int) []ArrivalEvent {
	t.Helper()
	out := make([]ArrivalEvent, 0, n)
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

func TestArrivalPollerDetectsVehicleChange(t *testing.T) {
	gw := &scriptedGateway{arrivals: []arrivalResult{
		{sample: gateway.ArrivalSample{Message: "3분10초후[2번째 전]", VehicleID: "V1"}, active: true},
		{sample: gateway.ArrivalSample{Message: "곧 도착", VehicleID: "V1"}, active: true},
		{sample: gateway.ArrivalSample{Message: "9분0초후[4번째 전]", VehicleID: "V2"}, active: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewArrivalPoller(gw, "11111", "r1", 5*time.Millisecond, logger.Discard(), nil)
	p.Start(ctx)

	evs := collectArrivalEvents(t, p.Events(), 3)

	if evs[0].Outcome != ArrivalWaiting || evs[0].VehicleID != "V1" || evs[0].ETA != "3분10초후" {
		t.Errorf("First event: got %+v, want waiting V1 with ETA", evs[0])
	}
	if evs[1].Outcome != ArrivalWaiting || evs[1].ETA != "곧 도착" {
		t.Errorf("Second event: got %+v, want waiting with 곧 도착", evs[1])
	}
	if evs[2].Outcome != ArrivalArrived {
		t.Errorf("Third event outcome = %d, want arrived", evs[2].Outcome)
	}
	// The boarded vehicle is the one that was tracked, not its replacement.
	if evs[2].VehicleID != "V1" {
		t.Errorf("Arrived vehicle = %q, want V1", evs[2].VehicleID)
	}

	// Terminal outcome closes the channel.
	if _, ok := <-p.Events(); ok {
		t.Error("Events channel should be closed after a terminal outcome")
	}
}

func TestArrivalPollerServiceEnded(t *testing.T) {
	gw := &scriptedGateway{arrivals: []arrivalResult{
		{sample: gateway.ArrivalSample{Message: "5분0초후[3번째 전]", VehicleID: "V1"}, active: true},
		{active: false},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewArrivalPoller(gw, "11111", "r1", 5*time.Millisecond, logger.Discard(), nil)
	p.Start(ctx)

	evs := collectArrivalEvents(t, p.Events(), 2)

	if evs[0].Outcome != ArrivalWaiting {
		t.Errorf("First event outcome = %d, want waiting", evs[0].Outcome)
	}
	if evs[1].Outcome != ArrivalServiceEnded || evs[1].VehicleID != "V1" {
		t.Errorf("Second event: got %+v, want service ended for V1", evs[1])
	}
}

func TestArrivalPollerEmptyFeedBeforeTrackingKeepsWaiting(t *testing.T) {
	gw := &scriptedGateway{arrivals: []arrivalResult{
		{active: false},
		{active: false},
		{sample: gateway.ArrivalSample{Message: "7분0초후[4번째 전]", VehicleID: "V1"}, active: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewArrivalPoller(gw, "11111", "r1", 5*time.Millisecond, logger.Discard(), nil)
	p.Start(ctx)

	evs := collectArrivalEvents(t, p.Events(), 3)

	// An empty feed with nothing tracked yet is not terminal.
	for i := 0; i < 2; i++ {
		if evs[i].Outcome != ArrivalWaiting {
			t.Errorf("Event %d outcome = %d, want waiting", i, evs[i].Outcome)
		}
	}
	if evs[2].VehicleID != "V1" {
		t.Errorf("Third event vehicle = %q, want V1", evs[2].VehicleID)
	}
}

func TestArrivalPollerSwallowsTransientErrors(t *testing.T) {
	gw := &scriptedGateway{arrivals: []arrivalResult{
		{err: gateway.ErrUpstream},
		{sample: gateway.ArrivalSample{Message: "2분0초후[1번째 전]", VehicleID: "V1"}, active: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewArrivalPoller(gw, "11111", "r1", 5*time.Millisecond, logger.Discard(), nil)
	p.Start(ctx)

	evs := collectArrivalEvents(t, p.Events(), 1)
	if evs[0].Outcome != ArrivalWaiting || evs[0].VehicleID != "V1" {
		t.Errorf("Expected the poll after the failed tick to succeed, got %+v", evs[0])
	}
}

func TestArrivalPollerStopsOnCancel(t *testing.T) {
	gw := &scriptedGateway{arrivals: []arrivalResult{
		{sample: gateway.ArrivalSample{Message: "5분0초후[3번째 전]", VehicleID: "V1"}, active: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewArrivalPoller(gw, "11111", "r1", 5*time.Millisecond, logger.Discard(), nil)
	p.Start(ctx)

	collectArrivalEvents(t, p.Events(), 1)
	cancel()

	// Drain until close; the loop must terminate.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.Events():
			if !ok {
				goto stopped
			}
		case <-deadline:
			t.Fatal("Poller did not stop after context cancel")
		}
	}
stopped:

	count := gw.pollCount()
	time.Sleep(30 * time.Millisecond)
	if gw.pollCount() != count {
		t.Error("Poller kept polling after cancel")
	}
}
