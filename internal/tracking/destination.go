package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/gateway"
	"github.com/blindroute-core/internal/metrics"
)

// DestinationOutcome is what one position tick concluded about the boarded
// vehicle relative to the rider's destination stop.
type DestinationOutcome int

const (
	// DestinationEnRoute: the vehicle has not reached the destination yet.
	DestinationEnRoute DestinationOutcome = iota
	// DestinationArrived: the vehicle is at the destination stop, or already
	// past it. A missed stop is still terminal; the rider cannot be taken
	// further back.
	DestinationArrived
)

// DestinationEvent is one decision emitted by the tracker. StopsRemaining is
// destination index minus resolved index, used only for spoken feedback;
// zero means "arriving now" while the outcome is still EnRoute.
type DestinationEvent struct {
	Outcome        DestinationOutcome
	StopsRemaining int
}

// DestinationTracker follows the boarded vehicle along a fixed snapshot of
// its remaining stops and decides when the destination has been reached or
// passed. The stop list and destination index are captured once at start and
// never re-fetched.
type DestinationTracker struct {
	gw        gateway.Client
	vehicleID string
	stops     []gateway.Station
	destIndex int

	interval   time.Duration
	firstCheck time.Duration
	logger     logger.Logger
	metrics    *metrics.Collector

	events chan DestinationEvent
}

func NewDestinationTracker(gw gateway.Client, vehicleID string, stops []gateway.Station, destIndex int,
	interval, firstCheck time.Duration, log logger.Logger, mcol *metrics.Collector) *DestinationTracker {
	return &DestinationTracker{
		gw:         gw,
		vehicleID:  vehicleID,
		stops:      stops,
		destIndex:  destIndex,
		interval:   interval,
		firstCheck: firstCheck,
		logger:     log,
		metrics:    mcol,
		events:     make(chan DestinationEvent, 1),
	}
}

// Events delivers tick decisions. The channel is closed after the arrival
// event or when the context is cancelled.
func (t *DestinationTracker) Events() <-chan DestinationEvent {
	return t.events
}

// Start launches the tracking loop. The first check fires after a short
// initial delay, shorter than the steady-state period, so the rider gets
// early feedback after boarding.
func (t *DestinationTracker) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *DestinationTracker) run(ctx context.Context) {
	defer close(t.events)

	first := time.NewTimer(t.firstCheck)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return
	case <-first.C:
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		done, err := t.tick(ctx)
		if err != nil {
			t.logger.Debug("Position poll failed, retrying next tick", "error", err)
			if t.metrics != nil {
				t.metrics.PollErrors.WithLabelValues("destination").Inc()
			}
		}
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *DestinationTracker) tick(ctx context.Context) (bool, error) {
	start := time.Now()
	if t.metrics != nil {
		t.metrics.PollTicks.WithLabelValues("destination").Inc()
		defer func() {
			t.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}()
	}

	pos, ok, err := t.gw.PollVehiclePosition(ctx, t.vehicleID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true, nil
		}
		return false, err
	}
	if !ok {
		// Feed has no position right now; expected to self-resolve.
		return false, nil
	}

	idx := t.resolveIndex(pos)
	if idx < 0 {
		// Current stop not matchable to the fixed list: no-op tick.
		t.logger.Debug("Vehicle position not resolvable to snapshot",
			"vehicle", t.vehicleID, "stop", pos.StopID, "seq", pos.Seq)
		return false, nil
	}

	if idx >= t.destIndex {
		t.emit(ctx, DestinationEvent{Outcome: DestinationArrived})
		return true, nil
	}

	t.emit(ctx, DestinationEvent{
		Outcome:        DestinationEnRoute,
		StopsRemaining: t.destIndex - idx,
	})
	return false, nil
}

// resolveIndex matches the reported position to an index in the fixed stop
// snapshot, by stop identity first, then by route-relative sequence.
func (t *DestinationTracker) resolveIndex(pos gateway.Position) int {
	for i, st := range t.stops {
		if st.StopID == pos.StopID {
			return i
		}
	}
	if pos.Seq > 0 {
		for i, st := range t.stops {
			if st.Seq == pos.Seq {
				return i
			}
		}
	}
	return -1
}

func (t *DestinationTracker) emit(ctx context.Context, ev DestinationEvent) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}
