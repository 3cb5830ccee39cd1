package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/gateway"
	"github.com/blindroute-core/internal/metrics"
)

// ArrivalOutcome is what one poll tick concluded about the reserved bus.
type ArrivalOutcome int

const (
	// ArrivalWaiting: the tracked vehicle is still approaching.
	ArrivalWaiting ArrivalOutcome = iota
	// ArrivalArrived: the previously tracked vehicle is no longer the one
	// approaching the stop, which means it has arrived and moved on.
	ArrivalArrived
	// ArrivalServiceEnded: the feed stopped reporting any vehicle for the
	// route while one was being tracked. Terminal, treated like an arrival
	// since there is nowhere else for the flow to go.
	ArrivalServiceEnded
)

// ArrivalEvent is one decision emitted by the poller.
//
// For ArrivalWaiting, VehicleID is the vehicle currently approaching and ETA
// is the presentation-only time-remaining token ("" when unrecognized).
// For the two terminal outcomes, VehicleID is the vehicle the rider boarded:
// the one from the previous sample, not the replacement that displaced it.
type ArrivalEvent struct {
	Outcome   ArrivalOutcome
	VehicleID string
	ETA       string
}

// ArrivalPoller samples the live arrival feed for one stop+route reservation
// and decides when the reserved bus has arrived. Identity of the approaching
// vehicle is the only transition signal; the ETA text never drives state.
type ArrivalPoller struct {
	gw       gateway.Client
	arsID    string
	routeID  string
	interval time.Duration
	logger   logger.Logger
	metrics  *metrics.Collector

	events chan ArrivalEvent
}

func NewArrivalPoller(gw gateway.Client, arsID, routeID string, interval time.Duration, log logger.Logger, mcol *metrics.Collector) *ArrivalPoller {
	return &ArrivalPoller{
		gw:       gw,
		arsID:    arsID,
		routeID:  routeID,
		interval: interval,
		logger:   log,
		events:   make(chan ArrivalEvent, 1),
		metrics:  mcol,
	}
}

// Events delivers poll decisions. The channel is closed after a terminal
// outcome or when the context is cancelled.
func (p *ArrivalPoller) Events() <-chan ArrivalEvent {
	return p.events
}

// Start launches the poll loop. The first tick fires immediately so the
// rider is not left without feedback for a full period. Ticks are
// single-flight: the next request is not issued until the previous one has
// returned or timed out.
func (p *ArrivalPoller) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *ArrivalPoller) run(ctx context.Context) {
	defer close(p.events)

	var prev *gateway.ArrivalSample

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := p.tick(ctx, &prev)
		if err != nil {
			// Transient upstream failure: swallowed, retried next tick.
			p.logger.Debug("Arrival poll failed, retrying next tick", "error", err)
			if p.metrics != nil {
				p.metrics.PollErrors.WithLabelValues("arrival").Inc()
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

// tick performs one sample-and-compare step. Returns done == true after a
// terminal event has been emitted.
func (p *ArrivalPoller) tick(ctx context.Context, prev **gateway.ArrivalSample) (bool, error) {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.PollTicks.WithLabelValues("arrival").Inc()
		defer func() {
			p.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}()
	}

	sample, active, err := p.gw.PollArrival(ctx, p.arsID, p.routeID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true, nil
		}
		return false, err
	}

	if !active {
		if *prev == nil {
			// Nothing was ever tracked; keep waiting.
			return false, p.emit(ctx, ArrivalEvent{Outcome: ArrivalWaiting})
		}
		return true, p.emit(ctx, ArrivalEvent{
			Outcome:   ArrivalServiceEnded,
			VehicleID: (*prev).VehicleID,
		})
	}

	if *prev == nil {
		*prev = &sample
		return false, p.emit(ctx, ArrivalEvent{
			Outcome:   ArrivalWaiting,
			VehicleID: sample.VehicleID,
			ETA:       gateway.ExtractETA(sample.Message),
		})
	}

	if sample.VehicleID != (*prev).VehicleID {
		// The vehicle that was approaching is gone: it arrived and left.
		boarded := (*prev).VehicleID
		return true, p.emit(ctx, ArrivalEvent{
			Outcome:   ArrivalArrived,
			VehicleID: boarded,
		})
	}

	*prev = &sample
	return false, p.emit(ctx, ArrivalEvent{
		Outcome:   ArrivalWaiting,
		VehicleID: sample.VehicleID,
		ETA:       gateway.ExtractETA(sample.Message),
	})
}

func (p *ArrivalPoller) emit(ctx context.Context, ev ArrivalEvent) error {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
	return nil
}
