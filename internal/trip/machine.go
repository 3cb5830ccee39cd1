package trip

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blindroute-core/internal/common/config"
	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/events"
	"github.com/blindroute-core/internal/gateway"
	"github.com/blindroute-core/internal/metrics"
	"github.com/blindroute-core/internal/reservation"
	"github.com/blindroute-core/internal/tracking"
)

// Step is one screen of the rider's trip flow, in forward order.
type Step string

const (
	StepSearchStation      Step = "searchStation"
	StepSelectStation      Step = "selectStation"
	StepSelectBus          Step = "selectBus"
	StepWaitingBus         Step = "waitingBus"
	StepArrivalBus         Step = "arrivalBus"
	StepSelectDestination  Step = "selectDestination"
	StepWaitingDestination Step = "waitingDestination"
	StepArrivalDestination Step = "arrivalDestination"
)

var (
	ErrInvalidStep  = errors.New("operation not valid in current step")
	ErrBadSelection = errors.New("selection index out of range")
)

// Boarding is the rider's active boarding aggregate. VehicleID is empty
// until the first successful arrival poll and refreshed on every one after.
type Boarding struct {
	Station       gateway.Station `json:"station"`
	Route         gateway.Route   `json:"route"`
	VehicleID     string          `json:"vehicleId,omitempty"`
	ReservationID string          `json:"reservationId,omitempty"`
}

// Snapshot is the machine state the presentation layer renders from.
type Snapshot struct {
	Step           Step
	Stations       []gateway.Station
	Routes         []gateway.Route
	Boarding       *Boarding
	Destinations   []gateway.Station
	Destination    *gateway.Station
	StopsRemaining int
	ETA            string
}

// Machine is the trip state machine for one rider session. All entry points
// are serialized on one mutex; tracker callbacks are fenced by a per-entry
// generation counter so a poll result that lands after a cancel or a
// transition is dropped instead of acted on.
type Machine struct {
	riderID string
	store   reservation.Store
	gw      gateway.Client
	speaker Speaker
	pub     events.Publisher
	mcol    *metrics.Collector
	logger  logger.Logger
	cfg     config.TripConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	step       Step
	generation uint64

	stations       []gateway.Station
	origin         *gateway.Station
	routes         []gateway.Route
	boarding       *Boarding
	destinations   []gateway.Station // immutable once captured
	destination    *gateway.Station
	destIndex      int
	alightingID    string
	stopsRemaining int
	eta            string

	// At most one live tracker and one live dwell timer per session.
	trackerCancel context.CancelFunc
	dwellTimer    *time.Timer
}

func NewMachine(riderID string, store reservation.Store, gw gateway.Client, speaker Speaker,
	pub events.Publisher, mcol *metrics.Collector, log logger.Logger, cfg config.TripConfig) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	if speaker == nil {
		speaker = NopSpeaker{}
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Machine{
		riderID: riderID,
		store:   store,
		gw:      gw,
		speaker: speaker,
		pub:     pub,
		mcol:    mcol,
		logger:  log.With("rider", riderID),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		step:    StepSearchStation,
	}
}

func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Step:           m.step,
		Stations:       m.stations,
		Routes:         m.routes,
		Destinations:   m.selectableDestinationsLocked(),
		StopsRemaining: m.stopsRemaining,
		ETA:            m.eta,
	}
	if m.boarding != nil {
		b := *m.boarding
		snap.Boarding = &b
	}
	if m.destination != nil {
		d := *m.destination
		snap.Destination = &d
	}
	return snap
}

// Search looks up stops by name and advances to station selection.
// An empty result is announced and leaves the rider on the search step.
func (m *Machine) Search(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step != StepSearchStation {
		return ErrInvalidStep
	}

	stations, err := m.gw.SearchStations(ctx, name)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		m.announceLocked(events.TypeAnnouncement, msgNoStationsFound)
		return nil
	}

	m.stations = stations
	m.setStepLocked(StepSelectStation)
	return nil
}

// Select confirms the rider's current choice: a station, a bus, or a
// destination stop, depending on the current step.
func (m *Machine) Select(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.step {
	case StepSelectStation:
		return m.selectStationLocked(ctx, index)
	case StepSelectBus:
		return m.selectBusLocked(ctx, index)
	case StepSelectDestination:
		return m.selectDestinationLocked(ctx, index)
	default:
		return ErrInvalidStep
	}
}

// Forward advances manually out of a time-boxed arrival screen.
func (m *Machine) Forward(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.step {
	case StepArrivalBus:
		m.enterSelectDestinationLocked()
		return nil
	case StepArrivalDestination:
		m.resetLocked()
		return nil
	default:
		return ErrInvalidStep
	}
}

// Back cancels whatever the current step committed to and returns to the
// previous one. During a waiting step the tracker timer is cleared before
// the store cancel is issued, so a poll already in flight cannot act on a
// reservation that is being torn down.
func (m *Machine) Back(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.step {
	case StepSearchStation:
		return nil
	case StepSelectStation:
		m.stations = nil
		m.setStepLocked(StepSearchStation)
	case StepSelectBus:
		m.routes = nil
		m.origin = nil
		m.setStepLocked(StepSelectStation)
	case StepWaitingBus:
		m.stopTrackerLocked()
		m.cancelReservationLocked(ctx, reservation.Boarding)
		m.boarding = nil
		m.eta = ""
		m.announceLocked(events.TypeAnnouncement, msgBoardingCancelled)
		m.setStepLocked(StepSelectBus)
	case StepArrivalBus:
		m.resetLocked()
	case StepSelectDestination:
		m.destination = nil
		m.destIndex = 0
		m.setStepLocked(StepArrivalBus)
		m.armDwellLocked()
	case StepWaitingDestination:
		m.stopTrackerLocked()
		m.cancelReservationLocked(ctx, reservation.Alighting)
		m.alightingID = ""
		m.stopsRemaining = 0
		m.announceLocked(events.TypeAnnouncement, msgAlightingCancelled)
		m.setStepLocked(StepSelectDestination)
	case StepArrivalDestination:
		m.resetLocked()
	}
	return nil
}

// Close tears the session down: trackers stopped, dwell timers cleared, any
// live reservation of the active phase cancelled.
func (m *Machine) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTrackerLocked()
	m.stopDwellLocked()
	switch m.step {
	case StepWaitingBus:
		m.cancelReservationLocked(ctx, reservation.Boarding)
	case StepWaitingDestination:
		m.cancelReservationLocked(ctx, reservation.Alighting)
	}
	m.cancel()
}

func (m *Machine) selectStationLocked(ctx context.Context, index int) error {
	if index < 0 || index >= len(m.stations) {
		return ErrBadSelection
	}
	station := m.stations[index]

	routes, err := m.gw.ListRoutesAtStop(ctx, station.ArsID)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		m.announceLocked(events.TypeAnnouncement, msgNoRoutesAtStop)
		return nil
	}

	m.origin = &station
	m.routes = routes
	m.setStepLocked(StepSelectBus)
	return nil
}

func (m *Machine) selectBusLocked(ctx context.Context, index int) error {
	if index < 0 || index >= len(m.routes) {
		return ErrBadSelection
	}
	route := m.routes[index]

	// Service-end is a business outcome detected before the store write is
	// attempted, not a store error.
	_, active, err := m.gw.PollArrival(ctx, m.origin.ArsID, route.ID)
	if err != nil {
		return err
	}
	if !active {
		m.announceLocked(events.TypeAnnouncement, announceServiceEnded(route))
		return nil
	}

	id, err := m.store.Create(ctx, reservation.Record{
		OwnerID: m.riderID,
		Kind:    reservation.Boarding,
		StopID:  m.origin.StopID,
		ArsID:   m.origin.ArsID,
		RouteID: route.ID,
	})
	if err != nil {
		m.logger.Error("Boarding reservation failed", "error", err, "route", route.ID)
		m.announceLocked(events.TypeAnnouncement, msgReservationFailed)
		return nil
	}
	if m.mcol != nil {
		m.mcol.ReservationsCreated.Inc()
	}

	m.boarding = &Boarding{Station: *m.origin, Route: route, ReservationID: id}
	m.enterWaitingBusLocked()
	return nil
}

func (m *Machine) selectDestinationLocked(ctx context.Context, index int) error {
	choices := m.selectableDestinationsLocked()
	if index < 0 || index >= len(choices) {
		return ErrBadSelection
	}
	dest := choices[index]

	id, err := m.store.Create(ctx, reservation.Record{
		OwnerID: m.riderID,
		Kind:    reservation.Alighting,
		StopID:  dest.StopID,
		ArsID:   dest.ArsID,
		RouteID: m.boarding.Route.ID,
	})
	if err != nil {
		m.logger.Error("Alighting reservation failed", "error", err, "stop", dest.StopID)
		m.announceLocked(events.TypeAnnouncement, msgReservationFailed)
		return nil
	}
	if m.mcol != nil {
		m.mcol.ReservationsCreated.Inc()
	}

	m.destination = &dest
	m.destIndex = index + 1 // choices exclude the boarding stop at index 0
	m.alightingID = id
	m.enterWaitingDestinationLocked()
	return nil
}

// enterWaitingBusLocked starts the arrival poller. Re-entry while a poller
// is already live is a no-op: one timer per tracker type, always.
func (m *Machine) enterWaitingBusLocked() {
	if m.step == StepWaitingBus && m.trackerCancel != nil {
		return
	}
	m.stopTrackerLocked()
	m.stopDwellLocked()
	m.setStepLocked(StepWaitingBus)
	gen := m.generation

	tctx, cancel := context.WithCancel(m.ctx)
	m.trackerCancel = cancel
	poller := tracking.NewArrivalPoller(m.gw, m.boarding.Station.ArsID, m.boarding.Route.ID,
		m.cfg.ArrivalPollInterval, m.logger, m.mcol)
	poller.Start(tctx)
	go m.consumeArrival(gen, poller.Events())
}

func (m *Machine) consumeArrival(gen uint64, evs <-chan tracking.ArrivalEvent) {
	for ev := range evs {
		m.handleArrivalEvent(gen, ev)
	}
}

func (m *Machine) handleArrivalEvent(gen uint64, ev tracking.ArrivalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stale generation: the rider navigated away while this poll was in
	// flight. Not acted upon.
	if gen != m.generation || m.step != StepWaitingBus {
		return
	}

	switch ev.Outcome {
	case tracking.ArrivalWaiting:
		if ev.VehicleID != "" {
			m.boarding.VehicleID = ev.VehicleID
		}
		if ev.ETA != m.eta {
			m.eta = ev.ETA
			m.announceLocked(events.TypeAnnouncement, announceWaitingBus(m.boarding.Route, m.eta))
		}
	case tracking.ArrivalArrived:
		m.onBusArrivedLocked(ev.VehicleID, false)
	case tracking.ArrivalServiceEnded:
		m.onBusArrivedLocked(ev.VehicleID, true)
	}
}

// onBusArrivedLocked ends the boarding phase: the reservation is cancelled
// in the same logical operation that ends the poller's responsibility, and
// the destination list is snapshotted once for the rest of the trip.
func (m *Machine) onBusArrivedLocked(vehicleID string, serviceEnded bool) {
	m.stopTrackerLocked()
	m.cancelReservationLocked(m.ctx, reservation.Boarding)
	m.boarding.VehicleID = vehicleID
	m.eta = ""

	stops, err := m.gw.ListRemainingStops(m.ctx, m.boarding.Route.ID, vehicleID)
	if err != nil {
		m.logger.Warn("Destination snapshot failed", "error", err, "vehicle", vehicleID)
		stops = nil
	}
	if i := indexOfStationNamed(stops, m.boarding.Station.Name); i >= 0 {
		stops = stops[i:]
	}
	m.destinations = stops

	if m.mcol != nil {
		m.mcol.Arrivals.WithLabelValues("bus").Inc()
	}
	if serviceEnded {
		m.announceLocked(events.TypeArrival, announceServiceEnded(m.boarding.Route))
	} else {
		m.announceLocked(events.TypeArrival, announceBusArrived(m.boarding.Route))
	}
	m.setStepLocked(StepArrivalBus)
	m.armDwellLocked()
}

func (m *Machine) enterSelectDestinationLocked() {
	m.stopDwellLocked()
	m.setStepLocked(StepSelectDestination)
}

// enterWaitingDestinationLocked starts the destination tracker against the
// immutable stop snapshot captured at bus arrival.
func (m *Machine) enterWaitingDestinationLocked() {
	if m.step == StepWaitingDestination && m.trackerCancel != nil {
		return
	}
	m.stopTrackerLocked()
	m.stopDwellLocked()
	m.setStepLocked(StepWaitingDestination)
	gen := m.generation

	tctx, cancel := context.WithCancel(m.ctx)
	m.trackerCancel = cancel
	tracker := tracking.NewDestinationTracker(m.gw, m.boarding.VehicleID, m.destinations, m.destIndex,
		m.cfg.DestinationPollInterval, m.cfg.DestinationFirstCheck, m.logger, m.mcol)
	tracker.Start(tctx)
	go m.consumeDestination(gen, tracker.Events())

	m.stopsRemaining = m.destIndex
	m.announceLocked(events.TypeAnnouncement, announceWaitingDestination(*m.destination, m.stopsRemaining))
}

func (m *Machine) consumeDestination(gen uint64, evs <-chan tracking.DestinationEvent) {
	for ev := range evs {
		m.handleDestinationEvent(gen, ev)
	}
}

func (m *Machine) handleDestinationEvent(gen uint64, ev tracking.DestinationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.step != StepWaitingDestination {
		return
	}

	switch ev.Outcome {
	case tracking.DestinationEnRoute:
		if ev.StopsRemaining != m.stopsRemaining {
			m.stopsRemaining = ev.StopsRemaining
			m.announceLocked(events.TypeAnnouncement, announceWaitingDestination(*m.destination, m.stopsRemaining))
		}
	case tracking.DestinationArrived:
		m.onDestinationArrivedLocked()
	}
}

func (m *Machine) onDestinationArrivedLocked() {
	m.stopTrackerLocked()
	m.cancelReservationLocked(m.ctx, reservation.Alighting)
	m.alightingID = ""
	m.stopsRemaining = 0

	if m.mcol != nil {
		m.mcol.Arrivals.WithLabelValues("destination").Inc()
	}
	m.announceLocked(events.TypeArrival, announceDestinationArrived(*m.destination))
	m.setStepLocked(StepArrivalDestination)
	m.armDwellLocked()
}

// resetLocked returns the machine to the start of the flow, discarding all
// session data.
func (m *Machine) resetLocked() {
	m.stopTrackerLocked()
	m.stopDwellLocked()
	m.stations = nil
	m.origin = nil
	m.routes = nil
	m.boarding = nil
	m.destinations = nil
	m.destination = nil
	m.destIndex = 0
	m.alightingID = ""
	m.stopsRemaining = 0
	m.eta = ""
	m.setStepLocked(StepSearchStation)
}

// setStepLocked performs the transition bookkeeping: every transition bumps
// the generation so timers and polls armed under the old step go stale.
func (m *Machine) setStepLocked(step Step) {
	m.generation++
	m.step = step
	if err := m.pub.PublishTripEvent(events.TripEvent{
		RiderID:   m.riderID,
		Type:      events.TypeStepChanged,
		Step:      string(step),
		Timestamp: time.Now(),
	}); err != nil {
		m.logger.Warn("Step event publish failed", "error", err, "step", string(step))
	}
	m.logger.Info("Step changed", "step", string(step))
}

// armDwellLocked time-boxes the current arrival screen: with no manual
// gesture within the dwell time the machine advances on its own.
func (m *Machine) armDwellLocked() {
	m.stopDwellLocked()
	gen := m.generation
	m.dwellTimer = time.AfterFunc(m.cfg.DwellTime, func() {
		m.autoAdvance(gen)
	})
}

func (m *Machine) autoAdvance(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	switch m.step {
	case StepArrivalBus:
		m.enterSelectDestinationLocked()
	case StepArrivalDestination:
		m.resetLocked()
	}
}

// stopTrackerLocked clears the live tracker handle, if any. Exits of the
// waiting states call this unconditionally: a leaked timer would keep firing
// reservation-mutating calls after the rider navigated away.
func (m *Machine) stopTrackerLocked() {
	if m.trackerCancel != nil {
		m.trackerCancel()
		m.trackerCancel = nil
	}
}

func (m *Machine) stopDwellLocked() {
	if m.dwellTimer != nil {
		m.dwellTimer.Stop()
		m.dwellTimer = nil
	}
}

func (m *Machine) cancelReservationLocked(ctx context.Context, kind reservation.Kind) {
	deleted, err := m.store.CancelAll(ctx, kind, m.riderID)
	if err != nil {
		m.logger.Error("Reservation cancel failed", "error", err, "kind", string(kind))
		return
	}
	if m.mcol != nil {
		m.mcol.ReservationsCancelled.Inc()
	}
	m.logger.Debug("Reservation cancelled", "kind", string(kind), "deleted", deleted)
}

func (m *Machine) announceLocked(eventType, text string) {
	if err := m.speaker.Speak(m.ctx, text); err != nil {
		m.logger.Warn("Announcement failed", "error", err)
	}
	if err := m.pub.PublishTripEvent(events.TripEvent{
		RiderID:   m.riderID,
		Type:      eventType,
		Step:      string(m.step),
		Text:      text,
		Timestamp: time.Now(),
	}); err != nil {
		m.logger.Warn("Announcement event publish failed", "error", err)
	}
}

// selectableDestinationsLocked is the snapshot minus the boarding stop
// itself, which is always its first element.
func (m *Machine) selectableDestinationsLocked() []gateway.Station {
	if len(m.destinations) < 2 {
		return nil
	}
	return m.destinations[1:]
}

func indexOfStationNamed(stops []gateway.Station, name string) int {
	for i, st := range stops {
		if st.Name == name {
			return i
		}
	}
	return -1
}
