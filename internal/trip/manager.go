package trip

import (
	"context"
	"errors"
	"sync"

	"github.com/blindroute-core/internal/common/config"
	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/events"
	"github.com/blindroute-core/internal/gateway"
	"github.com/blindroute-core/internal/metrics"
	"github.com/blindroute-core/internal/reservation"
)

var ErrNoSession = errors.New("no active session for rider")

// SpeakerFactory builds the speech capability for a new session. Returning
// nil yields a silent session.
type SpeakerFactory func(riderID string) Speaker

// Manager owns the live trip machines, one per rider.
type Manager struct {
	store   reservation.Store
	gw      gateway.Client
	pub     events.Publisher
	mcol    *metrics.Collector
	logger  logger.Logger
	cfg     config.TripConfig
	speaker SpeakerFactory

	mu       sync.Mutex
	sessions map[string]*Machine
}

func NewManager(store reservation.Store, gw gateway.Client, pub events.Publisher,
	mcol *metrics.Collector, log logger.Logger, cfg config.TripConfig, speaker SpeakerFactory) *Manager {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Manager{
		store:    store,
		gw:       gw,
		pub:      pub,
		mcol:     mcol,
		logger:   log,
		cfg:      cfg,
		speaker:  speaker,
		sessions: make(map[string]*Machine),
	}
}

// Open returns the rider's machine, creating it on first use. Reopening an
// existing session hands back the live machine unchanged.
func (mgr *Manager) Open(riderID string) *Machine {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if m, ok := mgr.sessions[riderID]; ok {
		return m
	}

	var sp Speaker
	if mgr.speaker != nil {
		sp = mgr.speaker(riderID)
	}
	m := NewMachine(riderID, mgr.store, mgr.gw, sp, mgr.pub, mgr.mcol, mgr.logger, mgr.cfg)
	mgr.sessions[riderID] = m
	if mgr.mcol != nil {
		mgr.mcol.ActiveSessions.Inc()
	}
	mgr.logger.Info("Session opened", "rider", riderID)
	return m
}

// Get returns the rider's live machine, or ErrNoSession.
func (mgr *Manager) Get(riderID string) (*Machine, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	m, ok := mgr.sessions[riderID]
	if !ok {
		return nil, ErrNoSession
	}
	return m, nil
}

// End closes and removes the rider's session. Ending a session that does not
// exist is a no-op.
func (mgr *Manager) End(ctx context.Context, riderID string) {
	mgr.mu.Lock()
	m, ok := mgr.sessions[riderID]
	if ok {
		delete(mgr.sessions, riderID)
		if mgr.mcol != nil {
			mgr.mcol.ActiveSessions.Dec()
		}
	}
	mgr.mu.Unlock()

	if ok {
		m.Close(ctx)
		mgr.logger.Info("Session ended", "rider", riderID)
	}
}

// Shutdown closes every live session. Used at process exit so trackers stop
// and live reservations are released.
func (mgr *Manager) Shutdown(ctx context.Context) {
	mgr.mu.Lock()
	machines := make([]*Machine, 0, len(mgr.sessions))
	for id, m := range mgr.sessions {
		machines = append(machines, m)
		delete(mgr.sessions, id)
		if mgr.mcol != nil {
			mgr.mcol.ActiveSessions.Dec()
		}
	}
	mgr.mu.Unlock()

	for _, m := range machines {
		m.Close(ctx)
	}
	mgr.logger.Info("All sessions closed", "count", len(machines))
}
