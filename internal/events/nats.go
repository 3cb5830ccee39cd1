package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/blindroute-core/internal/common/logger"
)

// Event types published on trip.<rider>.<type> subjects.
const (
	TypeStepChanged  = "step_changed"
	TypeAnnouncement = "announcement"
	TypeArrival      = "arrival"
)

// TripEvent is the JSON payload presentation clients subscribe to. Text is
// the spoken announcement for the event, already assembled server-side so a
// thin client can hand it straight to a speech engine.
type TripEvent struct {
	RiderID   string    `json:"riderId"`
	Type      string    `json:"type"`
	Step      string    `json:"step"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the boundary the trip machine publishes through. A nil-safe
// no-op implementation exists for runs without a broker.
type Publisher interface {
	PublishTripEvent(ev TripEvent) error
	Close()
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	logger      logger.Logger
	metrics     PublisherMetrics
}

func NewNATSPublisher(url string, logSubjects bool, log logger.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("blindroute-core"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, logger: log, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) PublishTripEvent(ev TripEvent) error {
	subject := fmt.Sprintf("trip.%s.%s", subjectToken(ev.RiderID), subjectToken(ev.Type))
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("NATS publish", "subject", subject)
	}
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// NopPublisher drops every event. Used when no broker is configured and in
// tests.
type NopPublisher struct{}

func (NopPublisher) PublishTripEvent(TripEvent) error { return nil }
func (NopPublisher) Close()                           {}
