package notifyqueue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"alerthub/internal/clock"
	"alerthub/internal/config"
	"alerthub/internal/domain"
	"alerthub/internal/ingest"
	"alerthub/internal/metrics"
	"alerthub/internal/notify"

	"github.com/nats-io/nats.go"
)

const (
	eventsStreamMaxAge = 24 * time.Hour
	defaultEventBuffer = 256
	asyncMaxPending    = 512
	flushTimeout       = 5 * time.Second
)

// NATSProducer publishes lifecycle events into a JetStream stream.
// Params: NATS connection, subject prefix, and a bounded hand-off buffer.
// Returns: queue producer implementation and publisher subscriber.
type NATSProducer struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	prefix  string
	service string
	logger  *slog.Logger
	clock   clock.Clock

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

// NewNATSProducer creates JetStream producer for lifecycle events.
// Params: NATS config, service name stamped on events, buffer (<=0 means 256), logger, and clock.
// Returns: initialized producer or setup error.
func NewNATSProducer(cfg config.NATSConfig, service string, buffer int, logger *slog.Logger, clk clock.Clock) (*NATSProducer, error) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("alerthub-events"))
	if err != nil {
		return nil, fmt.Errorf("connect events nats: %w", err)
	}
	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(asyncMaxPending),
		nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
			if logger != nil {
				logger.Warn("nats event publish failed", "subject", msg.Subject, "error", err.Error())
			}
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for events: %w", err)
	}
	prefix := strings.TrimSuffix(cfg.EventsPrefix, ".")
	if err := ingest.EnsureStream(js, cfg.EventsStream, prefix+".>", nats.LimitsPolicy, eventsStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}

	producer := &NATSProducer{
		nc:      nc,
		js:      js,
		prefix:  prefix,
		service: service,
		logger:  logger,
		clock:   clk,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go producer.loop()
	return producer, nil
}

// Handler returns a publisher subscriber that hands events to the async loop.
// Params: none.
// Returns: handler that never blocks; events are dropped when the buffer is full.
func (p *NATSProducer) Handler() notify.Handler {
	return func(kind domain.EventKind, alert domain.AlertRecord) {
		event := Event{
			ID:          BuildEventID(kind, alert),
			Kind:        kind,
			Alert:       alert,
			Service:     p.service,
			PublishedAt: p.clock.Now(),
		}
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed {
			return
		}
		select {
		case p.events <- event:
		default:
			metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
			if p.logger != nil {
				p.logger.Warn("nats event dropped, buffer full", "kind", kind, "alert_id", alert.ID)
			}
		}
	}
}

func (p *NATSProducer) loop() {
	defer close(p.done)
	for event := range p.events {
		msg, err := p.message(event)
		if err == nil {
			_, err = p.js.PublishMsgAsync(msg)
		}
		if err != nil {
			metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
			if p.logger != nil {
				p.logger.Warn("nats event publish failed", "kind", event.Kind, "alert_id", event.Alert.ID, "error", err.Error())
			}
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues("queued").Inc()
	}
}

func (p *NATSProducer) message(event Event) (*nats.Msg, error) {
	if event.ID == "" {
		event.ID = BuildEventID(event.Kind, event.Alert)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal lifecycle event: %w", err)
	}
	msg := nats.NewMsg(Subject(p.prefix, event.Kind))
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", event.ID)
	return msg, nil
}

// Close drains buffered events, waits for pending acks, and closes the connection.
// Params: none.
// Returns: nil; unacked publishes past the flush timeout are logged.
func (p *NATSProducer) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.done
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(flushTimeout):
		if p.logger != nil {
			p.logger.Warn("nats event flush timed out", "pending", p.js.PublishAsyncPending())
		}
	}
	p.nc.Close()
	return nil
}
