// Package forward republishes bus events on NATS.
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aristath/admit/internal/events"
)

// Publisher is the part of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body of every forwarded message.
type Envelope struct {
	Type  string       `json:"type"`
	Run   string       `json:"run"`
	Task  string       `json:"task,omitempty"`
	Event events.Event `json:"event"`
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// Subject returns "<prefix>.<run>.<event type>". Characters NATS treats
// specially are replaced in the run ID.
func Subject(prefix string, ev events.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectReplacer.Replace(ev.RunID()), ev.EventType())
}

// Forwarder publishes every event it receives.
type Forwarder struct {
	pub    Publisher
	prefix string
	logger *slog.Logger

	failures atomic.Uint64
	wg       sync.WaitGroup
}

// New creates a forwarder publishing under prefix.
func New(pub Publisher, prefix string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{pub: pub, prefix: prefix, logger: logger}
}

// Forward publishes one event.
func (f *Forwarder) Forward(ev events.Event) error {
	data, err := json.Marshal(Envelope{
		Type:  ev.EventType(),
		Run:   ev.RunID(),
		Task:  ev.TaskID(),
		Event: ev,
	})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.EventType(), err)
	}
	subject := Subject(f.prefix, ev)
	if err := f.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Start forwards run, task and output events from bus until ctx is done or
// the bus is closed. Progress events stay local. Publish errors are logged
// and counted, never fatal.
func (f *Forwarder) Start(ctx context.Context, bus *events.EventBus) {
	ch := bus.Subscribe(4096, events.TopicRun, events.TopicTask, events.TopicOutput)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := f.Forward(ev); err != nil {
					f.failures.Add(1)
					f.logger.Warn("event not forwarded", "error", err)
				}
			}
		}
	}()
}

// Wait blocks until the goroutine started by Start returns.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

// Failures returns the number of events that could not be published.
func (f *Forwarder) Failures() uint64 {
	return f.failures.Load()
}

// Connect dials a NATS server, logging connection state changes.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("admit"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}
