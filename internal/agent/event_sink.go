package agent

import (
	"log/slog"
	"sync"

	"github.com/haasonsaas/tariti/pkg/models"
)

// Sink receives the events of one turn in order. Send fails once the client
// is gone; Close flushes and releases the transport.
type Sink interface {
	Send(e models.Event) error
	Close() error
}

// SinkFunc adapts a function to Sink. Close is a no-op.
type SinkFunc func(e models.Event) error

// Send calls f(e).
func (f SinkFunc) Send(e models.Event) error { return f(e) }

// Close implements Sink.
func (f SinkFunc) Close() error { return nil }

// detachedSink forwards to a client sink until the first send error, then
// drops every later event so the turn can finish without a reader.
type detachedSink struct {
	mu     sync.Mutex
	sink   Sink
	gone   bool
	logger *slog.Logger
}

func detach(sink Sink, logger *slog.Logger) *detachedSink {
	if ds, ok := sink.(*detachedSink); ok {
		return ds
	}
	return &detachedSink{sink: sink, logger: logger}
}

func (s *detachedSink) Send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone || s.sink == nil {
		return nil
	}
	if err := s.sink.Send(e); err != nil {
		s.gone = true
		s.logger.Debug("client disconnected, dropping remaining events", "event", e.Type, "error", err)
	}
	return nil
}

func (s *detachedSink) Close() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}

// Disconnected reports whether the client stopped accepting events.
func (s *detachedSink) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}
