package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/haasonsaas/tariti/pkg/models"
)

var errStreamClosed = errors.New("event stream closed")

// sseSink writes turn events as server-sent events. A comment line is sent
// every keepalive interval so proxies keep the connection open while the
// model is thinking.
type sseSink struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	release func()
}

// newSSESink commits the response headers and starts the keepalive. ctx is
// the request context; Send fails once it is done.
func newSSESink(ctx context.Context, w http.ResponseWriter, keepalive time.Duration, release func()) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if release == nil {
		release = func() {}
	}
	s := &sseSink{
		ctx:     ctx,
		w:       w,
		flusher: flusher,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		release: release,
	}
	go s.keepalive(keepalive)
	return s, nil
}

func (s *sseSink) keepalive(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.closed {
				if _, err := fmt.Fprint(s.w, ": ping\n\n"); err == nil {
					s.flusher.Flush()
				}
			}
			s.mu.Unlock()
		}
	}
}

// Send writes one "data:" frame.
func (s *sseSink) Send(e models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close stops the keepalive. The response must not be written afterwards.
func (s *sseSink) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.release()
	})
	return nil
}
