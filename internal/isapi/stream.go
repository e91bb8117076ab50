package isapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/icholy/digest"

	"github.com/technosupport/ts-presence/internal/metrics"
)

// ErrRetriesExhausted is returned by Run when every reconnect attempt has
// failed. The stream is permanently stopped at that point; the process stays
// alive, so operators must watch for this via Status / the health endpoint.
var ErrRetriesExhausted = errors.New("event stream: retries exhausted")

const (
	DefaultMaxRetries = 3
	defaultRetryDelay = time.Second
	readBufferSize    = 4096
)

// HandlerFunc receives each framed and parsed event, synchronously and in
// stream order. A slow handler backpressures the connection read loop.
type HandlerFunc func(Event)

// StreamState labels the supervisor's connection lifecycle for status
// reporting.
type StreamState string

const (
	StateIdle      StreamState = "idle"
	StateConnected StreamState = "connected"
	StateRetrying  StreamState = "retrying"
	StateStopped   StreamState = "stopped"
)

// Status is a point-in-time snapshot of the supervisor, served on /healthz.
type Status struct {
	State       StreamState `json:"state"`
	RetriesLeft int         `json:"retries_left"`
	Reconnects  int         `json:"reconnects"`
	LastError   string      `json:"last_error,omitempty"`
	LastEventAt time.Time   `json:"last_event_at,omitzero"`
}

// SupervisorConfig carries the stream endpoint and retry policy.
type SupervisorConfig struct {
	URL        string
	Username   string
	Password   string
	MaxRetries int           // reconnect attempts before giving up; default 3
	RetryDelay time.Duration // spacing between attempts; default 1s
}

// Supervisor owns the event-stream connection lifecycle: connect with Digest
// auth, read and frame the chunked body, dispatch each record to the handler,
// reconnect on failure with bounded attempts.
type Supervisor struct {
	cfg     SupervisorConfig
	client  *http.Client
	handler HandlerFunc

	mu     sync.RWMutex
	status Status
}

func NewSupervisor(cfg SupervisorConfig, handler HandlerFunc) *Supervisor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Supervisor{
		cfg: cfg,
		client: &http.Client{
			// No client timeout: the response body is unbounded by design.
			Transport: &digest.Transport{
				Username: cfg.Username,
				Password: cfg.Password,
			},
		},
		handler: handler,
		status:  Status{State: StateIdle, RetriesLeft: cfg.MaxRetries},
	}
}

// Run blocks until the context is canceled or retries are exhausted. A
// period of successful reading resets the attempt counter to the maximum;
// each failed attempt decrements it, with a fixed delay in between. Failures
// here are expected to be transient link drops, so there is no backoff
// escalation.
func (s *Supervisor) Run(ctx context.Context) error {
	retries := s.cfg.MaxRetries
	for {
		read, err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			s.setState(StateStopped, retries, "shutdown")
			return ctx.Err()
		}
		if read {
			retries = s.cfg.MaxRetries
		}

		metrics.StreamFailures.Inc()
		log.Printf("[ERROR] event stream: %v", err)

		retries--
		s.setState(StateRetrying, retries, err.Error())
		if retries <= 0 {
			metrics.StreamExhausted.Inc()
			s.setState(StateStopped, 0, err.Error())
			log.Printf("[ERROR] event stream: max retries exceeded, giving up; presence lighting is no longer receiving events")
			return ErrRetriesExhausted
		}

		log.Printf("[WARN] event stream: retrying in %s (%d retries left)", s.cfg.RetryDelay, retries)
		select {
		case <-ctx.Done():
			s.setState(StateStopped, retries, "shutdown")
			return ctx.Err()
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

// connectAndStream performs one connection attempt and reads until the
// stream fails. It always returns a non-nil error (a healthy stream never
// ends); the bool reports whether any body bytes were read, which is what
// resets the retry budget.
func (s *Supervisor) connectAndStream(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("event stream request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("event stream connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("event stream connect: status %d", resp.StatusCode)
	}

	log.Printf("[INFO] connected to event stream at %s", s.cfg.URL)
	metrics.StreamConnects.Inc()
	s.bumpReconnects()
	s.setState(StateConnected, s.cfg.MaxRetries, "")

	framer := &Framer{}
	buf := make([]byte, readBufferSize)
	read := false
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			read = true
			for _, record := range framer.Append(buf[:n]) {
				s.dispatch(record)
			}
		}
		if err != nil {
			return read, fmt.Errorf("event stream read: %w", err)
		}
	}
}

// dispatch parses one framed record and hands it to the handler. A malformed
// record is local damage: drop it, log it, keep the connection.
func (s *Supervisor) dispatch(record []byte) {
	ev, err := ParseEvent(record)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("parse_error").Inc()
		log.Printf("[WARN] event stream: dropping malformed record: %v", err)
		return
	}

	metrics.EventsReceived.Inc()
	s.mu.Lock()
	s.status.LastEventAt = time.Now()
	s.mu.Unlock()

	s.handler(ev)
}

// Status returns a copy of the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) setState(state StreamState, retriesLeft int, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.RetriesLeft = retriesLeft
	s.status.LastError = lastErr
}

func (s *Supervisor) bumpReconnects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Reconnects++
}
