package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/frak-id/atelier-sub002/internal/opencode"
)

// State is the lifecycle phase of a Subscription.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateRetrying   State = "retrying"
	// StatePolling means retries are exhausted; consumers rely on polling.
	StatePolling   State = "polling"
	StateCancelled State = "cancelled"
)

// EventSource is an open event stream.
type EventSource interface {
	Next() (opencode.Event, error)
	Close() error
}

// Dialer opens a new event stream.
type Dialer func(ctx context.Context) (EventSource, error)

// DialerFactory builds the Dialer for a runtime base URL.
type DialerFactory func(url string) Dialer

// OpencodeDialer dials runtime event streams with opencode clients.
func OpencodeDialer(timeout time.Duration) DialerFactory {
	return func(url string) Dialer {
		client := opencode.NewClient(url, timeout)
		return func(ctx context.Context) (EventSource, error) {
			stream, err := client.SubscribeEvents(ctx)
			if err != nil {
				return nil, err
			}
			return stream, nil
		}
	}
}

// RetryPolicy bounds reconnection after a stream fails or ends.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy waits 3s, doubling up to 30s, for at most 10 attempts.
var DefaultRetryPolicy = RetryPolicy{
	Initial:     3 * time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 10,
}

// Delay returns the wait before reconnect attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// EventHook observes every decoded event after invalidation.
type EventHook func(url string, ev opencode.Event)

// Subscription owns one sandbox event stream. It is started once and
// cancelled once; both are safe to call repeatedly.
type Subscription struct {
	url    string
	dial   Dialer
	sink   Invalidator
	policy RetryPolicy
	hook   EventHook
	logger *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	startOnce  sync.Once
	cancelOnce sync.Once
	started    chan struct{}
	done       chan struct{}

	mu       sync.Mutex
	state    State
	attempts int
	events   int64
}

func NewSubscription(url string, dial Dialer, sink Invalidator, policy RetryPolicy, hook EventHook, logger *slog.Logger) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		url:     url,
		dial:    dial,
		sink:    sink,
		policy:  policy,
		hook:    hook,
		logger:  logger.With("component", "live", "sandbox", url),
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
}

// URL returns the runtime address this subscription streams from.
func (s *Subscription) URL() string {
	return s.url
}

// Start begins streaming in the background.
func (s *Subscription) Start() {
	s.startOnce.Do(func() {
		close(s.started)
		go s.run()
	})
}

// Cancel aborts the stream and waits until its connection is released.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancel)
	select {
	case <-s.started:
		<-s.done
	default:
		// Never started: make a later Start a no-op.
		s.startOnce.Do(func() {
			s.setState(StateCancelled)
			close(s.done)
		})
		select {
		case <-s.started:
			<-s.done
		default:
		}
	}
}

// Done is closed once the subscription has stopped for good, either by
// cancellation or by exhausting its retries.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle phase.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of consecutive failed connections.
func (s *Subscription) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Events returns the number of events received so far.
func (s *Subscription) Events() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

func (s *Subscription) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Subscription) run() {
	defer close(s.done)

	failures := 0
	connectedBefore := false
	for {
		if s.ctx.Err() != nil {
			s.setState(StateCancelled)
			return
		}

		s.setState(StateConnecting)
		stream, err := s.dial(s.ctx)
		if err == nil {
			s.setState(StateConnected)
			if connectedBefore {
				// Events may have been missed while disconnected.
				s.sink.InvalidateAll(s.url)
			}
			connectedBefore = true

			var received int
			received, err = s.consume(stream)
			if received > 0 {
				failures = 0
				s.mu.Lock()
				s.attempts = 0
				s.mu.Unlock()
			}
		}

		if s.ctx.Err() != nil {
			s.setState(StateCancelled)
			return
		}

		failures++
		s.mu.Lock()
		s.attempts = failures
		s.mu.Unlock()

		if failures >= s.policy.MaxAttempts {
			s.logger.Warn("event stream gave up, falling back to polling", "attempts", failures, "error", err)
			s.setState(StatePolling)
			return
		}

		delay := s.policy.Delay(failures)
		s.logger.Info("event stream disconnected, retrying", "attempt", failures, "delay", delay.String(), "error", err)
		s.setState(StateRetrying)

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.setState(StateCancelled)
			return
		case <-timer.C:
		}
	}
}

// consume reads events until the stream fails, ends or is cancelled.
func (s *Subscription) consume(stream EventSource) (int, error) {
	stop := context.AfterFunc(s.ctx, func() { stream.Close() })
	defer func() {
		stop()
		stream.Close()
	}()

	received := 0
	for {
		ev, err := stream.Next()
		if errors.Is(err, opencode.ErrMalformedEvent) {
			s.logger.Debug("skipping malformed event", "error", err)
			continue
		}
		if errors.Is(err, io.EOF) {
			return received, errors.New("stream ended")
		}
		if err != nil {
			return received, err
		}

		received++
		s.mu.Lock()
		s.events++
		s.mu.Unlock()

		if slices := SlicesFor(ev); len(slices) > 0 {
			s.sink.Invalidate(s.url, slices...)
		}
		if s.hook != nil {
			s.hook(s.url, ev)
		}
	}
}
