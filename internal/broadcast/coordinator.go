package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"openair-live/internal/observability/metrics"
	"openair-live/internal/platform/youtube"
)

// State enumerates the coordinator's per-broadcast machine. Live and Failed
// are hard-terminal; PartiallyLive is a soft terminal that a later sequence
// may re-enter from.
type State string

const (
	StateIdle          State = "idle"
	StateAttempting    State = "attempting"
	StateBackoff       State = "backoff"
	StateLive          State = "live"
	StateFailed        State = "failed"
	StatePartiallyLive State = "partially_live"
)

// Confidence separates the optimistic client-facing state from what the
// platform actually confirmed.
type Confidence string

const (
	ConfidenceConfirmed Confidence = "confirmed"
	ConfidenceAssumed   Confidence = "assumed"
	ConfidenceFailed    Confidence = "failed"
)

// Outcome is the definitive result of one go-live attempt sequence.
type Outcome struct {
	State      State
	Confidence Confidence
	Attempts   int
	Err        error
}

// Live reports a platform-confirmed transition.
func (o Outcome) Live() bool {
	return o.State == StateLive
}

// CanRetry reports whether a later sequence could still succeed. Only the
// soft backoff-exhausted outcome qualifies; hard failures never resolve by
// retrying.
func (o Outcome) CanRetry() bool {
	return o.State == StatePartiallyLive
}

// StatusReport is the read-only view served to pollers. Producing it must
// never trigger a transition attempt.
type StatusReport struct {
	Lifecycle    youtube.LifecycleStatus
	IngestActive bool
	StreamHealth string
}

const (
	// DefaultMaxAttempts bounds one transition sequence.
	DefaultMaxAttempts = 3

	defaultFirstDelay      = 5 * time.Second
	defaultDelayMultiplier = 4
)

// DefaultBackoff yields 5s, 20s, 60s for attempts 1..3: the first retry is
// quick enough for a waiting user, the later ones leave room for the RTMP
// handshake and first keyframe to land.
func DefaultBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := defaultFirstDelay
	for i := 1; i < attempt; i++ {
		delay *= defaultDelayMultiplier
	}
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithMaxAttempts overrides the per-sequence attempt budget.
func WithMaxAttempts(attempts int) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithBackoff overrides the delay schedule. The schedule must be
// monotonically non-decreasing in the attempt number.
func WithBackoff(backoff func(attempt int) time.Duration) Option {
	return func(c *Coordinator) {
		if backoff != nil {
			c.backoff = backoff
		}
	}
}

// WithSleeper replaces the backoff wait. Tests inject fake clocks here.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(c *Coordinator) {
		if recorder != nil {
			c.metrics = recorder
		}
	}
}

// Coordinator drives a provisioned broadcast from ready to live. Attempt
// sequences for one broadcastId are strictly serialized: concurrent GoLive
// calls for the same id join the in-flight sequence instead of issuing
// overlapping transitions.
type Coordinator struct {
	platform    Platform
	logger      *slog.Logger
	metrics     *metrics.Recorder
	maxAttempts int
	backoff     func(attempt int) time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu       sync.Mutex
	terminal map[string]Outcome
}

// NewCoordinator constructs a Coordinator with the default backoff schedule.
func NewCoordinator(platform Platform, opts ...Option) *Coordinator {
	coordinator := &Coordinator{
		platform:    platform,
		logger:      slog.Default(),
		metrics:     metrics.Default(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sleep:       sleepContext,
		terminal:    make(map[string]Outcome),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(coordinator)
		}
	}
	return coordinator
}

// GoLive runs one bounded transition sequence for the handle and returns a
// definitive outcome. The only error return is cancellation; every platform
// failure is folded into the outcome so callers get exactly one of
// live / partially-live / failed.
func (c *Coordinator) GoLive(ctx context.Context, handle Handle) (Outcome, error) {
	if !handle.Valid() {
		return Outcome{}, fmt.Errorf("broadcast handle is required")
	}
	if outcome, ok := c.latched(handle.BroadcastID); ok {
		return outcome, nil
	}

	result, err, _ := c.group.Do(handle.BroadcastID, func() (interface{}, error) {
		return c.runSequence(ctx, handle)
	})
	if err != nil {
		return Outcome{}, err
	}
	return result.(Outcome), nil
}

func (c *Coordinator) runSequence(ctx context.Context, handle Handle) (Outcome, error) {
	id := handle.BroadcastID
	logger := c.logger.With("broadcast_id", id)

	// Re-check under the singleflight: a sequence that just completed may
	// have latched a terminal state while this caller was queued.
	if outcome, ok := c.latched(id); ok {
		return outcome, nil
	}

	// Read-before-write: the platform may have transitioned asynchronously
	// after an earlier soft give-up, or the broadcast may already be done.
	if lifecycle, err := c.platform.BroadcastStatus(ctx, id); err == nil {
		switch {
		case lifecycle == youtube.LifecycleLive:
			outcome := Outcome{State: StateLive, Confidence: ConfidenceConfirmed}
			c.latch(id, outcome)
			c.metrics.ObserveTransitionOutcome(string(StateLive))
			logger.Info("broadcast already live")
			return outcome, nil
		case lifecycle.Terminal():
			outcome := Outcome{
				State:      StateFailed,
				Confidence: ConfidenceFailed,
				Err:        fmt.Errorf("%w: broadcast is %s", youtube.ErrInvalidTransition, lifecycle),
			}
			c.latch(id, outcome)
			c.metrics.ObserveTransitionOutcome(string(StateFailed))
			return outcome, nil
		}
	} else if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	// Status-read failures fall through: the transition attempt itself is
	// the authoritative probe.

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.metrics.ObserveTransitionAttempt()
		err := c.platform.Transition(ctx, id, youtube.LifecycleLive)
		if err == nil {
			outcome := Outcome{State: StateLive, Confidence: ConfidenceConfirmed, Attempts: attempt}
			c.latch(id, outcome)
			c.metrics.ObserveTransitionOutcome(string(StateLive))
			logger.Info("broadcast transitioned to live", "attempts", attempt)
			return outcome, nil
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}

		retryable := errors.Is(err, youtube.ErrIngestInactive) || youtube.IsRetryable(err)
		if !retryable {
			outcome := Outcome{State: StateFailed, Confidence: ConfidenceFailed, Attempts: attempt, Err: err}
			c.latch(id, outcome)
			c.metrics.ObserveTransitionOutcome(string(StateFailed))
			logger.Warn("go-live failed permanently", "attempt", attempt, "error", err)
			return outcome, nil
		}

		if attempt == c.maxAttempts {
			// Budget exhausted with only retryable failures: proceed as if
			// live. The platform may still flip asynchronously, and a later
			// sequence is allowed to try again.
			outcome := Outcome{State: StatePartiallyLive, Confidence: ConfidenceAssumed, Attempts: attempt, Err: err}
			c.metrics.ObserveTransitionOutcome(string(StatePartiallyLive))
			logger.Info("transition budget exhausted, proceeding as live", "attempts", attempt)
			return outcome, nil
		}

		delay := c.backoff(attempt)
		logger.Info("ingest not active yet, backing off",
			"attempt", attempt,
			"delay_s", delay.Seconds())
		if err := c.sleep(ctx, delay); err != nil {
			// Cancelled mid-backoff: no further attempt, no latched state.
			return Outcome{}, err
		}
	}
	return Outcome{}, fmt.Errorf("transition sequence ended without an outcome")
}

// Status reads the broadcast lifecycle and ingest health without issuing a
// transition. Idempotent by construction: it only performs GETs.
func (c *Coordinator) Status(ctx context.Context, handle Handle) (StatusReport, error) {
	if !handle.Valid() {
		return StatusReport{}, fmt.Errorf("broadcast handle is required")
	}
	lifecycle, err := c.platform.BroadcastStatus(ctx, handle.BroadcastID)
	if err != nil {
		return StatusReport{}, err
	}
	report := StatusReport{Lifecycle: lifecycle}
	if handle.StreamID != "" {
		stream, err := c.platform.StreamStatus(ctx, handle.StreamID)
		if err == nil {
			report.IngestActive = stream.Status == youtube.StreamActive
			report.StreamHealth = stream.Health
		}
	}
	return report, nil
}

// Forget drops any latched state for the broadcast. Called when a session
// ends so the map does not grow across sessions.
func (c *Coordinator) Forget(broadcastID string) {
	c.mu.Lock()
	delete(c.terminal, broadcastID)
	c.mu.Unlock()
}

func (c *Coordinator) latched(broadcastID string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome, ok := c.terminal[broadcastID]
	return outcome, ok
}

func (c *Coordinator) latch(broadcastID string, outcome Outcome) {
	c.mu.Lock()
	c.terminal[broadcastID] = outcome
	c.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
