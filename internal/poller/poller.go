// Package poller drives the client-side "going live" experience: it
// repeatedly asks the backend to check-and-transition a broadcast until a
// definitive outcome is reached or its cycle budget runs out. Budget
// exhaustion is deliberately fail-open: the stream is presented as live
// rather than blocking the user on a flaky third-party transition.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CheckResponse mirrors the backend's check-and-go-live reply.
type CheckResponse struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	CanRetry bool   `json:"canRetry"`
}

// GoLiveClient is the single operation the poller needs. The HTTP Client in
// this package implements it; tests script it directly.
type GoLiveClient interface {
	CheckAndGoLive(ctx context.Context, broadcastID string) (CheckResponse, error)
}

// Result classifies how a polling session ended.
type Result string

const (
	// ResultConfirmedLive: the platform confirmed the transition.
	ResultConfirmedLive Result = "confirmed-live"
	// ResultDeclaredLive: the backend reported a terminal state with no
	// useful retries left; the session proceeds as live anyway.
	ResultDeclaredLive Result = "declared-live"
	// ResultGiveUp: the cycle budget ran out without confirmation; the
	// session proceeds as live anyway.
	ResultGiveUp Result = "give-up-declare-live"
	// ResultCancelled: the user stopped the stream before any stop
	// condition was reached.
	ResultCancelled Result = "cancelled"
)

// Outcome summarizes one polling session.
type Outcome struct {
	Result     Result
	Cycles     int
	LastStatus string
	Err        error
}

// PresentAsLive reports whether the UI should flip to the live state. Every
// stop condition except cancellation does.
func (o Outcome) PresentAsLive() bool {
	switch o.Result {
	case ResultConfirmedLive, ResultDeclaredLive, ResultGiveUp:
		return true
	}
	return false
}

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxCycles   = 10
	DefaultCallTimeout = 10 * time.Second
)

// Option customises a Poller.
type Option func(*Poller)

// WithInterval overrides the delay between poll cycles.
func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithMaxCycles overrides the cycle budget.
func WithMaxCycles(cycles int) Option {
	return func(p *Poller) {
		if cycles > 0 {
			p.maxCycles = cycles
		}
	}
}

// WithCallTimeout bounds each individual backend call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(p *Poller) {
		if timeout > 0 {
			p.callTimeout = timeout
		}
	}
}

// WithBudget sets an overall wall-clock ceiling for the whole polling
// session so the nested retry layers share one limit.
func WithBudget(budget time.Duration) Option {
	return func(p *Poller) {
		if budget > 0 {
			p.budget = budget
		}
	}
}

// WithWaiter replaces the inter-cycle wait. Tests inject fake clocks here.
func WithWaiter(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		if wait != nil {
			p.wait = wait
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Poller runs a bounded check-and-go-live loop. Cycles are strictly
// sequential: the next wait starts only after the previous call settles, so
// slow backend calls can never overlap.
type Poller struct {
	client      GoLiveClient
	interval    time.Duration
	maxCycles   int
	callTimeout time.Duration
	budget      time.Duration
	wait        func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a Poller with the defaults from the mobile client: first
// poll immediate, then every 5s, at most 10 cycles, 10s per call.
func New(client GoLiveClient, opts ...Option) *Poller {
	poller := &Poller{
		client:      client,
		interval:    DefaultInterval,
		maxCycles:   DefaultMaxCycles,
		callTimeout: DefaultCallTimeout,
		wait:        waitContext,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(poller)
		}
	}
	return poller
}

// Run polls until a stop condition is reached and returns the outcome. It
// blocks; callers typically run it in a goroutine and use Stop to cancel.
func (p *Poller) Run(ctx context.Context, broadcastID string) Outcome {
	var runCtx context.Context
	var cancel context.CancelFunc
	if p.budget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.budget)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	logger := p.logger.With("broadcast_id", broadcastID)
	var lastErr error
	var lastStatus string

	for cycle := 1; cycle <= p.maxCycles; cycle++ {
		if cycle > 1 {
			if err := p.wait(runCtx, p.interval); err != nil {
				return Outcome{Result: ResultCancelled, Cycles: cycle - 1, LastStatus: lastStatus, Err: err}
			}
		}

		callCtx, done := context.WithTimeout(runCtx, p.callTimeout)
		response, err := p.client.CheckAndGoLive(callCtx, broadcastID)
		done()

		if runCtx.Err() != nil {
			// Stopped while the call was in flight: the result is discarded.
			return Outcome{Result: ResultCancelled, Cycles: cycle - 1, LastStatus: lastStatus, Err: runCtx.Err()}
		}
		if err != nil {
			// Transient failure consumes the cycle.
			lastErr = err
			logger.Warn("go-live poll failed", "cycle", cycle, "error", err)
			continue
		}

		lastStatus = response.Status
		if response.Success {
			logger.Info("broadcast confirmed live", "cycles", cycle)
			return Outcome{Result: ResultConfirmedLive, Cycles: cycle, LastStatus: response.Status}
		}
		if !response.CanRetry {
			logger.Info("no retries left on the backend, declaring live", "cycles", cycle, "status", response.Status)
			return Outcome{Result: ResultDeclaredLive, Cycles: cycle, LastStatus: response.Status}
		}
	}

	logger.Info("poll budget exhausted, declaring live", "cycles", p.maxCycles)
	return Outcome{Result: ResultGiveUp, Cycles: p.maxCycles, LastStatus: lastStatus, Err: lastErr}
}

// Stop cancels the polling session immediately. No cycle fires afterwards
// and any in-flight call's result is discarded. Safe to call more than once
// and before Run.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
}

func waitContext(ctx context.Context, d time.Duration) error {
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
