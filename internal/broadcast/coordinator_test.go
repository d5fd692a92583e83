package broadcast

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"openair-live/internal/observability/metrics"
	"openair-live/internal/platform/youtube"
)

func ingestInactiveErr() error {
	return &youtube.APIError{StatusCode: http.StatusForbidden, Reason: "errorStreamInactive", Message: "Stream is inactive"}
}

func notFoundErr() error {
	return &youtube.APIError{StatusCode: http.StatusNotFound, Reason: "liveBroadcastNotFound", Message: "broadcast not found"}
}

// fakePlatform scripts per-call transition results and records every call.
type fakePlatform struct {
	mu sync.Mutex

	transitionErrs  []error
	transitionCalls int
	transitionGate  chan struct{}

	lifecycle    youtube.LifecycleStatus
	lifecycleErr error
	statusCalls  int

	stream    youtube.Stream
	streamErr error

	insertBroadcastErr error
	insertStreamErr    error
	bindErr            error

	deletedBroadcasts []string
	deletedStreams    []string
}

func (f *fakePlatform) InsertBroadcast(_ context.Context, title, _ string) (youtube.Broadcast, error) {
	if f.insertBroadcastErr != nil {
		return youtube.Broadcast{}, f.insertBroadcastErr
	}
	return youtube.Broadcast{ID: "bc-1", Title: title, Status: youtube.LifecycleReady}, nil
}

func (f *fakePlatform) InsertStream(_ context.Context, _ string) (youtube.Stream, error) {
	if f.insertStreamErr != nil {
		return youtube.Stream{}, f.insertStreamErr
	}
	return youtube.Stream{ID: "st-1", IngestAddress: "rtmp://ingest.example/live", StreamKey: "key-1"}, nil
}

func (f *fakePlatform) Bind(context.Context, string, string) error {
	return f.bindErr
}

func (f *fakePlatform) Transition(ctx context.Context, _ string, _ youtube.LifecycleStatus) error {
	if f.transitionGate != nil {
		select {
		case <-f.transitionGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.transitionCalls
	f.transitionCalls++
	if call < len(f.transitionErrs) {
		return f.transitionErrs[call]
	}
	return nil
}

func (f *fakePlatform) BroadcastStatus(context.Context, string) (youtube.LifecycleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.lifecycleErr != nil {
		return "", f.lifecycleErr
	}
	if f.lifecycle == "" {
		return youtube.LifecycleReady, nil
	}
	return f.lifecycle, nil
}

func (f *fakePlatform) StreamStatus(context.Context, string) (youtube.Stream, error) {
	if f.streamErr != nil {
		return youtube.Stream{}, f.streamErr
	}
	return f.stream, nil
}

func (f *fakePlatform) DeleteBroadcast(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedBroadcasts = append(f.deletedBroadcasts, id)
	return nil
}

func (f *fakePlatform) DeleteStream(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedStreams = append(f.deletedStreams, id)
	return nil
}

func (f *fakePlatform) transitions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitionCalls
}

func testHandle() Handle {
	return Handle{BroadcastID: "bc-1", StreamID: "st-1", IngestURL: "rtmp://ingest.example/live", StreamKey: "key-1"}
}

func newTestCoordinator(platform Platform, delays *[]time.Duration, opts ...Option) *Coordinator {
	recordingSleeper := func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return ctx.Err()
	}
	base := []Option{WithSleeper(recordingSleeper), WithMetrics(metrics.New())}
	return NewCoordinator(platform, append(base, opts...)...)
}

func TestGoLiveSucceedsOnFirstAttempt(t *testing.T) {
	platform := &fakePlatform{}
	var delays []time.Duration
	coordinator := newTestCoordinator(platform, &delays)

	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if !outcome.Live() || outcome.Confidence != ConfidenceConfirmed {
		t.Fatalf("expected confirmed live, got %+v", outcome)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", outcome.Attempts)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no backoff waits, got %v", delays)
	}
}

func TestGoLiveRetriesIngestInactiveWithSpecSchedule(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{ingestInactiveErr(), ingestInactiveErr(), nil}}
	var delays []time.Duration
	coordinator := newTestCoordinator(platform, &delays)

	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if !outcome.Live() || outcome.Attempts != 3 {
		t.Fatalf("expected live after 3 attempts, got %+v", outcome)
	}
	want := []time.Duration{5 * time.Second, 20 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
}

func TestGoLiveExhaustionIsSoftSuccess(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{ingestInactiveErr(), ingestInactiveErr(), ingestInactiveErr()}}
	var delays []time.Duration
	coordinator := newTestCoordinator(platform, &delays)

	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if outcome.State != StatePartiallyLive || outcome.Confidence != ConfidenceAssumed {
		t.Fatalf("expected partially-live soft success, got %+v", outcome)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if !outcome.CanRetry() {
		t.Fatal("partially-live must be retryable by a later sequence")
	}
}

func TestGoLiveAfterSoftGiveUpStartsFreshSequence(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{
		ingestInactiveErr(), ingestInactiveErr(), ingestInactiveErr(),
		nil,
	}}
	coordinator := newTestCoordinator(platform, nil)

	first, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("first GoLive: %v", err)
	}
	if first.State != StatePartiallyLive {
		t.Fatalf("expected partially-live first, got %+v", first)
	}

	second, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("second GoLive: %v", err)
	}
	if !second.Live() || second.Attempts != 1 {
		t.Fatalf("expected fresh sequence to confirm live on attempt 1, got %+v", second)
	}
	if got := platform.transitions(); got != 4 {
		t.Fatalf("expected 4 transition calls across both sequences, got %d", got)
	}
}

func TestGoLivePermanentFailureDoesNotRetry(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{notFoundErr()}}
	var delays []time.Duration
	coordinator := newTestCoordinator(platform, &delays)

	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if outcome.State != StateFailed || outcome.Attempts != 1 {
		t.Fatalf("expected terminal failure on attempt 1, got %+v", outcome)
	}
	if outcome.CanRetry() {
		t.Fatal("not-found must surface as non-retryable")
	}
	if !errors.Is(outcome.Err, youtube.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", outcome.Err)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no backoff for a permanent failure, got %v", delays)
	}
}

func TestTerminalFailureLatchesAcrossCalls(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{notFoundErr()}}
	coordinator := newTestCoordinator(platform, nil)

	if _, err := coordinator.GoLive(context.Background(), testHandle()); err != nil {
		t.Fatalf("first GoLive: %v", err)
	}
	before := platform.transitions()
	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("second GoLive: %v", err)
	}
	if outcome.State != StateFailed {
		t.Fatalf("expected latched failure, got %+v", outcome)
	}
	if platform.transitions() != before {
		t.Fatal("latched terminal state must not issue further transition attempts")
	}
}

func TestGoLiveShortCircuitsWhenAlreadyLive(t *testing.T) {
	platform := &fakePlatform{lifecycle: youtube.LifecycleLive}
	coordinator := newTestCoordinator(platform, nil)

	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if !outcome.Live() {
		t.Fatalf("expected live outcome, got %+v", outcome)
	}
	if platform.transitions() != 0 {
		t.Fatal("already-live broadcast must not receive a transition request")
	}
}

func TestGoLiveFailsWhenBroadcastComplete(t *testing.T) {
	platform := &fakePlatform{lifecycle: youtube.LifecycleComplete}
	coordinator := newTestCoordinator(platform, nil)

	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if outcome.State != StateFailed || outcome.CanRetry() {
		t.Fatalf("expected non-retryable failure for completed broadcast, got %+v", outcome)
	}
	if platform.transitions() != 0 {
		t.Fatal("completed broadcast must not receive a transition request")
	}
}

func TestCancellationMidBackoffStopsSequence(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{ingestInactiveErr(), ingestInactiveErr()}}
	ctx, cancel := context.WithCancel(context.Background())
	coordinator := NewCoordinator(platform,
		WithMetrics(metrics.New()),
		WithSleeper(func(ctx context.Context, _ time.Duration) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}))

	_, err := coordinator.GoLive(ctx, testHandle())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := platform.transitions(); got != 1 {
		t.Fatalf("expected no transition after cancellation, got %d calls", got)
	}
}

func TestConcurrentGoLiveCallsShareOneSequence(t *testing.T) {
	platform := &fakePlatform{transitionGate: make(chan struct{})}
	coordinator := newTestCoordinator(platform, nil)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = coordinator.GoLive(context.Background(), testHandle())
		}(i)
	}
	// Let both callers queue, then release the shared attempt.
	time.Sleep(50 * time.Millisecond)
	close(platform.transitionGate)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("GoLive %d: %v", i, errs[i])
		}
		if !outcomes[i].Live() {
			t.Fatalf("GoLive %d: expected live, got %+v", i, outcomes[i])
		}
	}
	if got := platform.transitions(); got != 1 {
		t.Fatalf("expected a single shared transition attempt, got %d", got)
	}
}

func TestStatusIsReadOnly(t *testing.T) {
	platform := &fakePlatform{
		lifecycle: youtube.LifecycleTesting,
		stream:    youtube.Stream{ID: "st-1", Status: youtube.StreamActive, Health: "good"},
	}
	coordinator := newTestCoordinator(platform, nil)

	for i := 0; i < 5; i++ {
		report, err := coordinator.Status(context.Background(), testHandle())
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if report.Lifecycle != youtube.LifecycleTesting || !report.IngestActive {
			t.Fatalf("unexpected report %+v", report)
		}
	}
	if platform.transitions() != 0 {
		t.Fatal("Status must never trigger a transition attempt")
	}
}

func TestDefaultBackoffScheduleIsMonotone(t *testing.T) {
	if DefaultBackoff(1) != 5*time.Second || DefaultBackoff(2) != 20*time.Second || DefaultBackoff(3) != 60*time.Second {
		t.Fatalf("unexpected schedule: %v %v %v", DefaultBackoff(1), DefaultBackoff(2), DefaultBackoff(3))
	}
	previous := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		delay := DefaultBackoff(attempt)
		if delay < previous {
			t.Fatalf("backoff must be monotonically non-decreasing, got %v after %v", delay, previous)
		}
		previous = delay
	}
}

func TestForgetReleasesLatchedState(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{notFoundErr(), nil}}
	coordinator := newTestCoordinator(platform, nil)

	if _, err := coordinator.GoLive(context.Background(), testHandle()); err != nil {
		t.Fatalf("first GoLive: %v", err)
	}
	coordinator.Forget("bc-1")

	outcome, err := coordinator.GoLive(context.Background(), testHandle())
	if err != nil {
		t.Fatalf("second GoLive: %v", err)
	}
	if !outcome.Live() {
		t.Fatalf("expected fresh sequence after Forget, got %+v", outcome)
	}
}
