package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []CheckResponse
	errs      []error
	calls     int
	gate      chan struct{}
}

func (c *scriptedClient) CheckAndGoLive(ctx context.Context, broadcastID string) (CheckResponse, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return CheckResponse{}, ctx.Err()
		}
	}
	var err error
	if idx < len(c.errs) {
		err = c.errs[idx]
	}
	if err != nil {
		return CheckResponse{}, err
	}
	if idx < len(c.responses) {
		return c.responses[idx], nil
	}
	return CheckResponse{Status: "attempting", CanRetry: true}, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingWaiter captures every requested wait without sleeping.
type recordingWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *recordingWaiter) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *recordingWaiter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waits)
}

func TestRunConfirmsOnFirstCycleWithoutWaiting(t *testing.T) {
	client := &scriptedClient{responses: []CheckResponse{{Success: true, Status: "live"}}}
	waiter := &recordingWaiter{}
	p := New(client, WithWaiter(waiter.wait))

	outcome := p.Run(context.Background(), "bcast-1")
	if outcome.Result != ResultConfirmedLive {
		t.Fatalf("expected confirmed-live, got %s", outcome.Result)
	}
	if outcome.Cycles != 1 {
		t.Fatalf("expected 1 cycle, got %d", outcome.Cycles)
	}
	if !outcome.PresentAsLive() {
		t.Fatalf("expected confirmed outcome to present as live")
	}
	if waiter.count() != 0 {
		t.Fatalf("first cycle must fire immediately, waited %d times", waiter.count())
	}
}

func TestRunConfirmsMidSession(t *testing.T) {
	client := &scriptedClient{responses: []CheckResponse{
		{Status: "attempting", CanRetry: true},
		{Status: "attempting", CanRetry: true},
		{Success: true, Status: "live"},
	}}
	waiter := &recordingWaiter{}
	p := New(client, WithWaiter(waiter.wait))

	outcome := p.Run(context.Background(), "bcast-1")
	if outcome.Result != ResultConfirmedLive {
		t.Fatalf("expected confirmed-live, got %s", outcome.Result)
	}
	if outcome.Cycles != 3 {
		t.Fatalf("expected 3 cycles, got %d", outcome.Cycles)
	}
	if waiter.count() != 2 {
		t.Fatalf("expected one wait between each cycle, got %d waits", waiter.count())
	}
	for _, d := range waiter.waits {
		if d != DefaultInterval {
			t.Fatalf("expected %s interval, got %s", DefaultInterval, d)
		}
	}
}

func TestRunDeclaresLiveWhenBackendExhaustsRetries(t *testing.T) {
	client := &scriptedClient{responses: []CheckResponse{
		{Status: "attempting", CanRetry: true},
		{Status: "partially_live", Message: "ingest never became active", CanRetry: false},
	}}
	p := New(client, WithWaiter((&recordingWaiter{}).wait))

	outcome := p.Run(context.Background(), "bcast-1")
	if outcome.Result != ResultDeclaredLive {
		t.Fatalf("expected declared-live, got %s", outcome.Result)
	}
	if outcome.Cycles != 2 {
		t.Fatalf("expected 2 cycles, got %d", outcome.Cycles)
	}
	if !outcome.PresentAsLive() {
		t.Fatalf("declared-live must present as live")
	}
	if outcome.LastStatus != "partially_live" {
		t.Fatalf("expected last status recorded, got %q", outcome.LastStatus)
	}
}

func TestRunGivesUpAfterCycleBudget(t *testing.T) {
	client := &scriptedClient{}
	waiter := &recordingWaiter{}
	p := New(client, WithWaiter(waiter.wait))

	outcome := p.Run(context.Background(), "bcast-1")
	if outcome.Result != ResultGiveUp {
		t.Fatalf("expected give-up, got %s", outcome.Result)
	}
	if outcome.Cycles != DefaultMaxCycles {
		t.Fatalf("expected %d cycles, got %d", DefaultMaxCycles, outcome.Cycles)
	}
	if client.callCount() != DefaultMaxCycles {
		t.Fatalf("expected %d backend calls, got %d", DefaultMaxCycles, client.callCount())
	}
	if waiter.count() != DefaultMaxCycles-1 {
		t.Fatalf("expected %d waits, got %d", DefaultMaxCycles-1, waiter.count())
	}
	if !outcome.PresentAsLive() {
		t.Fatalf("give-up must present as live")
	}
}

func TestRunTransientErrorsConsumeCycles(t *testing.T) {
	transient := errors.New("connection reset")
	client := &scriptedClient{
		errs:      []error{transient, transient},
		responses: []CheckResponse{{}, {}, {Success: true, Status: "live"}},
	}
	p := New(client, WithWaiter((&recordingWaiter{}).wait))

	outcome := p.Run(context.Background(), "bcast-1")
	if outcome.Result != ResultConfirmedLive {
		t.Fatalf("expected confirmed-live after transient errors, got %s", outcome.Result)
	}
	if outcome.Cycles != 3 {
		t.Fatalf("transient errors must consume cycles: expected 3, got %d", outcome.Cycles)
	}
}

func TestRunGiveUpCarriesLastTransientError(t *testing.T) {
	transient := errors.New("dial tcp: timeout")
	errs := make([]error, DefaultMaxCycles)
	for i := range errs {
		errs[i] = transient
	}
	client := &scriptedClient{errs: errs}
	p := New(client, WithWaiter((&recordingWaiter{}).wait))

	outcome := p.Run(context.Background(), "bcast-1")
	if outcome.Result != ResultGiveUp {
		t.Fatalf("expected give-up, got %s", outcome.Result)
	}
	if !errors.Is(outcome.Err, transient) {
		t.Fatalf("expected last transient error in outcome, got %v", outcome.Err)
	}
}

func TestStopDuringWaitCancelsWithoutFurtherCalls(t *testing.T) {
	client := &scriptedClient{}
	p := New(client)

	waitEntered := make(chan struct{})
	p.wait = func(ctx context.Context, d time.Duration) error {
		close(waitEntered)
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan Outcome, 1)
	go func() {
		done <- p.Run(context.Background(), "bcast-1")
	}()

	<-waitEntered
	p.Stop()

	outcome := <-done
	if outcome.Result != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", outcome.Result)
	}
	if outcome.Cycles != 1 {
		t.Fatalf("expected 1 completed cycle before stop, got %d", outcome.Cycles)
	}
	if client.callCount() != 1 {
		t.Fatalf("no cycle may fire after stop, got %d calls", client.callCount())
	}
	if outcome.PresentAsLive() {
		t.Fatalf("cancelled sessions must not present as live")
	}
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedClient{
		gate:      gate,
		responses: []CheckResponse{{Success: true, Status: "live"}},
	}
	p := New(client, WithWaiter((&recordingWaiter{}).wait))

	done := make(chan Outcome, 1)
	go func() {
		done <- p.Run(context.Background(), "bcast-1")
	}()

	// Wait for the first call to be in flight, then stop before it settles.
	deadline := time.After(2 * time.Second)
	for client.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first poll never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	p.Stop()
	close(gate)

	outcome := <-done
	if outcome.Result != ResultCancelled {
		t.Fatalf("in-flight result must be discarded after stop, got %s", outcome.Result)
	}
}

func TestRunHonoursParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{responses: []CheckResponse{{Success: true, Status: "live"}}}
	p := New(client, WithWaiter((&recordingWaiter{}).wait))

	outcome := p.Run(ctx, "bcast-1")
	if outcome.Result != ResultCancelled {
		t.Fatalf("expected cancelled under dead parent context, got %s", outcome.Result)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	client := &scriptedClient{}
	waiter := &recordingWaiter{}
	p := New(client,
		WithMaxCycles(3),
		WithInterval(100*time.Millisecond),
		WithWaiter(waiter.wait),
	)

	outcome := p.Run(context.Background(), "bcast-1")
	if outcome.Result != ResultGiveUp {
		t.Fatalf("expected give-up, got %s", outcome.Result)
	}
	if outcome.Cycles != 3 {
		t.Fatalf("expected 3 cycles, got %d", outcome.Cycles)
	}
	for _, d := range waiter.waits {
		if d != 100*time.Millisecond {
			t.Fatalf("expected overridden interval, got %s", d)
		}
	}
}
