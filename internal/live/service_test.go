package live

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"openair-live/internal/broadcast"
	"openair-live/internal/models"
	"openair-live/internal/observability/metrics"
	"openair-live/internal/platform/youtube"
	"openair-live/internal/storage"
)

func ingestInactiveErr() error {
	return &youtube.APIError{StatusCode: http.StatusForbidden, Reason: "errorStreamInactive", Message: "Stream is inactive"}
}

// scriptedPlatform scripts transition results per call and records the rest.
type scriptedPlatform struct {
	mu sync.Mutex

	transitionErrs  []error
	transitionCalls int

	lifecycle youtube.LifecycleStatus

	completed      []string
	deletedStreams []string
}

func (f *scriptedPlatform) InsertBroadcast(_ context.Context, title, _ string) (youtube.Broadcast, error) {
	return youtube.Broadcast{ID: "bc-1", Title: title, Status: youtube.LifecycleReady}, nil
}

func (f *scriptedPlatform) InsertStream(_ context.Context, _ string) (youtube.Stream, error) {
	return youtube.Stream{ID: "st-1", IngestAddress: "rtmp://ingest.example/live", StreamKey: "key-1"}, nil
}

func (f *scriptedPlatform) Bind(context.Context, string, string) error { return nil }

func (f *scriptedPlatform) Transition(_ context.Context, id string, target youtube.LifecycleStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if target == youtube.LifecycleComplete {
		f.completed = append(f.completed, id)
		return nil
	}
	call := f.transitionCalls
	f.transitionCalls++
	if call < len(f.transitionErrs) {
		return f.transitionErrs[call]
	}
	return nil
}

func (f *scriptedPlatform) BroadcastStatus(context.Context, string) (youtube.LifecycleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lifecycle == "" {
		return youtube.LifecycleReady, nil
	}
	return f.lifecycle, nil
}

func (f *scriptedPlatform) StreamStatus(context.Context, string) (youtube.Stream, error) {
	return youtube.Stream{ID: "st-1", Status: youtube.StreamActive, Health: "good"}, nil
}

func (f *scriptedPlatform) DeleteBroadcast(context.Context, string) error { return nil }

func (f *scriptedPlatform) DeleteStream(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedStreams = append(f.deletedStreams, id)
	return nil
}

func (f *scriptedPlatform) transitions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitionCalls
}

type testEnv struct {
	service  *Service
	store    *storage.Storage
	platform *scriptedPlatform
	channel  models.Channel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	user, err := store.CreateUser(storage.CreateUserParams{DisplayName: "Creator", Email: "creator@example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	channel, err := store.CreateChannel(user.ID, "Morning Rides", "")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := store.UpsertPlatformCredential(models.PlatformCredential{
		ChannelID:   channel.ID,
		Provider:    "google",
		AccessToken: "access",
	}); err != nil {
		t.Fatalf("UpsertPlatformCredential: %v", err)
	}

	platform := &scriptedPlatform{}
	service, err := NewService(Config{
		Store:    store,
		Platform: func(models.Channel) (broadcast.Platform, error) { return platform, nil },
		Metrics:  metrics.New(),
		CoordinatorOptions: []broadcast.Option{
			broadcast.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testEnv{service: service, store: store, platform: platform, channel: channel}
}

func (e *testEnv) startSession(t *testing.T) models.LiveSession {
	t.Helper()
	session, err := e.service.StartSession(context.Background(), e.channel.ID, "Ride", "daily ride")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return session
}

func TestStartSessionProvisionsAndRecords(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)
	if session.BroadcastID != "bc-1" || session.StreamID != "st-1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.IngestURL != "rtmp://ingest.example/live" || session.StreamKey != "key-1" {
		t.Fatalf("expected ingest coordinates, got %+v", session)
	}
	if session.Status != models.LiveStatusProvisioned {
		t.Fatalf("expected provisioned status, got %q", session.Status)
	}
	if _, ok := env.store.FindLiveSessionByBroadcast("bc-1"); !ok {
		t.Fatal("expected session on record")
	}
}

func TestStartSessionRejectsSecondActiveSession(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	if _, err := env.service.StartSession(context.Background(), env.channel.ID, "", ""); !errors.Is(err, storage.ErrSessionStillActive) {
		t.Fatalf("expected ErrSessionStillActive, got %v", err)
	}
}

func TestStartSessionUnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	var notFound *storage.NotFoundError
	if _, err := env.service.StartSession(context.Background(), "missing", "", ""); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestGoLiveConfirmedMarksSessionLive(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)

	session, outcome, err := env.service.GoLive(context.Background(), "bc-1")
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if !outcome.Live() {
		t.Fatalf("expected live outcome, got %+v", outcome)
	}
	if session.Status != models.LiveStatusLive {
		t.Fatalf("expected live status, got %q", session.Status)
	}
}

func TestGoLiveSoftGiveUpMarksAssumedLive(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.platform.transitionErrs = []error{ingestInactiveErr(), ingestInactiveErr(), ingestInactiveErr()}

	session, outcome, err := env.service.GoLive(context.Background(), "bc-1")
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if !outcome.CanRetry() {
		t.Fatalf("expected retryable soft outcome, got %+v", outcome)
	}
	if session.Status != models.LiveStatusAssumedLive {
		t.Fatalf("expected assumed-live status, got %q", session.Status)
	}
}

func TestGoLivePermanentFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)
	env.platform.transitionErrs = []error{
		&youtube.APIError{StatusCode: http.StatusForbidden, Reason: "insufficientPermissions", Message: "forbidden"},
	}

	session, outcome, err := env.service.GoLive(context.Background(), "bc-1")
	if err != nil {
		t.Fatalf("GoLive: %v", err)
	}
	if outcome.Live() || outcome.CanRetry() {
		t.Fatalf("expected hard failure, got %+v", outcome)
	}
	if session.Status != models.LiveStatusFailed {
		t.Fatalf("expected failed status, got %q", session.Status)
	}
	if env.platform.transitions() != 1 {
		t.Fatalf("expected single attempt, got %d", env.platform.transitions())
	}
}

func TestGoLiveUnknownBroadcast(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.service.GoLive(context.Background(), "nope"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestStatusDoesNotTransition(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)

	session, report, err := env.service.Status(context.Background(), "bc-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if session.BroadcastID != "bc-1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !report.IngestActive || report.StreamHealth != "good" {
		t.Fatalf("unexpected report %+v", report)
	}
	if env.platform.transitions() != 0 {
		t.Fatalf("status issued %d transitions", env.platform.transitions())
	}
}

func TestEndSessionCompletesAndCloses(t *testing.T) {
	env := newTestEnv(t)
	env.startSession(t)

	session, err := env.service.EndSession(context.Background(), "bc-1")
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if session.Status != models.LiveStatusEnded || session.EndedAt == nil {
		t.Fatalf("expected ended session, got %+v", session)
	}
	if len(env.platform.completed) != 1 || env.platform.completed[0] != "bc-1" {
		t.Fatalf("expected broadcast completed, got %v", env.platform.completed)
	}
	if len(env.platform.deletedStreams) != 1 {
		t.Fatalf("expected ingest stream deleted, got %v", env.platform.deletedStreams)
	}

	// The channel is free for a fresh session afterwards.
	if _, err := env.service.StartSession(context.Background(), env.channel.ID, "", ""); err != nil {
		t.Fatalf("StartSession after end: %v", err)
	}
}

func TestFactoryErrorSurfaces(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	user, err := store.CreateUser(storage.CreateUserParams{DisplayName: "Creator", Email: "creator@example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	channel, err := store.CreateChannel(user.ID, "Unlinked", "")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	service, err := NewService(Config{
		Store: store,
		Platform: func(models.Channel) (broadcast.Platform, error) {
			return nil, ErrChannelNotLinked
		},
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := service.StartSession(context.Background(), channel.ID, "", ""); !errors.Is(err, ErrChannelNotLinked) {
		t.Fatalf("expected ErrChannelNotLinked, got %v", err)
	}
}
