// Package live orchestrates the lifecycle of a platform live session: it
// provisions broadcast and ingest resources, drives the go-live transition,
// and records the resulting state on the channel's live session.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"openair-live/internal/broadcast"
	"openair-live/internal/models"
	"openair-live/internal/observability/metrics"
	"openair-live/internal/storage"
)

var (
	// ErrChannelNotLinked is returned when a channel has no platform
	// credential to act with.
	ErrChannelNotLinked = errors.New("channel is not linked to a streaming platform")

	// ErrNoActiveSession is returned when an operation targets a broadcast
	// that has no live session on record.
	ErrNoActiveSession = errors.New("no live session for broadcast")
)

// PlatformFactory builds the platform client for a channel. Implementations
// resolve the channel's stored credential into an authenticated client.
type PlatformFactory func(channel models.Channel) (broadcast.Platform, error)

// Config parameterizes a Service.
type Config struct {
	Store    storage.Repository
	Platform PlatformFactory
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Clock    func() time.Time

	// CoordinatorOptions is forwarded to every per-channel coordinator.
	CoordinatorOptions []broadcast.Option
}

// Service owns the per-channel provisioners and transition coordinators and
// keeps the stored live session in step with what the platform reports.
type Service struct {
	store   storage.Repository
	factory PlatformFactory
	logger  *slog.Logger
	metrics *metrics.Recorder
	clock   func() time.Time
	coOpts  []broadcast.Option

	mu       sync.Mutex
	runtimes map[string]*channelRuntime
}

type channelRuntime struct {
	provisioner *broadcast.Provisioner
	coordinator *broadcast.Coordinator
}

// NewService constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("live service requires a repository")
	}
	if cfg.Platform == nil {
		return nil, fmt.Errorf("live service requires a platform factory")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:    cfg.Store,
		factory:  cfg.Platform,
		logger:   logger,
		metrics:  recorder,
		clock:    clock,
		coOpts:   cfg.CoordinatorOptions,
		runtimes: make(map[string]*channelRuntime),
	}, nil
}

func (s *Service) runtime(channel models.Channel) (*channelRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.runtimes[channel.ID]; ok {
		return rt, nil
	}
	platform, err := s.factory(channel)
	if err != nil {
		return nil, err
	}
	rt := &channelRuntime{
		provisioner: broadcast.NewProvisioner(platform, broadcast.ProvisionerConfig{
			Logger:  s.logger.With("channel_id", channel.ID),
			Metrics: s.metrics,
		}),
		coordinator: broadcast.NewCoordinator(platform, append([]broadcast.Option{
			broadcast.WithLogger(s.logger.With("channel_id", channel.ID)),
			broadcast.WithMetrics(s.metrics),
		}, s.coOpts...)...),
	}
	s.runtimes[channel.ID] = rt
	return rt, nil
}

// Invalidate drops the cached platform client for a channel. Called after the
// channel's credential is replaced so the next operation picks up the new
// token set.
func (s *Service) Invalidate(channelID string) {
	s.mu.Lock()
	delete(s.runtimes, channelID)
	s.mu.Unlock()
}

// StartSession provisions broadcast and ingest resources for the channel and
// records the resulting live session. An already-active session blocks a new
// one; provisioned platform resources are torn down if the record cannot be
// written.
func (s *Service) StartSession(ctx context.Context, channelID, title, description string) (models.LiveSession, error) {
	channel, ok := s.store.GetChannel(channelID)
	if !ok {
		return models.LiveSession{}, &storage.NotFoundError{Kind: "channel", ID: channelID}
	}
	if _, active := s.store.CurrentLiveSession(channel.ID); active {
		return models.LiveSession{}, storage.ErrSessionStillActive
	}

	rt, err := s.runtime(channel)
	if err != nil {
		return models.LiveSession{}, err
	}
	if title == "" {
		title = channel.Title
	}

	handle, err := rt.provisioner.Provision(ctx, title, description)
	if err != nil {
		return models.LiveSession{}, err
	}

	session, err := s.store.CreateLiveSession(storage.CreateLiveSessionParams{
		ChannelID:   channel.ID,
		BroadcastID: handle.BroadcastID,
		StreamID:    handle.StreamID,
		IngestURL:   handle.IngestURL,
		StreamKey:   handle.StreamKey,
	})
	if err != nil {
		if terr := rt.provisioner.Teardown(ctx, handle); terr != nil {
			s.logger.Warn("teardown after failed session record", "handle", handle, "error", terr)
		}
		return models.LiveSession{}, err
	}
	return session, nil
}

// GoLive runs one transition sequence for the broadcast and folds the outcome
// into the stored session status.
func (s *Service) GoLive(ctx context.Context, broadcastID string) (models.LiveSession, broadcast.Outcome, error) {
	session, channel, err := s.sessionForBroadcast(broadcastID)
	if err != nil {
		return models.LiveSession{}, broadcast.Outcome{}, err
	}
	rt, err := s.runtime(channel)
	if err != nil {
		return models.LiveSession{}, broadcast.Outcome{}, err
	}

	outcome, err := rt.coordinator.GoLive(ctx, sessionHandle(session))
	if err != nil {
		return models.LiveSession{}, broadcast.Outcome{}, err
	}

	status := session.Status
	switch outcome.State {
	case broadcast.StateLive:
		status = models.LiveStatusLive
	case broadcast.StatePartiallyLive:
		status = models.LiveStatusAssumedLive
	case broadcast.StateFailed:
		status = models.LiveStatusFailed
	}
	if status != session.Status {
		updated, uerr := s.store.UpdateLiveSession(session.ID, storage.LiveSessionUpdate{Status: &status})
		if uerr != nil {
			s.logger.Warn("record go-live outcome", "broadcast_id", broadcastID, "error", uerr)
		} else {
			session = updated
		}
	}
	return session, outcome, nil
}

// Status reads the broadcast lifecycle and ingest state without issuing a
// transition.
func (s *Service) Status(ctx context.Context, broadcastID string) (models.LiveSession, broadcast.StatusReport, error) {
	session, channel, err := s.sessionForBroadcast(broadcastID)
	if err != nil {
		return models.LiveSession{}, broadcast.StatusReport{}, err
	}
	rt, err := s.runtime(channel)
	if err != nil {
		return models.LiveSession{}, broadcast.StatusReport{}, err
	}
	report, err := rt.coordinator.Status(ctx, sessionHandle(session))
	if err != nil {
		return models.LiveSession{}, broadcast.StatusReport{}, err
	}
	return session, report, nil
}

// EndSession completes the broadcast on the platform and closes the stored
// session. Platform teardown is best effort: a flaky remote never prevents
// the session from being marked ended.
func (s *Service) EndSession(ctx context.Context, broadcastID string) (models.LiveSession, error) {
	session, channel, err := s.sessionForBroadcast(broadcastID)
	if err != nil {
		return models.LiveSession{}, err
	}
	rt, err := s.runtime(channel)
	if err != nil {
		return models.LiveSession{}, err
	}

	if err := rt.provisioner.Teardown(ctx, sessionHandle(session)); err != nil {
		s.logger.Warn("platform teardown incomplete", "broadcast_id", broadcastID, "error", err)
	}
	rt.coordinator.Forget(session.BroadcastID)

	status := models.LiveStatusEnded
	now := s.clock().UTC()
	updated, err := s.store.UpdateLiveSession(session.ID, storage.LiveSessionUpdate{Status: &status, EndedAt: &now})
	if err != nil {
		return models.LiveSession{}, err
	}
	s.logger.Info("live session ended", "broadcast_id", broadcastID, "channel_id", channel.ID)
	return updated, nil
}

func (s *Service) sessionForBroadcast(broadcastID string) (models.LiveSession, models.Channel, error) {
	if broadcastID == "" {
		return models.LiveSession{}, models.Channel{}, fmt.Errorf("broadcastId is required")
	}
	session, ok := s.store.FindLiveSessionByBroadcast(broadcastID)
	if !ok {
		return models.LiveSession{}, models.Channel{}, fmt.Errorf("%w: %s", ErrNoActiveSession, broadcastID)
	}
	channel, ok := s.store.GetChannel(session.ChannelID)
	if !ok {
		return models.LiveSession{}, models.Channel{}, &storage.NotFoundError{Kind: "channel", ID: session.ChannelID}
	}
	return session, channel, nil
}

func sessionHandle(session models.LiveSession) broadcast.Handle {
	return broadcast.Handle{
		BroadcastID: session.BroadcastID,
		StreamID:    session.StreamID,
		IngestURL:   session.IngestURL,
		StreamKey:   session.StreamKey,
	}
}
