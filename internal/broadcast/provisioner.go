package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"openair-live/internal/observability/metrics"
	"openair-live/internal/platform/youtube"
)

// ProvisionerConfig parameterizes a Provisioner.
type ProvisionerConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Provisioner creates a broadcast plus ingest endpoint pair on the remote
// platform and binds them into one addressable session. It owns no state
// machine: provisioning is a single composite request/response operation.
type Provisioner struct {
	platform Platform
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewProvisioner constructs a Provisioner.
func NewProvisioner(platform Platform, cfg ProvisionerConfig) *Provisioner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Provisioner{platform: platform, logger: logger, metrics: recorder}
}

// Provision creates and binds the remote resources. Partial failure is total
// failure: on any error the resources created so far are rolled back
// best-effort so no orphaned, unbound stream is left behind.
func (p *Provisioner) Provision(ctx context.Context, title, description string) (Handle, error) {
	p.metrics.ObserveProvisionAttempt("insert_broadcast")
	created, err := p.platform.InsertBroadcast(ctx, title, description)
	if err != nil {
		p.metrics.ObserveProvisionFailure("insert_broadcast")
		return Handle{}, fmt.Errorf("create broadcast: %w", err)
	}

	p.metrics.ObserveProvisionAttempt("insert_stream")
	stream, err := p.platform.InsertStream(ctx, title)
	if err != nil {
		p.metrics.ObserveProvisionFailure("insert_stream")
		p.rollback(ctx, created.ID, "")
		return Handle{}, fmt.Errorf("create ingest stream: %w", err)
	}

	p.metrics.ObserveProvisionAttempt("bind")
	if err := p.platform.Bind(ctx, created.ID, stream.ID); err != nil {
		p.metrics.ObserveProvisionFailure("bind")
		p.rollback(ctx, created.ID, stream.ID)
		return Handle{}, fmt.Errorf("bind broadcast to stream: %w", err)
	}

	handle := Handle{
		BroadcastID: created.ID,
		StreamID:    stream.ID,
		IngestURL:   stream.IngestAddress,
		StreamKey:   stream.StreamKey,
	}
	p.logger.Info("provisioned live session", "handle", handle)
	return handle, nil
}

// Teardown ends the session on the platform. Best-effort: every step runs
// regardless of earlier failures and the combined error is returned for
// logging only, so a flaky remote end-call never blocks the client-visible
// stop.
func (p *Provisioner) Teardown(ctx context.Context, handle Handle) error {
	var failures []string
	if handle.BroadcastID != "" {
		if err := p.platform.Transition(ctx, handle.BroadcastID, youtube.LifecycleComplete); err != nil {
			failures = append(failures, fmt.Sprintf("complete broadcast: %v", err))
		}
	}
	if handle.StreamID != "" {
		if err := p.platform.DeleteStream(ctx, handle.StreamID); err != nil {
			failures = append(failures, fmt.Sprintf("delete stream: %v", err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("teardown incomplete: %s", strings.Join(failures, "; "))
	}
	return nil
}

func (p *Provisioner) rollback(ctx context.Context, broadcastID, streamID string) {
	if streamID != "" {
		if err := p.platform.DeleteStream(ctx, streamID); err != nil {
			p.logger.Warn("rollback: delete stream failed", "stream_id", streamID, "error", err)
		}
	}
	if broadcastID != "" {
		if err := p.platform.DeleteBroadcast(ctx, broadcastID); err != nil {
			p.logger.Warn("rollback: delete broadcast failed", "broadcast_id", broadcastID, "error", err)
		}
	}
}
