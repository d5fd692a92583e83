package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"openair-live/internal/platform/youtube"
)

// Platform abstracts the remote live-video API surface the provisioner and
// coordinator depend on. *youtube.Client satisfies it; tests substitute
// scripted fakes.
type Platform interface {
	InsertBroadcast(ctx context.Context, title, description string) (youtube.Broadcast, error)
	InsertStream(ctx context.Context, title string) (youtube.Stream, error)
	Bind(ctx context.Context, broadcastID, streamID string) error
	Transition(ctx context.Context, broadcastID string, target youtube.LifecycleStatus) error
	BroadcastStatus(ctx context.Context, broadcastID string) (youtube.LifecycleStatus, error)
	StreamStatus(ctx context.Context, streamID string) (youtube.Stream, error)
	DeleteBroadcast(ctx context.Context, broadcastID string) error
	DeleteStream(ctx context.Context, streamID string) error
}

// Handle identifies one provisioned live-video session. It is immutable once
// created; IngestURL and StreamKey are connection secrets for the media
// uplink and must never be logged.
type Handle struct {
	BroadcastID string
	StreamID    string
	IngestURL   string
	StreamKey   string
}

// IngestAddress composes the full target the media uplink publishes to.
func (h Handle) IngestAddress() string {
	base := strings.TrimRight(h.IngestURL, "/")
	if base == "" || h.StreamKey == "" {
		return base
	}
	return base + "/" + h.StreamKey
}

// String redacts the ingest secrets.
func (h Handle) String() string {
	return fmt.Sprintf("broadcast=%s stream=%s", h.BroadcastID, h.StreamID)
}

// LogValue keeps slog output free of ingest secrets regardless of how the
// handle is passed to a logger.
func (h Handle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("broadcast_id", h.BroadcastID),
		slog.String("stream_id", h.StreamID),
	)
}

// Valid reports whether the handle carries the identifiers required for
// transition attempts.
func (h Handle) Valid() bool {
	return h.BroadcastID != ""
}
