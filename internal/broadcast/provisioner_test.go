package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"

	"openair-live/internal/observability/metrics"
)

func newTestProvisioner(platform Platform) *Provisioner {
	return NewProvisioner(platform, ProvisionerConfig{Metrics: metrics.New()})
}

func TestProvisionReturnsBoundHandle(t *testing.T) {
	platform := &fakePlatform{}
	provisioner := newTestProvisioner(platform)

	handle, err := provisioner.Provision(context.Background(), "Morning show", "daily news")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if handle.BroadcastID != "bc-1" || handle.StreamID != "st-1" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if handle.IngestAddress() != "rtmp://ingest.example/live/key-1" {
		t.Fatalf("unexpected ingest address %q", handle.IngestAddress())
	}
}

func TestProvisionRollsBackBroadcastWhenStreamCreationFails(t *testing.T) {
	platform := &fakePlatform{insertStreamErr: errors.New("stream quota reached")}
	provisioner := newTestProvisioner(platform)

	_, err := provisioner.Provision(context.Background(), "show", "")
	if err == nil {
		t.Fatal("expected provisioning error")
	}
	if len(platform.deletedBroadcasts) != 1 || platform.deletedBroadcasts[0] != "bc-1" {
		t.Fatalf("expected broadcast rollback, got %v", platform.deletedBroadcasts)
	}
}

func TestProvisionRollsBackBothResourcesWhenBindFails(t *testing.T) {
	platform := &fakePlatform{bindErr: errors.New("bind rejected")}
	provisioner := newTestProvisioner(platform)

	_, err := provisioner.Provision(context.Background(), "show", "")
	if err == nil {
		t.Fatal("expected provisioning error")
	}
	if len(platform.deletedStreams) != 1 {
		t.Fatalf("expected stream rollback, got %v", platform.deletedStreams)
	}
	if len(platform.deletedBroadcasts) != 1 {
		t.Fatalf("expected broadcast rollback, got %v", platform.deletedBroadcasts)
	}
}

func TestTeardownIsBestEffort(t *testing.T) {
	platform := &fakePlatform{transitionErrs: []error{errors.New("already gone")}}
	provisioner := newTestProvisioner(platform)

	err := provisioner.Teardown(context.Background(), testHandle())
	if err == nil {
		t.Fatal("expected combined teardown error for logging")
	}
	// The later steps must run despite the failed transition.
	if len(platform.deletedStreams) != 1 {
		t.Fatalf("expected stream deletion despite transition failure, got %v", platform.deletedStreams)
	}
}

func TestHandleStringRedactsSecrets(t *testing.T) {
	handle := testHandle()
	rendered := handle.String()
	if strings.Contains(rendered, handle.StreamKey) || strings.Contains(rendered, handle.IngestURL) {
		t.Fatalf("handle rendering leaked ingest secrets: %q", rendered)
	}
	if !strings.Contains(rendered, handle.BroadcastID) {
		t.Fatalf("handle rendering should identify the broadcast: %q", rendered)
	}
}
