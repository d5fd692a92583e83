package youtube

// LifecycleStatus mirrors the lifecycle states the platform reports for a
// broadcast resource.
type LifecycleStatus string

const (
	LifecycleCreated  LifecycleStatus = "created"
	LifecycleReady    LifecycleStatus = "ready"
	LifecycleTesting  LifecycleStatus = "testing"
	LifecycleLive     LifecycleStatus = "live"
	LifecycleComplete LifecycleStatus = "complete"
	LifecycleRevoked  LifecycleStatus = "revoked"
)

// Terminal reports whether the lifecycle state admits no further go-live
// transition.
func (s LifecycleStatus) Terminal() bool {
	return s == LifecycleComplete || s == LifecycleRevoked
}

// StreamState mirrors the ingest endpoint states reported by the platform.
type StreamState string

const (
	StreamActive   StreamState = "active"
	StreamInactive StreamState = "inactive"
	StreamReady    StreamState = "ready"
	StreamError    StreamState = "error"
)

// Broadcast is the subset of the remote broadcast resource the coordinator
// needs.
type Broadcast struct {
	ID     string
	Title  string
	Status LifecycleStatus
}

// Stream describes a provisioned ingest endpoint. IngestAddress and StreamKey
// together form the full RTMP target and are treated as secrets.
type Stream struct {
	ID            string
	IngestAddress string
	StreamKey     string
	Status        StreamState
	Health        string
}

// Wire-format structs for the platform's REST resources.

type broadcastResource struct {
	ID             string                   `json:"id,omitempty"`
	Snippet        *broadcastSnippet        `json:"snippet,omitempty"`
	Status         *broadcastStatusResource `json:"status,omitempty"`
	ContentDetails *broadcastContentDetails `json:"contentDetails,omitempty"`
}

type broadcastSnippet struct {
	Title              string `json:"title,omitempty"`
	Description        string `json:"description,omitempty"`
	ScheduledStartTime string `json:"scheduledStartTime,omitempty"`
}

type broadcastStatusResource struct {
	LifeCycleStatus string `json:"lifeCycleStatus,omitempty"`
	PrivacyStatus   string `json:"privacyStatus,omitempty"`
}

type broadcastContentDetails struct {
	EnableAutoStart bool           `json:"enableAutoStart"`
	MonitorStream   *monitorStream `json:"monitorStream,omitempty"`
}

type monitorStream struct {
	EnableMonitorStream bool `json:"enableMonitorStream"`
}

type streamResource struct {
	ID      string                `json:"id,omitempty"`
	Snippet *streamSnippet        `json:"snippet,omitempty"`
	CDN     *streamCDN            `json:"cdn,omitempty"`
	Status  *streamStatusResource `json:"status,omitempty"`
}

type streamSnippet struct {
	Title string `json:"title,omitempty"`
}

type streamCDN struct {
	IngestionType string         `json:"ingestionType,omitempty"`
	Resolution    string         `json:"resolution,omitempty"`
	FrameRate     string         `json:"frameRate,omitempty"`
	IngestionInfo *ingestionInfo `json:"ingestionInfo,omitempty"`
}

type ingestionInfo struct {
	IngestionAddress string `json:"ingestionAddress,omitempty"`
	StreamName       string `json:"streamName,omitempty"`
}

type streamStatusResource struct {
	StreamStatus string        `json:"streamStatus,omitempty"`
	HealthStatus *healthStatus `json:"healthStatus,omitempty"`
}

type healthStatus struct {
	Status string `json:"status,omitempty"`
}

type broadcastListResponse struct {
	Items []broadcastResource `json:"items"`
}

type streamListResponse struct {
	Items []streamResource `json:"items"`
}

func (r broadcastResource) toBroadcast() Broadcast {
	broadcast := Broadcast{ID: r.ID}
	if r.Snippet != nil {
		broadcast.Title = r.Snippet.Title
	}
	if r.Status != nil {
		broadcast.Status = LifecycleStatus(r.Status.LifeCycleStatus)
	}
	return broadcast
}

func (r streamResource) toStream() Stream {
	stream := Stream{ID: r.ID}
	if r.CDN != nil && r.CDN.IngestionInfo != nil {
		stream.IngestAddress = r.CDN.IngestionInfo.IngestionAddress
		stream.StreamKey = r.CDN.IngestionInfo.StreamName
	}
	if r.Status != nil {
		stream.Status = StreamState(r.Status.StreamStatus)
		if r.Status.HealthStatus != nil {
			stream.Health = r.Status.HealthStatus.Status
		}
	}
	return stream
}
