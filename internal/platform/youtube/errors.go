package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors exposed to callers so the coordinator can classify failures
// without inspecting transport details.
var (
	// ErrIngestInactive is the one retryable transition failure: the
	// broadcast cannot go live because the ingest endpoint is not yet
	// receiving media.
	ErrIngestInactive = errors.New("ingest endpoint is not receiving data")

	// ErrUnauthorized indicates rejected or expired credentials. Never
	// retried by the coordinator; re-auth happens at a higher layer.
	ErrUnauthorized = errors.New("platform rejected credentials")

	// ErrNotFound indicates the referenced broadcast or stream does not
	// exist on the platform.
	ErrNotFound = errors.New("platform resource not found")

	// ErrInvalidTransition indicates the broadcast is in a state from which
	// the requested transition is not allowed.
	ErrInvalidTransition = errors.New("broadcast cannot transition from its current state")

	// ErrQuotaExceeded indicates the platform refused the request due to
	// quota or rate limits.
	ErrQuotaExceeded = errors.New("platform quota exceeded")
)

// APIError is a structured platform error decoded from the REST error
// envelope. Unwrap yields the matching sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("platform error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("platform error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the structured error onto the sentinel taxonomy. The reason
// code is authoritative; the message text is consulted only as a fallback for
// the ingest-inactive condition, which older API revisions reported without a
// dedicated reason.
func (e *APIError) Unwrap() error {
	switch e.Reason {
	case "errorStreamInactive", "liveStreamInactive":
		return ErrIngestInactive
	case "liveBroadcastNotFound", "liveStreamNotFound", "notFound":
		return ErrNotFound
	case "invalidTransition", "errorUnexpectedState":
		return ErrInvalidTransition
	case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded":
		return ErrQuotaExceeded
	case "authError", "unauthorized", "forbidden", "insufficientLivePermissions", "liveStreamingNotEnabled":
		return ErrUnauthorized
	}
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrQuotaExceeded
	}
	message := strings.ToLower(e.Message)
	if strings.Contains(message, "stream is inactive") || strings.Contains(message, "not receiving") {
		return ErrIngestInactive
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

func decodeAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != 0 {
		apiErr.Message = envelope.Error.Message
		if len(envelope.Error.Errors) > 0 {
			apiErr.Reason = envelope.Error.Errors[0].Reason
			if apiErr.Message == "" {
				apiErr.Message = envelope.Error.Errors[0].Message
			}
		}
	}
	return apiErr
}

// IsRetryable reports whether the error is a transient transport failure
// worth consuming a retry budget unit for: timeouts, connection failures, and
// cancelled deadlines. Structured platform errors are never retryable here;
// ingest-inactive has its own dedicated backoff path.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
