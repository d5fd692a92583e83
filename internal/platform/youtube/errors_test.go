package youtube

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
)

func TestAPIErrorReasonMapping(t *testing.T) {
	cases := []struct {
		name     string
		apiErr   *APIError
		sentinel error
	}{
		{"stream inactive reason", &APIError{StatusCode: 403, Reason: "errorStreamInactive"}, ErrIngestInactive},
		{"broadcast not found", &APIError{StatusCode: 403, Reason: "liveBroadcastNotFound"}, ErrNotFound},
		{"http 404 fallback", &APIError{StatusCode: 404}, ErrNotFound},
		{"invalid transition", &APIError{StatusCode: 403, Reason: "invalidTransition"}, ErrInvalidTransition},
		{"quota", &APIError{StatusCode: 403, Reason: "quotaExceeded"}, ErrQuotaExceeded},
		{"rate limited status", &APIError{StatusCode: 429}, ErrQuotaExceeded},
		{"auth reason", &APIError{StatusCode: 403, Reason: "insufficientLivePermissions"}, ErrUnauthorized},
		{"http 401 fallback", &APIError{StatusCode: 401}, ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.apiErr, tc.sentinel) {
				t.Fatalf("expected %v to map to %v", tc.apiErr, tc.sentinel)
			}
		})
	}
}

func TestAPIErrorMessageFallbackForIngestInactive(t *testing.T) {
	apiErr := &APIError{StatusCode: 403, Message: "Stream is inactive"}
	if !errors.Is(apiErr, ErrIngestInactive) {
		t.Fatal("expected message pattern fallback to classify ingest-inactive")
	}
	other := &APIError{StatusCode: 400, Message: "something else"}
	if errors.Is(other, ErrIngestInactive) {
		t.Fatal("unrelated message must not classify as ingest-inactive")
	}
}

func TestDecodeAPIErrorParsesEnvelope(t *testing.T) {
	body := []byte(`{"error":{"code":403,"message":"Stream inactive","errors":[{"reason":"errorStreamInactive","message":"Stream inactive"}]}}`)
	err := decodeAPIError(http.StatusForbidden, body)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Reason != "errorStreamInactive" {
		t.Fatalf("expected reason errorStreamInactive, got %q", apiErr.Reason)
	}
	if !errors.Is(err, ErrIngestInactive) {
		t.Fatal("expected decoded error to classify as ingest-inactive")
	}
}

func TestDecodeAPIErrorNonJSONBody(t *testing.T) {
	err := decodeAPIError(http.StatusBadGateway, []byte("upstream unavailable"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Message != "upstream unavailable" {
		t.Fatalf("expected raw body as message, got %q", apiErr.Message)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded must be retryable")
	}
	var netErr net.Error = timeoutError{}
	if !IsRetryable(fmt.Errorf("request: %w", netErr)) {
		t.Fatal("wrapped net.Error must be retryable")
	}
	if IsRetryable(&APIError{StatusCode: 500}) {
		t.Fatal("structured platform errors are not transport-retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
}
