package llm

import "testing"

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
		{418, true},
	}
	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "boom", "test", nil)
		if err == nil {
			t.Fatalf("status %d: expected an error", tt.status)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: retryable=%v, expected %v", tt.status, IsRetryable(err), tt.retryable)
		}
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestIsRetryableNetwork(t *testing.T) {
	err := &NetworkError{SDKError: SDKError{Message: "connection reset"}}
	if !IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := &NetworkError{SDKError: SDKError{Message: "refused"}}
	err := &SDKError{Message: "request failed", Cause: cause}
	if err.Unwrap() != cause {
		t.Error("expected Unwrap to return the cause")
	}
	if got := err.Error(); got != "request failed: refused" {
		t.Errorf("got %q, expected cause in message", got)
	}
}
