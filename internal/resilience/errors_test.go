package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassOther},
		{"status 429", &statusErr{status: 429}, ClassRateLimited},
		{"status 408", &statusErr{status: 408}, ClassServerBusy},
		{"status 500", &statusErr{status: 500}, ClassServerBusy},
		{"status 503", &statusErr{status: 503}, ClassServerBusy},
		{"status 401", &statusErr{status: 401}, ClassOther},
		{"status 400", &statusErr{status: 400}, ClassOther},
		{"wrapped status", fmt.Errorf("call failed: %w", &statusErr{status: 429}), ClassRateLimited},
		{"rate limit message", errors.New("Rate limit exceeded, slow down"), ClassRateLimited},
		{"too many requests", errors.New("too many requests"), ClassRateLimited},
		{"overloaded", errors.New("the model is overloaded"), ClassServerBusy},
		{"server busy", errors.New("Server busy, try again"), ClassServerBusy},
		{"service unavailable", errors.New("service unavailable"), ClassServerBusy},
		{"conn reset string", errors.New("read tcp: connection reset by peer"), ClassServerBusy},
		{"io timeout string", errors.New("dial tcp: i/o timeout"), ClassServerBusy},
		{"econnreset", syscall.ECONNRESET, ClassServerBusy},
		{"econnrefused", syscall.ECONNREFUSED, ClassServerBusy},
		{"auth error", errors.New("invalid api key"), ClassOther},
		{"malformed request", errors.New("unknown parameter: foo"), ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(&statusErr{status: 429}) {
		t.Error("rate limited should be retryable")
	}
	if !Retryable(&statusErr{status: 502}) {
		t.Error("server busy should be retryable")
	}
	if Retryable(errors.New("bad request")) {
		t.Error("other errors should not be retryable")
	}
}
