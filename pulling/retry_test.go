package pulling

import (
	"errors"
	"testing"
	"time"
)

func TestRetryDecideGivesUpOn4xx(t *testing.T) {
	p := DefaultRetryPolicy()
	d := p.Decide("fp1", 1, &HttpStatusError{Code: 404})
	if d.Kind != GiveUp {
		t.Fatalf("expected GiveUp for 4xx, got %v", d.Kind)
	}
}

func TestRetryDecideGivesUpAtMaxAttempts(t *testing.T) {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 3
	d := p.Decide("fp2", 3, &TransportError{Err: errors.New("boom")})
	if d.Kind != GiveUp {
		t.Fatalf("expected GiveUp once attemptCount reaches MaxAttempts, got %v", d.Kind)
	}
}

func TestRetryBackoffGrowsExponentially(t *testing.T) {
	p := &RetryPolicy{BaseDelay: 50 * time.Millisecond, MaxDelay: 5 * time.Second, MaxAttempts: 5}
	first := p.backoffFor(1)
	second := p.backoffFor(2)
	if first != 50*time.Millisecond {
		t.Fatalf("expected first attempt delay of 50ms, got %v", first)
	}
	if second != 150*time.Millisecond {
		t.Fatalf("expected second attempt delay of 150ms, got %v", second)
	}
}

func TestRetryBackoffCapsAtMaxDelay(t *testing.T) {
	p := &RetryPolicy{BaseDelay: time.Second, MaxDelay: 2 * time.Second, MaxAttempts: 10}
	d := p.backoffFor(5)
	if d != 2*time.Second {
		t.Fatalf("expected backoff to cap at MaxDelay, got %v", d)
	}
}

func TestRetryDecideRetriesServerErrors(t *testing.T) {
	p := DefaultRetryPolicy()
	d := p.Decide("fp3", 1, &HttpStatusError{Code: 503})
	if d.Kind != RetryAfter {
		t.Fatalf("expected RetryAfter for 5xx, got %v", d.Kind)
	}
	if d.After <= 0 {
		t.Fatalf("expected a positive retry delay, got %v", d.After)
	}
}
