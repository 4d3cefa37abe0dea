package retry

import (
	"errors"
	"testing"
	"time"
)

func TestDelay_ExponentialNoJitter(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: JitterNone}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, c := range cases {
		if got := cfg.Delay(c.attempt, 0); got != c.want {
			t.Fatalf("attempt %d: want %s got %s", c.attempt, c.want, got)
		}
	}
}

func TestDelay_CappedByMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Jitter: JitterNone}
	if got := cfg.Delay(10, 0); got != 3*time.Second {
		t.Fatalf("expected delay capped at maxDelay, got %s", got)
	}
}

func TestDelay_FullJitterWithinBounds(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: JitterFull}
	for i := 0; i < 50; i++ {
		got := cfg.Delay(3, 0)
		if got < 0 || got >= 400*time.Millisecond {
			t.Fatalf("jittered delay %s outside [0, capped)", got)
		}
	}
}

func TestDelay_RetryAfterOverridesWhenLarger(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: JitterNone}
	if got := cfg.Delay(1, 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected Retry-After to win when larger than computed delay, got %s", got)
	}
}

func TestIsRetryable_DefaultStatuses(t *testing.T) {
	cfg := Config{}
	if !cfg.IsRetryable(503, nil) {
		t.Fatalf("expected 503 to be retryable by default")
	}
	if cfg.IsRetryable(404, nil) {
		t.Fatalf("expected 404 to not be retryable by default")
	}
	if !cfg.IsRetryable(0, errors.New("dial tcp: connection refused")) {
		t.Fatalf("expected network failures to be retryable by default")
	}
}

func TestIsRetryable_CustomCondition(t *testing.T) {
	cfg := Config{RetryCondition: func(status int, err error) bool { return status == 418 }}
	if !cfg.IsRetryable(418, nil) {
		t.Fatalf("expected custom condition to override defaults")
	}
	if cfg.IsRetryable(503, nil) {
		t.Fatalf("expected custom condition to suppress default retryable status")
	}
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	now := time.Now()
	d, ok := ParseRetryAfter("120", now)
	if !ok || d != 120*time.Second {
		t.Fatalf("expected 120s delta, got %s ok=%v", d, ok)
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	now := time.Now()
	future := now.Add(90 * time.Second)
	d, ok := ParseRetryAfter(future.UTC().Format(httpDateLayout()), now)
	if !ok {
		t.Fatalf("expected HTTP-date to parse")
	}
	if d < 85*time.Second || d > 95*time.Second {
		t.Fatalf("expected ~90s delta, got %s", d)
	}
}

func TestParseRetryAfter_Absent(t *testing.T) {
	if _, ok := ParseRetryAfter("", time.Now()); ok {
		t.Fatalf("expected absent header to report not-ok")
	}
}

func httpDateLayout() string {
	return "Mon, 02 Jan 2006 15:04:05 GMT"
}
