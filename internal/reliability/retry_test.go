package reliability

import (
	"context"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{204, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
	}
	for _, tc := range cases {
		if got := IsRetryableHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	cases := map[int]time.Duration{
		-1: base,
		0:  base,
		1:  200 * time.Millisecond,
		2:  400 * time.Millisecond,
		3:  capDur,
		10: capDur,
	}
	for attempt, want := range cases {
		if got := ExponentialBackoff(attempt, base, capDur); got != want {
			t.Fatalf("ExponentialBackoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if Sleep(ctx, time.Minute) {
		t.Fatalf("Sleep() = true, want false after cancel")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Sleep() did not return promptly")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Fatalf("Sleep() = false, want true")
	}
}
