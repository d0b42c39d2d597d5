package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name       string
		lastUpdate time.Time
		maxAge     time.Duration
		want       bool
	}{
		{"fresh", time.Now().Add(-5 * time.Second), 30 * time.Second, false},
		{"stale", time.Now().Add(-time.Minute), 30 * time.Second, true},
		{"never updated", time.Time{}, time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &RateLimitState{LastUpdate: tt.lastUpdate}
			if got := s.IsStale(tt.maxAge); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimitState_Decisions(t *testing.T) {
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name         string
		remaining    int
		resetAt      time.Time
		wantBlock    bool
		wantThrottle bool
		wantHealthy  bool
	}{
		{"healthy", 100, future, false, false, true},
		{"at healthy threshold", RemainingThresholdHealthy, future, false, false, true},
		{"between warning and healthy", 30, future, false, false, false},
		{"warning", 15, future, false, true, false},
		{"at warning threshold", RemainingThresholdWarning, future, false, false, false},
		{"critical", 3, future, true, false, false},
		{"exhausted", 0, future, true, false, false},
		{"at critical threshold", RemainingThresholdCritical, future, false, true, false},
		{"exhausted but reset passed", 0, past, false, false, false},
		{"warning but reset passed", 15, past, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &RateLimitState{Remaining: tt.remaining, ResetAt: tt.resetAt}
			s.UpdateHealth()

			if got := s.NeedsCriticalBlock(); got != tt.wantBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.wantBlock)
			}
			if got := s.NeedsThrottling(); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.wantThrottle)
			}
			if s.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", s.IsHealthy, tt.wantHealthy)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	s := &RateLimitState{ResetAt: time.Now().Add(-time.Second)}
	if got := s.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() past = %v, want 0", got)
	}

	s.ResetAt = time.Now().Add(10 * time.Second)
	if got := s.TimeUntilReset(); got < 9*time.Second || got > 10*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 10s", got)
	}
}

func TestThresholdConstants(t *testing.T) {
	if !(RemainingThresholdCritical < RemainingThresholdWarning && RemainingThresholdWarning < RemainingThresholdHealthy) {
		t.Errorf("thresholds out of order: %d %d %d",
			RemainingThresholdCritical, RemainingThresholdWarning, RemainingThresholdHealthy)
	}
}
