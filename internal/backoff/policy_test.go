package backoff

import (
	"testing"
	"time"
)

func TestComputeBackoffWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      BackoffPolicy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name: "first attempt no jitter spread",
			policy: BackoffPolicy{
				InitialMs: 100,
				MaxMs:     10000,
				Base:      2,
				JitterMin: 1,
				JitterMax: 1,
			},
			attempt:     1,
			randomValue: 0.5,
			expected:    200 * time.Millisecond,
		},
		{
			name: "second attempt quadruples",
			policy: BackoffPolicy{
				InitialMs: 100,
				MaxMs:     10000,
				Base:      2,
				JitterMin: 1,
				JitterMax: 1,
			},
			attempt:     2,
			randomValue: 0.5,
			expected:    400 * time.Millisecond,
		},
		{
			name: "clamped to max before jitter",
			policy: BackoffPolicy{
				InitialMs: 100,
				MaxMs:     500,
				Base:      2,
				JitterMin: 1,
				JitterMax: 1,
			},
			attempt:     10,
			randomValue: 0.5,
			expected:    500 * time.Millisecond,
		},
		{
			name: "uniform(0.75,1.25) at min random",
			policy: BackoffPolicy{
				InitialMs: 500,
				MaxMs:     30000,
				Base:      2,
				JitterMin: 0.75,
				JitterMax: 1.25,
			},
			attempt:     1,
			randomValue: 0,
			// base = 500*2 = 1000, jitter = 0.75, total = 750
			expected: 750 * time.Millisecond,
		},
		{
			name: "uniform(0.75,1.25) at max random",
			policy: BackoffPolicy{
				InitialMs: 500,
				MaxMs:     30000,
				Base:      2,
				JitterMin: 0.75,
				JitterMax: 1.25,
			},
			attempt:     1,
			randomValue: 1,
			// base = 500*2 = 1000, jitter = 1.25, total = 1250
			expected: 1250 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBackoffWithRand(tt.policy, tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("ComputeBackoffWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.InitialMs != 500 || p.MaxMs != 30000 || p.Base != 2 {
		t.Errorf("unexpected default policy: %+v", p)
	}
	if p.JitterMin != 0.75 || p.JitterMax != 1.25 {
		t.Errorf("default policy jitter should match spec's uniform(0.75,1.25): %+v", p)
	}
}
