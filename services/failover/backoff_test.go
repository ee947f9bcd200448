package failover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		want   []time.Duration
	}{
		{
			name:   "exponential without jitter",
			policy: RetryPolicy{BaseDelay: time.Second, Multiplier: 2},
			want:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
		{
			name:   "capped by max delay",
			policy: RetryPolicy{BaseDelay: time.Second, Multiplier: 3, MaxDelay: 5 * time.Second},
			want:   []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:   "constant with multiplier one",
			policy: RetryPolicy{BaseDelay: 250 * time.Millisecond, Multiplier: 1},
			want:   []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond},
		},
		{
			name:   "zero base delay never waits",
			policy: RetryPolicy{Multiplier: 2},
			want:   []time.Duration{0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for attempt, want := range tt.want {
				assert.Equal(t, want, tt.policy.Delay(attempt, nil), "attempt %d", attempt)
			}
		})
	}
}

func TestRetryPolicy_DelayWithoutCapDoesNotOverflow(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Multiplier: 10}

	for _, attempt := range []int{10, 50, 400} {
		assert.Equal(t, maxDuration, p.Delay(attempt, nil), "attempt %d", attempt)
	}

	p.Jitter = true
	for _, r := range []float64{0, 0.5, 0.999} {
		d := p.Delay(400, func() float64 { return r })
		assert.Positive(t, d, "random %v", r)
	}
}

func TestRetryPolicy_Jitter(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Multiplier: 2, Jitter: true}

	assert.Equal(t, 750*time.Millisecond, p.Delay(0, func() float64 { return 0 }))
	assert.Equal(t, time.Second, p.Delay(0, func() float64 { return 0.5 }))
	assert.Equal(t, 2500*time.Millisecond, p.Delay(1, func() float64 { return 1 }))
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{MaxRetries: -1, BaseDelay: -time.Second, Multiplier: 0}.normalized()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, time.Duration(0), p.BaseDelay)
	assert.Equal(t, 1.0, p.Multiplier)
}

func TestOrchestrator_JitteredSleeps(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 2, Jitter: true}
	o := New(nil, p, nil, nil, WithRandom(func() float64 { return 0 }))

	assert.Equal(t, 750*time.Millisecond, o.policy.Delay(0, o.random))
	assert.Equal(t, 1500*time.Millisecond, o.policy.Delay(1, o.random))
	assert.Equal(t, p, o.Policy())
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.True(t, p.Jitter)
}
