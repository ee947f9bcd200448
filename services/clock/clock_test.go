package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("advance moves time forward", func(t *testing.T) {
		c := NewFake(start)
		c.Advance(90 * time.Second)
		assert.Equal(t, start.Add(90*time.Second), c.Now())
	})

	t.Run("sleep records and advances", func(t *testing.T) {
		c := NewFake(start)
		require.NoError(t, c.Sleep(context.Background(), time.Second))
		require.NoError(t, c.Sleep(context.Background(), 2*time.Second))

		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Sleeps())
		assert.Equal(t, start.Add(3*time.Second), c.Now())
	})

	t.Run("sleep honours cancelled context", func(t *testing.T) {
		c := NewFake(start)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.Sleep(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, c.Sleeps())
		assert.Equal(t, start, c.Now())
	})
}

func TestSystemSleep(t *testing.T) {
	c := System()

	t.Run("zero duration returns immediately", func(t *testing.T) {
		assert.NoError(t, c.Sleep(context.Background(), 0))
	})

	t.Run("cancelled context interrupts the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.Sleep(ctx, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
