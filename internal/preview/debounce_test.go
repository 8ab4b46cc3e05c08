package preview_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/mdview/internal/preview"
)

func TestDebouncerRunsLastTrigger(t *testing.T) {
	t.Parallel()
	d := preview.NewDebouncer(20 * time.Millisecond)

	var calls, last atomic.Int64
	for i := range 5 {
		d.Trigger(func() {
			calls.Add(1)
			last.Store(int64(i))
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(4), last.Load())
}

func TestDebouncerFlushAndStop(t *testing.T) {
	t.Parallel()
	d := preview.NewDebouncer(time.Hour)

	var calls atomic.Int64
	d.Trigger(func() { calls.Add(1) })
	assert.True(t, d.Flush())
	assert.False(t, d.Flush())
	assert.Equal(t, int64(1), calls.Load())

	d.Trigger(func() { calls.Add(1) })
	assert.True(t, d.Stop())
	assert.False(t, d.Stop())
	assert.Equal(t, int64(1), calls.Load())
}
