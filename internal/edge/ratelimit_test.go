package edge

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAdmitsOnePerWindow(t *testing.T) {
	l := NewSessionLimiter(500 * time.Millisecond)
	now := time.Now()

	assert.True(t, l.Allow(now))
	assert.False(t, l.Allow(now))
	assert.False(t, l.Allow(now.Add(499*time.Millisecond)))
	assert.True(t, l.Allow(now.Add(500*time.Millisecond)))
}

func TestLimiterConcurrentSingleWinner(t *testing.T) {
	l := NewSessionLimiter(time.Second)
	now := time.Now()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(now) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestLimiterIndependentSessions(t *testing.T) {
	a := NewSessionLimiter(time.Second)
	b := NewSessionLimiter(time.Second)
	now := time.Now()

	assert.True(t, a.Allow(now))
	assert.True(t, b.Allow(now))
}
