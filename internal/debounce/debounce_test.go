package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_SingleEvent(t *testing.T) {
	var callCount atomic.Int32
	var last atomic.Value

	d := New(50*time.Millisecond, func(path string) {
		callCount.Add(1)
		last.Store(path)
	})
	defer d.Stop()

	d.Trigger("a.js")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), callCount.Load())
	assert.Equal(t, "a.js", last.Load())
}

func TestDebouncer_MultipleEventsCoalesced(t *testing.T) {
	var callCount atomic.Int32

	d := New(100*time.Millisecond, func(string) {
		callCount.Add(1)
	})
	defer d.Stop()

	// Fire 10 rapid events, expect one flush.
	for i := 0; i < 10; i++ {
		d.Trigger("popup.js")
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), callCount.Load())
}

func TestDebouncer_LastValueWins(t *testing.T) {
	var last atomic.Value

	d := New(50*time.Millisecond, func(path string) {
		last.Store(path)
	})
	defer d.Stop()

	d.Trigger("first.js")
	time.Sleep(10 * time.Millisecond)
	d.Trigger("second.js")
	time.Sleep(10 * time.Millisecond)
	d.Trigger("third.js")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, "third.js", last.Load())
}

func TestDebouncer_Stop(t *testing.T) {
	var callCount atomic.Int32

	d := New(50*time.Millisecond, func(struct{}) {
		callCount.Add(1)
	})

	d.Trigger(struct{}{})
	assert.True(t, d.Pending())
	d.Stop()
	assert.False(t, d.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), callCount.Load())
}

func TestDebouncer_ConcurrentTriggers(t *testing.T) {
	var callCount atomic.Int32

	d := New(80*time.Millisecond, func(int) {
		callCount.Add(1)
	})
	defer d.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			d.Trigger(i)
		}(i)
	}

	wg.Wait()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), callCount.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_FiresAgainAfterQuiet(t *testing.T) {
	var callCount atomic.Int32

	d := New(30*time.Millisecond, func(string) {
		callCount.Add(1)
	})
	defer d.Stop()

	d.Trigger("a")
	time.Sleep(100 * time.Millisecond)
	d.Trigger("b")
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(2), callCount.Load())
}
