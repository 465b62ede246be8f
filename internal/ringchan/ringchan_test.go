package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_DropsOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		require.True(t, rc.Send(i))
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got, "only the newest values MUST survive")
	m := rc.Metrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_TrySendFull(t *testing.T) {
	rc := New[string](1)
	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend MUST NOT evict")

	v, ok := rc.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = rc.TryReceive()
	assert.False(t, ok, "empty channel MUST report no value")
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Close()
	rc.Close()

	assert.False(t, rc.Send(1), "send after close MUST be rejected, not panic")
	assert.True(t, rc.Closed())
	assert.Equal(t, int64(1), rc.Metrics().Rejected)

	_, ok := rc.Receive()
	assert.False(t, ok)
}

func TestRingChannel_ConcurrentSendClose(t *testing.T) {
	rc := New[int](4)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range rc.C() {
		}
	}()

	rc.Close()
	wg.Wait()
	<-done

	m := rc.Metrics()
	assert.Equal(t, int64(8000), m.Written+m.Rejected, "every send MUST be either accepted or rejected")
}
