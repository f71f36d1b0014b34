package terminal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	k := newKeyLock()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("t1")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.held(), "slots are released once unused")
}

func TestKeyLock_DifferentKeysDoNotBlock(t *testing.T) {
	k := newKeyLock()

	unlock := k.Lock("t1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := k.Lock("t2")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on t2 blocked behind t1")
	}
}

func TestKeyLock_UnlockIsIdempotent(t *testing.T) {
	k := newKeyLock()
	unlock := k.Lock("t1")
	unlock()
	unlock()

	assert.Equal(t, 0, k.held())
}
