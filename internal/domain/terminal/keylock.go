package terminal

import "sync"

// keyLock serializes work per key. Entries are reference counted and removed
// once nobody holds or waits on them, so different keys never contend.
type keyLock struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{slots: make(map[string]*keySlot)}
}

// Lock blocks until key is free and returns the matching unlock function
func (k *keyLock) Lock(key string) func() {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &keySlot{}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	slot.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			slot.mu.Unlock()

			k.mu.Lock()
			slot.refs--
			if slot.refs == 0 {
				delete(k.slots, key)
			}
			k.mu.Unlock()
		})
	}
}

// held returns the number of keys with holders or waiters
func (k *keyLock) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
