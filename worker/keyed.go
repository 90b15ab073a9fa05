package worker

import "sync"

type keyLock struct {
	mutex sync.Mutex
	refs  int
}

// KeyedMutex provides one mutex per string key. Used to serialize
// executions that share a context snapshot namespace while allowing
// unrelated keys to proceed in parallel.
type KeyedMutex struct {
	mutex sync.Mutex
	locks map[string]*keyLock
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyLock{}}
}

// Lock acquires the mutex for key, blocking while another holder has it.
// The returned function releases the lock. Idle keys are removed so the
// map does not grow without bound.
func (k *KeyedMutex) Lock(key string) func() {
	k.mutex.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mutex.Unlock()

	entry.mutex.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mutex.Unlock()
			k.mutex.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.locks, key)
			}
			k.mutex.Unlock()
		})
	}
}
