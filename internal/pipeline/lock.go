package pipeline

import "sync"

// Lock admits one pipeline run at a time within a process.
type Lock struct {
	mu sync.Mutex
}

// TryAcquire takes the lock or fails with ErrRunInProgress. The returned
// function releases it.
func (l *Lock) TryAcquire() (release func(), err error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}
