package diskqueue

import (
	"sync"

	tperrors "github.com/plotforge/tablepress/errors"
)

// arena is the queue's bounded buffer pool. It does not recycle memory; it
// bounds how much may be outstanding at once, so the whole pipeline's live
// buffer footprint stays within the budget the caller granted. Sizes are
// accounted rounded up to the device block size.
type arena struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int64
	used     int64
	leases   map[*byte]int64
	err      error
}

func newArena(capacity int64) *arena {
	a := &arena{
		capacity: capacity,
		leases:   make(map[*byte]int64),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// acquire leases size bytes, accounted as accounted bytes. With block set it
// waits for releases; it gives up (returning nil) once the arena fails or no
// outstanding lease could ever free enough space.
func (a *arena) acquire(size int, accounted int64, block bool) []byte {
	if size == 0 {
		// Zero-length leases keep the release bookkeeping uniform.
		size = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		if a.err != nil {
			return nil
		}
		if accounted > a.capacity {
			a.err = tperrors.ErrBufferTooLarge
			return nil
		}
		if a.used+accounted <= a.capacity {
			break
		}
		if !block {
			return nil
		}
		if len(a.leases) == 0 {
			// Nothing outstanding can ever be released: the request can
			// never be satisfied. Fail instead of deadlocking.
			a.err = tperrors.ErrArenaExhausted
			a.cond.Broadcast()
			return nil
		}
		a.cond.Wait()
	}

	buf := make([]byte, size)
	a.used += accounted
	a.leases[&buf[0]] = accounted
	return buf
}

// release returns a leased buffer's accounting to the pool.
func (a *arena) release(buf []byte) error {
	if len(buf) == 0 {
		return tperrors.ErrUnknownBuffer
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := &buf[0]
	accounted, ok := a.leases[key]
	if !ok {
		return tperrors.ErrUnknownBuffer
	}
	delete(a.leases, key)
	a.used -= accounted
	a.cond.Broadcast()
	return nil
}

// fail wakes every blocked acquirer with err. The first error sticks.
func (a *arena) fail(err error) {
	a.mu.Lock()
	if a.err == nil {
		a.err = err
	}
	a.mu.Unlock()
	a.cond.Broadcast()
}

func (a *arena) failure() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
