package cryptoutils

import (
	"sync"
)

// SecureBuffer holds secret bytes in memory that is locked against swapping
// where the platform allows it, and zeroed on Destroy. Locking is best effort:
// without mmap the contents live on the Go heap, and without RLIMIT_MEMLOCK
// headroom the pages stay swappable.
type SecureBuffer struct {
	mu     sync.Mutex
	data   []byte
	region []byte // page-aligned mapping backing data, nil on the heap
	locked bool
}

// NewSecureBuffer copies secret into a fresh region. The caller still owns
// secret and should wipe it.
func NewSecureBuffer(secret []byte) *SecureBuffer {
	b := &SecureBuffer{}
	if len(secret) > 0 {
		if region, locked, err := allocLocked(len(secret)); err == nil {
			b.region, b.locked = region, locked
			b.data = region[:len(secret)]
		}
	}
	if b.data == nil {
		b.data = make([]byte, len(secret))
	}
	copy(b.data, secret)
	return b
}

// Locked reports whether the contents are pinned in RAM.
func (b *SecureBuffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Bytes returns a copy of the contents, or nil after Destroy.
func (b *SecureBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the size of the contents, 0 after Destroy.
func (b *SecureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Destroyed reports whether Destroy has run.
func (b *SecureBuffer) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data == nil
}

// Destroy zeroes and releases the contents. Safe to call more than once.
func (b *SecureBuffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return
	}
	wipeBytes(b.data)
	if b.region != nil {
		freeLocked(b.region, b.locked)
		b.region = nil
		b.locked = false
	}
	b.data = nil
}

// Wipe zeroes data in place.
func Wipe(data []byte) {
	wipeBytes(data)
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
