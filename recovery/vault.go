package recovery

import (
	"sync"

	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// materialVault is the only place collected shares and reconstructed keys
// live. Values sit in locked memory and are zeroed on erase.
type materialVault struct {
	mu     sync.Mutex
	shares map[string][]heldShare
	keys   map[string]*cryptoutils.SecureBuffer
}

type heldShare struct {
	meta  interfaces.Share
	value *cryptoutils.SecureBuffer
}

func newMaterialVault() *materialVault {
	return &materialVault{
		shares: make(map[string][]heldShare),
		keys:   make(map[string]*cryptoutils.SecureBuffer),
	}
}

// addShare takes a copy of share's value; the caller still wipes its copy.
func (v *materialVault) addShare(recoveryID string, share interfaces.Share) {
	meta := share
	meta.Value = nil
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shares[recoveryID] = append(v.shares[recoveryID], heldShare{meta: meta, value: cryptoutils.NewSecureBuffer(share.Value)})
}

// collected returns cleartext copies of the held shares. The caller wipes them.
func (v *materialVault) collected(recoveryID string) []interfaces.Share {
	v.mu.Lock()
	defer v.mu.Unlock()
	held := v.shares[recoveryID]
	out := make([]interfaces.Share, 0, len(held))
	for _, h := range held {
		s := h.meta
		s.Value = h.value.Bytes()
		out = append(out, s)
	}
	return out
}

func (v *materialVault) shareCount(recoveryID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.shares[recoveryID])
}

// holds reports whether shareID was collected for recoveryID.
func (v *materialVault) holds(recoveryID, shareID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, h := range v.shares[recoveryID] {
		if h.meta.ID == shareID {
			return true
		}
	}
	return false
}

func (v *materialVault) dropShares(recoveryID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, h := range v.shares[recoveryID] {
		h.value.Destroy()
	}
	delete(v.shares, recoveryID)
}

func (v *materialVault) putKey(recoveryID string, key []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if old, ok := v.keys[recoveryID]; ok {
		old.Destroy()
	}
	v.keys[recoveryID] = cryptoutils.NewSecureBuffer(key)
}

// key returns a copy of the reconstructed key, or nil.
func (v *materialVault) key(recoveryID string) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf, ok := v.keys[recoveryID]
	if !ok {
		return nil
	}
	return buf.Bytes()
}

func (v *materialVault) hasKey(recoveryID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.keys[recoveryID]
	return ok
}

// eraseKey zeroes the key and reports whether there was one.
func (v *materialVault) eraseKey(recoveryID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf, ok := v.keys[recoveryID]
	if !ok {
		return false
	}
	buf.Destroy()
	delete(v.keys, recoveryID)
	return true
}

func (v *materialVault) erase(recoveryID string) {
	v.dropShares(recoveryID)
	v.eraseKey(recoveryID)
}

func (v *materialVault) eraseAll() {
	v.mu.Lock()
	ids := make([]string, 0, len(v.shares)+len(v.keys))
	for id := range v.shares {
		ids = append(ids, id)
	}
	for id := range v.keys {
		ids = append(ids, id)
	}
	v.mu.Unlock()

	for _, id := range ids {
		v.erase(id)
	}
}
