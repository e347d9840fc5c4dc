package gate

import "sync"

// KeyRing rotates through upstream API keys
type KeyRing struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewKeyRing creates a ring over keys. Empty keys are dropped.
func NewKeyRing(keys []string) *KeyRing {
	r := &KeyRing{}
	for _, k := range keys {
		if k != "" {
			r.keys = append(r.keys, k)
		}
	}
	return r
}

// Len returns the number of keys
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Current returns the active key, or "" when the ring is empty
func (r *KeyRing) Current() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	return r.keys[r.idx]
}

// CurrentLabel returns a masked form of the active key for logs
func (r *KeyRing) CurrentLabel() string {
	k := r.Current()
	if len(k) <= 4 {
		return "****"
	}
	return "****" + k[len(k)-4:]
}

// Rotate advances to the next key and returns it
func (r *KeyRing) Rotate() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	r.idx = (r.idx + 1) % len(r.keys)
	return r.keys[r.idx]
}
