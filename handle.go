package ntcore

import "github.com/bits-and-blooms/bitset"

// Handle identifies a session or socket across the machine and the
// proactor (spec §6 glossary).
type Handle int

// HandleAllocator assigns handles by scanning for the smallest gap in
// [HandleLow, HandleHigh], used by the machine's session table. The
// proactor does not allocate handles; it keys its socket table by each
// socket's own Handle.
type HandleAllocator struct {
	used *bitset.BitSet
}

// NewHandleAllocator returns an empty allocator.
func NewHandleAllocator() *HandleAllocator {
	return &HandleAllocator{used: bitset.New(uint(HandleHigh - HandleLow + 1))}
}

// Acquire returns the smallest unused handle in range, or CodeInvalid if
// the range is exhausted.
func (a *HandleAllocator) Acquire() (Handle, error) {
	for i := uint(0); i <= uint(HandleHigh-HandleLow); i++ {
		if !a.used.Test(i) {
			a.used.Set(i)
			return Handle(int(i) + HandleLow), nil
		}
	}
	return 0, New("HandleAllocator.Acquire", CodeInvalid, "handle space exhausted")
}

// Release returns h to the pool.
func (a *HandleAllocator) Release(h Handle) {
	idx := int(h) - HandleLow
	if idx < 0 || idx > HandleHigh-HandleLow {
		return
	}
	a.used.Clear(uint(idx))
}

// InUse reports whether h is currently allocated.
func (a *HandleAllocator) InUse(h Handle) bool {
	idx := int(h) - HandleLow
	if idx < 0 || idx > HandleHigh-HandleLow {
		return false
	}
	return a.used.Test(uint(idx))
}
