package machine

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/kevinmarsh/ntcore"
)

// PortMap allocates ports from the ephemeral range [EphemeralPortLow,
// EphemeralPortHigh] and tracks explicit bindings, bitset-backed the
// same way the root HandleAllocator tracks handles. TCP and UDP get
// independent maps since the two transports don't share port space.
type PortMap struct {
	mu   sync.Mutex
	used *bitset.BitSet
}

// NewPortMap returns an empty port map.
func NewPortMap() *PortMap {
	span := uint(ntcore.EphemeralPortHigh-ntcore.EphemeralPortLow) + 1
	return &PortMap{used: bitset.New(span)}
}

func (m *PortMap) inRange(port uint16) bool {
	return port >= ntcore.EphemeralPortLow && port <= ntcore.EphemeralPortHigh
}

func (m *PortMap) index(port uint16) uint {
	return uint(port - ntcore.EphemeralPortLow)
}

// Reserve binds a specific, caller-requested port, failing with
// CodeAddressInUse if it is already taken. Ports outside the ephemeral
// range (e.g. well-known ports below 1024) are not tracked: Reserve
// accepts them without recording them, so InUse reports them free.
func (m *PortMap) Reserve(port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(port) {
		return nil
	}
	idx := m.index(port)
	if m.used.Test(idx) {
		return ntcore.New("PortMap.Reserve", ntcore.CodeAddressInUse, "port already bound")
	}
	m.used.Set(idx)
	return nil
}

// Allocate returns the lowest free port in the ephemeral range.
func (m *PortMap) Allocate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	span := uint(ntcore.EphemeralPortHigh-ntcore.EphemeralPortLow) + 1
	for i := uint(0); i < span; i++ {
		if !m.used.Test(i) {
			m.used.Set(i)
			return ntcore.EphemeralPortLow + uint16(i), nil
		}
	}
	return 0, ntcore.New("PortMap.Allocate", ntcore.CodeLimit, "ephemeral port range exhausted")
}

// Release frees port, a no-op for ports outside the ephemeral range or
// already free.
func (m *PortMap) Release(port uint16) {
	if !m.inRange(port) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used.Clear(m.index(port))
}

// InUse reports whether port is currently reserved or allocated.
func (m *PortMap) InUse(port uint16) bool {
	if !m.inRange(port) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used.Test(m.index(port))
}
