package machine

import "github.com/kevinmarsh/ntcore"

// PacketType is a tagged variant for what a packet carries through the
// machine's queues.
type PacketType int

const (
	// PacketPush carries a payload slice for the destination's incoming
	// queue.
	PacketPush PacketType = iota
	// PacketShutdown signals the destination that no further data will
	// arrive on this conversation; it shuts down the destination's
	// incoming queue on receipt.
	PacketShutdown
	// PacketAcknowledged is fed back to a sender's notification queue
	// once a PacketPush with timestamp-incoming has been consumed.
	PacketAcknowledged
	// PacketSent is appended to a sender's own notification queue once a
	// timestamp-outgoing payload has been transmitted.
	PacketSent
)

// sessionRef is a weak back-reference to a session: a handle the
// machine can resolve to a live *Session, or fail if the session has
// since closed. Packets and monitor registrations hold sessionRefs
// rather than *Session so a closed session's queues and endpoint are
// released even while packets still reference it in flight (spec §9
// ownership rule).
type sessionRef struct {
	machine *Machine
	handle  ntcore.Handle
}

// resolve looks the handle up in the machine's handle index, returning
// ok=false if the session has closed.
func (r sessionRef) resolve() (*Session, bool) {
	if r.machine == nil {
		return nil, false
	}
	return r.machine.lookupByHandle(r.handle)
}

// Packet is a unit transferred between two sessions' queues: a type, a
// transport, source/remote endpoints, weak references to the source and
// destination sessions, a payload, and a cost charged against the
// holding queue's watermark.
type Packet struct {
	Type      PacketType
	Transport ntcore.Transport
	Source    ntcore.Endpoint
	Remote    ntcore.Endpoint
	sourceRef sessionRef
	remoteRef sessionRef
	Payload   []byte
	Cost      int

	// TimestampID is set for SENT/ACKNOWLEDGED notifications so the
	// application can correlate a notification with the send call that
	// produced it.
	TimestampID uint64
}

// newPushPacket builds a PacketPush with cost equal to its payload
// length (cost accounting is 1 byte per payload byte, per the watermark
// invariant current_watermark = sum(packet.cost)).
func newPushPacket(transport ntcore.Transport, source, remote ntcore.Endpoint, payload []byte) *Packet {
	return &Packet{Type: PacketPush, Transport: transport, Source: source, Remote: remote, Payload: payload, Cost: len(payload)}
}

func newShutdownPacket(transport ntcore.Transport, source, remote ntcore.Endpoint) *Packet {
	return &Packet{Type: PacketShutdown, Transport: transport, Source: source, Remote: remote, Cost: 0}
}

func newNotification(typ PacketType, id uint64) *Packet {
	return &Packet{Type: typ, TimestampID: id, Cost: 0}
}
