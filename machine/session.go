package machine

import (
	"sync"
	"sync/atomic"

	"github.com/kevinmarsh/ntcore"
)

// State is a session's position in its lifecycle state machine
// (spec §4.4): Fresh -> Open -> (Bound) -> (Listening | Connected) ->
// Shutdown -> Closed. Datagram sessions skip Listening; connectionless
// sends are legal from Bound without ever reaching Connected.
type State int

const (
	StateFresh State = iota
	StateOpen
	StateBound
	StateListening
	StateConnected
	StateShutdown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateOpen:
		return "open"
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateShutdown:
		return "shutdown"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction selects which half of a session's communication Shutdown
// disables (spec §4.4's shutdown(direction)).
type Direction int

const (
	// ShutdownSend disables further sends: the outgoing queue is shut
	// down and, for stream transport, a SHUTDOWN packet is enqueued to
	// the peer.
	ShutdownSend Direction = iota
	// ShutdownReceive disables further receives: the incoming queue is
	// shut down locally. No packet is sent; this side simply stops
	// accepting more data.
	ShutdownReceive
	// ShutdownBoth disables both directions.
	ShutdownBoth
)

// Session is one endpoint of a simulated connection: a state machine, a
// bound bidirectional packet queue pair, a notification queue for
// SENT/ACKNOWLEDGED feedback, and the interest it registers with the
// shared Monitor.
type Session struct {
	handle    ntcore.Handle
	machine   *Machine
	transport ntcore.Transport
	options   ntcore.SocketOptions

	mu       sync.Mutex
	state    State
	binding  ntcore.Binding
	err      error
	accepted []*Session // backlog, populated by Machine on connect to a listener
	peer     sessionRef // weak ref to the connected stream peer, a routing fast path
	ownsPort bool       // false for accepted peers, which share their listener's port

	incoming      *PacketQueue
	outgoing      *PacketQueue
	notifications *PacketQueue

	nextTimestampID uint64
}

func newSession(m *Machine, h ntcore.Handle, transport ntcore.Transport, opts ntcore.SocketOptions) *Session {
	s := &Session{
		handle:        h,
		machine:       m,
		transport:     transport,
		options:       opts,
		state:         StateFresh,
		ownsPort:      true,
		incoming:      NewPacketQueue(ntcore.DefaultLowWatermark, opts.RecvBufferSize),
		outgoing:      NewPacketQueue(ntcore.DefaultLowWatermark, opts.SendBufferSize),
		notifications: NewPacketQueue(1, 1<<20),
	}
	s.incoming.SetObserver(func() { s.updateReadiness() })
	s.outgoing.SetObserver(func() { s.updateReadiness(); m.wake() })
	s.notifications.SetObserver(func() { s.updateReadiness() })
	s.state = StateOpen
	return s
}

func (s *Session) ref() sessionRef { return sessionRef{machine: s.machine, handle: s.handle} }

// Handle returns the session's stable identifier.
func (s *Session) Handle() ntcore.Handle { return s.handle }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Binding returns the session's current source/remote endpoint pair.
func (s *Session) Binding() ntcore.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

// Bind assigns a local endpoint, allocating an ephemeral port if local
// carries none, and registers the endpoint with the machine's indices.
func (s *Session) Bind(local ntcore.Endpoint) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ntcore.NewWithHandle("Session.Bind", int(s.handle), ntcore.CodeInvalid, "session is not open")
	}
	s.mu.Unlock()

	bound, err := s.machine.bindEndpoint(s, local)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.binding.Source = bound
	s.state = StateBound
	s.mu.Unlock()
	return nil
}

// Listen marks a bound stream session as accepting incoming
// connections with the given backlog capacity.
func (s *Session) Listen(backlog int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport.Kind != ntcore.KindStream {
		return ntcore.NewWithHandle("Session.Listen", int(s.handle), ntcore.CodeInvalid, "listen requires a stream transport")
	}
	if s.state != StateBound {
		return ntcore.NewWithHandle("Session.Listen", int(s.handle), ntcore.CodeInvalid, "session is not bound")
	}
	s.state = StateListening
	s.accepted = make([]*Session, 0, backlog)
	return nil
}

// Accept pops one inbound connection from the backlog, or ok=false if
// none is waiting.
func (s *Session) Accept() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.accepted) == 0 {
		return nil, false
	}
	child := s.accepted[0]
	copy(s.accepted, s.accepted[1:])
	s.accepted = s.accepted[:len(s.accepted)-1]
	return child, true
}

// Connect establishes a session's remote endpoint. For stream
// transports, remote must name a listening session; a peer session is
// created and appended to that listener's backlog. For datagram
// transports, Connect only records the default remote for subsequent
// Send/Receive calls — no handshake occurs.
func (s *Session) Connect(remote ntcore.Endpoint) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if s.transport.Kind == ntcore.KindDatagram {
		if state != StateOpen && state != StateBound {
			return ntcore.NewWithHandle("Session.Connect", int(s.handle), ntcore.CodeInvalid, "session is not open")
		}
		if state == StateOpen {
			if err := s.Bind(ntcore.Endpoint{}); err != nil {
				return err
			}
		}
		s.mu.Lock()
		s.binding.Remote = remote
		s.state = StateConnected
		s.mu.Unlock()
		return nil
	}

	if state != StateOpen && state != StateBound {
		return ntcore.NewWithHandle("Session.Connect", int(s.handle), ntcore.CodeInvalid, "session is not open")
	}
	if state == StateOpen {
		if err := s.Bind(ntcore.Endpoint{}); err != nil {
			return err
		}
	}

	listener, ok := s.machine.lookupListener(s.transport, remote)
	if !ok {
		return ntcore.NewWithHandle("Session.Connect", int(s.handle), ntcore.CodeConnectionRefused, "no listener at remote endpoint")
	}

	s.mu.Lock()
	s.binding.Remote = remote
	s.state = StateConnected
	s.mu.Unlock()

	listener.mu.Lock()
	if listener.state != StateListening || len(listener.accepted) >= cap(listener.accepted) {
		listener.mu.Unlock()
		s.mu.Lock()
		s.state = StateBound
		s.mu.Unlock()
		return ntcore.NewWithHandle("Session.Connect", int(s.handle), ntcore.CodeConnectionRefused, "listener backlog full or closed")
	}
	// The accepted peer shares the listener's bound endpoint as its own
	// source (it is "the same socket" from the wire's perspective) and
	// the connecting session's source as its remote. listener.mu is
	// already held here, so read its binding directly rather than via
	// Binding() (which would re-lock and deadlock).
	peer := s.machine.newPeerSession(listener.transport, listener.options, listener.binding.Source)
	peer.mu.Lock()
	peer.binding.Remote = s.binding.Source
	peer.state = StateConnected
	peer.mu.Unlock()
	listener.accepted = append(listener.accepted, peer)
	listener.mu.Unlock()
	listener.updateReadiness()

	// Both ends of the connection share the listener's endpoint as a
	// Source with other accepted peers, so the plain source index can't
	// distinguish them; register the (source,remote) pair for each side
	// so the step loop can route between specific peers, and cache a
	// direct weak reference for the common case.
	s.machine.registerBinding(s)
	s.machine.registerBinding(peer)
	s.mu.Lock()
	s.peer = peer.ref()
	s.mu.Unlock()
	peer.mu.Lock()
	peer.peer = s.ref()
	peer.mu.Unlock()

	return nil
}

// Send writes payload to the session's outgoing queue for the machine's
// step loop to deliver. Datagram sessions send payload as a single
// packet capped at MTU; stream sessions chunk payload into MTU-sized
// packets. block controls whether Send waits for outgoing queue space;
// once at least one chunk has been enqueued, a later WOULD-BLOCK
// returns the partial byte count instead of an error.
func (s *Session) Send(payload []byte, block bool) (int, error) {
	s.mu.Lock()
	if s.state == StateShutdown {
		s.mu.Unlock()
		return 0, ntcore.NewWithHandle("Session.Send", int(s.handle), ntcore.CodeConnectionDead, "session is shut down for sending")
	}
	if s.state != StateConnected && s.state != StateBound {
		s.mu.Unlock()
		return 0, ntcore.NewWithHandle("Session.Send", int(s.handle), ntcore.CodeInvalid, "session has no destination")
	}
	transport := s.transport
	remote := s.binding.Remote
	source := s.binding.Source
	timestamp := s.options.TimestampOutgoing
	s.mu.Unlock()

	if transport.Kind == ntcore.KindDatagram {
		if len(payload) > ntcore.MTU {
			return 0, ntcore.NewWithHandle("Session.Send", int(s.handle), ntcore.CodeInvalid, "datagram payload exceeds MTU")
		}
		if isBroadcast(remote) {
			s.mu.Lock()
			allowed := s.options.Broadcast
			s.mu.Unlock()
			if !allowed {
				return 0, ntcore.NewWithHandle("Session.Send", int(s.handle), ntcore.CodeInvalid, "broadcast requires SocketOptions.Broadcast")
			}
		}
		buf := s.machine.blobs.get(len(payload))
		copy(buf, payload)
		p := newPushPacket(transport, source, remote, buf)
		s.attachSendMeta(p, timestamp)
		if err := s.outgoing.Enqueue(p, block); err != nil {
			s.machine.blobs.put(buf)
			return 0, ntcore.Wrap("Session.Send", err)
		}
		return len(payload), nil
	}

	sent := 0
	for sent < len(payload) {
		end := sent + ntcore.MTU
		if end > len(payload) {
			end = len(payload)
		}
		chunk := s.machine.blobs.get(end - sent)
		copy(chunk, payload[sent:end])
		p := newPushPacket(transport, source, remote, chunk)
		s.attachSendMeta(p, timestamp)

		err := s.outgoing.Enqueue(p, block)
		if err != nil {
			s.machine.blobs.put(chunk)
			if ntcore.Is(err, ntcore.CodeWouldBlock) && sent > 0 {
				return sent, nil
			}
			return sent, ntcore.Wrap("Session.Send", err)
		}
		sent = end
	}
	return sent, nil
}

func (s *Session) attachSendMeta(p *Packet, timestamp bool) {
	p.sourceRef = s.ref()
	s.mu.Lock()
	p.remoteRef = s.peer
	s.mu.Unlock()
	if timestamp {
		p.TimestampID = atomic.AddUint64(&s.nextTimestampID, 1)
	}
}

// ReceiveResult reports what Receive consumed.
type ReceiveResult struct {
	N      int
	Remote ntcore.Endpoint
	EOF    bool
}

// Receive copies from the head of the incoming queue into buf. A PUSH
// packet larger than buf is partially consumed and reinserted at the
// head with its remaining payload. A SHUTDOWN packet at the head shuts
// the incoming queue down and reports EOF. Any other packet type
// arriving on the incoming queue is a bug in the routing layer and
// reported as CodeInvalid.
func (s *Session) Receive(buf []byte, block bool) (ReceiveResult, error) {
	p, err := s.incoming.Dequeue(block)
	if err != nil {
		if ntcore.Is(err, ntcore.CodeEOF) {
			return ReceiveResult{EOF: true}, nil
		}
		return ReceiveResult{}, ntcore.Wrap("Session.Receive", err)
	}

	switch p.Type {
	case PacketShutdown:
		s.incoming.Shutdown()
		return ReceiveResult{EOF: true}, nil
	case PacketPush:
		n := copy(buf, p.Payload)
		consumedAll := n == len(p.Payload)
		if !consumedAll {
			rem := &Packet{Type: PacketPush, Transport: p.Transport, Source: p.Source, Remote: p.Remote,
				sourceRef: p.sourceRef, remoteRef: p.remoteRef, Payload: p.Payload[n:], Cost: len(p.Payload[n:]), TimestampID: p.TimestampID}
			s.incoming.RetryFront(rem)
		}
		if consumedAll && s.options.TimestampIncoming && p.TimestampID != 0 {
			if src, ok := p.sourceRef.resolve(); ok {
				_ = src.notifications.Enqueue(newNotification(PacketAcknowledged, p.TimestampID), false)
			}
		}
		if consumedAll {
			s.machine.blobs.put(p.Payload)
		}
		return ReceiveResult{N: n, Remote: p.Remote}, nil
	default:
		return ReceiveResult{}, ntcore.NewWithHandle("Session.Receive", int(s.handle), ntcore.CodeInvalid, "unexpected packet type on incoming queue")
	}
}

// PollNotification dequeues one SENT/ACKNOWLEDGED notification, or
// ok=false if none is pending.
func (s *Session) PollNotification() (*Packet, bool) {
	p, err := s.notifications.Dequeue(false)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Shutdown disables further send, receive, or both (per direction) on a
// connected or bound session (spec §4.4). A send shutdown transitions
// the session to StateShutdown and, for stream transport, enqueues a
// SHUTDOWN packet to the remote so its incoming queue sees EOF once
// drained; a receive-only shutdown only shuts down this side's incoming
// queue and leaves the session's state and outgoing queue untouched.
func (s *Session) Shutdown(direction Direction) error {
	s.mu.Lock()
	if s.state != StateConnected && s.state != StateBound {
		s.mu.Unlock()
		return ntcore.NewWithHandle("Session.Shutdown", int(s.handle), ntcore.CodeInvalid, "session is not connected")
	}
	transport := s.transport
	remote := s.binding.Remote
	source := s.binding.Source
	if direction == ShutdownSend || direction == ShutdownBoth {
		s.state = StateShutdown
	}
	s.mu.Unlock()

	if direction == ShutdownSend || direction == ShutdownBoth {
		if transport.Kind == ntcore.KindStream {
			s.outgoing.Enqueue(newShutdownPacket(transport, source, remote), false)
		}
		s.outgoing.Shutdown()
	}
	if direction == ShutdownReceive || direction == ShutdownBoth {
		s.incoming.Shutdown()
	}
	s.updateReadiness()
	return nil
}

// Close releases the session's resources: its queues are shut down,
// its monitor registration is dropped, and its endpoint and handle are
// released back to the machine.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.incoming.Shutdown()
	s.outgoing.Shutdown()
	s.notifications.Shutdown()
	s.machine.monitor.Unregister(s.handle)
	s.machine.unregisterBinding(s)
	s.machine.releaseSession(s)
	return nil
}

// Interest computes the session's current readiness: readable if the
// incoming queue has data or is drained-and-shut-down (EOF pending),
// writable if the outgoing queue has room, error if the session carries
// a stored error, notification if feedback is pending.
func (s *Session) interest() Interest {
	return Interest{
		Readable:     s.incoming.Len() > 0 || s.incoming.IsShutdown(),
		Writable:     !s.outgoing.Full(),
		Error:        s.hasError(),
		Notification: s.notifications.Len() > 0,
	}
}

func (s *Session) hasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

func (s *Session) updateReadiness() {
	s.machine.monitor.ReportReady(s.handle, s.interest())
}

// Watch registers want with the shared monitor for this session.
func (s *Session) Watch(want Interest) {
	s.machine.monitor.Register(s.ref(), want)
	s.updateReadiness()
}
