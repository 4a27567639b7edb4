package ntcore

import (
	"fmt"
	"net"
)

// Family identifies an endpoint's address family.
type Family int

const (
	FamilyUndefined Family = iota
	FamilyIPv4
	FamilyIPv6
	FamilyLocal
)

// Kind identifies a transport's delivery semantics.
type Kind int

const (
	KindUndefined Kind = iota
	KindStream
	KindDatagram
)

// Transport is "stream/datagram x address family" (spec §3 Packet).
type Transport struct {
	Kind   Kind
	Family Family
}

func (t Transport) String() string {
	k := "?"
	switch t.Kind {
	case KindStream:
		k = "stream"
	case KindDatagram:
		k = "datagram"
	}
	f := "?"
	switch t.Family {
	case FamilyIPv4:
		f = "ipv4"
	case FamilyIPv6:
		f = "ipv6"
	case FamilyLocal:
		f = "local"
	}
	return k + "/" + f
}

var (
	TransportTCPv4 = Transport{KindStream, FamilyIPv4}
	TransportTCPv6 = Transport{KindStream, FamilyIPv6}
	TransportUDPv4 = Transport{KindDatagram, FamilyIPv4}
	TransportUDPv6 = Transport{KindDatagram, FamilyIPv6}
	TransportLocal = Transport{KindStream, FamilyLocal}
)

// Endpoint is "an address value (IP host + port, or filesystem path)"
// (glossary). The zero Endpoint is undefined, matching spec §3's "either
// endpoint may be undefined".
type Endpoint struct {
	Family Family
	IP     net.IP
	Port   uint16
	Path   string
}

// Undefined reports whether e carries no address.
func (e Endpoint) Undefined() bool {
	return e.Family == FamilyUndefined
}

// Equal compares two endpoints by value.
func (e Endpoint) Equal(o Endpoint) bool {
	if e.Family != o.Family {
		return false
	}
	if e.Family == FamilyLocal {
		return e.Path == o.Path
	}
	return e.Port == o.Port && e.IP.Equal(o.IP)
}

// Less gives the lexicographic order Binding relies on: family, then IP
// bytes, then port, then path.
func (e Endpoint) Less(o Endpoint) bool {
	if e.Family != o.Family {
		return e.Family < o.Family
	}
	if c := compareBytes(e.IP, o.IP); c != 0 {
		return c < 0
	}
	if e.Port != o.Port {
		return e.Port < o.Port
	}
	return e.Path < o.Path
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

func (e Endpoint) String() string {
	switch e.Family {
	case FamilyLocal:
		return e.Path
	case FamilyIPv4, FamilyIPv6:
		return fmt.Sprintf("%s:%d", e.IP, e.Port)
	default:
		return "<undefined>"
	}
}

// NewIPEndpoint builds an endpoint for an IPv4 or IPv6 host and port.
func NewIPEndpoint(ip net.IP, port uint16) Endpoint {
	fam := FamilyIPv4
	if ip.To4() == nil {
		fam = FamilyIPv6
	}
	return Endpoint{Family: fam, IP: ip, Port: port}
}

// NewLocalEndpoint builds a filesystem-path endpoint.
func NewLocalEndpoint(path string) Endpoint {
	return Endpoint{Family: FamilyLocal, Path: path}
}

// Binding is "a pair (source endpoint, remote endpoint)" (spec §3); either
// may be undefined. Equality and order are lexicographic on the pair.
type Binding struct {
	Source Endpoint
	Remote Endpoint
}

func (b Binding) Equal(o Binding) bool {
	return b.Source.Equal(o.Source) && b.Remote.Equal(o.Remote)
}

func (b Binding) Less(o Binding) bool {
	if !b.Source.Equal(o.Source) {
		return b.Source.Less(o.Source)
	}
	return b.Remote.Less(o.Remote)
}

func (b Binding) String() string {
	return fmt.Sprintf("%s->%s", b.Source, b.Remote)
}
