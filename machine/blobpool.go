package machine

import (
	"sync"

	"github.com/kevinmarsh/ntcore"
)

// blobPool is the machine's blob buffer factory (spec §3 glossary):
// size-bucketed pools that hand out byte slices for packet payloads
// without a hot-path allocation per send/receive. Buckets are sized
// around the MTU so a single in-flight packet (capped at MTU bytes)
// almost always finds its buffer in the smallest bucket that fits, with
// larger buckets covering batched reads.
//
// Uses the *[]byte pattern to avoid sync.Pool's interface-boxing
// overhead on every Get/Put.
const (
	sizeQuarterMTU = ntcore.MTU / 4
	sizeHalfMTU    = ntcore.MTU / 2
	sizeMTU        = ntcore.MTU
	sizeDoubleMTU  = ntcore.MTU * 2
)

type blobPool struct {
	quarter sync.Pool
	half    sync.Pool
	full    sync.Pool
	double  sync.Pool
}

func newBlobPool() *blobPool {
	return &blobPool{
		quarter: sync.Pool{New: func() any { b := make([]byte, sizeQuarterMTU); return &b }},
		half:    sync.Pool{New: func() any { b := make([]byte, sizeHalfMTU); return &b }},
		full:    sync.Pool{New: func() any { b := make([]byte, sizeMTU); return &b }},
		double:  sync.Pool{New: func() any { b := make([]byte, sizeDoubleMTU); return &b }},
	}
}

// get returns a buffer of at least size bytes. The caller must call put
// when done.
func (p *blobPool) get(size int) []byte {
	switch {
	case size <= sizeQuarterMTU:
		return (*p.quarter.Get().(*[]byte))[:size]
	case size <= sizeHalfMTU:
		return (*p.half.Get().(*[]byte))[:size]
	case size <= sizeMTU:
		return (*p.full.Get().(*[]byte))[:size]
	case size <= sizeDoubleMTU:
		return (*p.double.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// put returns buf to the pool matching its capacity; buffers with a
// non-standard capacity (e.g. grown past sizeDoubleMTU) are dropped.
func (p *blobPool) put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case sizeQuarterMTU:
		p.quarter.Put(&buf)
	case sizeHalfMTU:
		p.half.Put(&buf)
	case sizeMTU:
		p.full.Put(&buf)
	case sizeDoubleMTU:
		p.double.Put(&buf)
	}
}
