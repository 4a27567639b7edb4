//go:build linux

package proactor

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/kevinmarsh/ntcore"
	"github.com/kevinmarsh/ntcore/internal/constants"
)

// bufPtr returns the address of buf's backing array for handing to the
// kernel, mirroring the indirection the teacher's mmap helper uses to
// satisfy go vet's unsafeptr checker.
//
//go:noinline
func bufPtr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

// linuxPort is the io_uring-backed completion port: Prepare stages a
// submission queue entry per operation, Flush submits the batch with a
// single io_uring_enter, and Wait peeks the completion queue, the same
// prepare-then-batch-flush discipline a completion-ring consumer uses
// to turn N completions into one syscall instead of N.
type linuxPort struct {
	mu   sync.Mutex
	ring *giouring.Ring
}

// newLinuxPort creates an io_uring instance with the given submission
// queue depth.
func newLinuxPort(depth uint32) (*linuxPort, error) {
	ring, err := giouring.CreateRing(depth)
	if err != nil {
		return nil, ntcore.Wrap("linuxPort.new", err)
	}
	return &linuxPort{ring: ring}, nil
}

func (p *linuxPort) Prepare(op Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sqe := p.ring.GetSQE()
	if sqe == nil {
		return ntcore.New("linuxPort.Prepare", ntcore.CodeLimit, "submission queue full")
	}
	switch op.Kind {
	case KindAccept:
		sqe.PrepareAccept(op.FD, 0, 0, 0)
	case KindConnect:
		sqe.PrepareConnect(op.FD, uintptr(0))
	case KindSend:
		sqe.PrepareSend(op.FD, bufPtr(op.Buf), uint32(len(op.Buf)), 0)
	case KindReceive:
		sqe.PrepareRecv(op.FD, bufPtr(op.Buf), uint32(len(op.Buf)), 0)
	case KindShutdown:
		sqe.PrepareShutdown(op.FD, 0)
	case KindCancel:
		sqe.PrepareCancel64(op.UserData, 0)
	default:
		sqe.PrepareNop()
	}
	sqe.UserData = op.UserData
	return nil
}

func (p *linuxPort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.ring.Submit()
	if err != nil {
		return ntcore.Wrap("linuxPort.Flush", err)
	}
	return nil
}

func (p *linuxPort) Wait(timeout time.Duration) ([]Completion, error) {
	var cqes [constants.DefaultCompletionQueueDepth]*giouring.CompletionQueueEvent

	var n uint32
	var err error
	if timeout <= 0 {
		n, err = p.ring.WaitCQEs(cqes[:], 1)
	} else {
		n, err = p.ring.WaitCQEsWithTimeout(cqes[:], 1, timeout)
	}
	if err != nil {
		return nil, ntcore.Wrap("linuxPort.Wait", err)
	}

	out := make([]Completion, 0, n)
	for i := uint32(0); i < n; i++ {
		cqe := cqes[i]
		out = append(out, Completion{UserData: cqe.UserData, Result: cqe.Res})
		p.ring.CQESeen(cqe)
	}
	return out, nil
}

func (p *linuxPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring.QueueExit()
	return nil
}
