// Package socket implements the AF_XDP socket handle: one (interface,
// queue) binding, its four rings, its bind-mode bit, and the counters the
// run-loop and get_socket_stats both read.
package socket

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/xskforge/xskforge/umem"
)

// Counters are the framework-level counters named in the stats surface,
// touched only by the owning worker.
type Counters struct {
	RxPackets        uint64
	TxPackets        uint64
	RxEmptyPolls     uint64
	TxTriggerSendtos uint64
	TxWakeupSendtos  uint64
	OptPolls         uint64
}

// Socket is one interface's AF_XDP binding for one worker.
type Socket struct {
	fd            int
	Rings         *umem.Rings
	Region        *umem.Region
	Mode          umem.BindMode
	NeedWakeup    bool
	BusyPoll      bool
	IfaceIndex    int // position in the worker's owned-interface list
	Ifindex       int // kernel ifindex
	OutstandingTx uint32
	Counters      Counters
}

// Options mirrors the inputs Open needs from the control plane.
type Options struct {
	Region       *umem.Region
	Ifindex      int
	QueueID      int
	IfaceIndex   int
	Mode         umem.BindMode
	NeedWakeup   bool
	BusyPoll     bool
	DescCount    uint32
	RegisterUMEM bool
	SharedUmemFD int
	Unaligned    bool
	BatchSize    int
}

// Open performs the raw setup (umem.Open) and wraps the result as a Socket,
// applying busy-poll socket options per step 4 of the setup sequence when
// requested and the socket is zero-copy.
func Open(o Options) (*Socket, error) {
	fd, rings, err := umem.Open(umem.OpenOpts{
		Region:          o.Region,
		Ifindex:         o.Ifindex,
		QueueID:         o.QueueID,
		Mode:            o.Mode,
		NeedWakeup:      o.NeedWakeup,
		DescCount:       o.DescCount,
		RegisterUMEM:    o.RegisterUMEM,
		SharedUmemFD:    o.SharedUmemFD,
		UnalignedChunks: o.Unaligned,
	})
	if err != nil {
		return nil, err
	}
	s := &Socket{
		fd:         fd,
		Rings:      rings,
		Region:     o.Region,
		Mode:       o.Mode,
		NeedWakeup: o.NeedWakeup,
		BusyPoll:   o.BusyPoll,
		IfaceIndex: o.IfaceIndex,
		Ifindex:    o.Ifindex,
	}
	if o.BusyPoll && o.Mode == umem.BindZeroCopy {
		if err := umem.SetBusyPoll(fd, o.BatchSize); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("socket: busy-poll setup: %w", err)
		}
	}
	return s, nil
}

// FD returns the underlying socket file descriptor, e.g. to populate an
// xsks_map entry in COMBINED mode.
func (s *Socket) FD() int { return s.fd }

// Close closes the socket's fd. The four rings are mmap'd views over fd's
// kernel memory and become invalid once this returns; it does not touch the
// UMEM region, which may still be shared with other sockets.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// PrimeFillRing reserves and submits exactly framesPerSocket fill-ring
// entries addressed at this interface's slot range, step 5 of setup.
func (s *Socket) PrimeFillRing(framesPerSocket uint32) error {
	n, base := s.Rings.Fill.Reserve(framesPerSocket)
	if n != framesPerSocket {
		return fmt.Errorf("socket: fill ring reserved %d of %d entries", n, framesPerSocket)
	}
	for k := uint32(0); k < n; k++ {
		addr := s.Region.InterfaceSlot(s.IfaceIndex, k)
		s.Rings.Fill.Set(base+k, uint64(addr))
	}
	s.Rings.Fill.Submit(base, n)
	return nil
}

// KickTx issues the zero-length MSG_DONTWAIT sendto that nudges the driver
// to process the tx ring. ENOBUFS/EAGAIN/EBUSY/ENETDOWN are benign and
// swallowed; any other error is returned for the caller to log.
func (s *Socket) KickTx() error {
	err := unix.Sendto(s.fd, nil, unix.MSG_DONTWAIT, nil)
	return benign(err)
}

// KickRx issues the zero-length MSG_DONTWAIT recvfrom that nudges the
// driver to refill rx, used when the fill ring needs a wakeup.
func (s *Socket) KickRx() error {
	_, _, err := unix.Recvfrom(s.fd, nil, unix.MSG_DONTWAIT)
	return benign(err)
}

func benign(err error) error {
	switch err {
	case nil, unix.ENOBUFS, unix.EAGAIN, unix.EBUSY, unix.ENETDOWN:
		return nil
	default:
		return err
	}
}

// Stats reads the driver-reported XDP_STATISTICS counters for this socket.
func (s *Socket) Stats() (umem.Statistics, error) {
	return umem.ReadStatistics(s.fd)
}
