// Package worker implements the per-worker run loop: the batched
// completion-drain -> receive -> classify -> redispatch -> submit pipeline
// that drives every socket a worker owns.
//
// A worker's state — its sockets, its UMEM region(s), its counters — is
// touched only by the worker's own goroutine after construction. The
// control plane only mutates it during init and teardown, while the worker
// goroutine is not yet running or has already joined.
package worker

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/xskforge/xskforge/frame"
	"github.com/xskforge/xskforge/socket"
	"github.com/xskforge/xskforge/umem"
)

// PollTimeoutMS bounds how long a worker may block inside poll() per
// iteration, and therefore how late a worker may be to observe the stop
// flag in poll mode.
const PollTimeoutMS = 1000

// PacketProcessor classifies one received packet. It must return -1 to drop
// the packet or an interface index in [0, numInterfaces) to forward it
// there. It must not retain pkt past return and must be safe to call
// concurrently from every worker.
type PacketProcessor func(pkt []byte, ingressIfindex int) int

const dropResult = -1

// txEntry is one bucketed forward: the frame address plus the length the
// classifier observed, needed to build the destination tx descriptor.
type txEntry struct {
	addr frame.Addr
	len  uint32
}

// Worker owns one socket per configured interface, pinned to one CPU, and
// drives all four rings of each via Run.
type Worker struct {
	CPUID     int
	Sockets   []*socket.Socket
	BatchSize int
	Poll      bool
	BusyPoll  bool
	Classify  PacketProcessor
	stop      *atomic.Bool

	codecs    []*frame.Codec
	toDrop    []frame.Addr
	toFillBuf []uint64
	toFill    [][]uint64 // per-owner slices into toFillBuf
	toTxBuf   []txEntry
	toTx      [][]txEntry // per-destination slices into toTxBuf
	pollFDs   []unix.PollFd
}

// New builds a worker ready to Run. sockets must already be open (rings
// mmap'd, fill rings primed) and ordered the same way codecs are.
func New(cpuID int, sockets []*socket.Socket, batchSize int, pollMode, busyPoll bool, classify PacketProcessor, stop *atomic.Bool) *Worker {
	n := len(sockets)
	w := &Worker{
		CPUID:     cpuID,
		Sockets:   sockets,
		BatchSize: batchSize,
		Poll:      pollMode,
		BusyPoll:  busyPoll,
		Classify:  classify,
		stop:      stop,
		codecs:    make([]*frame.Codec, n),
		toDrop:    make([]frame.Addr, 0, batchSize),
		toFillBuf: make([]uint64, n*batchSize),
		toFill:    make([][]uint64, n),
		toTxBuf:   make([]txEntry, n*batchSize),
		toTx:      make([][]txEntry, n),
	}
	for i, s := range sockets {
		w.codecs[i] = s.Region.Codec()
	}
	if pollMode {
		w.pollFDs = make([]unix.PollFd, n)
		for i, s := range sockets {
			w.pollFDs[i] = unix.PollFd{Fd: int32(s.FD()), Events: unix.POLLIN}
		}
	}
	return w
}

func (w *Worker) stopped() bool { return w.stop.Load() }

func (w *Worker) resetBuckets() {
	w.toDrop = w.toDrop[:0]
	for i := range w.toFill {
		w.toFill[i] = w.toFillBuf[i*w.BatchSize : i*w.BatchSize : i*w.BatchSize+w.BatchSize]
	}
	for i := range w.toTx {
		w.toTx[i] = w.toTxBuf[i*w.BatchSize : i*w.BatchSize : i*w.BatchSize+w.BatchSize]
	}
}

// Run drives the worker until the shared stop flag is observed. It
// dispatches to the single-interface fast path when this worker owns
// exactly one socket, since that path needs no owner decode and no
// cross-interface tables.
func (w *Worker) Run() {
	if len(w.Sockets) == 1 {
		w.runSingle()
		return
	}
	w.runGeneral()
}

func (w *Worker) maybePoll() {
	if !w.Poll {
		return
	}
	unix.Poll(w.pollFDs, PollTimeoutMS)
	for _, s := range w.Sockets {
		s.Counters.OptPolls++
	}
}

func (w *Worker) runGeneral() {
	for !w.stopped() {
		w.maybePoll()
		for i, s := range w.Sockets {
			w.resetBuckets()
			w.completeTx(i, s)
			if !w.receiveBatch(i, s) {
				continue
			}
			w.classifyGeneral(i, s)
			w.recycleDrops(i, s)
			w.forwardGeneral()
		}
	}
}

// completeTx implements phase (a): drain the completion ring, bucket
// completed frames back to their owning interface's fill ring by decoded
// owner, and issue the tx-kick sendto when the socket needs one.
func (w *Worker) completeTx(i int, s *socket.Socket) {
	if s.OutstandingTx == 0 {
		return
	}
	if s.Mode == umem.BindCopy || (!w.Poll && !w.BusyPoll && s.Rings.TX.NeedWakeup()) {
		if err := s.KickTx(); err == nil {
			s.Counters.TxTriggerSendtos++
		}
	}

	want := s.OutstandingTx
	if want > uint32(w.BatchSize) {
		want = uint32(w.BatchSize)
	}
	n, base := s.Rings.Comp.Peek(want)
	if n == 0 {
		return
	}
	for o := range w.toFill {
		w.toFill[o] = w.toFill[o][:0]
	}
	codec := w.codecs[i]
	for k := uint32(0); k < n; k++ {
		addr := frame.Addr(s.Rings.Comp.Get(base + k))
		owner := codec.DecodeOwner(addr)
		w.toFill[owner] = append(w.toFill[owner], uint64(addr))
	}
	s.Rings.Comp.Release(base, n)
	s.OutstandingTx -= n

	for owner, addrs := range w.toFill {
		if len(addrs) == 0 {
			continue
		}
		dst := w.Sockets[owner]
		m, fbase := dst.Rings.Fill.Reserve(uint32(len(addrs)))
		if m != uint32(len(addrs)) {
			panic(fmt.Sprintf("worker: fill ring under-reservation on interface %d: wanted %d got %d", owner, len(addrs), m))
		}
		for k, a := range addrs {
			dst.Rings.Fill.Set(fbase+uint32(k), a)
		}
		dst.Rings.Fill.Submit(fbase, m)
	}
}

// receiveBatch implements phase (b). It returns false when there was
// nothing to receive, in which case the caller skips classify/drop/forward
// for this interface this iteration.
func (w *Worker) receiveBatch(i int, s *socket.Socket) bool {
	n, _ := s.Rings.RX.Peek(uint32(w.BatchSize))
	if n > 0 {
		return true
	}
	if s.Mode != umem.BindCopy && (w.BusyPoll || s.Rings.Fill.NeedWakeup()) {
		if err := s.KickRx(); err == nil {
			s.Counters.RxEmptyPolls++
		}
	}
	return false
}

// classifyGeneral implements phases (c) and (d) for the general,
// multi-interface path.
func (w *Worker) classifyGeneral(i int, s *socket.Socket) {
	n, base := s.Rings.RX.Peek(uint32(w.BatchSize))
	rcvd := make([]unix.XDPDesc, n)
	for k := uint32(0); k < n; k++ {
		rcvd[k] = s.Rings.RX.Get(base + k)
	}
	s.Rings.RX.Release(base, n)
	s.Counters.RxPackets += uint64(n)

	for _, d := range rcvd {
		addr := frame.Addr(d.Addr)
		pkt := s.Region.FramePayload(addr, d.Len)
		result := w.Classify(pkt, s.Ifindex)
		switch {
		case result == dropResult:
			w.toDrop = append(w.toDrop, addr)
		case result >= 0 && result < len(w.Sockets):
			w.toTx[result] = append(w.toTx[result], txEntry{addr: addr, len: d.Len})
		default:
			panic(fmt.Sprintf("worker: classifier returned out-of-range result %d for %d interfaces", result, len(w.Sockets)))
		}
	}
}

// recycleDrops implements phase (e): return every dropped frame's original
// address, offset untouched, to its own interface's fill ring.
func (w *Worker) recycleDrops(i int, s *socket.Socket) {
	if len(w.toDrop) == 0 {
		return
	}
	n, base := s.Rings.Fill.Reserve(uint32(len(w.toDrop)))
	if n != uint32(len(w.toDrop)) {
		panic(fmt.Sprintf("worker: fill ring under-reservation recycling drops on interface %d: wanted %d got %d", i, len(w.toDrop), n))
	}
	for k, addr := range w.toDrop {
		s.Rings.Fill.Set(base+uint32(k), uint64(addr))
	}
	s.Rings.Fill.Submit(base, n)
}

// forwardGeneral implements phase (f): for each non-empty destination
// bucket, reserve tx space (retrying through completions and kicks if the
// ring is full), copy bytes across regions when source and destination
// differ, and submit.
func (w *Worker) forwardGeneral() {
	for j, entries := range w.toTx {
		if len(entries) == 0 {
			continue
		}
		dst := w.Sockets[j]
		need := uint32(len(entries))
		n, base := dst.Rings.TX.Reserve(need)
		for n < need {
			w.completeTx(j, dst)
			if dst.BusyPoll || dst.Rings.TX.NeedWakeup() {
				if err := dst.KickTx(); err == nil {
					dst.Counters.TxWakeupSendtos++
				}
			}
			n, base = dst.Rings.TX.Reserve(need)
		}
		for k, e := range entries {
			addr := e.addr
			srcSock := w.ownerSocket(addr)
			if srcSock != nil && srcSock.Region != dst.Region {
				srcBytes := srcSock.Region.FramePayload(addr, e.len)
				dstBytes := dst.Region.FramePayload(addr, e.len)
				copy(dstBytes, srcBytes)
			}
			dst.Rings.TX.Set(base+uint32(k), unix.XDPDesc{Addr: uint64(addr), Len: e.len})
		}
		dst.Rings.TX.Submit(base, need)
		dst.OutstandingTx += need
		dst.Counters.TxPackets += uint64(need)
	}
}

// ownerSocket resolves the socket that originally owned a frame address by
// decoding its owner id, used only by the general path's cross-region copy
// decision.
func (w *Worker) ownerSocket(addr frame.Addr) *socket.Socket {
	owner := w.codecs[0].DecodeOwner(addr)
	if int(owner) >= len(w.Sockets) {
		return nil
	}
	return w.Sockets[owner]
}
