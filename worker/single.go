package worker

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/xskforge/xskforge/frame"
	"github.com/xskforge/xskforge/socket"
	"github.com/xskforge/xskforge/umem"
)

// runSingle is the single-interface specialization: with only one owner
// possible, completed frames never need an owner decode and forwarded
// frames never cross a UMEM region, so both are skipped outright rather
// than falling through the general path's per-owner bucketing.
func (w *Worker) runSingle() {
	s := w.Sockets[0]
	for !w.stopped() {
		w.maybePoll()
		w.resetBuckets()
		w.completeTxSingle(s)
		if !w.receiveBatch(0, s) {
			continue
		}
		w.classifySingle(s)
		w.recycleDrops(0, s)
		w.forwardSingle(s)
	}
}

// completeTxSingle drains completions straight back onto the one fill ring,
// with no owner decode since every completed address belongs to this
// socket's own interface.
func (w *Worker) completeTxSingle(s *socket.Socket) {
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
	addrs := s.Rings.Comp
	fn, fbase := s.Rings.Fill.Reserve(n)
	if fn != n {
		panic(fmt.Sprintf("worker: fill ring under-reservation: wanted %d got %d", n, fn))
	}
	for k := uint32(0); k < n; k++ {
		s.Rings.Fill.Set(fbase+k, addrs.Get(base+k))
	}
	s.Rings.Fill.Submit(fbase, fn)
	s.Rings.Comp.Release(base, n)
	s.OutstandingTx -= n
}

// classifySingle implements phases (c) and (d) for the single-interface
// path. A forward result must be 0, the socket's own interface; anything
// else is an invariant violation since there is nowhere else to send it.
func (w *Worker) classifySingle(s *socket.Socket) {
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
		switch result := w.Classify(pkt, s.Ifindex); result {
		case dropResult:
			w.toDrop = append(w.toDrop, addr)
		case 0:
			w.toTx[0] = append(w.toTx[0], txEntry{addr: addr, len: d.Len})
		default:
			panic(fmt.Sprintf("worker: classifier returned %d on a single-interface worker", result))
		}
	}
}

// forwardSingle reflects classified-forward frames back onto the same
// socket's tx ring. No cross-region copy is possible: source and
// destination are the same UMEM region by construction.
func (w *Worker) forwardSingle(s *socket.Socket) {
	entries := w.toTx[0]
	if len(entries) == 0 {
		return
	}
	need := uint32(len(entries))
	n, base := s.Rings.TX.Reserve(need)
	for n < need {
		w.completeTxSingle(s)
		if s.BusyPoll || s.Rings.TX.NeedWakeup() {
			if err := s.KickTx(); err == nil {
				s.Counters.TxWakeupSendtos++
			}
		}
		n, base = s.Rings.TX.Reserve(need)
	}
	for k, e := range entries {
		s.Rings.TX.Set(base+uint32(k), unix.XDPDesc{Addr: uint64(e.addr), Len: e.len})
	}
	s.Rings.TX.Submit(base, need)
	s.OutstandingTx += need
	s.Counters.TxPackets += uint64(need)
}
