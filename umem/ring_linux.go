//go:build linux

package umem

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ring is one of the four AF_XDP rings (fill, completion, rx, tx), mapped
// directly over kernel-shared memory. T is uint64 for the fill/completion
// rings (bare frame addresses) or unix.XDPDesc for the rx/tx rings
// (address + length + options).
//
// Each ring index is a hand-off point: the producer must finish every
// byte-level mutation before publishing the producer index; the consumer
// must finish every read before releasing the consumer index. The atomic
// store/load pair below is exactly that release/acquire boundary — it must
// not be replaced with a plain memory access.
type Ring[T any] struct {
	mem      []byte
	producer *uint32
	consumer *uint32
	flags    *uint32
	descs    []T
	size     uint32
	mask     uint32
}

// newRing wraps a ring already mmap'd at mem, whose xdp_ring_offset layout
// is off, holding size descriptors of type T.
func newRing[T any](mem []byte, off unix.XDPRingOffset, size uint32) *Ring[T] {
	r := &Ring[T]{
		mem:      mem,
		producer: (*uint32)(unsafe.Pointer(&mem[off.Producer])),
		consumer: (*uint32)(unsafe.Pointer(&mem[off.Consumer])),
		flags:    (*uint32)(unsafe.Pointer(&mem[off.Flags])),
		size:     size,
		mask:     size - 1,
	}
	descBase := unsafe.Pointer(&mem[off.Desc])
	r.descs = unsafe.Slice((*T)(descBase), size)
	return r
}

// Size returns the ring's descriptor capacity.
func (r *Ring[T]) Size() uint32 { return r.size }

// NeedWakeup reports whether the kernel set the NEED_WAKEUP flag, asking
// userspace to issue a kicking syscall before the ring will make progress.
func (r *Ring[T]) NeedWakeup() bool {
	return atomic.LoadUint32(r.flags)&xdpRingNeedWakeup != 0
}

// Reserve claims up to n producer-side slots (fill or tx ring) and returns
// how many were actually granted along with the starting ring index to
// write them at via Set. A partial or zero grant means the ring is full;
// the caller must not treat under-granting as an error on its own.
func (r *Ring[T]) Reserve(n uint32) (uint32, uint32) {
	cons := atomic.LoadUint32(r.consumer)
	prod := *r.producer
	free := r.size - (prod - cons)
	if n > free {
		n = free
	}
	return n, prod
}

// Set writes one descriptor at the ring index returned by Reserve (or an
// offset from it); idx is masked internally.
func (r *Ring[T]) Set(idx uint32, v T) {
	r.descs[idx&r.mask] = v
}

// Submit publishes nSet previously-Set producer slots to the kernel.
func (r *Ring[T]) Submit(base uint32, nSet uint32) {
	atomic.StoreUint32(r.producer, base+nSet)
}

// Peek reports up to n consumer-side entries available to read (rx or
// completion ring) and the starting ring index to read them from via Get.
func (r *Ring[T]) Peek(n uint32) (uint32, uint32) {
	prod := atomic.LoadUint32(r.producer)
	cons := *r.consumer
	avail := prod - cons
	if n > avail {
		n = avail
	}
	return n, cons
}

// Get reads the descriptor at the ring index returned by Peek (or an offset
// from it); idx is masked internally.
func (r *Ring[T]) Get(idx uint32) T {
	return r.descs[idx&r.mask]
}

// Release returns nGot previously-Get consumer slots to the kernel.
func (r *Ring[T]) Release(base uint32, nGot uint32) {
	atomic.StoreUint32(r.consumer, base+nGot)
}
