//go:build linux

package umem

import (
	"testing"

	"golang.org/x/sys/unix"
)

// ringLayout lays out one ring's producer/consumer/flags words and its
// descriptor array back to back in a plain byte slice, standing in for the
// kernel-mmap'd memory a real xsk socket would hand back from
// XDP_MMAP_OFFSETS.
func ringLayout(size uint32, descBytes uintptr) ([]byte, unix.XDPRingOffset) {
	const headerBytes = 64 // generous padding, mirrors kernel cacheline spacing
	off := unix.XDPRingOffset{
		Producer: 0,
		Consumer: 8,
		Flags:    16,
		Desc:     uint64(headerBytes),
	}
	mem := make([]byte, headerBytes+uintptr(size)*descBytes)
	return mem, off
}

func TestRingReserveSubmitPeekReleaseRoundTrip(t *testing.T) {
	const size = 8
	mem, off := ringLayout(size, 8)
	r := newRing[uint64](mem, off, size)

	n, base := r.Reserve(5)
	if n != 5 {
		t.Fatalf("Reserve(5) on empty ring = %d, want 5", n)
	}
	for k := uint32(0); k < n; k++ {
		r.Set(base+k, uint64(0x1000+k))
	}
	r.Submit(base, n)

	got, cbase := r.Peek(5)
	if got != 5 {
		t.Fatalf("Peek after Submit(5) = %d, want 5", got)
	}
	for k := uint32(0); k < got; k++ {
		if v := r.Get(cbase + k); v != uint64(0x1000+k) {
			t.Fatalf("Get(%d) = %#x, want %#x", k, v, 0x1000+k)
		}
	}
	r.Release(cbase, got)

	if n, _ := r.Peek(size); n != 0 {
		t.Fatalf("Peek after Release = %d, want 0", n)
	}
}

func TestRingReserveSaturatesAtFreeSpace(t *testing.T) {
	const size = 4
	mem, off := ringLayout(size, 8)
	r := newRing[uint64](mem, off, size)

	n, base := r.Reserve(100)
	if n != size {
		t.Fatalf("Reserve(100) on a %d-slot ring = %d, want %d", size, n, size)
	}
	r.Submit(base, n)

	// Full: nothing more fits until the consumer releases.
	if n, _ := r.Reserve(1); n != 0 {
		t.Fatalf("Reserve(1) on a full ring = %d, want 0", n)
	}

	got, cbase := r.Peek(size)
	r.Release(cbase, got)

	if n, _ := r.Reserve(2); n != 2 {
		t.Fatalf("Reserve(2) after releasing all slots = %d, want 2", n)
	}
}

func TestRingNeedWakeupReflectsFlagsWord(t *testing.T) {
	const size = 4
	mem, off := ringLayout(size, 8)
	r := newRing[uint64](mem, off, size)

	if r.NeedWakeup() {
		t.Fatal("NeedWakeup true on a freshly zeroed flags word")
	}
	mem[off.Flags] = xdpRingNeedWakeup
	if !r.NeedWakeup() {
		t.Fatal("NeedWakeup false after setting the flag bit")
	}
}

func TestRingDescSlotsWrapAroundMask(t *testing.T) {
	const size = 4
	mem, off := ringLayout(size, 16)
	r := newRing[unix.XDPDesc](mem, off, size)

	n, base := r.Reserve(size)
	r.Submit(base, n)
	got, cbase := r.Peek(size)
	r.Release(cbase, got)

	// A second full lap must land on the same descriptor slots modulo size,
	// proving Set/Get mask the index rather than indexing raw producer counts.
	n2, base2 := r.Reserve(size)
	if n2 != size {
		t.Fatalf("second lap Reserve = %d, want %d", n2, size)
	}
	for k := uint32(0); k < n2; k++ {
		r.Set(base2+k, unix.XDPDesc{Addr: uint64(k), Len: 42})
	}
	r.Submit(base2, n2)
	got2, cbase2 := r.Peek(size)
	for k := uint32(0); k < got2; k++ {
		d := r.Get(cbase2 + k)
		if d.Addr != uint64(k) || d.Len != 42 {
			t.Fatalf("wrapped slot %d = %+v, want Addr=%d Len=42", k, d, k)
		}
	}
}
