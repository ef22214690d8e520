package umem_test

import (
	"testing"

	"github.com/xskforge/xskforge/frame"
	"github.com/xskforge/xskforge/umem"
)

func TestInterfaceSlotPartitioning(t *testing.T) {
	const frameSize = 2048
	codec := frame.NewCodec(frameSize)

	numInterfaces := 4
	for iface := 0; iface < numInterfaces; iface++ {
		for _, k := range []uint32{0, 1, frame.FramesPerSocket - 1} {
			addr := codec.BaseAddr(uint32(iface), k)
			if got := codec.DecodeOwner(addr); got != uint32(iface) {
				t.Fatalf("iface=%d k=%d: owner decoded as %d", iface, k, got)
			}
			if got := codec.DecodeIndex(addr); got != k {
				t.Fatalf("iface=%d k=%d: index decoded as %d", iface, k, got)
			}
		}
	}
}

func TestRegionFrameLayout(t *testing.T) {
	const (
		frameSize       = 2048
		framesPerSocket = 8
		numInterfaces   = 2
	)
	r, err := umem.NewRegion(frameSize, framesPerSocket, numInterfaces, false)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	defer r.Close()

	if got := r.Len(); got != frameSize*framesPerSocket*numInterfaces {
		t.Fatalf("region length = %d, want %d", got, frameSize*framesPerSocket*numInterfaces)
	}

	iface1Base := r.InterfaceSlot(1, 0)
	iface0LastAddr := r.InterfaceSlot(0, framesPerSocket-1)
	if uint64(iface1Base) <= uint64(iface0LastAddr) {
		t.Fatalf("interface 1's slot range overlaps interface 0's: %x vs %x", iface1Base, iface0LastAddr)
	}

	payload := []byte("hello-frame")
	addr := r.InterfaceSlot(0, 2)
	base := r.FrameBase(addr)
	if len(base) != frameSize {
		t.Fatalf("FrameBase length = %d, want %d", len(base), frameSize)
	}
	copy(base, payload)
	got := r.FramePayload(addr, uint32(len(payload)))
	if string(got) != string(payload) {
		t.Fatalf("FramePayload = %q, want %q", got, payload)
	}
}

func TestPoolLazyRegionCreation(t *testing.T) {
	p := umem.NewPool(2048, 8, 1, false)
	defer p.Close()

	zc, err := p.RegionFor(umem.BindZeroCopy)
	if err != nil {
		t.Fatalf("RegionFor(zero-copy): %v", err)
	}
	zc2, err := p.RegionFor(umem.BindZeroCopy)
	if err != nil {
		t.Fatalf("RegionFor(zero-copy) again: %v", err)
	}
	if zc != zc2 {
		t.Fatalf("RegionFor(zero-copy) created a second region")
	}

	cp, err := p.RegionFor(umem.BindCopy)
	if err != nil {
		t.Fatalf("RegionFor(copy): %v", err)
	}
	if zc == cp {
		t.Fatalf("zero-copy and copy regions must never be the same mapping")
	}
}
