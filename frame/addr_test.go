package frame_test

import (
	"testing"

	"github.com/xskforge/xskforge/frame"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, frameSize := range []uint32{2048, 4096} {
		for _, owner := range []uint32{0, 1, 7} {
			c := frame.NewCodec(frameSize)
			for _, idx := range []uint32{0, 1, frame.FramesPerSocket - 1} {
				addr := c.BaseAddr(owner, idx)
				if got := c.DecodeOwner(addr); got != owner {
					t.Fatalf("frameSize=%d owner=%d idx=%d: DecodeOwner=%d", frameSize, owner, idx, got)
				}
				if got := c.DecodeIndex(addr); got != idx {
					t.Fatalf("frameSize=%d owner=%d idx=%d: DecodeIndex=%d", frameSize, owner, idx, got)
				}
			}
		}
	}
}

func TestOwnerShift(t *testing.T) {
	cases := map[uint32]uint{2048: 23, 4096: 24}
	for frameSize, want := range cases {
		c := frame.NewCodec(frameSize)
		if got := c.OwnerShift(); got != want {
			t.Errorf("frameSize=%d: OwnerShift=%d want %d", frameSize, got, want)
		}
	}
}

func TestStripOffsetPreservesOwnerAndIndex(t *testing.T) {
	c := frame.NewCodec(2048)
	addr := c.Encode(3, 42, 100)
	stripped := c.StripOffset(addr)
	if c.DecodeOwner(stripped) != 3 || c.DecodeIndex(stripped) != 42 {
		t.Fatalf("StripOffset changed owner/index: %x", stripped)
	}
	if stripped == addr {
		t.Fatalf("StripOffset did not clear the offset bits")
	}
}

func TestOwnerBoundedByNumInterfaces(t *testing.T) {
	c := frame.NewCodec(4096)
	numInterfaces := uint32(4)
	for owner := uint32(0); owner < numInterfaces; owner++ {
		addr := c.BaseAddr(owner, 0)
		if got := c.DecodeOwner(addr); got >= numInterfaces {
			t.Fatalf("owner %d decoded out of range: %d", owner, got)
		}
	}
}
