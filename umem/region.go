// Package umem implements the UMEM pool: the contiguous, memory-mapped
// packet-buffer region(s) a worker registers with the kernel, and the four
// lockless SPSC rings (fill, completion, rx, tx) built directly on the
// AF_XDP syscall surface.
//
// A worker holds up to two regions — one for its zero-copy sockets, one for
// its copy-mode sockets — because the two bind modes cannot share a UMEM.
// Each region is sliced into equal frames-per-socket slot ranges, one range
// per configured interface, per the data model in the specification.
package umem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/xskforge/xskforge/frame"
)

// Region is one contiguous anonymous mapping backing some number of
// interfaces' worth of frames for a single bind mode (copy or zero-copy).
type Region struct {
	mem             []byte
	frameSize       uint32
	framesPerSocket uint32
	numInterfaces   int
	codec           *frame.Codec
}

// NewRegion maps frameSize*framesPerSocket*numInterfaces bytes of anonymous
// memory. hugePages requests MAP_HUGETLB backing, used automatically when
// unaligned-chunk placement is enabled.
func NewRegion(frameSize uint32, framesPerSocket uint32, numInterfaces int, hugePages bool) (*Region, error) {
	if numInterfaces <= 0 {
		return nil, fmt.Errorf("umem: numInterfaces must be positive, got %d", numInterfaces)
	}
	size := uint64(frameSize) * uint64(framesPerSocket) * uint64(numInterfaces)

	flags := unix.MAP_SHARED | unix.MAP_ANONYMOUS | unix.MAP_POPULATE
	if hugePages {
		flags |= unix.MAP_HUGETLB
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil && hugePages {
		// Huge pages are a best-effort optimization; retry without them
		// rather than failing init over a pool-size shortfall.
		flags &^= unix.MAP_HUGETLB
		mem, err = unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
	}
	if err != nil {
		return nil, fmt.Errorf("umem: mmap %d bytes: %w", size, err)
	}
	return &Region{
		mem:             mem,
		frameSize:       frameSize,
		framesPerSocket: framesPerSocket,
		numInterfaces:   numInterfaces,
		codec:           frame.NewCodec(frameSize),
	}, nil
}

// Close unmaps the region. Safe to call once; the caller must ensure no
// socket still references frames within it (every socket sharing the region
// must already be closed).
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

// Codec returns the frame-address codec bound to this region's frame size.
func (r *Region) Codec() *frame.Codec { return r.codec }

// FrameSize returns the configured frame size in bytes.
func (r *Region) FrameSize() uint32 { return r.frameSize }

// Len returns the total mapped length in bytes.
func (r *Region) Len() int { return len(r.mem) }

// Bytes returns the whole mapped region, for passing its address to
// XDP_UMEM_REG.
func (r *Region) Bytes() []byte { return r.mem }

// FramePayload returns the byte slice for the frame referenced by addr,
// truncated to ln bytes starting at the descriptor's in-frame offset.
func (r *Region) FramePayload(addr frame.Addr, ln uint32) []byte {
	off := uint64(addr)
	end := off + uint64(ln)
	if end > uint64(len(r.mem)) {
		end = uint64(len(r.mem))
	}
	if off > uint64(len(r.mem)) {
		off = uint64(len(r.mem))
	}
	return r.mem[off:end]
}

// FrameBase returns the full frame-sized slice backing addr's frame,
// ignoring any in-frame offset — used when writing a fresh packet into a
// freshly allocated frame.
func (r *Region) FrameBase(addr frame.Addr) []byte {
	base := r.codec.StripOffset(addr)
	start := uint64(base)
	end := start + uint64(r.frameSize)
	if end > uint64(len(r.mem)) {
		end = uint64(len(r.mem))
	}
	return r.mem[start:end]
}

// InterfaceSlot computes the fill-ring address for the k-th frame owned by
// interface ifaceIdx: (ifaceIdx*frame.FramesPerSocket + k) * frameSize, with
// ifaceIdx in the owner field. The codec's frame-index field is always
// frame.FramesPerSocket wide, so the result lies inside the mapping only for
// a region built with frame.FramesPerSocket frames per socket.
func (r *Region) InterfaceSlot(ifaceIdx int, k uint32) frame.Addr {
	return r.codec.BaseAddr(uint32(ifaceIdx), k)
}

// FramesPerSocket returns the per-interface frame count the region was
// built with (frame.FramesPerSocket, 4096, for every region Init creates).
func (r *Region) FramesPerSocket() uint32 { return r.framesPerSocket }
