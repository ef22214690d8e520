// Package frame implements the UMEM frame-address codec shared by every
// worker: pure bit arithmetic over the 64-bit address the kernel hands back
// on fill, rx, tx and completion rings.
//
// Encodage des adresses de trame UMEM : arithmétique pure sur les 64 bits
// que le noyau fait circuler entre les files fill/rx/tx/completion.
package frame

import "math/bits"

// FramesPerSocket is fixed at 4096 frames per interface per worker, per the
// data model: the frame index occupies exactly 12 bits.
const FramesPerSocket = 4096

const frameIndexBits = 12

// Addr is a 64-bit UMEM offset layered as [ owner_id | frame_index | in_frame_offset ].
type Addr uint64

// Codec derives the bit layout for a given frame size and exposes the pure
// encode/decode operations. It carries no mutable state and is safe to share
// across every worker goroutine.
type Codec struct {
	frameSize  uint64
	offsetBits uint
	ownerShift uint
	offsetMask uint64
	indexMask  uint64
}

// NewCodec builds a Codec for the given frame size. frameSize must be a
// power of two unless the caller is in unaligned-chunks mode, in which case
// the offset field still reserves log2(frameSize) bits as the kernel
// requires for the chunk's base granularity.
func NewCodec(frameSize uint32) *Codec {
	offsetBits := uint(bits.Len32(frameSize - 1))
	ownerShift := frameIndexBits + offsetBits
	return &Codec{
		frameSize:  uint64(frameSize),
		offsetBits: offsetBits,
		ownerShift: ownerShift,
		offsetMask: (uint64(1) << offsetBits) - 1,
		indexMask:  (uint64(1) << frameIndexBits) - 1,
	}
}

// OwnerShift returns 12 + log2(frameSize), the bit position of the owner field.
func (c *Codec) OwnerShift() uint { return c.ownerShift }

// Encode packs an owner interface id, a frame index within that interface's
// slot range, and an in-frame byte offset into one descriptor address.
func (c *Codec) Encode(owner uint32, frameIndex uint32, offset uint32) Addr {
	return Addr(uint64(owner)<<c.ownerShift | (uint64(frameIndex)&c.indexMask)<<c.offsetBits | (uint64(offset) & c.offsetMask))
}

// DecodeOwner extracts the owner interface id from a descriptor address.
func (c *Codec) DecodeOwner(a Addr) uint32 {
	return uint32(uint64(a) >> c.ownerShift)
}

// DecodeIndex extracts the frame index from a descriptor address.
func (c *Codec) DecodeIndex(a Addr) uint32 {
	return uint32((uint64(a) >> c.offsetBits) & c.indexMask)
}

// StripOffset masks off the low in-frame-offset bits, returning the address
// of the frame's base. Used before touching packet bytes when unaligned
// chunks placed the payload away from offset zero; recycling must still
// resubmit the original, un-stripped address so the owner field survives.
func (c *Codec) StripOffset(a Addr) Addr {
	return Addr(uint64(a) &^ c.offsetMask)
}

// BaseAddr returns the frame-aligned address for (owner, frameIndex) with
// a zero in-frame offset — the form fill-ring entries are populated with.
func (c *Codec) BaseAddr(owner uint32, frameIndex uint32) Addr {
	return c.Encode(owner, frameIndex, 0)
}
