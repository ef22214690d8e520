package umem

import "fmt"

// Pool owns the zero-copy and/or copy-mode regions for one worker. Regions
// are created lazily — on the first zero-copy socket and, separately, on the
// first copy-mode socket — since a worker that only ends up binding one mode
// never needs the other region at all.
type Pool struct {
	frameSize       uint32
	framesPerSocket uint32
	numInterfaces   int
	hugePages       bool

	zeroCopy *Region
	copy     *Region
}

// NewPool builds an (as yet empty) pool for a worker owning numInterfaces
// sockets of frameSize bytes each.
func NewPool(frameSize uint32, framesPerSocket uint32, numInterfaces int, hugePages bool) *Pool {
	return &Pool{
		frameSize:       frameSize,
		framesPerSocket: framesPerSocket,
		numInterfaces:   numInterfaces,
		hugePages:       hugePages,
	}
}

// RegionFor lazily creates and returns the region for the requested mode.
func (p *Pool) RegionFor(mode BindMode) (*Region, error) {
	switch mode {
	case BindZeroCopy:
		if p.zeroCopy == nil {
			r, err := NewRegion(p.frameSize, p.framesPerSocket, p.numInterfaces, p.hugePages)
			if err != nil {
				return nil, fmt.Errorf("umem: zero-copy region: %w", err)
			}
			p.zeroCopy = r
		}
		return p.zeroCopy, nil
	case BindCopy:
		if p.copy == nil {
			r, err := NewRegion(p.frameSize, p.framesPerSocket, p.numInterfaces, p.hugePages)
			if err != nil {
				return nil, fmt.Errorf("umem: copy region: %w", err)
			}
			p.copy = r
		}
		return p.copy, nil
	default:
		return nil, fmt.Errorf("umem: unknown bind mode %v", mode)
	}
}

// Close tears down every region the pool created, in no particular order —
// each is independent.
func (p *Pool) Close() error {
	var firstErr error
	if p.zeroCopy != nil {
		if err := p.zeroCopy.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.zeroCopy = nil
	}
	if p.copy != nil {
		if err := p.copy.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.copy = nil
	}
	return firstErr
}
