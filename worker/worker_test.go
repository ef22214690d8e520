package worker

import (
	"sync/atomic"
	"testing"

	"github.com/xskforge/xskforge/socket"
	"github.com/xskforge/xskforge/umem"
)

// fakeSocket builds a *socket.Socket with a real Region but no kernel
// binding, enough to exercise bucket bookkeeping and owner resolution
// without opening an actual AF_XDP socket.
func fakeSocket(t *testing.T, region *umem.Region, ifaceIndex int) *socket.Socket {
	t.Helper()
	return &socket.Socket{
		Region:     region,
		Mode:       umem.BindZeroCopy,
		IfaceIndex: ifaceIndex,
		Ifindex:    100 + ifaceIndex,
	}
}

func newTestWorker(t *testing.T, numInterfaces int) (*Worker, *umem.Region) {
	t.Helper()
	const frameSize = 2048
	const framesPerSocket = 16
	region, err := umem.NewRegion(frameSize, framesPerSocket, numInterfaces, false)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	t.Cleanup(func() { region.Close() })

	sockets := make([]*socket.Socket, numInterfaces)
	for i := range sockets {
		sockets[i] = fakeSocket(t, region, i)
	}
	stop := &atomic.Bool{}
	w := New(0, sockets, 8, false, false, func([]byte, int) int { return dropResult }, stop)
	return w, region
}

func TestResetBucketsGivesEachOwnerAnEmptyDisjointSlice(t *testing.T) {
	w, _ := newTestWorker(t, 3)
	w.resetBuckets()

	if len(w.toFill) != 3 || len(w.toTx) != 3 {
		t.Fatalf("expected 3 buckets per table, got toFill=%d toTx=%d", len(w.toFill), len(w.toTx))
	}
	for i := range w.toFill {
		if len(w.toFill[i]) != 0 {
			t.Errorf("toFill[%d] not empty after reset", i)
		}
		if cap(w.toFill[i]) != w.BatchSize {
			t.Errorf("toFill[%d] capacity = %d, want %d", i, cap(w.toFill[i]), w.BatchSize)
		}
	}

	w.toFill[0] = append(w.toFill[0], 0xAA)
	w.toFill[1] = append(w.toFill[1], 0xBB)
	if w.toFill[0][0] == w.toFill[1][0] {
		t.Fatalf("owner buckets alias the same backing slot")
	}
}

func TestOwnerSocketResolvesEncodedOwner(t *testing.T) {
	w, region := newTestWorker(t, 2)
	codec := region.Codec()

	addr := codec.BaseAddr(1, 5)
	got := w.ownerSocket(addr)
	if got != w.Sockets[1] {
		t.Fatalf("ownerSocket decoded the wrong owner for addr encoding owner=1")
	}
}
