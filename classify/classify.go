// Package classify provides small example PacketProcessor implementations
// exercising the classifier boundary: drop everything, reflect everything
// back out the interface it arrived on, and a minimal static L2 forwarding
// table between two interfaces.
package classify

import (
	"github.com/xskforge/xskforge/worker"
)

// DropAll drops every packet, useful for exercising the frame-conservation
// and round-trip invariants in isolation from any forwarding logic.
func DropAll() worker.PacketProcessor {
	return func(pkt []byte, ingressIfindex int) int {
		return -1
	}
}

// Reflect forwards every packet back out the interface it arrived on.
// ifindexToPosition maps a kernel ifindex to its position in the worker's
// configured interface list, the form PacketProcessor must return.
func Reflect(ifindexToPosition map[int]int) worker.PacketProcessor {
	return func(pkt []byte, ingressIfindex int) int {
		pos, ok := ifindexToPosition[ingressIfindex]
		if !ok {
			return -1
		}
		return pos
	}
}

// CrossForward forwards every packet received on interface a to interface
// b and vice versa, dropping anything arriving on an unrecognized
// interface. It is the minimal classifier exercising the cross-forward
// and copy-equivalence test scenarios.
func CrossForward(ifindexA, posA, ifindexB, posB int) worker.PacketProcessor {
	return func(pkt []byte, ingressIfindex int) int {
		switch ingressIfindex {
		case ifindexA:
			return posB
		case ifindexB:
			return posA
		default:
			return -1
		}
	}
}
