//go:build linux

package umem

// Raw AF_XDP ABI constants mirroring <linux/if_xdp.h>. golang.org/x/sys/unix
// exports the XDPDesc/XDPUmemReg/XDPMmapOffsets/XDPRingOffset/SockaddrXDP
// structs and the AF_XDP address family, but not every socket-option and
// mmap page-offset constant the raw setup sequence needs, so the remainder
// is mirrored here exactly as the kernel UAPI header defines it.
const (
	solXDP = 283 // SOL_XDP

	xdpMmapOffsets        = 1
	xdpRxRing             = 2
	xdpTxRing             = 3
	xdpUmemReg            = 4
	xdpUmemFillRing       = 5
	xdpUmemCompletionRing = 6
	xdpStatistics         = 7
	xdpOptions            = 8

	xdpPgoffRxRing             = 0
	xdpPgoffTxRing             = 0x80000000
	xdpUmemPgoffFillRing       = 0x100000000
	xdpUmemPgoffCompletionRing = 0x180000000

	xdpRingNeedWakeup = 1 << 0

	xdpCopy              = 1 << 1
	xdpZerocopy          = 1 << 2
	xdpUseNeedWakeup     = 1 << 3
	xdpSharedUmem        = 1 << 0
	xdpUmemUnalignedFlag = 1 << 0

	soPreferBusyPoll = 69
	soBusyPoll       = 46
	soBusyPollBudget = 70
)
