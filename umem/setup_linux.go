//go:build linux

package umem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BindMode selects whether a socket runs zero-copy or copy-mode. The two
// modes cannot share a UMEM region, per the data model.
type BindMode int

const (
	BindZeroCopy BindMode = iota
	BindCopy
)

// Rings bundles the four AF_XDP rings a socket drives.
type Rings struct {
	Fill *Ring[uint64]
	Comp *Ring[uint64]
	RX   *Ring[unix.XDPDesc]
	TX   *Ring[unix.XDPDesc]
}

// OpenOpts configures one socket's raw setup.
type OpenOpts struct {
	Region          *Region
	Ifindex         int
	QueueID         int
	Mode            BindMode
	NeedWakeup      bool
	DescCount       uint32 // rx/tx/fill/completion ring depth
	RegisterUMEM    bool   // true for the first socket against this region
	SharedUmemFD    int    // valid fd of the UMEM-owning socket when !RegisterUMEM
	UnalignedChunks bool
}

func setsockopt(fd int, level, opt int, v unsafe.Pointer, l uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(level), uintptr(opt), uintptr(v), l, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func getsockopt(fd int, level, opt int, v unsafe.Pointer, l *uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(level), uintptr(opt), uintptr(v), uintptr(unsafe.Pointer(l)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Open performs the full raw AF_XDP setup sequence for one socket: optional
// UMEM registration, ring-size negotiation, mmap of all four rings, and
// bind to (ifindex, queueID). It is step 1-3 of the per-(worker,interface)
// sequence described for UMEM pool and socket setup.
func Open(opts OpenOpts) (fd int, rings *Rings, err error) {
	fd, err = unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return -1, nil, fmt.Errorf("umem: socket(AF_XDP): %w", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()

	if opts.RegisterUMEM {
		flags := uint32(0)
		if opts.UnalignedChunks {
			flags |= xdpUmemUnalignedFlag
		}
		reg := unix.XDPUmemReg{
			Addr:     uint64(uintptr(unsafe.Pointer(&opts.Region.mem[0]))),
			Len:      uint64(len(opts.Region.mem)),
			Size:     opts.Region.frameSize,
			Headroom: 0,
			Flags:    flags,
		}
		if err = setsockopt(fd, solXDP, xdpUmemReg, unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
			return -1, nil, fmt.Errorf("umem: setsockopt(XDP_UMEM_REG): %w", err)
		}
	}

	descCount := opts.DescCount
	if err = setsockopt(fd, solXDP, xdpUmemFillRing, unsafe.Pointer(&descCount), unsafe.Sizeof(descCount)); err != nil {
		return -1, nil, fmt.Errorf("umem: setsockopt(XDP_UMEM_FILL_RING): %w", err)
	}
	if err = setsockopt(fd, solXDP, xdpUmemCompletionRing, unsafe.Pointer(&descCount), unsafe.Sizeof(descCount)); err != nil {
		return -1, nil, fmt.Errorf("umem: setsockopt(XDP_UMEM_COMPLETION_RING): %w", err)
	}
	if err = setsockopt(fd, solXDP, xdpRxRing, unsafe.Pointer(&descCount), unsafe.Sizeof(descCount)); err != nil {
		return -1, nil, fmt.Errorf("umem: setsockopt(XDP_RX_RING): %w", err)
	}
	if err = setsockopt(fd, solXDP, xdpTxRing, unsafe.Pointer(&descCount), unsafe.Sizeof(descCount)); err != nil {
		return -1, nil, fmt.Errorf("umem: setsockopt(XDP_TX_RING): %w", err)
	}

	var off unix.XDPMmapOffsets
	offLen := uint32(unsafe.Sizeof(off))
	if err = getsockopt(fd, solXDP, xdpMmapOffsets, unsafe.Pointer(&off), &offLen); err != nil {
		return -1, nil, fmt.Errorf("umem: getsockopt(XDP_MMAP_OFFSETS): %w", err)
	}

	fillLen := int(off.Fr.Desc + uint64(descCount)*8)
	fillMem, err := unix.Mmap(fd, xdpUmemPgoffFillRing, fillLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return -1, nil, fmt.Errorf("umem: mmap fill ring: %w", err)
	}
	compLen := int(off.Cr.Desc + uint64(descCount)*8)
	compMem, err := unix.Mmap(fd, xdpUmemPgoffCompletionRing, compLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return -1, nil, fmt.Errorf("umem: mmap completion ring: %w", err)
	}
	rxLen := int(off.Rx.Desc + uint64(descCount)*16)
	rxMem, err := unix.Mmap(fd, xdpPgoffRxRing, rxLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return -1, nil, fmt.Errorf("umem: mmap rx ring: %w", err)
	}
	txLen := int(off.Tx.Desc + uint64(descCount)*16)
	txMem, err := unix.Mmap(fd, xdpPgoffTxRing, txLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return -1, nil, fmt.Errorf("umem: mmap tx ring: %w", err)
	}

	rings = &Rings{
		Fill: newRing[uint64](fillMem, off.Fr, descCount),
		Comp: newRing[uint64](compMem, off.Cr, descCount),
		RX:   newRing[unix.XDPDesc](rxMem, off.Rx, descCount),
		TX:   newRing[unix.XDPDesc](txMem, off.Tx, descCount),
	}

	sa := &unix.SockaddrXDP{
		Flags:   bindFlags(opts),
		Ifindex: uint32(opts.Ifindex),
		QueueID: uint32(opts.QueueID),
	}
	if !opts.RegisterUMEM {
		sa.SharedUmemFD = uint32(opts.SharedUmemFD)
	}
	if err = unix.Bind(fd, sa); err != nil {
		return -1, nil, fmt.Errorf("umem: bind: %w", err)
	}

	return fd, rings, nil
}

func bindFlags(opts OpenOpts) uint16 {
	var f uint32
	switch opts.Mode {
	case BindCopy:
		f |= xdpCopy
	case BindZeroCopy:
		f |= xdpZerocopy
	}
	if opts.NeedWakeup {
		f |= xdpUseNeedWakeup
	}
	if !opts.RegisterUMEM {
		f |= xdpSharedUmem
	}
	return uint16(f)
}

// SetBusyPoll enables SO_PREFER_BUSY_POLL/SO_BUSY_POLL/SO_BUSY_POLL_BUDGET on
// fd, matching step 4 of the per-socket setup for zero-copy sockets when
// busy-poll was requested.
func SetBusyPoll(fd int, budget int) error {
	one := 1
	if err := setsockopt(fd, unix.SOL_SOCKET, soPreferBusyPoll, unsafe.Pointer(&one), unsafe.Sizeof(one)); err != nil {
		return fmt.Errorf("umem: SO_PREFER_BUSY_POLL: %w", err)
	}
	usecs := 20
	if err := setsockopt(fd, unix.SOL_SOCKET, soBusyPoll, unsafe.Pointer(&usecs), unsafe.Sizeof(usecs)); err != nil {
		return fmt.Errorf("umem: SO_BUSY_POLL: %w", err)
	}
	if err := setsockopt(fd, unix.SOL_SOCKET, soBusyPollBudget, unsafe.Pointer(&budget), unsafe.Sizeof(budget)); err != nil {
		return fmt.Errorf("umem: SO_BUSY_POLL_BUDGET: %w", err)
	}
	return nil
}

// Statistics mirrors the kernel's XDP_STATISTICS socket option.
type Statistics struct {
	RxDropped        uint64
	RxInvalidDescs   uint64
	TxInvalidDescs   uint64
	RxRingFull       uint64
	RxFillRingEmpty  uint64
	TxRingEmptyDescs uint64
}

// ReadStatistics fetches the driver-reported counters for fd.
func ReadStatistics(fd int) (Statistics, error) {
	var raw unix.XDPStatistics
	l := uint32(unsafe.Sizeof(raw))
	if err := getsockopt(fd, solXDP, xdpStatistics, unsafe.Pointer(&raw), &l); err != nil {
		return Statistics{}, fmt.Errorf("umem: getsockopt(XDP_STATISTICS): %w", err)
	}
	return Statistics{
		RxDropped:        raw.Rx_dropped,
		RxInvalidDescs:   raw.Rx_invalid_descs,
		TxInvalidDescs:   raw.Tx_invalid_descs,
		RxRingFull:       raw.Rx_ring_full,
		RxFillRingEmpty:  raw.Rx_fill_ring_empty_descs,
		TxRingEmptyDescs: raw.Tx_ring_empty_descs,
	}, nil
}
