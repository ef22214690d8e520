// Package control implements the framework's control plane: resolving
// configured interfaces, building per-worker UMEM pools and sockets,
// optionally loading and attaching eBPF/TC programs, pinning and starting
// workers, and tearing everything down in reverse order.
package control

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"

	"github.com/xskforge/xskforge/config"
	"github.com/xskforge/xskforge/frame"
	"github.com/xskforge/xskforge/socket"
	"github.com/xskforge/xskforge/umem"
	"github.com/xskforge/xskforge/worker"
)

// Controller owns every kernel-visible resource the framework creates:
// UMEM regions, AF_XDP sockets, eBPF programs, TC filters, and worker
// goroutines. Its zero value is not usable; build one with Init.
type Controller struct {
	cfg      *config.Config
	log      *logrus.Logger
	classify worker.PacketProcessor

	ifaces []resolvedIface

	pools   []*umem.Pool       // one per worker, never shared across workers
	sockets [][]*socket.Socket // sockets[workerIdx][ifaceIdx]
	workers []*worker.Worker

	ebpfState *ebpfState // nil unless Mode is XDP or COMBINED
	tcState   []*tcAttachment

	stop    atomic.Bool
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	// fatal carries the first invariant-violation panic any worker
	// recovers from to the fatal supervisor goroutine started by Start.
	// Buffered so a panicking worker never blocks on it.
	fatal chan fatalReport
}

type resolvedIface struct {
	name    string
	ifindex int
}

// Init resolves interfaces, builds UMEM pools and sockets for every
// (worker, interface) pair, and loads/attaches eBPF and TC programs when
// the configured mode requires them. It performs no irreversible action
// beyond kernel resource creation; on any error everything created so far
// is torn down before returning.
func Init(cfg *config.Config, classify worker.PacketProcessor, log *logrus.Logger) (c *Controller, err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c = &Controller{cfg: cfg, log: log, classify: classify, fatal: make(chan fatalReport, 1)}
	ctl := c

	defer func() {
		if err != nil {
			ctl.Cleanup()
		}
	}()

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("control: removing memlock rlimit: %w", err)
	}

	for _, iface := range cfg.Interfaces {
		netIface, lookupErr := net.InterfaceByName(iface.Name)
		if lookupErr != nil {
			return nil, fmt.Errorf("control: resolving interface %q: %w", iface.Name, lookupErr)
		}
		c.ifaces = append(c.ifaces, resolvedIface{name: iface.Name, ifindex: netIface.Index})
	}

	numIfaces := len(c.ifaces)
	c.pools = make([]*umem.Pool, cfg.Workers)
	c.sockets = make([][]*socket.Socket, cfg.Workers)

	for w := 0; w < cfg.Workers; w++ {
		pool := umem.NewPool(cfg.FrameSize, frame.FramesPerSocket, numIfaces, cfg.Unaligned)
		c.pools[w] = pool

		umemOwnerFD := make(map[*umem.Region]int)
		sockets := make([]*socket.Socket, numIfaces)

		for i, iface := range c.ifaces {
			bindHint := cfg.Interfaces[i].ResolvedBindMode(cfg.SkbMode)
			mode := umem.BindZeroCopy
			if bindHint == config.BindForceCopy {
				mode = umem.BindCopy
			}

			region, regionErr := pool.RegionFor(mode)
			if regionErr != nil {
				return nil, fmt.Errorf("control: worker %d interface %q: %w", w, iface.name, regionErr)
			}

			ownerFD, shared := umemOwnerFD[region]
			opts := socket.Options{
				Region:       region,
				Ifindex:      iface.ifindex,
				QueueID:      w,
				IfaceIndex:   i,
				Mode:         mode,
				NeedWakeup:   true,
				BusyPoll:     cfg.BusyPoll,
				DescCount:    frame.FramesPerSocket,
				RegisterUMEM: !shared,
				SharedUmemFD: ownerFD,
				Unaligned:    cfg.Unaligned,
				BatchSize:    cfg.BatchSize,
			}
			s, openErr := socket.Open(opts)
			if openErr != nil {
				return nil, fmt.Errorf("control: worker %d interface %q: opening socket: %w", w, iface.name, openErr)
			}
			if !shared {
				umemOwnerFD[region] = s.FD()
			}
			if err := s.PrimeFillRing(frame.FramesPerSocket); err != nil {
				return nil, fmt.Errorf("control: worker %d interface %q: priming fill ring: %w", w, iface.name, err)
			}
			sockets[i] = s
		}
		c.sockets[w] = sockets
	}

	if cfg.Mode == config.ModeXDP || cfg.Mode == config.ModeCombined {
		state, ebpfErr := attachEBPF(cfg, c.ifaces, c.sockets, log)
		if ebpfErr != nil {
			return nil, ebpfErr
		}
		c.ebpfState = state
	}

	if cfg.TCProgramName != "" {
		for _, iface := range c.ifaces {
			att, tcErr := attachTC(cfg, iface, log)
			if tcErr != nil {
				return nil, tcErr
			}
			c.tcState = append(c.tcState, att)
		}
	}

	for w := 0; w < cfg.Workers; w++ {
		wk := worker.New(w, c.sockets[w], cfg.BatchSize, cfg.Poll, cfg.BusyPoll, classify, &c.stop)
		c.workers = append(c.workers, wk)
	}

	return c, nil
}

// Start pins each worker to the CPU matching its index in the process's
// current affinity mask and launches its run loop. Workers must not
// outnumber the CPUs available to the process.
//
// A dedicated supervisor goroutine, never a worker goroutine itself, owns
// the fatal-shutdown path: if any worker's run loop panics (an invariant
// violation), the supervisor stops and joins every worker — including the
// one that panicked — before calling Cleanup, so Cleanup never races a
// still-running sibling's ring access or munmap against a shared UMEM
// region. A worker's own goroutine never calls Stop or Cleanup itself; it
// only reports the failure and returns, which is what lets its own
// WaitGroup slot clear without that goroutine waiting on itself.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("control: already started")
	}

	cpus, err := availableCPUs()
	if err != nil {
		return fmt.Errorf("control: reading CPU affinity mask: %w", err)
	}
	if len(c.workers) > len(cpus) {
		return fmt.Errorf("control: %d workers requested but only %d CPUs available to this process", len(c.workers), len(cpus))
	}

	for i, wk := range c.workers {
		cpu := cpus[i]
		idx := i
		c.wg.Add(1)
		go func(wk *worker.Worker, cpu, idx int) {
			defer c.wg.Done()
			if err := pinToCPU(cpu); err != nil {
				c.log.WithError(err).WithField("cpu", cpu).Error("failed to pin worker to CPU, continuing unpinned")
			}
			runWorkerRecovered(c, idx, wk.Run)
		}(wk, cpu, idx)
	}
	c.started = true
	go c.superviseFatal()
	return nil
}

// Stop sets the shared stop flag and waits for every worker to observe it
// and return; workers check this flag once per loop iteration, so in poll
// mode a worker may take up to worker.PollTimeoutMS to notice it.
func (c *Controller) Stop() {
	c.stop.Store(true)
	c.wg.Wait()
}

// Stats is one socket's combined framework and driver counters, returned
// by GetSocketStats.
type Stats struct {
	socket.Counters
	umem.Statistics
}

// GetSocketStats reads the framework counters and, via a getsockopt call,
// the driver's XDP_STATISTICS counters for one worker's socket on one
// interface. A driver statistics read failure is non-fatal and surfaced to
// the caller rather than aborting the run.
func (c *Controller) GetSocketStats(workerIdx, ifaceIdx int) (Stats, error) {
	if workerIdx < 0 || workerIdx >= len(c.sockets) || ifaceIdx < 0 || ifaceIdx >= len(c.ifaces) {
		return Stats{}, fmt.Errorf("control: socket stats index out of range: worker=%d iface=%d", workerIdx, ifaceIdx)
	}
	s := c.sockets[workerIdx][ifaceIdx]
	driverStats, err := s.Stats()
	if err != nil {
		return Stats{Counters: s.Counters}, fmt.Errorf("control: reading driver statistics: %w", err)
	}
	return Stats{Counters: s.Counters, Statistics: driverStats}, nil
}

// Cleanup releases every resource Init created, in the reverse order it was
// created, and is safe to call more than once.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, att := range c.tcState {
		att.close(c.log)
	}
	c.tcState = nil

	if c.ebpfState != nil {
		c.ebpfState.close(c.log)
		c.ebpfState = nil
	}

	for _, sockets := range c.sockets {
		for _, s := range sockets {
			if s == nil {
				continue
			}
			if err := s.Close(); err != nil {
				c.log.WithError(err).Warn("closing socket")
			}
		}
	}
	c.sockets = nil

	for _, pool := range c.pools {
		if pool == nil {
			continue
		}
		if err := pool.Close(); err != nil {
			c.log.WithError(err).Warn("closing UMEM pool")
		}
	}
	c.pools = nil
}
