// Package config parses the framework's CLI surface into an immutable
// Config, validated before any kernel resource is created.
package config

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/spf13/pflag"
)

// Mode selects the working mode: pure userspace AF_XDP redirect, XDP-only
// hook installation, or both combined with an xsks_map redirect.
type Mode string

const (
	ModeAFXDP    Mode = "AF_XDP"
	ModeXDP      Mode = "XDP"
	ModeCombined Mode = "COMBINED"
)

// BindHint is the per-interface copy/zero-copy preference parsed from
// "name[:c|z]".
type BindHint int

const (
	BindAuto BindHint = iota
	BindForceCopy
	BindForceZeroCopy
)

// Interface is one configured interface descriptor.
type Interface struct {
	Name string
	Bind BindHint
}

// Config is the framework's immutable configuration, fixed for the whole
// lifetime of a run.
type Config struct {
	Interfaces     []Interface
	Mode           Mode
	FrameSize      uint32
	Workers        int
	BatchSize      int
	Poll           bool
	BusyPoll       bool
	Unaligned      bool
	SkbMode        bool
	EBPFObjectPath string
	XDPProgramName string
	TCProgramName  string
	MetricsAddr    string // empty means the /metrics listener is disabled
}

const (
	defaultFrameSize      = 2048
	defaultBatchSize      = 64
	defaultWorkers        = 1
	defaultXDPProgramName = "xdp_redirect"
)

// Parse reads argv per the CLI surface table (-i/--iface, -p/--poll,
// -S/--xdp-skb, -f/--frame-size, -u/--unaligned, -b/--batch-size,
// -B/--busy-poll, -M/--mode, -w/--workers, --metrics-addr) into a validated
// Config. The /metrics HTTP listener stays off unless --metrics-addr is
// given explicitly: the core library must never force a network listener
// on a caller who didn't ask for one.
func Parse(argv0 string, args []string) (*Config, error) {
	fs := pflag.NewFlagSet(argv0, pflag.ContinueOnError)

	ifaceArgs := fs.StringArrayP("iface", "i", nil, "add an interface; optional :c or :z forces copy/zero-copy")
	poll := fs.BoolP("poll", "p", false, "use poll() between batches")
	skb := fs.BoolP("xdp-skb", "S", false, "attach XDP in SKB (generic) mode; forces copy")
	frameSize := fs.Uint32P("frame-size", "f", defaultFrameSize, "UMEM frame size (power of two unless --unaligned)")
	unaligned := fs.BoolP("unaligned", "u", false, "enable unaligned chunk placement (implies huge pages)")
	batchSize := fs.IntP("batch-size", "b", defaultBatchSize, "rx/tx batch size (1..511)")
	busyPoll := fs.BoolP("busy-poll", "B", false, "enable socket busy-poll")
	mode := fs.StringP("mode", "M", string(ModeAFXDP), "working mode: AF_XDP|XDP|COMBINED")
	workers := fs.IntP("workers", "w", defaultWorkers, "number of worker threads")
	ebpfPath := fs.String("ebpf-object", "", "eBPF object file path (default {argv0}_kern.o)")
	xdpProg := fs.String("xdp-prog", defaultXDPProgramName, "XDP program name within the eBPF object")
	tcProg := fs.String("tc-prog", "", "TC egress program name within the eBPF object (optional)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus /metrics on this address (disabled unless set)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{
		Mode:           Mode(strings.ToUpper(*mode)),
		FrameSize:      *frameSize,
		Workers:        *workers,
		BatchSize:      *batchSize,
		Poll:           *poll,
		BusyPoll:       *busyPoll,
		Unaligned:      *unaligned,
		SkbMode:        *skb,
		EBPFObjectPath: *ebpfPath,
		XDPProgramName: *xdpProg,
		TCProgramName:  *tcProg,
		MetricsAddr:    *metricsAddr,
	}
	if cfg.EBPFObjectPath == "" {
		cfg.EBPFObjectPath = argv0 + "_kern.o"
	}

	for _, raw := range *ifaceArgs {
		iface, err := parseIfaceArg(raw)
		if err != nil {
			return nil, err
		}
		cfg.Interfaces = append(cfg.Interfaces, iface)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseIfaceArg(raw string) (Interface, error) {
	name, hintStr, hasHint := strings.Cut(raw, ":")
	if name == "" {
		return Interface{}, fmt.Errorf("config: empty interface name in %q", raw)
	}
	iface := Interface{Name: name, Bind: BindAuto}
	if hasHint {
		switch hintStr {
		case "c":
			iface.Bind = BindForceCopy
		case "z":
			iface.Bind = BindForceZeroCopy
		default:
			return Interface{}, fmt.Errorf("config: unknown bind hint %q in %q, want :c or :z", hintStr, raw)
		}
	}
	return iface, nil
}

func (c *Config) validate() error {
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("config: at least one --iface is required")
	}
	switch c.Mode {
	case ModeAFXDP, ModeXDP, ModeCombined:
	default:
		return fmt.Errorf("config: unknown mode %q, want AF_XDP, XDP or COMBINED", c.Mode)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: --workers must be >= 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 || c.BatchSize > 511 {
		return fmt.Errorf("config: --batch-size must be in [1, 511], got %d", c.BatchSize)
	}
	if !c.Unaligned && (c.FrameSize == 0 || bits.OnesCount32(c.FrameSize) != 1) {
		return fmt.Errorf("config: --frame-size must be a power of two unless --unaligned is set, got %d", c.FrameSize)
	}
	if c.SkbMode {
		// Forcing SKB mode forces copy-mode sockets; a per-interface
		// zero-copy hint under SKB mode is a contradiction the caller
		// almost certainly didn't intend.
		for _, iface := range c.Interfaces {
			if iface.Bind == BindForceZeroCopy {
				return fmt.Errorf("config: interface %q requests zero-copy but --xdp-skb forces copy mode", iface.Name)
			}
		}
	}
	if (c.Mode == ModeXDP || c.Mode == ModeCombined) && c.EBPFObjectPath == "" {
		return fmt.Errorf("config: mode %s requires an eBPF object path", c.Mode)
	}
	return nil
}

// ResolvedBindMode applies the SKB-mode override and the auto-select
// default (zero-copy) described for step 1 of UMEM pool and socket setup.
func (iface Interface) ResolvedBindMode(skbMode bool) BindHint {
	if skbMode {
		return BindForceCopy
	}
	if iface.Bind == BindAuto {
		return BindForceZeroCopy
	}
	return iface.Bind
}
