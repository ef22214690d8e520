//go:build linux

package control

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/xskforge/xskforge/config"
)

// unixETHPAll is ETH_P_ALL (host byte order), the protocol match a clsact
// direct-action filter needs to see every egress frame.
const unixETHPAll = 0x0003

// tcAttachment is one interface's clsact qdisc, its loaded TC program, and
// the direct-action egress filter referencing it, all torn down together.
type tcAttachment struct {
	ifaceName string
	coll      *ebpf.Collection
	qdisc     netlink.Qdisc
	filter    netlink.Filter
}

// attachTC installs a clsact qdisc on iface and loads cfg.TCProgramName
// from cfg.EBPFObjectPath as a direct-action BPF filter on its egress hook,
// the egress counterpart to the ingress XDP hook.
func attachTC(cfg *config.Config, iface resolvedIface, log *logrus.Logger) (*tcAttachment, error) {
	spec, err := loadSpec(cfg.EBPFObjectPath)
	if err != nil {
		return nil, err
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("control: instantiating eBPF collection for TC on %q: %w", iface.name, err)
	}
	prog := coll.Programs[cfg.TCProgramName]
	if prog == nil {
		coll.Close()
		return nil, fmt.Errorf("control: eBPF object %q has no program named %q", cfg.EBPFObjectPath, cfg.TCProgramName)
	}

	qdisc := &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: iface.ifindex,
			Handle:    netlink.MakeHandle(0xffff, 0),
			Parent:    netlink.HANDLE_CLSACT,
		},
		QdiscType: "clsact",
	}
	if err := netlink.QdiscAdd(qdisc); err != nil {
		coll.Close()
		return nil, fmt.Errorf("control: adding clsact qdisc on %q: %w", iface.name, err)
	}

	filter := &netlink.BpfFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: iface.ifindex,
			Parent:    netlink.HANDLE_MIN_EGRESS,
			Handle:    netlink.MakeHandle(0, 1),
			Protocol:  unixETHPAll,
		},
		Fd:           prog.FD(),
		Name:         cfg.TCProgramName,
		DirectAction: true,
	}
	if err := netlink.FilterAdd(filter); err != nil {
		netlink.QdiscDel(qdisc)
		coll.Close()
		return nil, fmt.Errorf("control: adding TC direct-action filter %q on %q: %w", cfg.TCProgramName, iface.name, err)
	}

	log.WithFields(logrus.Fields{"interface": iface.name, "program": cfg.TCProgramName}).Info("attached TC egress filter")
	return &tcAttachment{ifaceName: iface.name, coll: coll, qdisc: qdisc, filter: filter}, nil
}

func (a *tcAttachment) close(log *logrus.Logger) {
	if a == nil {
		return
	}
	if a.filter != nil {
		if err := netlink.FilterDel(a.filter); err != nil {
			log.WithError(err).WithField("interface", a.ifaceName).Warn("removing TC filter")
		}
	}
	if a.qdisc != nil {
		if err := netlink.QdiscDel(a.qdisc); err != nil {
			log.WithError(err).WithField("interface", a.ifaceName).Warn("removing clsact qdisc")
		}
	}
	if a.coll != nil {
		a.coll.Close()
	}
}
