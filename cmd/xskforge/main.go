// Command xskforge runs the AF_XDP packet-forwarding framework: it parses
// the CLI surface, brings up UMEM pools, sockets, and (optionally) eBPF/TC
// programs for every configured interface, pins and starts one worker per
// queue, and optionally serves Prometheus metrics until interrupted.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xskforge/xskforge/classify"
	"github.com/xskforge/xskforge/config"
	"github.com/xskforge/xskforge/control"
	"github.com/xskforge/xskforge/metrics"
)

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ifaceToPos, err := resolveIfacePositions(cfg)
	if err != nil {
		log.WithError(err).Fatal("resolving configured interfaces")
	}
	processor := classify.Reflect(ifaceToPos)

	c, err := control.Init(cfg, processor, log)
	if err != nil {
		log.WithError(err).Fatal("starting packet-processing framework")
	}

	if err := c.Start(); err != nil {
		control.FatalExit(log, c, err)
	}
	log.WithFields(logrus.Fields{
		"interfaces": len(cfg.Interfaces),
		"workers":    cfg.Workers,
		"mode":       cfg.Mode,
	}).Info("xskforge running")

	// The /metrics listener is opt-in: it only starts when --metrics-addr
	// was given, so the core library never forces a network listener on a
	// caller who didn't ask for one.
	stopMetrics := func() {}
	if cfg.MetricsAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		stopMetrics = cancel
		exporter := metrics.New(c, cfg.Workers, interfaceNames(cfg))
		go func() {
			if err := metrics.ServeHTTP(ctx, cfg.MetricsAddr, exporter, time.Second); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("serving /metrics")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	stopMetrics()
	c.Stop()
	c.Cleanup()
}

// resolveIfacePositions maps each configured interface's kernel ifindex to
// its position in cfg.Interfaces, the form every PacketProcessor in this
// command expects as a forward target.
func resolveIfacePositions(cfg *config.Config) (map[int]int, error) {
	positions := make(map[int]int, len(cfg.Interfaces))
	for i, iface := range cfg.Interfaces {
		netIface, err := net.InterfaceByName(iface.Name)
		if err != nil {
			return nil, err
		}
		positions[netIface.Index] = i
	}
	return positions, nil
}

func interfaceNames(cfg *config.Config) []string {
	names := make([]string, len(cfg.Interfaces))
	for i, iface := range cfg.Interfaces {
		names[i] = iface.Name
	}
	return names
}
