// Package metrics exports the framework's per-socket counters as
// Prometheus gauges, optionally served over HTTP.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xskforge/xskforge/control"
)

// StatsSource reads one worker's one-interface socket statistics, the
// shape *control.Controller.GetSocketStats already has.
type StatsSource interface {
	GetSocketStats(workerIdx, ifaceIdx int) (control.Stats, error)
}

// Exporter polls a StatsSource on demand and reports it through the
// Prometheus collector interface.
type Exporter struct {
	source        StatsSource
	workers       int
	interfaces    []string
	rxPackets     *prometheus.GaugeVec
	txPackets     *prometheus.GaugeVec
	rxEmptyPolls  *prometheus.GaugeVec
	txTrigger     *prometheus.GaugeVec
	txWakeup      *prometheus.GaugeVec
	optPolls      *prometheus.GaugeVec
	rxDropped     *prometheus.GaugeVec
	rxInvalid     *prometheus.GaugeVec
	txInvalid     *prometheus.GaugeVec
	rxFull        *prometheus.GaugeVec
	rxFillEmpty   *prometheus.GaugeVec
	txEmptyDescs  *prometheus.GaugeVec
}

// New builds an Exporter for a controller with the given interface names,
// ordered the same way the controller's interfaces are.
func New(source StatsSource, workers int, interfaces []string) *Exporter {
	labels := []string{"worker", "interface"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xskforge",
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &Exporter{
		source:       source,
		workers:      workers,
		interfaces:   interfaces,
		rxPackets:    gauge("rx_packets_total", "packets received"),
		txPackets:    gauge("tx_packets_total", "packets transmitted"),
		rxEmptyPolls: gauge("rx_empty_polls_total", "rx batches that found nothing to receive"),
		txTrigger:    gauge("tx_trigger_sendtos_total", "tx-kick sendto calls issued before draining completions"),
		txWakeup:     gauge("tx_wakeup_sendtos_total", "tx-kick sendto calls issued while waiting for tx ring space"),
		optPolls:     gauge("opt_polls_total", "poll() calls issued in poll mode"),
		rxDropped:    gauge("rx_dropped_total", "driver-reported rx drops"),
		rxInvalid:    gauge("rx_invalid_descs_total", "driver-reported invalid rx descriptors"),
		txInvalid:    gauge("tx_invalid_descs_total", "driver-reported invalid tx descriptors"),
		rxFull:       gauge("rx_ring_full_total", "driver-reported rx ring full events"),
		rxFillEmpty:  gauge("rx_fill_ring_empty_total", "driver-reported fill ring empty events"),
		txEmptyDescs: gauge("tx_ring_empty_total", "driver-reported tx ring empty events"),
	}
}

// Collectors returns every gauge vector this exporter owns, for
// registration with a prometheus.Registry.
func (e *Exporter) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		e.rxPackets, e.txPackets, e.rxEmptyPolls, e.txTrigger, e.txWakeup,
		e.optPolls, e.rxDropped, e.rxInvalid, e.txInvalid, e.rxFull,
		e.rxFillEmpty, e.txEmptyDescs,
	}
}

// Refresh re-reads every (worker, interface) socket's statistics and
// updates the gauges. A per-socket driver-statistics read failure does not
// abort the refresh; that socket's driver gauges simply keep their last
// known value.
func (e *Exporter) Refresh() {
	for w := 0; w < e.workers; w++ {
		for i, ifaceName := range e.interfaces {
			stats, err := e.source.GetSocketStats(w, i)
			labels := prometheus.Labels{"worker": fmt.Sprintf("%d", w), "interface": ifaceName}

			e.rxPackets.With(labels).Set(float64(stats.RxPackets))
			e.txPackets.With(labels).Set(float64(stats.TxPackets))
			e.rxEmptyPolls.With(labels).Set(float64(stats.RxEmptyPolls))
			e.txTrigger.With(labels).Set(float64(stats.TxTriggerSendtos))
			e.txWakeup.With(labels).Set(float64(stats.TxWakeupSendtos))
			e.optPolls.With(labels).Set(float64(stats.OptPolls))
			if err != nil {
				continue
			}
			e.rxDropped.With(labels).Set(float64(stats.RxDropped))
			e.rxInvalid.With(labels).Set(float64(stats.RxInvalidDescs))
			e.txInvalid.With(labels).Set(float64(stats.TxInvalidDescs))
			e.rxFull.With(labels).Set(float64(stats.RxRingFull))
			e.rxFillEmpty.With(labels).Set(float64(stats.RxFillRingEmpty))
			e.txEmptyDescs.With(labels).Set(float64(stats.TxRingEmptyDescs))
		}
	}
}

// ServeHTTP runs a /metrics HTTP server on addr until ctx is canceled.
// Gauges are refreshed on a ticker independent of scrape timing; a scrape
// that arrives during a refresh can see some gauges updated and others not.
func ServeHTTP(ctx context.Context, addr string, e *Exporter, interval time.Duration) error {
	reg := prometheus.NewRegistry()
	for _, c := range e.Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("metrics: registering collector: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Refresh()
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics: http server: %w", err)
	}
	return nil
}
