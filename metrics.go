package ftp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// transferMetrics holds the three Prometheus collectors the domain stack's
// optional metrics enrichment exposes (spec §2.2), grounded on
// m-lab/tcp-info's metrics package shape (package-level collectors
// constructed once and updated from the hot path) but registered against a
// caller-supplied prometheus.Registerer instead of the default registry, so
// multiple Sessions in one process don't collide.
type transferMetrics struct {
	bytesTotal     *prometheus.CounterVec
	transfersTotal *prometheus.CounterVec
	active         prometheus.Gauge
}

func newTransferMetrics(reg prometheus.Registerer) *transferMetrics {
	m := &transferMetrics{
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ftp_client_transfer_bytes_total",
			Help: "Total bytes transferred, by direction.",
		}, []string{"kind"}),
		transfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ftp_client_transfers_total",
			Help: "Total transfers started, by direction and outcome.",
		}, []string{"kind", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ftp_client_transfers_active",
			Help: "Number of transfers currently running or paused.",
		}),
	}

	reg.MustRegister(m.bytesTotal, m.transfersTotal, m.active)
	return m
}

func (m *transferMetrics) observeBytes(kind TransferKind, n int64) {
	m.bytesTotal.WithLabelValues(kind.String()).Add(float64(n))
}

func (m *transferMetrics) observeOutcome(kind TransferKind, status TransferStatus) {
	m.transfersTotal.WithLabelValues(kind.String(), status.String()).Inc()
}

func (m *transferMetrics) incActive() { m.active.Inc() }
func (m *transferMetrics) decActive() { m.active.Dec() }
