// Package metrics exposes netdevpbx state to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// scrapeTimeout bounds the database queries of one scrape.
const scrapeTimeout = 5 * time.Second

// ChannelCounter reports the number of live channels.
type ChannelCounter interface {
	Count() int
}

// PortUsage reports RTP port pair allocation.
type PortUsage interface {
	InUse() int
	Capacity() int
}

// DialogCounter reports the number of INVITE dialogs being tracked.
type DialogCounter interface {
	ActiveDialogs() int
}

// CollectionCounter returns digit collection outcomes grouped by result.
type CollectionCounter interface {
	CountByResult(ctx context.Context) (map[string]int64, error)
}

// RecordingCounter returns the number of stored recordings.
type RecordingCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Sources are the state providers read at scrape time. Any may be nil.
type Sources struct {
	Channels    ChannelCounter
	Ports       PortUsage
	Dialogs     DialogCounter
	Collections CollectionCounter
	Recordings  RecordingCounter
}

// Collector is a prometheus.Collector that reads live state at scrape time.
type Collector struct {
	src       Sources
	startTime time.Time
	logger    *slog.Logger

	channelsDesc    *prometheus.Desc
	portsInUseDesc  *prometheus.Desc
	portsTotalDesc  *prometheus.Desc
	dialogsDesc     *prometheus.Desc
	collectionsDesc *prometheus.Desc
	recordingsDesc  *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Sources, startTime time.Time, logger *slog.Logger) *Collector {
	return &Collector{
		src:       src,
		startTime: startTime,
		logger:    logger.With("component", "metrics"),

		channelsDesc: prometheus.NewDesc(
			"netdevpbx_active_channels",
			"Number of live channels",
			nil, nil,
		),
		portsInUseDesc: prometheus.NewDesc(
			"netdevpbx_rtp_ports_in_use",
			"RTP port pairs currently allocated",
			nil, nil,
		),
		portsTotalDesc: prometheus.NewDesc(
			"netdevpbx_rtp_ports_capacity",
			"RTP port pairs available in the configured range",
			nil, nil,
		),
		dialogsDesc: prometheus.NewDesc(
			"netdevpbx_sip_dialogs_active",
			"INVITE dialogs tracked by the SIP server",
			nil, nil,
		),
		collectionsDesc: prometheus.NewDesc(
			"netdevpbx_digit_collections_total",
			"Stored digit collections by result",
			[]string{"result"}, nil,
		),
		recordingsDesc: prometheus.NewDesc(
			"netdevpbx_recordings_total",
			"Stored recordings",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"netdevpbx_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.channelsDesc
	ch <- c.portsInUseDesc
	ch <- c.portsTotalDesc
	ch <- c.dialogsDesc
	ch <- c.collectionsDesc
	ch <- c.recordingsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	if c.src.Channels != nil {
		ch <- prometheus.MustNewConstMetric(c.channelsDesc, prometheus.GaugeValue,
			float64(c.src.Channels.Count()))
	}
	if c.src.Ports != nil {
		ch <- prometheus.MustNewConstMetric(c.portsInUseDesc, prometheus.GaugeValue,
			float64(c.src.Ports.InUse()))
		ch <- prometheus.MustNewConstMetric(c.portsTotalDesc, prometheus.GaugeValue,
			float64(c.src.Ports.Capacity()))
	}
	if c.src.Dialogs != nil {
		ch <- prometheus.MustNewConstMetric(c.dialogsDesc, prometheus.GaugeValue,
			float64(c.src.Dialogs.ActiveDialogs()))
	}

	if c.src.Collections != nil {
		counts, err := c.src.Collections.CountByResult(ctx)
		if err != nil {
			c.logger.Error("failed to count digit collections", "error", err)
		} else {
			for _, result := range []string{"success", "timeout", "failure"} {
				ch <- prometheus.MustNewConstMetric(c.collectionsDesc, prometheus.CounterValue,
					float64(counts[result]), result)
			}
		}
	}

	if c.src.Recordings != nil {
		n, err := c.src.Recordings.Count(ctx)
		if err != nil {
			c.logger.Error("failed to count recordings", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.recordingsDesc, prometheus.CounterValue, float64(n))
		}
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds())
}
