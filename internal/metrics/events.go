package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netdevpbx/netdevpbx/internal/events"
)

// EventCounters counts channel events as they happen.
type EventCounters struct {
	calls      prometheus.Counter
	hangups    *prometheus.CounterVec
	dtmf       *prometheus.CounterVec
	executions *prometheus.CounterVec
}

// NewEventCounters creates the counters and registers them with reg.
func NewEventCounters(reg prometheus.Registerer) (*EventCounters, error) {
	c := &EventCounters{
		calls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netdevpbx_channels_created_total",
			Help: "Channels created for inbound calls",
		}),
		hangups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netdevpbx_channel_hangups_total",
			Help: "Channels hung up, by cause",
		}, []string{"cause"}),
		dtmf: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netdevpbx_dtmf_signals_total",
			Help: "Key presses received, by transport",
		}, []string{"source"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netdevpbx_application_executions_total",
			Help: "Dialplan applications completed, by application and result",
		}, []string{"application", "result"}),
	}
	for _, col := range []prometheus.Collector{c.calls, c.hangups, c.dtmf, c.executions} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe counts one event.
func (c *EventCounters) Observe(e events.Event) {
	switch e.Type {
	case events.ChannelCreate:
		c.calls.Inc()
	case events.ChannelDestroy:
		c.hangups.WithLabelValues(e.Cause).Inc()
	case events.DTMF:
		c.dtmf.WithLabelValues(e.Source).Inc()
	case events.ChannelExecuteComplete:
		c.executions.WithLabelValues(e.Application, e.Result).Inc()
	}
}

// Run observes events from in until it is closed or ctx is cancelled.
func (c *EventCounters) Run(ctx context.Context, in <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
