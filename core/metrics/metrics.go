// Package metrics exposes the broker's counters to Prometheus. The
// collector reads the store's stats snapshot on scrape, so the broker core
// stays free of any metrics dependency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/streamhub/core/broker"
)

const namespace = "streamhub"

// Collector implements prometheus.Collector over a broker store.
type Collector struct {
	store *broker.Store

	channels    *prometheus.Desc
	subscribers *prometheus.Desc
	stored      *prometheus.Desc
	arenaUsed   *prometheus.Desc
	arenaCap    *prometheus.Desc
	published   *prometheus.Desc
	delivered   *prometheus.Desc
	evicted     *prometheus.Desc
	dropped     *prometheus.Desc
	uptime      *prometheus.Desc
}

// NewCollector creates a Collector for the given store.
func NewCollector(store *broker.Store) *Collector {
	labels := prometheus.Labels{"instance_id": store.Instance().String()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	return &Collector{
		store:       store,
		channels:    desc("channels", "Number of live channels."),
		subscribers: desc("subscribers", "Number of active channel subscriptions."),
		stored:      desc("stored_messages", "Messages currently held in channel buffers."),
		arenaUsed:   desc("arena_used_bytes", "Logical bytes charged against the arena."),
		arenaCap:    desc("arena_capacity_bytes", "Configured arena capacity; zero means unlimited."),
		published:   desc("published_messages_total", "Messages accepted by publish."),
		delivered:   desc("delivered_messages_total", "Messages written to subscribers."),
		evicted:     desc("evicted_messages_total", "Messages dropped by count, retention or memory pressure."),
		dropped:     desc("dropped_deliveries_total", "Deliveries skipped because a subscriber queue was full."),
		uptime:      desc("uptime_seconds", "Process uptime."),
	}
}

// Register creates a Collector for the store and registers it.
func Register(reg prometheus.Registerer, store *broker.Store) error {
	return reg.Register(NewCollector(store))
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.channels
	ch <- c.subscribers
	ch <- c.stored
	ch <- c.arenaUsed
	ch <- c.arenaCap
	ch <- c.published
	ch <- c.delivered
	ch <- c.evicted
	ch <- c.dropped
	ch <- c.uptime
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.store.Stats(false)
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	gauge(c.channels, float64(st.Channels))
	gauge(c.subscribers, float64(st.Subscribers))
	gauge(c.stored, float64(st.StoredMessages))
	gauge(c.arenaUsed, float64(st.ArenaUsedBytes))
	gauge(c.arenaCap, float64(st.ArenaCapacity))
	counter(c.published, float64(st.PublishedMessages))
	counter(c.delivered, float64(st.DeliveredMessages))
	counter(c.evicted, float64(st.EvictedMessages))
	counter(c.dropped, float64(st.DroppedMessages))
	counter(c.uptime, float64(st.UptimeSeconds))
}
