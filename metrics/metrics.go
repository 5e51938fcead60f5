// Package metrics bridges table statistics into Prometheus.
//
// The collector reads Stats at scrape time, so values are never stale and
// no background updater is needed. Register one collector per process and
// add tables as they open:
//
//	coll := metrics.NewCollector(table)
//	prometheus.MustRegister(coll)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexhholmes/rowstore"
)

// Source yields a statistics snapshot for one table. *rowstore.Table
// satisfies it.
type Source interface {
	Name() string
	Stats() rowstore.Stats
}

// Collector exports per-table row store metrics. Safe for concurrent
// Add and scrape.
type Collector struct {
	mu      sync.RWMutex
	sources []Source

	activeRows    *prometheus.Desc
	blocks        *prometheus.Desc
	pendingBlocks *prometheus.Desc
	activeStreams *prometheus.Desc
	bytesMapped   *prometheus.Desc

	inserts     *prometheus.Desc
	updates     *prometheus.Desc
	deletes     *prometheus.Desc
	moves       *prometheus.Desc
	activations *prometheus.Desc
	allocated   *prometheus.Desc
	reclaimed   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over the given tables.
func NewCollector(sources ...Source) *Collector {
	labels := []string{"table"}
	return &Collector{
		sources: sources,
		activeRows: prometheus.NewDesc(
			"rowstore_active_rows",
			"Number of live rows in the table.",
			labels, nil,
		),
		blocks: prometheus.NewDesc(
			"rowstore_blocks",
			"Number of allocated blocks.",
			labels, nil,
		),
		pendingBlocks: prometheus.NewDesc(
			"rowstore_pending_blocks",
			"Number of blocks awaiting a snapshot scan.",
			labels, nil,
		),
		activeStreams: prometheus.NewDesc(
			"rowstore_active_streams",
			"Number of registered stream contexts.",
			labels, nil,
		),
		bytesMapped: prometheus.NewDesc(
			"rowstore_bytes_mapped",
			"Bytes of block memory currently mapped.",
			labels, nil,
		),
		inserts: prometheus.NewDesc(
			"rowstore_inserts_total",
			"Rows inserted since the table opened.",
			labels, nil,
		),
		updates: prometheus.NewDesc(
			"rowstore_updates_total",
			"Rows updated since the table opened.",
			labels, nil,
		),
		deletes: prometheus.NewDesc(
			"rowstore_deletes_total",
			"Rows deleted since the table opened.",
			labels, nil,
		),
		moves: prometheus.NewDesc(
			"rowstore_moves_total",
			"Rows relocated by compaction since the table opened.",
			labels, nil,
		),
		activations: prometheus.NewDesc(
			"rowstore_streams_activated_total",
			"Stream contexts activated since the table opened.",
			labels, nil,
		),
		allocated: prometheus.NewDesc(
			"rowstore_blocks_allocated_total",
			"Blocks allocated since the table opened.",
			labels, nil,
		),
		reclaimed: prometheus.NewDesc(
			"rowstore_blocks_reclaimed_total",
			"Blocks reclaimed since the table opened.",
			labels, nil,
		),
	}
}

// Add registers another table with the collector.
func (c *Collector) Add(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, src)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeRows
	ch <- c.blocks
	ch <- c.pendingBlocks
	ch <- c.activeStreams
	ch <- c.bytesMapped
	ch <- c.inserts
	ch <- c.updates
	ch <- c.deletes
	ch <- c.moves
	ch <- c.activations
	ch <- c.allocated
	ch <- c.reclaimed
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := make([]Source, len(c.sources))
	copy(sources, c.sources)
	c.mu.RUnlock()

	for _, src := range sources {
		name := src.Name()
		st := src.Stats()

		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, name)
		}
		counter := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, name)
		}

		gauge(c.activeRows, float64(st.ActiveRows))
		gauge(c.blocks, float64(st.Blocks))
		gauge(c.pendingBlocks, float64(st.PendingBlocks))
		gauge(c.activeStreams, float64(st.ActiveStreams))
		gauge(c.bytesMapped, float64(st.BytesMapped))

		counter(c.inserts, float64(st.Inserts))
		counter(c.updates, float64(st.Updates))
		counter(c.deletes, float64(st.Deletes))
		counter(c.moves, float64(st.Moves))
		counter(c.activations, float64(st.StreamsActivated))
		counter(c.allocated, float64(st.BlocksAllocated))
		counter(c.reclaimed, float64(st.BlocksReclaimed))
	}
}
