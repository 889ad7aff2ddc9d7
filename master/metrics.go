package master

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the optional Prometheus gauges/counters SPEC_FULL.md's
// ambient stack binds to the Master (in-memory block count,
// outgoing/incoming queue depth, round number, iexchange local-work
// counter, move count), grounded in the teacher pack's
// promauto.NewGauge(prometheus.GaugeOpts{...}) style (see
// pkg/ingester/ingester.go's metricFlushQueueLength). Unlike that
// package-level singleton, Metrics is constructed per rank, since one
// process can host many Masters (comm.NewWorld simulates every rank
// in-process) and a shared global gauge would have every rank overwrite
// the others' values.
type Metrics struct {
	inMemoryBlocks prometheus.Gauge
	round          prometheus.Gauge
	iexchangeWork  prometheus.Gauge
	queueDepthOut  prometheus.Gauge
	queueDepthIn   prometheus.Gauge
	movesTotal     prometheus.Counter
}

// NewMetrics builds and registers one rank's gauge/counter set against reg.
// Every metric carries the rank as a constant label, so the ranks of a
// multi-rank process can share one registry (cmd/diy's fleet shares one
// prometheus.NewRegistry()); pass prometheus.DefaultRegisterer for a
// single-Master process.
func NewMetrics(reg prometheus.Registerer, rank int) *Metrics {
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	mt := &Metrics{
		inMemoryBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "diy",
			Subsystem:   "master",
			Name:        "in_memory_blocks",
			Help:        "Blocks currently resident in this rank's Collection.",
			ConstLabels: labels,
		}),
		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "diy",
			Subsystem:   "master",
			Name:        "round",
			Help:        "Current exchange round number.",
			ConstLabels: labels,
		}),
		iexchangeWork: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "diy",
			Subsystem:   "master",
			Name:        "iexchange_work",
			Help:        "Current iexchange local-work counter (spec invariant I3).",
			ConstLabels: labels,
		}),
		queueDepthOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "diy",
			Subsystem:   "master",
			Name:        "queue_depth_outgoing",
			Help:        "Total resident records across every outgoing FIFO.",
			ConstLabels: labels,
		}),
		queueDepthIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "diy",
			Subsystem:   "master",
			Name:        "queue_depth_incoming",
			Help:        "Total resident records across every incoming FIFO of the current round.",
			ConstLabels: labels,
		}),
		movesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "diy",
			Subsystem:   "master",
			Name:        "balance_moves_total",
			Help:        "Blocks migrated away from this rank by the load balancer.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(mt.inMemoryBlocks, mt.round, mt.iexchangeWork, mt.queueDepthOut, mt.queueDepthIn, mt.movesTotal)
	return mt
}

// IncMoves records n blocks having just migrated away from this rank.
func (mt *Metrics) IncMoves(n int) {
	if mt == nil {
		return
	}
	mt.movesTotal.Add(float64(n))
}

// Observe refreshes every gauge from m's current state. Cheap enough to
// call after every Flush/IExchange return; a nil receiver is a no-op so
// callers can leave Metrics unset without branching.
func (mt *Metrics) Observe(m *Master) {
	if mt == nil {
		return
	}
	mt.inMemoryBlocks.Set(float64(m.Col.InMemoryCount()))
	mt.round.Set(float64(m.Round()))

	m.iexMu.RLock()
	sess := m.iex
	m.iexMu.RUnlock()
	if sess != nil {
		mt.iexchangeWork.Set(float64(sess.work.Load()))
	}

	var out int
	for _, from := range m.Out.Froms() {
		for _, f := range m.Out.Targets(from) {
			out += f.Len()
		}
	}
	mt.queueDepthOut.Set(float64(out))

	var in int
	round := m.Round()
	for _, to := range m.In.Destinations(round) {
		for _, from := range m.gidsForMetrics() {
			if f, ok := m.In.Get(round, to, from); ok {
				in += f.Len()
			}
		}
	}
	mt.queueDepthIn.Set(float64(in))
}

// gidsForMetrics is a read-locked snapshot of every gid this rank has ever
// registered (released gids included, harmlessly), used only to enumerate
// candidate "from" keys when summing incoming queue depth.
func (m *Master) gidsForMetrics() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, len(m.gids))
	copy(out, m.gids)
	return out
}
