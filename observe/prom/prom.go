// Package prom exports scheduler statistics as Prometheus metrics.
package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/baxromumarov/flux/sched"
)

// WorkStealingCollector exposes per-processor work-stealing counters.
// Snapshots are best-effort, matching the scheduler's relaxed
// accounting.
type WorkStealingCollector struct {
	ws *sched.WorkStealing

	tasksExecuted   *prometheus.Desc
	localPops       *prometheus.Desc
	globalPops      *prometheus.Desc
	stealsAttempted *prometheus.Desc
	stealsSucceeded *prometheus.Desc
}

// NewWorkStealingCollector returns a collector over ws. Register it
// with a prometheus.Registerer; the scheduler must outlive the
// collector's use.
func NewWorkStealingCollector(ws *sched.WorkStealing) *WorkStealingCollector {
	labels := []string{"processor"}
	return &WorkStealingCollector{
		ws: ws,
		tasksExecuted: prometheus.NewDesc(
			"flux_sched_tasks_executed_total",
			"Tasks executed by the processor's worker.",
			labels, nil),
		localPops: prometheus.NewDesc(
			"flux_sched_local_pops_total",
			"Tasks taken from the processor's own deque.",
			labels, nil),
		globalPops: prometheus.NewDesc(
			"flux_sched_global_pops_total",
			"Tasks taken from the global overflow queue.",
			labels, nil),
		stealsAttempted: prometheus.NewDesc(
			"flux_sched_steals_attempted_total",
			"Steal attempts against peer processors.",
			labels, nil),
		stealsSucceeded: prometheus.NewDesc(
			"flux_sched_steals_succeeded_total",
			"Steal attempts that yielded a task.",
			labels, nil),
	}
}

func (c *WorkStealingCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasksExecuted
	ch <- c.localPops
	ch <- c.globalPops
	ch <- c.stealsAttempted
	ch <- c.stealsSucceeded
}

func (c *WorkStealingCollector) Collect(ch chan<- prometheus.Metric) {
	for id := 0; id < c.ws.NumProcs(); id++ {
		s := c.ws.Stats(id)
		label := strconv.Itoa(id)
		ch <- prometheus.MustNewConstMetric(c.tasksExecuted, prometheus.CounterValue, float64(s.TasksExecuted), label)
		ch <- prometheus.MustNewConstMetric(c.localPops, prometheus.CounterValue, float64(s.LocalPops), label)
		ch <- prometheus.MustNewConstMetric(c.globalPops, prometheus.CounterValue, float64(s.GlobalPops), label)
		ch <- prometheus.MustNewConstMetric(c.stealsAttempted, prometheus.CounterValue, float64(s.StealsAttempted), label)
		ch <- prometheus.MustNewConstMetric(c.stealsSucceeded, prometheus.CounterValue, float64(s.StealsSucceeded), label)
	}
}

// PoolCollector exposes thread-pool counters.
type PoolCollector struct {
	pool *sched.Pool

	submitted  *prometheus.Desc
	completed  *prometheus.Desc
	rejected   *prometheus.Desc
	inFlight   *prometheus.Desc
	queueDepth *prometheus.Desc
}

// NewPoolCollector returns a collector over p.
func NewPoolCollector(p *sched.Pool) *PoolCollector {
	return &PoolCollector{
		pool: p,
		submitted: prometheus.NewDesc(
			"flux_pool_tasks_submitted_total",
			"Tasks accepted by the pool.",
			nil, nil),
		completed: prometheus.NewDesc(
			"flux_pool_tasks_completed_total",
			"Tasks finished by the pool.",
			nil, nil),
		rejected: prometheus.NewDesc(
			"flux_pool_try_submissions_rejected_total",
			"Non-blocking submissions refused with a full ring.",
			nil, nil),
		inFlight: prometheus.NewDesc(
			"flux_pool_tasks_in_flight",
			"Tasks currently executing.",
			nil, nil),
		queueDepth: prometheus.NewDesc(
			"flux_pool_queue_depth",
			"Tasks waiting in the FIFO queue.",
			nil, nil),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.completed
	ch <- c.rejected
	ch <- c.inFlight
	ch <- c.queueDepth
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Submitted))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Completed))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Rejected))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(s.QueueDepth))
}
