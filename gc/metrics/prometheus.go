package metrics

import (
	"bytes"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func formatMetricFamilies(mfs []*dto.MetricFamily) (string, error) {
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// promCollector adapts a Registry into a prometheus.Collector so it can
// be registered with a prometheus.Registry and served over /metrics in
// real Prometheus text exposition format, distinct from ExportHuman's
// hand-rolled rendering.
type promCollector struct {
	r *Registry

	gcCount            *prometheus.Desc
	totalGCTimeMS      *prometheus.Desc
	softCleared        *prometheus.Desc
	weakCleared        *prometheus.Desc
	phantomEnqueued    *prometheus.Desc
	finalizersQueued   *prometheus.Desc
	satbOverflows      *prometheus.Desc
	markStackOverflows *prometheus.Desc
	tlabWasteBytes     *prometheus.Desc
	invalidHandles     *prometheus.Desc
	allocRate          *prometheus.Desc
	heapUsageRatio     *prometheus.Desc
	fragmentation      *prometheus.Desc
	pinnedObjects      *prometheus.Desc
	throughput         *prometheus.Desc
	stackAvoided       *prometheus.Desc
	refcountAllocs     *prometheus.Desc
}

func newPromCollector(r *Registry) *promCollector {
	ns := "zgc"
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(ns+"_"+name, help, nil, nil)
	}
	return &promCollector{
		r:                  r,
		gcCount:            desc("gc_count", "Number of completed collection cycles."),
		totalGCTimeMS:      desc("total_gc_time_ms", "Cumulative pause time across all phases, in milliseconds."),
		softCleared:        desc("soft_cleared_total", "Soft references cleared."),
		weakCleared:        desc("weak_cleared_total", "Weak references cleared."),
		phantomEnqueued:    desc("phantom_enqueued_total", "Phantom references enqueued for notification."),
		finalizersQueued:   desc("finalizers_queued_total", "Objects queued for finalization."),
		satbOverflows:      desc("satb_overflows_total", "SATB queue overflow events."),
		markStackOverflows: desc("mark_stack_overflows_total", "Mark worklist overflow events."),
		tlabWasteBytes:     desc("tlab_waste_bytes_total", "Bytes retired unused on TLAB refill."),
		invalidHandles:     desc("invalid_handles_total", "unpin() calls naming an unknown handle."),
		allocRate:          desc("alloc_rate_bytes_per_ms", "Allocation rate EWMA in bytes per millisecond."),
		heapUsageRatio:     desc("heap_usage_ratio", "Used bytes over reserved bytes."),
		fragmentation:      desc("fragmentation_ratio", "1 minus live/used over used regions."),
		pinnedObjects:      desc("pinned_objects", "Number of currently pinned objects."),
		throughput:         desc("throughput_ratio", "Mutator time fraction of wall-clock time."),
		stackAvoided:       desc("stack_allocations_avoided_total", "Allocations the host placed on its own stack instead of the managed heap."),
		refcountAllocs:     desc("refcount_allocations_total", "Allocations the host manages with its own reference counting instead of the managed heap."),
	}
}

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.gcCount
	ch <- c.totalGCTimeMS
	ch <- c.softCleared
	ch <- c.weakCleared
	ch <- c.phantomEnqueued
	ch <- c.finalizersQueued
	ch <- c.satbOverflows
	ch <- c.markStackOverflows
	ch <- c.tlabWasteBytes
	ch <- c.invalidHandles
	ch <- c.allocRate
	ch <- c.heapUsageRatio
	ch <- c.fragmentation
	ch <- c.pinnedObjects
	ch <- c.throughput
	ch <- c.stackAvoided
	ch <- c.refcountAllocs
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	heapUsage, frag, pinned := c.r.Gauges.snapshot()
	stackAvoided, refcountAllocs := c.r.Avoided.snapshot()
	ch <- prometheus.MustNewConstMetric(c.gcCount, prometheus.CounterValue, float64(c.r.Counters.GCCount.Load()))
	ch <- prometheus.MustNewConstMetric(c.totalGCTimeMS, prometheus.CounterValue, float64(c.r.Counters.TotalGCTimeMS.Load()))
	ch <- prometheus.MustNewConstMetric(c.softCleared, prometheus.CounterValue, float64(c.r.Counters.SoftCleared.Load()))
	ch <- prometheus.MustNewConstMetric(c.weakCleared, prometheus.CounterValue, float64(c.r.Counters.WeakCleared.Load()))
	ch <- prometheus.MustNewConstMetric(c.phantomEnqueued, prometheus.CounterValue, float64(c.r.Counters.PhantomEnqueued.Load()))
	ch <- prometheus.MustNewConstMetric(c.finalizersQueued, prometheus.CounterValue, float64(c.r.Counters.FinalizersQueued.Load()))
	ch <- prometheus.MustNewConstMetric(c.satbOverflows, prometheus.CounterValue, float64(c.r.Counters.SATBOverflows.Load()))
	ch <- prometheus.MustNewConstMetric(c.markStackOverflows, prometheus.CounterValue, float64(c.r.Counters.MarkStackOverflows.Load()))
	ch <- prometheus.MustNewConstMetric(c.tlabWasteBytes, prometheus.CounterValue, float64(c.r.Counters.TLABWasteBytes.Load()))
	ch <- prometheus.MustNewConstMetric(c.invalidHandles, prometheus.CounterValue, float64(c.r.Counters.InvalidHandles.Load()))
	ch <- prometheus.MustNewConstMetric(c.allocRate, prometheus.GaugeValue, c.r.AllocationRate())
	ch <- prometheus.MustNewConstMetric(c.heapUsageRatio, prometheus.GaugeValue, heapUsage)
	ch <- prometheus.MustNewConstMetric(c.fragmentation, prometheus.GaugeValue, frag)
	ch <- prometheus.MustNewConstMetric(c.pinnedObjects, prometheus.GaugeValue, float64(pinned))
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, c.r.throughputValue())
	ch <- prometheus.MustNewConstMetric(c.stackAvoided, prometheus.CounterValue, float64(stackAvoided))
	ch <- prometheus.MustNewConstMetric(c.refcountAllocs, prometheus.CounterValue, float64(refcountAllocs))
}

// PrometheusHandler returns an http.Handler serving r's metrics in
// Prometheus text exposition format at the caller's chosen path.
func (r *Registry) PrometheusHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newPromCollector(r))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ExportPrometheus renders r's metrics as a Prometheus text exposition
// string without standing up an HTTP server, gathering through the
// same registry PrometheusHandler uses.
func (r *Registry) ExportPrometheus() (string, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newPromCollector(r))
	mfs, err := reg.Gather()
	if err != nil {
		return "", err
	}
	return formatMetricFamilies(mfs)
}
