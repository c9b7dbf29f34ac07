// Package metrics implements the Metrics Collector of spec §4.7.
//
// It is Prometheus-backed, grounded on this codebase's per-instance-registry
// pattern (telemetry/flow-enricher/internal/flow-enricher/metrics.go):
// rather than package-level promauto globals, which panic with "duplicate
// metrics collector registration" the second time a process constructs a
// collector, Collector takes its own prometheus.Registerer and registers
// every counter/gauge/histogram against it. That matters here because a
// single process (a test suite, a parameter sweep) constructs many
// simulations in its lifetime.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/malbeclabs/dtnsim/internal/netid"
)

// TimelineSample is one MetricsSnapshot record (spec §4.7/§6): the
// structured data the external report/JSON sink actually reads. Prometheus
// registration exists in parallel so the same binary can be scraped like
// every other long-running service in this codebase, not as a replacement
// for it.
type TimelineSample struct {
	At                   time.Time
	Delivered            int64
	Generated            int64
	AvgLatency           time.Duration
	AvgBufferUtilization float64
}

// Collector accumulates delivery, drop, latency and buffer-utilization
// counters per node and globally (spec §4.7).
type Collector struct {
	bundlesGenerated       *prometheus.CounterVec
	bundlesDelivered       *prometheus.CounterVec
	bundlesDroppedEviction *prometheus.CounterVec
	bundlesDroppedExpiry   *prometheus.CounterVec
	segmentsSent           *prometheus.CounterVec
	segmentsLost           *prometheus.CounterVec
	retransmissions        *prometheus.CounterVec
	cumulativeLatency      *prometheus.CounterVec
	bufferOccupancy        *prometheus.GaugeVec

	nodes      map[netid.NodeID]*NodeCounters
	nodeOrder  []netid.NodeID
	latencySum map[netid.NodeID]time.Duration

	timeline []TimelineSample
}

// NodeCounters mirrors the per-node record of spec §6: generated,
// delivered (as destination), transmitted, received, dropped_eviction,
// dropped_expiry, final buffer occupancy.
type NodeCounters struct {
	Generated       int64
	Delivered       int64
	Transmitted     int64
	Received        int64
	DroppedEviction int64
	DroppedExpiry   int64
	Retransmissions int64
	FinalOccupancy  int
}

// NewCollector builds a Collector, registering its Prometheus metrics
// against reg. Pass prometheus.NewRegistry() for an isolated instance (the
// common case — one per simulation run), or a shared registry if the
// caller genuinely wants cross-run aggregation.
func NewCollector(reg prometheus.Registerer, numNodes int) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		bundlesGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_bundles_generated_total",
			Help: "Total number of distinct bundle ids ever admitted to any store.",
		}, []string{"node"}),
		bundlesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_bundles_delivered_total",
			Help: "Total number of bundles delivered to their destination.",
		}, []string{"node"}),
		bundlesDroppedEviction: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_bundles_dropped_eviction_total",
			Help: "Total number of bundles dropped by store eviction.",
		}, []string{"node"}),
		bundlesDroppedExpiry: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_bundles_dropped_expiry_total",
			Help: "Total number of bundles dropped by TTL expiry.",
		}, []string{"node"}),
		segmentsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_segments_sent_total",
			Help: "Total number of LTP segments transmitted.",
		}, []string{"node"}),
		segmentsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_segments_lost_total",
			Help: "Total number of LTP segments lost in transit.",
		}, []string{"node"}),
		retransmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_retransmissions_total",
			Help: "Total number of LTP segment retransmissions.",
		}, []string{"node"}),
		cumulativeLatency: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtnsim_cumulative_latency_seconds_total",
			Help: "Sum of delivery_time - creation_time over delivered bundles.",
		}, []string{"node"}),
		bufferOccupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dtnsim_buffer_occupancy",
			Help: "Store occupancy sampled at MetricsSnapshot events.",
		}, []string{"node"}),
		nodes:      make(map[netid.NodeID]*NodeCounters, numNodes),
		latencySum: make(map[netid.NodeID]time.Duration, numNodes),
	}
	for i := 0; i < numNodes; i++ {
		n := netid.NodeID(i)
		c.nodes[n] = &NodeCounters{}
		c.nodeOrder = append(c.nodeOrder, n)
	}
	return c
}

func (c *Collector) labels(n netid.NodeID) string {
	return "node-" + strconv.Itoa(int(n))
}

// RecordGenerated records the admission of a newly-created bundle id.
func (c *Collector) RecordGenerated(n netid.NodeID) {
	c.bundlesGenerated.WithLabelValues(c.labels(n)).Inc()
	c.nodes[n].Generated++
}

// RecordDelivered records a first-arriving copy reaching its destination.
func (c *Collector) RecordDelivered(n netid.NodeID, latency time.Duration) {
	c.bundlesDelivered.WithLabelValues(c.labels(n)).Inc()
	c.cumulativeLatency.WithLabelValues(c.labels(n)).Add(latency.Seconds())
	c.nodes[n].Delivered++
	c.latencySum[n] += latency
}

// RecordDroppedEviction records a bundle removed from n's store by
// preemptive eviction.
func (c *Collector) RecordDroppedEviction(n netid.NodeID) {
	c.bundlesDroppedEviction.WithLabelValues(c.labels(n)).Inc()
	c.nodes[n].DroppedEviction++
}

// RecordDroppedExpiry records a bundle removed from n's store by TTL expiry.
func (c *Collector) RecordDroppedExpiry(n netid.NodeID) {
	c.bundlesDroppedExpiry.WithLabelValues(c.labels(n)).Inc()
	c.nodes[n].DroppedExpiry++
}

// RecordSegmentSent records one LTP segment transmission attempt from n.
func (c *Collector) RecordSegmentSent(n netid.NodeID) {
	c.segmentsSent.WithLabelValues(c.labels(n)).Inc()
	c.nodes[n].Transmitted++
}

// RecordSegmentReceived records one LTP segment received at n.
func (c *Collector) RecordSegmentReceived(n netid.NodeID) {
	c.nodes[n].Received++
}

// RecordSegmentLost records one LTP segment lost in transit from n.
func (c *Collector) RecordSegmentLost(n netid.NodeID) {
	c.segmentsLost.WithLabelValues(c.labels(n)).Inc()
}

// RecordRetransmission records one LTP segment retransmission from n.
func (c *Collector) RecordRetransmission(n netid.NodeID) {
	c.retransmissions.WithLabelValues(c.labels(n)).Inc()
	c.nodes[n].Retransmissions++
}

// SampleBufferOccupancy records n's current store occupancy at a
// MetricsSnapshot event.
func (c *Collector) SampleBufferOccupancy(n netid.NodeID, occupancy int) {
	c.bufferOccupancy.WithLabelValues(c.labels(n)).Set(float64(occupancy))
	c.nodes[n].FinalOccupancy = occupancy
}

// Snapshot appends a TimelineSample computed from the collector's running
// totals, and returns it.
func (c *Collector) Snapshot(at time.Time) TimelineSample {
	var delivered, generated int64
	var latencySum time.Duration
	var occupancySum, occupancyCount float64
	for _, n := range c.nodeOrder {
		nc := c.nodes[n]
		delivered += nc.Delivered
		generated += nc.Generated
		occupancySum += float64(nc.FinalOccupancy)
		occupancyCount++
	}
	for _, n := range c.nodeOrder {
		latencySum += c.nodeLatency(n)
	}
	var avgLatency time.Duration
	if delivered > 0 {
		avgLatency = latencySum / time.Duration(delivered)
	}
	var avgOccupancy float64
	if occupancyCount > 0 {
		avgOccupancy = occupancySum / occupancyCount
	}
	sample := TimelineSample{
		At:                   at,
		Delivered:            delivered,
		Generated:            generated,
		AvgLatency:           avgLatency,
		AvgBufferUtilization: avgOccupancy,
	}
	c.timeline = append(c.timeline, sample)
	return sample
}

func (c *Collector) nodeLatency(n netid.NodeID) time.Duration {
	return c.latencySum[n]
}

// Timeline returns every snapshot recorded so far, in order.
func (c *Collector) Timeline() []TimelineSample { return c.timeline }

// NodeReport returns the per-node record of spec §6 for node n.
func (c *Collector) NodeReport(n netid.NodeID) NodeCounters {
	return *c.nodes[n]
}

// Summary aggregates the final counters of spec §4.7 across every node.
type Summary struct {
	Generated       int64
	Delivered       int64
	DroppedEviction int64
	DroppedExpiry   int64
	Retransmissions int64
	DeliveryRatio   float64
	AverageLatency  time.Duration
}

// Summarize computes the final summary record.
func (c *Collector) Summarize() Summary {
	var s Summary
	var latencySum time.Duration
	for _, n := range c.nodeOrder {
		nc := c.nodes[n]
		s.Generated += nc.Generated
		s.Delivered += nc.Delivered
		s.DroppedEviction += nc.DroppedEviction
		s.DroppedExpiry += nc.DroppedExpiry
		s.Retransmissions += nc.Retransmissions
		latencySum += c.nodeLatency(n)
	}
	if s.Generated > 0 {
		s.DeliveryRatio = float64(s.Delivered) / float64(s.Generated)
	}
	if s.Delivered > 0 {
		s.AverageLatency = latencySum / time.Duration(s.Delivered)
	}
	return s
}
