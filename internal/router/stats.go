package router

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// stats holds the Router's atomic counters. Relaxed ordering is sufficient
// per the resource model: these are read-only snapshots for observability,
// never used for synchronization.
type stats struct {
	sentBytes       atomic.Int64
	sentPackets     atomic.Int64
	receivedBytes   atomic.Int64
	receivedPackets atomic.Int64
	totalDropped    atomic.Int64
}

// Stats is the read-only snapshot described in the external interfaces:
// current counters plus queue depths and per-direction loss figures.
type Stats struct {
	SentBytes       int64
	SentPackets     int64
	ReceivedBytes   int64
	ReceivedPackets int64
	OutboundQueueSize int64
	InboundQueueSize  int64
	TotalDropped      int64
	OutboundTotal     int64
	OutboundDropped   int64
	InboundTotal      int64
	InboundDropped    int64
}

// Stats returns a snapshot of the router's current counters.
func (r *Router) Stats() Stats {
	outTotal, outDropped := r.outboundShaper.Stats()
	inTotal, inDropped := r.inboundShaper.Stats()
	return Stats{
		SentBytes:         r.stats.sentBytes.Load(),
		SentPackets:       r.stats.sentPackets.Load(),
		ReceivedBytes:     r.stats.receivedBytes.Load(),
		ReceivedPackets:   r.stats.receivedPackets.Load(),
		OutboundQueueSize: int64(r.outboundJobs.Len()),
		InboundQueueSize:  int64(r.inboundShaper.QueueLen()),
		TotalDropped:      r.stats.totalDropped.Load(),
		OutboundTotal:     outTotal,
		OutboundDropped:   outDropped,
		InboundTotal:      inTotal,
		InboundDropped:    inDropped,
	}
}

// promCollectors builds the Prometheus collectors that mirror Stats, each
// backed by a live read of the router's own counters rather than a
// parallel set of prometheus.Counter values to increment.
func (r *Router) promCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dtcsim_sent_bytes_total",
			Help: "Total bytes written to native sockets.",
		}, func() float64 { return float64(r.stats.sentBytes.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dtcsim_sent_packets_total",
			Help: "Total packets written to native sockets.",
		}, func() float64 { return float64(r.stats.sentPackets.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dtcsim_received_bytes_total",
			Help: "Total bytes read from native sockets.",
		}, func() float64 { return float64(r.stats.receivedBytes.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dtcsim_received_packets_total",
			Help: "Total packets read from native sockets.",
		}, func() float64 { return float64(r.stats.receivedPackets.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dtcsim_outbound_queue_size",
			Help: "Native-socket writes currently scheduled in the outbound write-timing gate.",
		}, func() float64 { return float64(r.outboundJobs.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dtcsim_inbound_queue_size",
			Help: "Packets currently queued in the inbound shaper.",
		}, func() float64 { return float64(r.inboundShaper.QueueLen()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dtcsim_dropped_total",
			Help: "Packets dropped for any reason: malformed or foreign-source frames, native I/O errors, and packets lost to configured shaper loss in either direction.",
		}, func() float64 { return float64(r.stats.totalDropped.Load()) }),
	}
}

// RegisterMetrics registers the router's collectors with reg.
func (r *Router) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range r.promCollectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
