package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the Prometheus instruments of the pipeline. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	framesProcessed *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	episodes        *prometheus.CounterVec
	counterValue    *prometheus.GaugeVec
	sinkDeliveries  *prometheus.CounterVec
	sinkDuration    *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
}

func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		framesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workwatch",
			Name:      "frames_processed_total",
			Help:      "Frames run through the evidence accumulator.",
		}, []string{"source"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workwatch",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded before accumulation.",
		}, []string{"reason"}),
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workwatch",
			Name:      "episodes_total",
			Help:      "Alert episodes triggered.",
		}, []string{"source", "condition"}),
		counterValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workwatch",
			Name:      "condition_count",
			Help:      "Current evidence count per condition.",
		}, []string{"source", "condition"}),
		sinkDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workwatch",
			Name:      "sink_deliveries_total",
			Help:      "Sink deliveries by outcome.",
		}, []string{"sink", "result"}),
		sinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workwatch",
			Name:      "sink_delivery_duration_seconds",
			Help:      "Sink delivery latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workwatch",
			Name:      "dispatch_queue_depth",
			Help:      "Async sink jobs waiting for a worker.",
		}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{
		c.framesProcessed, c.framesDropped, c.episodes, c.counterValue,
		c.sinkDeliveries, c.sinkDuration, c.queueDepth,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) FrameProcessed(source string) {
	if c == nil {
		return
	}
	c.framesProcessed.WithLabelValues(source).Inc()
}

func (c *Collectors) FrameDropped(reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(reason).Inc()
}

func (c *Collectors) Episode(source, condition string) {
	if c == nil {
		return
	}
	c.episodes.WithLabelValues(source, condition).Inc()
}

func (c *Collectors) SetCount(source, condition string, count int) {
	if c == nil {
		return
	}
	c.counterValue.WithLabelValues(source, condition).Set(float64(count))
}

func (c *Collectors) SinkDelivery(sink string, err error, took time.Duration) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.sinkDeliveries.WithLabelValues(sink, result).Inc()
	c.sinkDuration.WithLabelValues(sink).Observe(took.Seconds())
}

func (c *Collectors) SinkDropped(sink string) {
	if c == nil {
		return
	}
	c.sinkDeliveries.WithLabelValues(sink, "dropped").Inc()
}

func (c *Collectors) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
