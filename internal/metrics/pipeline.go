package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "logpipe"

// Pipeline holds the counters updated along the ingestion path. A nil
// *Pipeline is valid and records nothing.
type Pipeline struct {
	listenerReceived *prometheus.CounterVec
	listenerDropped  *prometheus.CounterVec
	forward          *prometheus.CounterVec
	sinkOverflow     prometheus.Counter
	storeTotal       prometheus.Counter
	storeRecords     *prometheus.GaugeVec
}

func newPipeline() *Pipeline {
	return &Pipeline{
		listenerReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_received_total",
			Help:      "Payloads read off the network by protocol",
		}, []string{"protocol"}),
		listenerDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_dropped_total",
			Help:      "Payloads dropped because a worker pool was full",
		}, []string{"protocol"}),
		forward: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_total",
			Help:      "Forward outcomes by result",
		}, []string{"result"}),
		sinkOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_overflow_total",
			Help:      "Records rejected because the sink buffer was full",
		}),
		storeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_records_total",
			Help:      "Records appended to the store",
		}),
		storeRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_records",
			Help:      "Records held in the store by category",
		}, []string{"category"}),
	}
}

func (p *Pipeline) register(reg prometheus.Registerer) {
	reg.MustRegister(
		p.listenerReceived,
		p.listenerDropped,
		p.forward,
		p.sinkOverflow,
		p.storeTotal,
		p.storeRecords,
	)
}

// Received counts a payload read by a listener.
func (p *Pipeline) Received(protocol string) {
	if p == nil {
		return
	}
	p.listenerReceived.WithLabelValues(protocol).Inc()
}

// Dropped counts a payload a listener could not dispatch.
func (p *Pipeline) Dropped(protocol string) {
	if p == nil {
		return
	}
	p.listenerDropped.WithLabelValues(protocol).Inc()
}

// Forward results.
const (
	ForwardSuccess = "success"
	ForwardRetry   = "retry"
	ForwardFailure = "failure"
	ForwardDropped = "dropped"
)

// Forwarded counts a forward outcome.
func (p *Pipeline) Forwarded(result string) {
	if p == nil {
		return
	}
	p.forward.WithLabelValues(result).Inc()
}

// Overflow counts a sink rejection.
func (p *Pipeline) Overflow() {
	if p == nil {
		return
	}
	p.sinkOverflow.Inc()
}

// Stored counts a record appended to the store.
func (p *Pipeline) Stored(category string) {
	if p == nil {
		return
	}
	p.storeTotal.Inc()
	p.storeRecords.WithLabelValues(category).Inc()
}
