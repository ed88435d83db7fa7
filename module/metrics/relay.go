package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaywatch/relaywatch/module"
)

// connectionStates are the states exported by the connection state gauge. They mirror the
// relay endpoint state machine.
var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

type RelayCollector struct {
	state           *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	framesSent      *prometheus.CounterVec
	pongRTT         *prometheus.HistogramVec
}

var _ module.RelayMetrics = (*RelayCollector)(nil)

func NewRelayCollector(registerer prometheus.Registerer) *RelayCollector {
	factory := promauto.With(registerer)
	return &RelayCollector{
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemRelay,
			Name:      "connection_state",
			Help:      "1 for the current connection state of each relay, 0 for the others",
		}, []string{LabelRelay, LabelState}),

		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemRelay,
			Name:      "connect_attempts_total",
			Help:      "the number of connection attempts per relay, by result",
		}, []string{LabelRelay, LabelResult}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemRelay,
			Name:      "frames_received_total",
			Help:      "the number of inbound frames per relay, by frame label",
		}, []string{LabelRelay, LabelFrame}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemRelay,
			Name:      "frames_sent_total",
			Help:      "the number of outbound frames per relay, by frame label",
		}, []string{LabelRelay, LabelFrame}),

		pongRTT: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceRelayWatch,
			Subsystem: subsystemRelay,
			Name:      "ping_rtt_seconds",
			Help:      "round trip time of keepalive pings",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{LabelRelay}),
	}
}

func (rc *RelayCollector) ConnectionState(relay string, state string) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		rc.state.With(prometheus.Labels{LabelRelay: relay, LabelState: s}).Set(value)
	}
}

func (rc *RelayCollector) ConnectAttempt(relay string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	rc.connectAttempts.With(prometheus.Labels{LabelRelay: relay, LabelResult: result}).Inc()
}

func (rc *RelayCollector) FrameReceived(relay string, label string) {
	rc.framesReceived.With(prometheus.Labels{LabelRelay: relay, LabelFrame: label}).Inc()
}

func (rc *RelayCollector) FrameSent(relay string, label string) {
	rc.framesSent.With(prometheus.Labels{LabelRelay: relay, LabelFrame: label}).Inc()
}

func (rc *RelayCollector) PongReceived(relay string, rtt time.Duration) {
	rc.pongRTT.With(prometheus.Labels{LabelRelay: relay}).Observe(rtt.Seconds())
}

func (rc *RelayCollector) RelayRemoved(relay string) {
	match := prometheus.Labels{LabelRelay: relay}
	rc.state.DeletePartialMatch(match)
	rc.connectAttempts.DeletePartialMatch(match)
	rc.framesReceived.DeletePartialMatch(match)
	rc.framesSent.DeletePartialMatch(match)
	rc.pongRTT.DeletePartialMatch(match)
}
