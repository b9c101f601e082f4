package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RPC client metrics
	RPCCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_rpc_calls_total",
		Help: "Total number of RPC calls issued, by target queue and response code",
	}, []string{"queue", "code"})
	RPCCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailer_rpc_call_duration_seconds",
		Help:    "Time from request publish until the RPC call resolved",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	// Listener outcome per consumed message: acked, dropped, requeued, dead_lettered.
	MessagesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_messages_handled_total",
		Help: "Total number of consumed messages by terminal outcome",
	}, []string{"queue", "outcome"})

	ListenerReattaches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_listener_reattach_total",
		Help: "Total number of listeners re-attached after losing their channel",
	}, []string{"queue"})

	Publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_publish_total",
		Help: "Total number of fire-and-forget publishes by result",
	}, []string{"queue", "result"})

	MailSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_mail_send_total",
		Help: "Total number of e-mail send attempts by provider and result",
	}, []string{"provider", "result"})
)

func init() {
	prometheus.MustRegister(RPCCalls)
	prometheus.MustRegister(RPCCallDuration)
	prometheus.MustRegister(MessagesHandled)
	prometheus.MustRegister(ListenerReattaches)
	prometheus.MustRegister(Publishes)
	prometheus.MustRegister(MailSends)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
