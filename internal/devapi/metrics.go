package devapi

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics captures lightweight in-process counters for observability.
type Metrics struct {
	Requests         atomic.Uint64
	LoginAttempts    atomic.Uint64
	LoginFailures    atomic.Uint64
	LoginThrottled   atomic.Uint64
	RegisterAttempts atomic.Uint64
	HealthChecks     atomic.Uint64
	MessagesCreated  atomic.Uint64
	MessagesEdited   atomic.Uint64
	MessagesDeleted  atomic.Uint64
	Uploads          atomic.Uint64
	StreamsOpened    atomic.Uint64
	StreamsRejected  atomic.Uint64
	FramesRelayed    atomic.Uint64
}

// Registry exposes the counters as Prometheus collectors.
func (m *Metrics) Registry(connected func() int) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "devapi",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	reg.MustRegister(
		counter("requests_total", "HTTP requests served.", &m.Requests),
		counter("login_attempts_total", "Login attempts.", &m.LoginAttempts),
		counter("login_failures_total", "Rejected logins.", &m.LoginFailures),
		counter("login_throttled_total", "Logins refused by the rate limiter.", &m.LoginThrottled),
		counter("register_attempts_total", "Registration attempts.", &m.RegisterAttempts),
		counter("health_checks_total", "Health probes.", &m.HealthChecks),
		counter("messages_created_total", "Messages created.", &m.MessagesCreated),
		counter("messages_edited_total", "Messages edited.", &m.MessagesEdited),
		counter("messages_deleted_total", "Messages deleted.", &m.MessagesDeleted),
		counter("uploads_total", "Attachment files stored.", &m.Uploads),
		counter("streams_opened_total", "Websocket streams accepted.", &m.StreamsOpened),
		counter("streams_rejected_total", "Websocket streams closed with a policy violation.", &m.StreamsRejected),
		counter("frames_relayed_total", "Client frames relayed to a peer.", &m.FramesRelayed),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "devapi",
			Name:      "streams_connected",
			Help:      "Websocket connections currently registered.",
		}, func() float64 { return float64(connected()) }),
	)
	return reg
}
