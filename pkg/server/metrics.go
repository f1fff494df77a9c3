package server

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the supervisor's Prometheus instrumentation. Each Server
// registers its own collectors into its own registry so multiple servers
// can coexist in one process without a global-registry collision.
type metrics struct {
	registry *prometheus.Registry

	sessionsOpened    prometheus.Counter
	sessionsClosed    prometheus.Counter
	sessionsActive    prometheus.Gauge
	reconnects        prometheus.Counter
	handshakeFailures prometheus.Counter
	messagesReceived  prometheus.Counter
	handlerPanics     *prometheus.CounterVec
	framesEncrypted   prometheus.Counter
	framesDecrypted   prometheus.Counter
	tamperRejections  prometheus.Counter
	malformedFrames   prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_sessions_opened_total",
			Help: "Total sessions established, including reattached reconnects counted once at creation.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_sessions_closed_total",
			Help: "Total sessions that reached StateClosed.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaynet_sessions_active",
			Help: "Sessions currently tracked in the registry (any state).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_reconnects_total",
			Help: "Total successful transport reattachments.",
		}),
		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_handshake_failures_total",
			Help: "Total handshakes that failed before a session was created.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_messages_received_total",
			Help: "Total application messages delivered to OnReceivingMessage.",
		}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaynet_handler_panics_total",
			Help: "Total panics recovered from application callbacks, by callback name.",
		}, []string{"handler"}),
		framesEncrypted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_frames_encrypted_total",
			Help: "Total frames successfully encrypted and written to a transport.",
		}),
		framesDecrypted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_frames_decrypted_total",
			Help: "Total frames successfully read and authenticated off a transport.",
		}),
		tamperRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_tamper_rejections_total",
			Help: "Total frames rejected for an HMAC mismatch, each closing its session.",
		}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaynet_malformed_frames_total",
			Help: "Total frames that decrypted cleanly but failed to decode as a payload or value.",
		}),
	}
	reg.MustRegister(
		m.sessionsOpened,
		m.sessionsClosed,
		m.sessionsActive,
		m.reconnects,
		m.handshakeFailures,
		m.messagesReceived,
		m.handlerPanics,
		m.framesEncrypted,
		m.framesDecrypted,
		m.tamperRejections,
		m.malformedFrames,
	)
	return m
}
