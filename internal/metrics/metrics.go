package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "live_classroom"

// Rejection reasons for inbound bus messages.
const (
	ReasonStale     = "stale"
	ReasonDuplicate = "duplicate"
	ReasonLate      = "late"
	ReasonUnknown   = "unknown_participant"
	ReasonMalformed = "malformed"
	ReasonDecode    = "decode"
)

// Round close reasons.
const (
	CloseTimeout = "timeout"
	CloseEarly   = "early"
)

// Metrics groups the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsActive     prometheus.Gauge
	SnapshotsPublished prometheus.Counter
	AnswersAccepted    prometheus.Counter
	MessagesRejected   *prometheus.CounterVec
	RoundsClosed       *prometheus.CounterVec
	TimersDiscarded    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live sessions currently hosted by this instance.",
		}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Session snapshots broadcast by hosts.",
		}),
		AnswersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_accepted_total",
			Help:      "Answers scored by hosts.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Inbound messages ignored by hosts, by reason.",
		}, []string{"reason"}),
		RoundsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_closed_total",
			Help:      "Question rounds closed, by reason.",
		}, []string{"reason"}),
		TimersDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_discarded_total",
			Help:      "Timer firings dropped because the session moved on.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.SessionsActive,
		m.SnapshotsPublished,
		m.AnswersAccepted,
		m.MessagesRejected,
		m.RoundsClosed,
		m.TimersDiscarded,
	)
	return m
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) SnapshotPublished() {
	if m != nil {
		m.SnapshotsPublished.Inc()
	}
}

func (m *Metrics) AnswerAccepted() {
	if m != nil {
		m.AnswersAccepted.Inc()
	}
}

func (m *Metrics) MessageRejected(reason string) {
	if m != nil {
		m.MessagesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RoundClosed(reason string) {
	if m != nil {
		m.RoundsClosed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) TimerDiscarded(kind string) {
	if m != nil {
		m.TimersDiscarded.WithLabelValues(kind).Inc()
	}
}
