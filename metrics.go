package profileauth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for authentication events.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	logins        *prometheus.CounterVec
	registrations *prometheus.CounterVec
	oauth         *prometheus.CounterVec
	resets        *prometheus.CounterVec
	emailFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profileauth_logins_total",
			Help: "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profileauth_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		oauth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profileauth_oauth_callbacks_total",
			Help: "OAuth callbacks by provider and result code.",
		}, []string{"provider", "result"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profileauth_password_resets_total",
			Help: "Password reset lifecycle events.",
		}, []string{"event"}),
		emailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profileauth_email_failures_total",
			Help: "Password reset emails that could not be sent.",
		}),
	}
	reg.MustRegister(m.logins, m.registrations, m.oauth, m.resets, m.emailFailures)
	return m
}

func (m *Metrics) Login(method, outcome string) {
	if m != nil {
		m.logins.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) Registration(outcome string) {
	if m != nil {
		m.registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) OAuthCallback(provider, result string) {
	if m != nil {
		m.oauth.WithLabelValues(provider, result).Inc()
	}
}

func (m *Metrics) Reset(event string) {
	if m != nil {
		m.resets.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) EmailFailure() {
	if m != nil {
		m.emailFailures.Inc()
	}
}
