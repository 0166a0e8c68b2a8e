package request

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for tfvc_requests_total.
const (
	OutcomeOK            = "ok"
	OutcomeError         = "error"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeAuthCancelled = "auth_cancelled"
	OutcomeUserCancelled = "user_cancelled"
)

// Metrics counts request manager activity.
type Metrics struct {
	Requests      *prometheus.CounterVec
	LoginPrompts  *prometheus.CounterVec
	AuthCancelled prometheus.Counter
}

// NewMetrics registers the request metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfvc_requests_total",
				Help: "Total number of server requests by outcome",
			},
			[]string{"outcome"},
		),
		LoginPrompts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfvc_login_prompts_total",
				Help: "Total number of login dialogs shown",
			},
			[]string{"path"},
		),
		AuthCancelled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tfvc_auth_cancelled_total",
				Help: "Total number of login dialogs dismissed",
			},
		),
	}
}

func (m *Metrics) request(outcome string) {
	m.Requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) prompt(path string) {
	m.LoginPrompts.WithLabelValues(path).Inc()
}
