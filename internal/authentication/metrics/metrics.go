// Package metrics provides observability for the authentication module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks authentication outcomes and reconciliation durations.
type Metrics struct {
	Authentications      *prometheus.CounterVec
	UsersCreated         prometheus.Counter
	AuthorizationsGrants prometheus.Counter
	AuthenticateDuration prometheus.Histogram
}

// New creates a Metrics instance with all authentication metrics registered.
func New() *Metrics {
	return &Metrics{
		Authentications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnus_authentications_total",
			Help: "Total number of authentication attempts by outcome",
		}, []string{"outcome"}),
		UsersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tunnus_users_created_total",
			Help: "Total number of platform accounts created from callbacks",
		}),
		AuthorizationsGrants: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tunnus_authorizations_granted_total",
			Help: "Total number of authorization grants and renewals",
		}),
		AuthenticateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunnus_authenticate_duration_seconds",
			Help:    "Duration of full authentication reconciliations",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// RecordOutcome counts one finished authentication attempt.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(outcome).Inc()
}

// RecordUserCreated counts a platform account created from a callback.
func (m *Metrics) RecordUserCreated() {
	if m == nil {
		return
	}
	m.UsersCreated.Inc()
}

// RecordGrant counts an authorization grant or renewal.
func (m *Metrics) RecordGrant() {
	if m == nil {
		return
	}
	m.AuthorizationsGrants.Inc()
}

// ObserveAuthenticate records the duration of a full reconciliation.
// Call with time.Now() from the start of the operation.
func (m *Metrics) ObserveAuthenticate(start time.Time) {
	if m == nil {
		return
	}
	m.AuthenticateDuration.Observe(time.Since(start).Seconds())
}
