package signer

import (
	"context"
	"errors"
	"time"

	"ephsign/go-backend/internal/secretstore"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts signing calls per backend and outcome. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	signs    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		signs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ephsign",
			Name:      "sign_total",
			Help:      "Signing calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ephsign",
			Name:      "sign_duration_seconds",
			Help:      "Wall time of signing calls including secret retrieval.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"backend"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.signs, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.signs.WithLabelValues(backend, outcome(err)).Inc()
	m.duration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, secretstore.ErrSecretNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
