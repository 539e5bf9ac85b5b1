// Package metrics exposes prometheus counters for attestation generation and verification.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhodey/lock.host/pkg/attest"
)

const namespace = "lockhost"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the attestation collectors.
type Metrics struct {
	generated *prometheus.CounterVec
	verified  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestations_generated_total",
			Help:      "Attestation documents generated, by mode and result.",
		}, []string{"mode", "result"}),
		verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestations_verified_total",
			Help:      "Attestation documents verified, by result and failure category.",
		}, []string{"result", "category", "authenticated"}),
	}
	var err error
	if m.generated, err = register(reg, m.generated); err != nil {
		return nil, err
	}
	if m.verified, err = register(reg, m.verified); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveGenerate records one generation attempt.
func (m *Metrics) ObserveGenerate(mode attest.Mode, err error) {
	if m == nil {
		return
	}
	m.generated.WithLabelValues(mode.String(), result(err)).Inc()
}

// ObserveVerify records one verification attempt. record is nil when err is set.
func (m *Metrics) ObserveVerify(record *attest.NormalizedRecord, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.verified.WithLabelValues(ResultError, string(attest.Category(err)), "false").Inc()
		return
	}
	authenticated := "false"
	if record.Authenticated {
		authenticated = "true"
	}
	m.verified.WithLabelValues(ResultOK, "", authenticated).Inc()
}

// Generated returns the generation counter for mode and result.
func (m *Metrics) Generated(mode attest.Mode, result string) prometheus.Counter {
	return m.generated.WithLabelValues(mode.String(), result)
}

// register registers vec, reusing an identical collector that is already registered.
func register(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := reg.Register(vec)
	if err == nil {
		return vec, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return nil, err
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
