package metrics

import (
	"github.com/keithlinneman/headerguard/internal/headerpolicy"
)

// ObserveHeaderPolicy counts the headers written for one request.
func (m *ServerMetrics) ObserveHeaderPolicy(frameOptions, contentTypeOptions bool) {
	if frameOptions {
		m.headersSetTotal.WithLabelValues(headerpolicy.HeaderFrameOptions).Inc()
	}
	if contentTypeOptions {
		m.headersSetTotal.WithLabelValues(headerpolicy.HeaderContentTypeOptions).Inc()
	}
}

func (m *ServerMetrics) IncHeaderPolicyLookupError() {
	m.lookupErrorsTotal.Inc()
}

// IncRuntimePropertyWrite counts admin API writes, op is "set" or "delete".
func (m *ServerMetrics) IncRuntimePropertyWrite(op string) {
	m.runtimeWritesTotal.WithLabelValues(op).Inc()
}

func (m *ServerMetrics) IncPropertyPoll(source string) {
	m.propPollsTotal.WithLabelValues(source).Inc()
}

func (m *ServerMetrics) IncPropertyPollError(source string) {
	m.propPollErrorsTotal.WithLabelValues(source).Inc()
}

func (m *ServerMetrics) IncPropertyChange(source string) {
	m.propChangesTotal.WithLabelValues(source).Inc()
}

func (m *ServerMetrics) SetPropertyLastSuccess(source string, unixSeconds float64) {
	m.propLastSuccessTs.WithLabelValues(source).Set(unixSeconds)
}

func (m *ServerMetrics) SetPropertyStale(source string, stale bool) {
	m.propStale.WithLabelValues(source).Set(boolGauge(stale))
}

// ObserveDescriptorReload records one descriptor file reload attempt.
func (m *ServerMetrics) ObserveDescriptorReload(changed bool, err error) {
	result := "unchanged"
	switch {
	case err != nil:
		result = "error"
	case changed:
		result = "changed"
	}
	m.descReloadsTotal.WithLabelValues(result).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
