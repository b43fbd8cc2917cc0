package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Sanitization outcomes.
const (
	SanitizeValid     = "valid"     // Tag matched, nothing to do
	SanitizeCleared   = "cleared"   // Stale payload cleared and persisted
	SanitizeContended = "contended" // Lock held elsewhere, stale data returned
	SanitizeVanished  = "vanished"  // Record disappeared while locking
	SanitizeRaced     = "raced"     // Another holder already cleared it
)

// Eviction outcomes.
const (
	EvictionIgnored      = "ignored"       // Removal was not a session end
	EvictionUnsubscribed = "unsubscribed"  // Nobody listens for expirations
	EvictionLocked       = "locked"        // Lock not acquired within the budget
	EvictionMissing      = "missing"       // Record already gone
	EvictionTTLRemaining = "ttl_remaining" // Store clock says the session is alive
	EvictionFailed       = "failed"        // Store error
	EvictionExpired      = "expired"       // Record removed and notification sent
)

// Metrics holds the sessionstate collectors.
type Metrics struct {
	sanitize      *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	notifications prometheus.Counter
	tracked       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sanitize: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionstate_sanitize_total",
				Help: "Version sanitization outcomes on read paths",
			},
			[]string{"outcome"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionstate_expiry_evictions_total",
				Help: "Local expiry evictions by reconciliation outcome",
			},
			[]string{"outcome"},
		),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionstate_expiry_notifications_total",
			Help: "Session end notifications delivered to the host",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionstate_tracked_sessions",
			Help: "Sessions currently tracked by the local expiry predictor",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.sanitize, m.evictions, m.notifications, m.tracked}
}

// Sanitize records a sanitization outcome.
func (m *Metrics) Sanitize(outcome string) {
	if m == nil {
		return
	}
	m.sanitize.WithLabelValues(outcome).Inc()
}

// Eviction records an eviction outcome.
func (m *Metrics) Eviction(outcome string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(outcome).Inc()
}

// Notified records a delivered expiry notification.
func (m *Metrics) Notified() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

// SetTracked reports the size of the local expiry map.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}

// SanitizeCount returns the current value of one sanitize outcome.
func (m *Metrics) SanitizeCount(outcome string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.sanitize.WithLabelValues(outcome))
}

// EvictionCount returns the current value of one eviction outcome.
func (m *Metrics) EvictionCount(outcome string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.evictions.WithLabelValues(outcome))
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil || out.Counter == nil {
		return 0
	}
	return out.Counter.GetValue()
}
