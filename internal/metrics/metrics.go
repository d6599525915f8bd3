// Package metrics exposes authentication outcomes to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Recorder is what services report to. Nop satisfies it for tests.
type Recorder interface {
	OAuthLogin(provider, result string)
	PasswordLogin(result string)
	SignUp(result string)
	GuardRejection(reason string)
	MergeDuration(d time.Duration)
}

type Collector struct {
	oauthLogins     *prometheus.CounterVec
	passwordLogins  *prometheus.CounterVec
	signUps         *prometheus.CounterVec
	guardRejections *prometheus.CounterVec
	mergeDuration   prometheus.Histogram
}

// NewCollector registers the identity metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_oauth_logins_total",
			Help: "OAuth login attempts by provider and result.",
		}, []string{"provider", "result"}),
		passwordLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_password_logins_total",
			Help: "Password login attempts by result.",
		}, []string{"result"}),
		signUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_signups_total",
			Help: "Password sign-ups by result.",
		}, []string{"result"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_guard_rejections_total",
			Help: "Requests rejected by the bearer guard, by internal reason.",
		}, []string{"reason"}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_merge_duration_seconds",
			Help:    "Duration of the identity merge sequence.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.oauthLogins, c.passwordLogins, c.signUps, c.guardRejections, c.mergeDuration)
	return c
}

func (c *Collector) OAuthLogin(provider, result string) {
	c.oauthLogins.WithLabelValues(provider, result).Inc()
}

func (c *Collector) PasswordLogin(result string) {
	c.passwordLogins.WithLabelValues(result).Inc()
}

func (c *Collector) SignUp(result string) {
	c.signUps.WithLabelValues(result).Inc()
}

func (c *Collector) GuardRejection(reason string) {
	c.guardRejections.WithLabelValues(reason).Inc()
}

func (c *Collector) MergeDuration(d time.Duration) {
	c.mergeDuration.Observe(d.Seconds())
}

// Handler serves the Prometheus exposition format for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type Nop struct{}

func (Nop) OAuthLogin(string, string)   {}
func (Nop) PasswordLogin(string)        {}
func (Nop) SignUp(string)               {}
func (Nop) GuardRejection(string)       {}
func (Nop) MergeDuration(time.Duration) {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
