package prometheus

import (
	"net/http"
	"strings"

	oerrors "github.com/porthorian/weappauth/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "weappauth"

type Collector struct {
	logins   *prometheus.CounterVec
	failures *prometheus.CounterVec
	retries  prometheus.Counter
	expired  prometheus.Counter
}

func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Successful logins, split by whether a cached session was reused.",
		}, []string{"source"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Failed logins by error kind.",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_retries_total",
			Help:      "Requests retried after the server invalidated the session.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_expired_total",
			Help:      "Requests that failed because the session was rejected twice.",
		}),
	}

	if reg == nil {
		return c, nil
	}
	for _, collector := range []prometheus.Collector{c.logins, c.failures, c.retries, c.expired} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) LoginSucceeded(cached bool) {
	source := "exchange"
	if cached {
		source = "cached"
	}
	c.logins.WithLabelValues(source).Inc()
}

func (c *Collector) LoginFailed(kind oerrors.Kind) {
	if kind == "" {
		kind = oerrors.KindUnknown
	}
	c.failures.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) SessionRetried() {
	c.retries.Inc()
}

func (c *Collector) SessionExpired() {
	c.expired.Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
