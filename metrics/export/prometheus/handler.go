package prometheus

import (
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zenithlabs/authcore"
)

// Handler serves engine metrics from a private registry.
func Handler(engine *authcore.Engine) http.Handler {
	return NewHandler(engine)
}

// NewHandler serves metrics from source through promhttp. Only the
// authcore collector is registered; process and Go runtime metrics are
// left to the host's own registry.
func NewHandler(source metricsSource) http.Handler {
	reg := promclient.NewRegistry()
	reg.MustRegister(NewCollectorFromSource(source))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
