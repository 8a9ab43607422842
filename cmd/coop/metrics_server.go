package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsServer builds (but does not start) the HTTP server exposing
// Prometheus's default registry at /metrics, per [metrics] in coop.toml.
func newMetricsServer(addr string) *http.Server {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
