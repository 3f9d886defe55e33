package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/remdbg/remdbg/pkg/capture"
	"github.com/remdbg/remdbg/pkg/transport"
)

// currentTransport gathers from whichever Shipper backs the default
// Debugger, so the endpoint keeps working across config reloads. A disabled
// pipeline exposes nothing.
type currentTransport struct{}

func (currentTransport) Gather() ([]*dto.MetricFamily, error) {
	s, ok := capture.Default().Transport().(*transport.Shipper)
	if !ok {
		return nil, nil
	}
	return s.Registry().Gather()
}

var _ prometheus.Gatherer = currentTransport{}

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(currentTransport{}, promhttp.HandlerOpts{})
}
