package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Handler serves the metrics of g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) fasthttp.RequestHandler {
	if g == nil {
		g = DefaultRegistry
	}
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// StatusLabel keeps the exact code for errors and buckets the rest.
func StatusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400:
		return strconv.Itoa(code)
	default:
		return "unknown"
	}
}
