package handlers

import (
	"log/slog"

	"github.com/valyala/fasthttp"

	"datalens/internal/metrics"
)

// Metrics exposes the service registry in the Prometheus text format.
func Metrics(reg *metrics.Registry, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		body, err := reg.Expose()
		if err != nil {
			logger.Error("encoding metrics failed", "error", err)
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to encode metrics")
			return
		}

		ctx.SetContentType(metrics.ContentType())
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(body)
	}
}
