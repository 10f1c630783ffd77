package handlers

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "datalens/internal/db"
	httpctx "datalens/internal/http/ctx"
	"datalens/internal/metrics"
)

// MustUser returns the current user from context, or sends 401 and returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("unauthorized")
		return nil, false
	}
	return user, true
}

// RequestLogger returns fasthttp middleware that logs method, path, status,
// duration and records the duration histogram.
func RequestLogger(logger *slog.Logger, reg *metrics.Registry) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			elapsed := time.Since(start)

			status := ctx.Response.StatusCode()
			route := string(ctx.Path())
			if status == fasthttp.StatusNotFound || status == fasthttp.StatusMethodNotAllowed {
				route = "unmatched"
			}
			reg.ObserveRequest(route, string(ctx.Method()), elapsed)
			logger.Info("http request",
				"method", string(ctx.Method()),
				"path", string(ctx.Path()),
				"status", status,
				"duration", elapsed,
				"ip", ctx.RemoteIP().String(),
			)
		}
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, err := json.Marshal(data)
	if err != nil {
		errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode response")
		return
	}
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(map[string]any{"error": msg})
	ctx.SetBody(body)
}

// Healthz answers liveness probes.
func Healthz(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok")
}
