package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"datalens/internal/http/middleware"
	"datalens/internal/reconcile"
)

const syncTimeout = 10 * time.Minute

// SyncNonce issues an anti-forgery token for the sync endpoints.
func SyncNonce(nonces *middleware.Nonces) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		jsonResponse(ctx, map[string]any{"nonce": nonces.Issue(user.ID)})
	}
}

// SyncAll imports every order from the source. rec is nil when no source is
// configured.
func SyncAll(rec *reconcile.Reconciler, logger *slog.Logger) fasthttp.RequestHandler {
	return syncHandler(rec, logger, "Successfully synced %d orders", (*reconcile.Reconciler).SyncAll)
}

// SyncNew imports orders created since the last sync.
func SyncNew(rec *reconcile.Reconciler, logger *slog.Logger) fasthttp.RequestHandler {
	return syncHandler(rec, logger, "Successfully synced %d new orders", (*reconcile.Reconciler).SyncNew)
}

func syncHandler(rec *reconcile.Reconciler, logger *slog.Logger, message string, run func(*reconcile.Reconciler, context.Context) (int, error)) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if rec == nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "order sync is not configured")
			return
		}

		runCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		defer cancel()

		n, err := run(rec, runCtx)
		if err != nil {
			logger.Error("order sync failed", "path", string(ctx.Path()), "synced", n, "error", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "Sync failed: "+err.Error())
			return
		}
		jsonResponse(ctx, map[string]any{
			"synced_count": n,
			"message":      fmt.Sprintf(message, n),
		})
	}
}
