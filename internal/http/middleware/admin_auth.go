package middleware

import (
	"github.com/valyala/fasthttp"

	httpctx "datalens/internal/http/ctx"
)

// RequireManageStore rejects users without the "manage store" capability.
// It must run after BasicAuth.
func RequireManageStore(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := httpctx.UserFromCtx(ctx)
		if !ok {
			unauthorized(ctx, "unauthorized")
			return
		}
		if !user.CanManageStore() {
			ctx.SetStatusCode(fasthttp.StatusForbidden)
			ctx.SetBodyString("insufficient permissions")
			return
		}
		next(ctx)
	}
}
