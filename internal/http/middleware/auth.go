package middleware

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "datalens/internal/db"
	httpctx "datalens/internal/http/ctx"
)

const realm = `Basic realm="datalens"`

// BasicAuth validates HTTP Basic credentials against the users table and
// sets the user on the context.
func BasicAuth(db *gorm.DB, logger *slog.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				unauthorized(ctx, "missing Authorization header")
				return
			}

			const prefix = "Basic "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				unauthorized(ctx, "invalid Authorization header")
				return
			}

			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(auth[len(prefix):])))
			if err != nil {
				unauthorized(ctx, "invalid Authorization header")
				return
			}
			username, password, ok := strings.Cut(string(raw), ":")
			if !ok || username == "" {
				unauthorized(ctx, "invalid Authorization header")
				return
			}

			user, err := dbpkg.Authenticate(ctx, db, username, password)
			if err != nil {
				logger.Error("authenticating user failed", "error", err)
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("database error")
				return
			}
			if user == nil {
				unauthorized(ctx, "invalid credentials")
				return
			}

			httpctx.SetUser(ctx, user)
			next(ctx)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.Response.Header.Set("WWW-Authenticate", realm)
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetBodyString(msg)
}
