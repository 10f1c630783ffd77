package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "datalens/internal/db"
)

const UserKey = "user"

func SetUser(ctx *fasthttp.RequestCtx, user *dbpkg.User) {
	ctx.SetUserValue(UserKey, user)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	u, ok := ctx.UserValue(UserKey).(*dbpkg.User)
	if !ok || u == nil {
		return nil, false
	}
	return u, true
}
