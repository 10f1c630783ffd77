package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	httpctx "datalens/internal/http/ctx"
)

// NonceHeader carries the anti-forgery token on state-changing admin requests.
const NonceHeader = "X-DataLens-Nonce"

const nonceAction = "datalens_sync"

// Nonces issues and verifies short-lived tokens bound to a user. A token is
// "<expiry unix>.<hex hmac-sha256>".
type Nonces struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewNonces uses secret as the HMAC key, or a random key when it is empty.
func NewNonces(secret string, ttl time.Duration) (*Nonces, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Nonces{secret: key, ttl: ttl, now: time.Now}, nil
}

func (n *Nonces) sign(userID uint, expiry int64) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write([]byte(nonceAction))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatUint(uint64(userID), 10)))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue returns a token for userID.
func (n *Nonces) Issue(userID uint) string {
	expiry := n.now().Add(n.ttl).Unix()
	return strconv.FormatInt(expiry, 10) + "." + n.sign(userID, expiry)
}

// Verify reports whether token was issued for userID and has not expired.
func (n *Nonces) Verify(token string, userID uint) bool {
	exp, sig, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || n.now().Unix() > expiry {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(n.sign(userID, expiry)))
}

// RequireNonce rejects requests without a valid token for the current user.
// It must run after BasicAuth.
func RequireNonce(n *Nonces) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			user, ok := httpctx.UserFromCtx(ctx)
			if !ok {
				unauthorized(ctx, "unauthorized")
				return
			}
			token := string(ctx.Request.Header.Peek(NonceHeader))
			if token == "" || !n.Verify(token, user.ID) {
				ctx.SetStatusCode(fasthttp.StatusForbidden)
				ctx.SetBodyString("invalid or missing nonce")
				return
			}
			next(ctx)
		}
	}
}
