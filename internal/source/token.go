package source

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway avoids presenting a token that is technically valid now
// but will expire before the request completes.
const expiryLeeway = 30 * time.Second

// tokenExpired reports whether a cached token is known to be expired or
// close to it. The check is best effort: when the token is a JWT its exp
// claim is read without signature verification, because the source API
// remains the authority on validity and this only avoids a predictable
// 401. Opaque tokens and JWTs without an expiry carry no local evidence
// either way, so they are presented as-is; a server-side rejection goes
// through the 401 re-authentication path instead.
func tokenExpired(token string) bool {
	if token == "" {
		return true
	}

	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return time.Until(exp.Time) < expiryLeeway
}
