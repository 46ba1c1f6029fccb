package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// userIDKey is the Gin context key holding the authenticated subject.
	userIDKey = "userID"
	// HeaderUserID carries the caller identity when no JWT secret is configured.
	HeaderUserID = "X-User-ID"
)

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 signing key. Empty switches to header trust mode,
	// where X-User-ID is taken at face value (local development only).
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Leeway tolerates clock skew on exp/nbf.
	Leeway time.Duration
}

// Auth resolves the caller identity and stores it under "userID".
//
// With a secret, a Bearer token is required and its sub claim becomes the
// user ID. Requests without a usable identity are rejected with 401.
func Auth(opts AuthOptions) gin.HandlerFunc {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)
	key := []byte(opts.Secret)

	return func(c *gin.Context) {
		var uid string
		if opts.Secret == "" {
			uid = strings.TrimSpace(c.GetHeader(HeaderUserID))
		} else {
			raw, ok := bearerToken(c.GetHeader("Authorization"))
			if !ok {
				unauthorized(c, "missing bearer token")
				return
			}
			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			}); err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("jwt rejected")
				unauthorized(c, "invalid or expired token")
				return
			}
			uid = claims.Subject
		}
		if uid == "" {
			unauthorized(c, "authentication required")
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the identity stored by Auth, or "".
func UserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}

func bearerToken(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	abortJSON(c, http.StatusUnauthorized, "unauthorized", "Not signed in", msg)
}
