package transport

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/gridform/internal/config"
	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/model"
)

var errNoToken = errors.New("no token")

// JWTAuthenticator returns middleware that verifies HMAC-signed operator
// tokens and stores the verified claims in the request context. The token is
// read from the Authorization header, falling back to the session cookie.
func JWTAuthenticator(cfg config.IdentityConfig, key []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodHS256.Alg()}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, err := tokenFrom(r, cfg.CookieName)
			if err != nil {
				msg := "Missing authorization token"
				if !errors.Is(err, errNoToken) {
					msg = "Invalid authorization header format"
				}
				WriteError(w, model.NewUnauthorizedError(msg))
				return
			}

			token, err := jwt.Parse(tokenStr,
				func(*jwt.Token) (any, error) {
					if len(key) == 0 {
						return nil, errors.New("no signing key configured")
					}
					return key, nil
				},
				jwt.WithValidMethods(algorithms),
				jwt.WithIssuer(cfg.Issuer),
				jwt.WithAudience(cfg.Audience),
				jwt.WithLeeway(30*time.Second),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				reason := classifyJWTError(err)
				observability.LoggerFrom(r.Context(), logger).Warn("token rejected",
					zap.String("reason", reason),
					zap.String("correlation_id", CorrelationIDFrom(r.Context())),
				)
				WriteError(w, model.NewUnauthorizedError(reason))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFrom returns the bearer token of the request. An Authorization header
// that is present but not a bearer token is an error rather than a fallback
// to the cookie.
func tokenFrom(r *http.Request, cookieName string) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if !strings.HasPrefix(auth, "Bearer ") || len(auth) == len("Bearer ") {
			return "", errors.New("malformed authorization header")
		}
		return auth[len("Bearer "):], nil
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", errNoToken
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if strings.Contains(err.Error(), "signing method") {
			return "Disallowed signing algorithm"
		}
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Unverifiable token"
	default:
		return "Invalid token"
	}
}
