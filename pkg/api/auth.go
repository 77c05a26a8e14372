package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/openbridge/dex-middleware/pkg/app/errors"
	"github.com/openbridge/dex-middleware/pkg/app/httpserver"
	"github.com/openbridge/dex-middleware/pkg/config"
)

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID    int64
	TradeAddr string
}

type contextKey string

const contextKeyIdentity contextKey = "identity"

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// IdentityFromContext retrieves the authenticated identity from the context
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(*Identity)
	return id, ok
}

// TokenVerifier validates HMAC-signed bearer tokens issued by the
// account service. Claims carry the user's database id ("uid") and
// the Stellar trade address ("trade_addr") the token authorizes.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a new token verifier
func NewTokenVerifier(cfg config.AuthConfig) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
	}
}

// Verify validates a token string and returns the identity it carries.
func (v *TokenVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the algorithm
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	if v.issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok || iss != v.issuer {
			return nil, fmt.Errorf("invalid issuer")
		}
	}

	// JSON numbers decode as float64
	uid, ok := claims["uid"].(float64)
	if !ok || uid <= 0 {
		return nil, fmt.Errorf("missing uid claim")
	}
	tradeAddr, ok := claims["trade_addr"].(string)
	if !ok || tradeAddr == "" {
		return nil, fmt.Errorf("missing trade_addr claim")
	}

	return &Identity{UserID: int64(uid), TradeAddr: tradeAddr}, nil
}

// Middleware authenticates requests with an Authorization bearer token
// and stores the resulting identity in the request context.
func (v *TokenVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			httpserver.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "missing bearer token"))
			return
		}

		identity, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			httpserver.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
