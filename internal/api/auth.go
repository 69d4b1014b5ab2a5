package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rentflow/internal/config"
	"rentflow/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carry the identity of the caller: sub is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	errMissingToken = errors.New("authorization header required")
	errInvalidToken = errors.New("invalid or expired token")
)

type actorKey struct{}

// ActorFrom returns the authenticated actor stored by HTTPAuth.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(models.Actor)
	return a, ok
}

func withActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// IssueToken signs an HS256 token for actor.
func IssueToken(cfg config.APIAuthConfig, actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.ID, 10),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// HTTPAuth provides bearer-token auth and per-actor rate limiting.
type HTTPAuth struct {
	cfg     config.APIAuthConfig
	parser  *jwt.Parser
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Auth.Issuer))
	}
	return &HTTPAuth{
		cfg:     cfg.Auth,
		parser:  jwt.NewParser(opts...),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.authenticate(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error(), "")
			return
		}

		if !a.limiter.allow(fmt.Sprintf("actor:%d", actor.ID)) {
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (models.Actor, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return models.Actor{}, errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return models.Actor{}, errInvalidToken
	}

	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return models.Actor{}, errInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return models.Actor{}, errInvalidToken
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return models.Actor{}, errInvalidToken
	}
	return models.Actor{ID: id, Role: role}, nil
}
