// Package auth resolves the acting party of a request from a bearer JWT.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/http/respond"
)

const issuer = "immotrack"

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carries the actor role; the actor id is the subject.
type Claims struct {
	Role actor.Role `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the given actor.
func (a *Authenticator) Issue(act actor.Actor) (string, error) {
	if !act.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", act.Role)
	}

	now := a.now()
	claims := &Claims{
		Role: act.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   act.ID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and returns the actor it names.
func (a *Authenticator) Parse(token string) (actor.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}

		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	if err != nil {
		return actor.Actor{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || !claims.Role.Valid() {
		return actor.Actor{}, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return actor.Actor{}, ErrInvalidToken
	}

	return actor.Actor{ID: id, Role: claims.Role}, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Middleware rejects requests without a valid bearer token and stores the
// actor on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respond.JSON(w, http.StatusUnauthorized, errorResponse{Code: "UNAUTHENTICATED", Message: "missing bearer token"})
			return
		}

		act, err := a.Parse(token)
		if err != nil {
			respond.JSON(w, http.StatusUnauthorized, errorResponse{Code: "UNAUTHENTICATED", Message: err.Error()})
			return
		}

		next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), act)))
	})
}
