package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves a request credential to the caller identity.
// Credential issuance lives outside this service.
type Authenticator interface {
	Authenticate(r *http.Request) (appointment.Requester, error)
}

// Claims carried by access tokens: sub is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (appointment.Requester, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return appointment.Requester{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return appointment.Requester{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	return requesterFrom(claims.Subject, claims.Role)
}

// SignToken issues a token for tests and local tooling.
func (a *JWTAuthenticator) SignToken(userID uuid.UUID, role appointment.Role, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID.String()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(role), RegisteredClaims: claims})
	return token.SignedString(a.secret)
}

// HeaderAuthenticator trusts X-User-ID and X-User-Role. Development only.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (appointment.Requester, error) {
	return requesterFrom(r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role"))
}

func requesterFrom(userID, role string) (appointment.Requester, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return appointment.Requester{}, fmt.Errorf("%w: user id must be a valid UUID", ErrUnauthenticated)
	}
	r := appointment.Role(role)
	if !r.Valid() {
		return appointment.Requester{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, role)
	}
	return appointment.Requester{ID: id, Role: r}, nil
}

const requesterKey contextKey = "requester"

// AuthMiddleware rejects unauthenticated requests and stores the requester in the context.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := auth.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), requesterKey, who)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequester retrieves the authenticated caller from context
func GetRequester(ctx context.Context) (appointment.Requester, bool) {
	who, ok := ctx.Value(requesterKey).(appointment.Requester)
	return who, ok
}
