// Package auth verifies bearer access tokens. Tokens are HS256 JWTs issued by the
// auth provider; the user id is the `sub` claim.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// AccessTokenCookieName is read when no Authorization header is sent.
	AccessTokenCookieName = "picarcade.access-token"
	// Issuer is set on tokens minted by this service.
	Issuer = "picarcade"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate extracts the access token from the Authorization header, falling
// back to the access-token cookie, and returns the user id it was issued for.
func (a *Authenticator) Authenticate(authHeader, cookieHeader string) (string, error) {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		token = extractCookie(cookieHeader, AccessTokenCookieName)
	}
	if token == "" {
		return "", errors.Wrap(ErrUnauthenticated, "missing access token")
	}
	return a.ParseAccessToken(token)
}

// ParseAccessToken verifies the signature and expiry of token and returns its subject.
func (a *Authenticator) ParseAccessToken(token string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.Wrap(ErrUnauthenticated, "no secret configured")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Wrapf(ErrUnauthenticated, "invalid access token: %v", err)
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrUnauthenticated, "access token has no subject")
	}
	return claims.Subject, nil
}

// GenerateAccessToken mints a token for userID that expires at expiresAt.
func (a *Authenticator) GenerateAccessToken(userID string, expiresAt time.Time) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("no secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign access token")
	}
	return signed, nil
}

// ExtractBearerToken returns the token of a "Bearer <token>" header, or "".
func ExtractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func extractCookie(cookieHeader, name string) string {
	if cookieHeader == "" {
		return ""
	}
	cookies, err := http.ParseCookie(cookieHeader)
	if err != nil {
		return ""
	}
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
