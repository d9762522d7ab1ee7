// Package auth verifies the bearer credential presented when a client opens
// a chat connection. It never issues tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrMalformedHeader   = errors.New("malformed authorization header")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
)

// Source names where a credential was found, for logging.
type Source string

const (
	SourceHeader Source = "header"
	SourceQuery  Source = "query"
)

// Claims is the payload of a chat access token.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(0),
			jwt.WithTimeFunc(time.Now),
		),
	}, nil
}

// Verify checks signature, algorithm and expiry and returns the identity in the token.
func (v *Verifier) Verify(token string) (domain.User, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.User{}, ErrTokenExpired
	case err != nil:
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	user, err := domain.NewUser(domain.UserID(claims.UserID), claims.Username)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return user, nil
}

// Authenticate reads the credential from the Authorization header, falling
// back to the token query parameter when the header is absent or malformed.
func (v *Verifier) Authenticate(r *http.Request) (domain.User, Source, error) {
	token, headerErr := bearerToken(r.Header.Get("Authorization"))
	if headerErr == nil {
		user, err := v.Verify(token)
		return user, SourceHeader, err
	}

	if q := r.URL.Query().Get("token"); q != "" {
		user, err := v.Verify(q)
		return user, SourceQuery, err
	}
	return domain.User{}, "", headerErr
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingCredential
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedHeader
	}
	return token, nil
}

// StatusCode classifies an authentication failure for the HTTP handshake.
func StatusCode(err error) int {
	if errors.Is(err, ErrMalformedHeader) {
		return http.StatusBadRequest
	}
	return http.StatusUnauthorized
}
