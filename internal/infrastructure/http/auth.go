package httptransport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("http: missing or invalid bearer token")

// accessClaims is the slice of the game login token this server reads. The
// payer identifier travels either as a custom userId claim or as the
// registered subject.
type accessClaims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates game-issued bearer tokens offline against the
// login service's RSA public key. The raw token is still forwarded upstream
// for calls made on the payer's behalf; verification here only establishes
// the payer identity without a round trip.
type TokenVerifier struct {
	parser *jwt.Parser
	keyFn  jwt.Keyfunc
}

func NewTokenVerifier(publicKeyPEM string) (*TokenVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("http: parse token public key: %w", err)
	}
	return &TokenVerifier{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyFn:  func(t *jwt.Token) (any, error) { return key, nil },
	}, nil
}

// Verify returns the payer id carried by a valid token.
func (v *TokenVerifier) Verify(token string) (string, error) {
	claims := &accessClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFn); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	payerID := claims.UserID
	if payerID == "" {
		payerID = claims.Subject
	}
	if payerID == "" {
		return "", fmt.Errorf("%w: token carries no payer id", ErrUnauthenticated)
	}
	return payerID, nil
}

// bearerToken extracts the raw token from an Authorization header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrUnauthenticated
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}
