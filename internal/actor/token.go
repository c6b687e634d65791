package actor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken means the request carried no bearer token.
var ErrNoToken = errors.New("no bearer token")

// Claims are the JWT claims accepted as a session.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Verifier validates HS256 session tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewVerifier creates a verifier. It returns nil when secret is empty,
// which callers treat as "identity resolution disabled".
func NewVerifier(secret, issuer, audience string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience, now: time.Now}
}

// WithClock overrides the verification clock.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify parses and validates a token string.
func (v *Verifier) Verify(tokenStr string) (Actor, error) {
	if v == nil {
		return Actor{}, fmt.Errorf("verifier uninitialized")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Actor{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return Actor{}, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("token subject is required")
	}
	return Actor{UserID: claims.Subject, Roles: claims.Roles}, nil
}

// Issue signs a token for userID valid for ttl. Used by tests and local
// tooling.
func (v *Verifier) Issue(userID string, roles []string, ttl time.Duration) (string, error) {
	if v == nil {
		return "", fmt.Errorf("verifier uninitialized")
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid Authorization header format (expected 'Bearer <token>')")
	}
	return strings.TrimSpace(parts[1]), nil
}

// FromRequest resolves the actor of r. A request without a token resolves
// to (Actor{}, false, nil). A token that is present but invalid is an error.
func (v *Verifier) FromRequest(r *http.Request) (Actor, bool, error) {
	tok, err := BearerToken(r)
	if errors.Is(err, ErrNoToken) {
		return Actor{}, false, nil
	}
	if err != nil {
		return Actor{}, false, err
	}
	if v == nil {
		// Identity resolution disabled: tokens are ignored.
		return Actor{}, false, nil
	}
	a, err := v.Verify(tok)
	if err != nil {
		return Actor{}, false, err
	}
	return a, true, nil
}
