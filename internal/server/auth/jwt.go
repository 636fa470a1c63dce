// Package auth verifies the bearer tokens that identify uploaders. The token
// subject is the user's email as registered in the user directory.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid or expired token")

const defaultLeeway = 30 * time.Second

// Verifier validates bearer tokens signed either with a shared HS256 secret
// or with keys published at a JWKS endpoint.
type Verifier struct {
	keyfunc func(ctx context.Context) jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
}

// NewHMACVerifier accepts HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte, issuer string) *Verifier {
	kf := func(*jwt.Token) (any, error) { return secret, nil }
	return &Verifier{
		keyfunc: func(context.Context) jwt.Keyfunc { return kf },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  issuer,
		leeway:  defaultLeeway,
	}
}

// NewJWKSVerifier fetches signing keys from url and refreshes them in the
// background until ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, url, issuer string) (*Verifier, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", url, err)
	}
	return NewKeyfuncVerifier(k, issuer), nil
}

// NewKeyfuncVerifier accepts RS256 and ES256 tokens whose keys k resolves.
func NewKeyfuncVerifier(k keyfunc.Keyfunc, issuer string) *Verifier {
	return &Verifier{
		keyfunc: k.KeyfuncCtx,
		methods: []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()},
		issuer:  issuer,
		leeway:  defaultLeeway,
	}
}

// Verify checks signature, expiry and issuer, and returns the subject.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc(ctx), opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return subject, nil
}

// Issuer mints HS256 tokens. It backs the token issue command for
// deployments that use a shared secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewIssuer(secret []byte, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue returns a signed token for subject and its expiry.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, errors.New("no signing secret configured")
	}
	now := time.Now()
	exp := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}
