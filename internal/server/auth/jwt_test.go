package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signHS256(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "alice@example.com",
		Issuer:    "datashare",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

func TestIssuerRoundTrip(t *testing.T) {
	token, exp, err := NewIssuer(testSecret, "datashare", time.Hour).Issue("alice@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	sub, err := NewHMACVerifier(testSecret, "datashare").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sub)
}

func TestIssuer_RequiresSecret(t *testing.T) {
	_, _, err := NewIssuer(nil, "", time.Hour).Issue("alice@example.com")
	assert.Error(t, err)
}

func TestHMACVerifier_Rejects(t *testing.T) {
	v := NewHMACVerifier(testSecret, "datashare")

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"garbage", func(*testing.T) string { return "not.a.jwt" }},
		{"wrong secret", func(t *testing.T) string {
			return signHS256(t, []byte("another-secret-another-secret!!!"), validClaims())
		}},
		{"expired", func(t *testing.T) string {
			c := validClaims()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			return signHS256(t, testSecret, c)
		}},
		{"missing expiry", func(t *testing.T) string {
			c := validClaims()
			c.ExpiresAt = nil
			return signHS256(t, testSecret, c)
		}},
		{"wrong issuer", func(t *testing.T) string {
			c := validClaims()
			c.Issuer = "someone-else"
			return signHS256(t, testSecret, c)
		}},
		{"missing subject", func(t *testing.T) string {
			c := validClaims()
			c.Subject = ""
			return signHS256(t, testSecret, c)
		}},
		{"unexpected algorithm", func(t *testing.T) string {
			s, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims()).SignedString(testSecret)
			require.NoError(t, err)
			return s
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token(t))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestHMACVerifier_NoIssuerConfigured(t *testing.T) {
	c := validClaims()
	c.Issuer = "anything"

	sub, err := NewHMACVerifier(testSecret, "").Verify(context.Background(), signHS256(t, testSecret, c))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sub)
}

const testKeyID = "test-key"

func jwksJSON(pub *rsa.PublicKey) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	return data
}

func TestKeyfuncVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	k, err := keyfunc.NewJWKSetJSON(jwksJSON(&key.PublicKey))
	require.NoError(t, err)
	v := NewKeyfuncVerifier(k, "")

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	sub, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sub)

	// An HS256 token must not be accepted by a JWKS verifier.
	_, err = v.Verify(context.Background(), signHS256(t, testSecret, validClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
