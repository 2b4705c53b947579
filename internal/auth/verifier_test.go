package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyDev(t *testing.T) {
	v := NewVerifier("", nil, "", "")
	p, err := v.Verify("ops:Admin")
	if err != nil || p.Subject != "ops" || !p.IsAdmin() {
		t.Fatalf("principal = %+v, %v", p, err)
	}
	if _, err := v.Verify("nocolon"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyHMAC(t *testing.T) {
	v := NewVerifier("hmac", []byte("s3cret"), "", "role")
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "role": "admin"}).SignedString([]byte("s3cret"))
	p, err := v.Verify(tok)
	if err != nil || p.Subject != "ops" || p.Role != "admin" {
		t.Fatalf("principal = %+v, %v", p, err)
	}

	bad, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"}).SignedString([]byte("other"))
	if _, err := v.Verify(bad); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key err = %v", err)
	}
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "viewer"}).SignedString([]byte("s3cret"))
	if p, _ := v.Verify(noRole); p.Role != "user" {
		t.Fatalf("default role = %q", p.Role)
	}
}

func TestVerifyJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jwk{{
			Kty: "RSA", Kid: "k1", Alg: "RS256",
			N: base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v := NewVerifier("jwks", nil, srv.URL, "")
	sign := func(kid string) string {
		tk := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "ops", "role": "admin"})
		tk.Header["kid"] = kid
		s, err := tk.SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	for i := 0; i < 2; i++ {
		if p, err := v.Verify(sign("k1")); err != nil || !p.IsAdmin() {
			t.Fatalf("verify #%d = %+v, %v", i, p, err)
		}
	}
	if fetches.Load() != 1 {
		t.Fatalf("jwks fetched %d times, want 1 (cached)", fetches.Load())
	}
	if _, err := v.Verify(sign("k2")); err == nil {
		t.Fatal("unknown kid verified")
	}
}
