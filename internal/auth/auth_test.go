package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-dispatch/internal/models"
)

func TestSignAndVerify(t *testing.T) {
	v := NewVerifier("s3cret")
	tok, err := v.Sign(Identity{ActorID: "d1", Role: models.RoleDriver}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ActorID != "d1" || id.Role != models.RoleDriver {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("s3cret")
	other := NewVerifier("other")
	wrongKey, _ := other.Sign(Identity{ActorID: "u1", Role: models.RoleRider}, time.Hour)
	expired, _ := v.Sign(Identity{ActorID: "u1", Role: models.RoleRider}, -time.Minute)
	noRole, _ := v.Sign(Identity{ActorID: "u1"}, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "role": "rider"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-token",
		"wrong key": wrongKey,
		"expired":   expired,
		"no role":   noRole,
		"alg none":  none,
	} {
		if _, err := v.Verify(tok); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"Bearer ":     "",
		"":            "",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
