package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/collab-studio/internal/errs"
)

func TestIdentity_IssueVerify(t *testing.T) {
	t.Parallel()
	id := NewIdentity([]byte("k"), time.Minute)

	tok, exp, err := id.Issue("alice")
	if err != nil || tok == "" || !exp.After(time.Now()) {
		t.Fatalf("Issue: tok=%q exp=%v err=%v", tok, exp, err)
	}
	user, err := id.Verify(tok)
	if err != nil || user != "alice" {
		t.Fatalf("Verify: user=%q err=%v", user, err)
	}

	if _, _, err := id.Issue(""); err == nil {
		t.Fatalf("want validation error on empty user")
	}
}

func TestIdentity_Rejects(t *testing.T) {
	t.Parallel()
	id := NewIdentity([]byte("k"), time.Minute)

	other, _, err := NewIdentity([]byte("other"), time.Minute).Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := id.Verify(other); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("foreign key: want ErrUnauthorized, got %v", err)
	}

	expired, _, err := NewIdentity([]byte("k"), -time.Hour).Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := id.Verify(expired); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expired: want ErrUnauthorized, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := id.Verify(raw); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("alg none: want ErrUnauthorized, got %v", err)
	}

	if _, err := id.Verify("garbage"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("garbage: want ErrUnauthorized, got %v", err)
	}
}
