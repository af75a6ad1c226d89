package auth

import (
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := NewSigner("secret")
	token, err := s.Sign("player-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := s.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "player-1" {
		t.Fatalf("subject = %q", sub)
	}
}

func TestVerifyRejectsWrongSecretAndExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Signer{Secret: []byte("secret"), TTL: time.Minute, Now: func() time.Time { return now }}
	token, err := s.Sign("player-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	other := Signer{Secret: []byte("other"), Now: s.Now}
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("expected signature error")
	}
	later := s
	later.Now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := later.Verify(token); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestSignRequiresSecretAndSubject(t *testing.T) {
	if _, err := (Signer{}).Sign("x"); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewSigner("secret").Sign("  "); err == nil {
		t.Fatalf("expected missing subject error")
	}
}
