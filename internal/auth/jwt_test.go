package auth

import (
	"testing"
	"time"

	"guardian/internal/models"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret-test-secret-test-secret!", time.Hour)

	token, expiry, err := svc.GenerateAccessToken(&models.User{ID: "usr_1", Username: "ada"})
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if time.Until(expiry) < 59*time.Minute {
		t.Fatalf("expiry = %v, want roughly one hour out", expiry)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.UserID != "usr_1" {
		t.Fatalf("claims.UserID = %q, want usr_1", claims.UserID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService("issuer-secret-issuer-secret-issuer!!", time.Hour)
	verifier := NewJWTService("other-secret-other-secret-other-sec!", time.Hour)

	token, _, err := issuer.GenerateAccessToken(&models.User{ID: "usr_1"})
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if _, err := verifier.ValidateAccessToken(token); err == nil {
		t.Fatal("ValidateAccessToken() accepted a token signed with another secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret-test-secret-test-secret!", -time.Minute)

	token, _, err := svc.GenerateAccessToken(&models.User{ID: "usr_1"})
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Fatal("ValidateAccessToken() accepted an expired token")
	}
}
