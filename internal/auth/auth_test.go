package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/b3vet/swiftbase/internal/model"
)

func TestValidateAccessToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewHMACValidator(secret)

	token, err := NewToken(secret, "user-1", false, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	id, err := v.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id.SubjectID != "user-1" || id.IsAdmin {
		t.Errorf("unexpected identity: %+v", id)
	}

	admin, err := NewToken(secret, "root", true, time.Hour)
	if err != nil {
		t.Fatalf("mint admin token: %v", err)
	}
	id, err = v.ValidateAccessToken(admin)
	if err != nil {
		t.Fatalf("validate admin: %v", err)
	}
	if !id.IsAdmin {
		t.Error("expected admin identity")
	}
}

func TestValidateAccessToken_Rejections(t *testing.T) {
	secret := []byte("test-secret")
	v := NewHMACValidator(secret)

	expired, err := NewToken(secret, "user-1", false, -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	wrongKey, err := NewToken([]byte("other-secret"), "user-1", false, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": wrongKey,
		"garbage":      "not.a.token",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateAccessToken(token)
			var appErr *model.Error
			if !errors.As(err, &appErr) || appErr.Code != model.CodeUnauthorized {
				t.Errorf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestValidateAccessToken_NoSecret(t *testing.T) {
	v := NewHMACValidator(nil)
	if _, err := v.ValidateAccessToken("anything"); err == nil {
		t.Error("expected an error without a configured secret")
	}
}
