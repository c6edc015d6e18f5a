package auth

import (
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestMintAndValidate(t *testing.T) {
	m := NewMinter("shared-secret", "shopsync-agent", "repair-api", "shop-42")
	v := NewValidator("shared-secret", "shopsync-agent", "repair-api")

	token, err := m.Mint()
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if token == "" {
		t.Fatal("Mint() returned empty token with secret configured")
	}

	shopID, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if shopID != "shop-42" {
		t.Errorf("ValidateToken() shopID = %q, want %q", shopID, "shop-42")
	}
}

func TestMintWithoutSecret(t *testing.T) {
	m := NewMinter("", "shopsync-agent", "repair-api", "shop-42")

	token, err := m.Mint()
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if token != "" {
		t.Errorf("Mint() without secret = %q, want empty", token)
	}
}

func TestValidateTokenFailures(t *testing.T) {
	m := NewMinter("shared-secret", "shopsync-agent", "repair-api", "shop-42")
	good, err := m.Mint()
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	tests := []struct {
		name      string
		validator *Validator
		token     string
	}{
		{
			name:      "wrong secret",
			validator: NewValidator("different-secret", "shopsync-agent", "repair-api"),
			token:     good,
		},
		{
			name:      "wrong issuer",
			validator: NewValidator("shared-secret", "someone-else", "repair-api"),
			token:     good,
		},
		{
			name:      "wrong audience",
			validator: NewValidator("shared-secret", "shopsync-agent", "other-api"),
			token:     good,
		},
		{
			name:      "garbage token",
			validator: NewValidator("shared-secret", "shopsync-agent", "repair-api"),
			token:     "not.a.token",
		},
		{
			name:      "tampered token",
			validator: NewValidator("shared-secret", "shopsync-agent", "repair-api"),
			token:     good[:len(good)-4] + "XXXX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.validator.ValidateToken(tt.token); err == nil {
				t.Error("ValidateToken() error = nil, want error")
			}
		})
	}
}

func TestValidateTokenRejectsMissingShopID(t *testing.T) {
	// Hand-build a token with valid iss/aud but no shop_id claim.
	claims := jwt.MapClaims{
		"iss": "shopsync-agent",
		"aud": "repair-api",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	v := NewValidator("shared-secret", "shopsync-agent", "repair-api")
	if _, err := v.ValidateToken(token); err == nil {
		t.Error("ValidateToken() error = nil, want missing shop_id error")
	} else if !strings.Contains(err.Error(), "shop_id") {
		t.Errorf("ValidateToken() error = %v, want shop_id mention", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	claims := jwt.MapClaims{
		"iss":     "shopsync-agent",
		"aud":     "repair-api",
		"shop_id": "shop-42",
		"exp":     int64(1000000000), // 2001
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	v := NewValidator("shared-secret", "shopsync-agent", "repair-api")
	if _, err := v.ValidateToken(token); err == nil {
		t.Error("ValidateToken() error = nil, want expiry error")
	}
}
