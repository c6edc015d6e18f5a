// Package auth mints and validates the short-lived bearer tokens the agent
// sends with every submission to the remote API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL bounds how long a minted token stays valid. Tokens are minted per
// submission, so the window only needs to cover one request.
const TokenTTL = 2 * time.Minute

// Minter produces HS256 bearer tokens for the remote API.
type Minter struct {
	secret   []byte
	issuer   string
	audience string
	shopID   string
}

// NewMinter creates a token minter. An empty secret disables minting; Mint
// then returns an empty token and callers skip the Authorization header.
func NewMinter(secret, issuer, audience, shopID string) *Minter {
	return &Minter{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		shopID:   shopID,
	}
}

// Mint returns a signed token, or "" when no secret is configured.
func (m *Minter) Mint() (string, error) {
	if len(m.secret) == 0 {
		return "", nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":     m.issuer,
		"aud":     m.audience,
		"shop_id": m.shopID,
		"iat":     now.Unix(),
		"exp":     now.Add(TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validator checks tokens on the receiving side (used by the fake API).
type Validator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewValidator creates a token validator sharing the minter's secret.
func NewValidator(secret, issuer, audience string) *Validator {
	return &Validator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// ValidateToken validates a token and returns the shop ID claim.
func (v *Validator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %v", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	// Validate issuer
	if iss, ok := claims["iss"].(string); !ok || iss != v.issuer {
		return "", fmt.Errorf("invalid issuer")
	}

	// Validate audience
	if aud, ok := claims["aud"].(string); !ok || aud != v.audience {
		return "", fmt.Errorf("invalid audience")
	}

	// Extract shop ID
	shopID, ok := claims["shop_id"].(string)
	if !ok || shopID == "" {
		return "", fmt.Errorf("missing or invalid shop_id claim")
	}

	return shopID, nil
}
