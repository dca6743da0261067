package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims carries the verified subject and its linked-account sub-fields,
// in the shape the identity provider reports them.
type TokenClaims struct {
	Subject       string
	Email         string
	OAuthEmail    string
	OAuthUsername string
	WalletAddress string
}

// TokenVerifier verifies a bearer token against the identity provider and
// returns its claims. Implementations must distinguish a bad token
// (ErrTokenInvalid) from a failed verification call (any other error).
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*TokenClaims, error)
}

// ErrTokenInvalid is returned by a TokenVerifier when the token itself is
// malformed, expired, or carries a bad signature.
var ErrTokenInvalid = errors.New("invalid token")

// HMACVerifier verifies locally-issued HS256 tokens.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for tokens signed with the given secret.
func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

// Verify parses and validates the token, rejecting non-HMAC signing methods.
func (v *HMACVerifier) Verify(_ context.Context, tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	subject, ok := mapClaims["sub"].(string)
	if !ok || subject == "" {
		return nil, ErrTokenInvalid
	}

	claims := &TokenClaims{Subject: subject}
	claims.Email, _ = mapClaims["email"].(string)
	claims.OAuthEmail, _ = mapClaims["oauth_email"].(string)
	claims.OAuthUsername, _ = mapClaims["oauth_username"].(string)
	claims.WalletAddress, _ = mapClaims["wallet"].(string)

	return claims, nil
}

// DisplayEmail derives a display email from the claims using a fixed priority
// order; the first non-empty match wins. The order is part of the identity
// contract and must not be reordered.
func DisplayEmail(claims *TokenClaims) string {
	if claims.Email != "" {
		return claims.Email
	}
	if claims.OAuthEmail != "" {
		return claims.OAuthEmail
	}
	if claims.OAuthUsername != "" {
		return claims.OAuthUsername + "@users.tidestore.app"
	}
	if claims.WalletAddress != "" {
		return claims.WalletAddress + "@wallet.tidestore.app"
	}
	return claims.Subject + "@unknown.tidestore.app"
}
