// ABOUTME: JWT token verification for authenticating WebSocket upgrades
// ABOUTME: Uses HS256 signing with role and generation claims

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spawnhq/spawn-relay/internal/store"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrRoleMismatch = errors.New("token role does not match endpoint")
	ErrStaleToken   = errors.New("token generation superseded")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// MinSecretLength is the minimum allowed HS256 secret length in bytes.
const MinSecretLength = 32

// Claims carries the identity attached to a verified connection token.
type Claims struct {
	IdentityID string
	Role       string
	OwnerID    string
	Generation int64
}

// GenerationStore is the subset of the store consulted to reject tokens
// issued before the last regeneration.
type GenerationStore interface {
	TokenGeneration(ctx context.Context, identityID, role string) (int64, error)
}

// TokenVerifier defines the interface for token verification.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs. A token is
// valid only while its gen claim equals the stored current generation for
// its (identity, role) pair.
type JWTVerifier struct {
	secret      []byte
	generations GenerationStore
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
func NewJWTVerifier(secret []byte, generations GenerationStore) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return &JWTVerifier{secret: secret, generations: generations}, nil
}

// Verify validates the token signature, expiry, and generation, and extracts
// the connection claims.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	role, ok := mapClaims["role"].(string)
	if !ok || (role != store.RoleAgent && role != store.RoleApp) {
		return nil, fmt.Errorf("%w: role", ErrMissingClaim)
	}
	genFloat, ok := mapClaims["gen"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: gen", ErrMissingClaim)
	}
	owner, _ := mapClaims["owner"].(string)

	claims := &Claims{
		IdentityID: sub,
		Role:       role,
		OwnerID:    owner,
		Generation: int64(genFloat),
	}

	current, err := v.generations.TokenGeneration(ctx, claims.IdentityID, claims.Role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("looking up token generation: %w", err)
	}
	if claims.Generation != current {
		return nil, ErrStaleToken
	}

	return claims, nil
}

// Generate creates a connection token for an (identity, role) pair at the
// given generation with an expiration.
func (v *JWTVerifier) Generate(identityID, role, ownerID string, generation int64, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  identityID,
		"role": role,
		"gen":  generation,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	if ownerID != "" {
		claims["owner"] = ownerID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
