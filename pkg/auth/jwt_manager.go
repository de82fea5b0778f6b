package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"auraaudit/pkg/validation"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrTokenRevoked  = errors.New("token has been revoked")
	ErrNoSigningKey  = errors.New("no signing key configured")
)

// JWTManager verifies RS256 access tokens and, when it holds a private key, issues them.
type JWTManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	tokenTTL   time.Duration
	issuer     string
	revoked    RevokedTokenStore
}

// JWTConfig configures a JWTManager. PrivateKeyPEM is optional for verify-only
// deployments; PublicKeyPEM may be omitted when the private key is given.
type JWTConfig struct {
	PrivateKeyPEM     string
	PublicKeyPEM      string
	TokenTTL          time.Duration
	Issuer            string
	RevokedTokenStore RevokedTokenStore
}

// Claims identifies the authenticated user of a request.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func NewJWTManager(config JWTConfig) (*JWTManager, error) {
	var (
		privateKey *rsa.PrivateKey
		publicKey  *rsa.PublicKey
		err        error
	)
	if config.PrivateKeyPEM != "" {
		privateKey, err = parsePrivateKey(config.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}
	switch {
	case config.PublicKeyPEM != "":
		publicKey, err = parsePublicKey(config.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
	case privateKey != nil:
		publicKey = &privateKey.PublicKey
	default:
		return nil, errors.New("a public or private key is required")
	}

	if config.TokenTTL == 0 {
		config.TokenTTL = 15 * time.Minute
	}
	if config.Issuer == "" {
		config.Issuer = "auraaudit"
	}
	if config.RevokedTokenStore == nil {
		config.RevokedTokenStore = NewInMemoryRevokedStore()
	}

	return &JWTManager{
		privateKey: privateKey,
		publicKey:  publicKey,
		tokenTTL:   config.TokenTTL,
		issuer:     config.Issuer,
		revoked:    config.RevokedTokenStore,
	}, nil
}

// GenerateToken signs an access token for userID.
func (jm *JWTManager) GenerateToken(userID, displayName string) (string, time.Time, error) {
	if jm.privateKey == nil {
		return "", time.Time{}, ErrNoSigningKey
	}
	if err := validation.ValidateUserID(userID); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	now := time.Now()
	expiresAt := now.Add(jm.tokenTTL)
	claims := Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jm.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(jm.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, issuer, expiry and revocation.
func (jm *JWTManager) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.publicKey, nil
	}, jwt.WithIssuer(jm.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || validation.ValidateUserID(claims.UserID) != nil {
		return nil, ErrInvalidClaims
	}

	revoked, err := jm.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke blocks the token described by claims until it would have expired anyway.
func (jm *JWTManager) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return ErrInvalidClaims
	}
	expiresAt := time.Now().Add(jm.tokenTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return jm.revoked.RevokeToken(ctx, claims.ID, expiresAt)
}

func parsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}
