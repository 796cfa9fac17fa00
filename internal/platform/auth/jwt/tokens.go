package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrInvalidIssuer = errors.New("invalid issuer")
)

// OperatorClaims represents claims in an operator admin token, the only
// kind of token this service issues: it authorizes calls against the
// admin HTTP surface (enqueue, cancel, inspect) and carries no end-user
// identity.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// TokenService handles operator JWT generation and validation
type TokenService struct {
	keyManager       *KeyManager
	issuer           string
	operatorTokenTTL time.Duration
}

// TokenServiceConfig holds configuration for the token service
type TokenServiceConfig struct {
	Issuer           string
	OperatorTokenTTL time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(keyManager *KeyManager, cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		keyManager:       keyManager,
		issuer:           cfg.Issuer,
		operatorTokenTTL: cfg.OperatorTokenTTL,
	}
}

// IssueOperatorToken creates a token authorizing calls to the admin surface
// under principalID, carrying the given roles.
func (s *TokenService) IssueOperatorToken(principalID string, roles []string) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.operatorTokenTTL)),
		},
		Roles: roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyManager.KeyID()

	return token.SignedString(s.keyManager.PrivateKey())
}

// ValidateOperatorToken validates a token and returns its claims.
func (s *TokenService) ValidateOperatorToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return s.keyManager.PublicKey(), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Issuer != s.issuer {
		return nil, ErrInvalidIssuer
	}

	return claims, nil
}
