package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mansoorceksport/fitsync/internal/config"
	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/oklog/ulid/v2"
)

var ErrInvalidIDToken = errors.New("invalid firebase id token")

// FirebaseAuthClient defines the interface for Firebase Auth operations
// This allows mocking for tests
type FirebaseAuthClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthService exchanges Firebase ID tokens for fitsync session tokens
type AuthService struct {
	authClient FirebaseAuthClient
	jwtConfig  config.JWTConfig
	now        func() time.Time
}

func NewAuthService(authClient FirebaseAuthClient, jwtConfig config.JWTConfig) *AuthService {
	return &AuthService{
		authClient: authClient,
		jwtConfig:  jwtConfig,
		now:        time.Now,
	}
}

// Session is the result of a successful sign-in
type Session struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"owner_id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignIn verifies the Firebase ID token and issues a signed session token for its uid
func (s *AuthService) SignIn(ctx context.Context, idToken string) (*Session, error) {
	if idToken == "" {
		return nil, ErrInvalidIDToken
	}
	token, err := s.authClient.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	email, _ := token.Claims["email"].(string)
	name, _ := token.Claims["name"].(string)
	if name == "" {
		name = email
	}

	now := s.now()
	expiresAt := now.Add(s.jwtConfig.TTL)
	claims := domain.SessionClaims{
		OwnerID: token.UID,
		Email:   email,
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   token.UID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &Session{
		Token:     signed,
		OwnerID:   token.UID,
		Email:     email,
		Name:      name,
		ExpiresAt: expiresAt,
	}, nil
}
