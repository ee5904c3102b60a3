package service

import (
	"context"
	"fmt"
	"sync"

	"firebase.google.com/go/v4/auth"
)

// MockAuthClient implements FirebaseAuthClient for tests
type MockAuthClient struct {
	mu sync.RWMutex
	// Key: ID Token provided in the request
	// Value: *auth.Token (what VerifyIDToken returns)
	ValidTokens map[string]*auth.Token
}

func NewMockAuthClient() *MockAuthClient {
	return &MockAuthClient{
		ValidTokens: make(map[string]*auth.Token),
	}
}

func (m *MockAuthClient) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if token, ok := m.ValidTokens[idToken]; ok {
		return token, nil
	}
	return nil, fmt.Errorf("invalid mock token")
}

// AddMockUser registers tokenString as a valid ID token for uid
func (m *MockAuthClient) AddMockUser(tokenString string, uid string, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidTokens[tokenString] = &auth.Token{
		UID: uid,
		Claims: map[string]interface{}{
			"email": email,
		},
	}
}
