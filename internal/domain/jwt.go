package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims of a fitsync session token. OwnerID is the Firebase
// uid and scopes every workout collection.
type SessionClaims struct {
	OwnerID string `json:"owner_id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
