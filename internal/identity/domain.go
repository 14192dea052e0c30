// Package identity is the token source: it checks credentials and issues,
// refreshes and revokes signed tokens.
package identity

import (
	"time"

	"github.com/evdms/evdms/internal/rbac"
)

// User is a credential record.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         rbac.Role
	DealerID     string
	IsActive     bool
}

// Principal returns the actor issued for u.
func (u *User) Principal() rbac.Principal {
	return rbac.Principal{ID: u.ID, DisplayName: u.DisplayName, Role: u.Role, DealerID: u.DealerID}
}

// Grant is the result of a successful login or refresh.
type Grant struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	Principal    rbac.Principal `json:"principal"`
	ExpiresAt    time.Time      `json:"expires_at"`
}
