package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the roles understood by the RBAC middleware.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleScheduler UserRole = "SCHEDULER"
	RoleViewer    UserRole = "VIEWER"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email,omitempty"`
	jwt.RegisteredClaims
}
