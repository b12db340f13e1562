package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in tokens
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
	// RoleService is used by backends that publish PPE events
	RoleService = "service"
)

// Claims represents JWT claims
type Claims struct {
	UserID       string `json:"uid"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is who a token is issued to
type Identity struct {
	UserID       string
	Username     string
	Role         string
	DepartmentID string
	TenantID     string
}

var jwtSecret []byte

// InitJWT initializes JWT secret
func InitJWT(secret string) {
	jwtSecret = []byte(secret)
}

// GenerateToken generates a JWT token
func GenerateToken(id Identity, expireAt time.Time, issuer string) (string, error) {
	if len(jwtSecret) == 0 {
		return "", fmt.Errorf("JWT secret not initialized")
	}

	claims := Claims{
		UserID:       id.UserID,
		Username:     id.Username,
		Role:         id.Role,
		DepartmentID: id.DepartmentID,
		TenantID:     id.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseToken parses and validates a JWT token
func ParseToken(tokenString string) (*Claims, error) {
	if len(jwtSecret) == 0 {
		return nil, fmt.Errorf("JWT secret not initialized")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// IsAdmin reports whether the claims carry the admin role
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IsManagerOf reports whether the claims belong to a manager of departmentID
func (c *Claims) IsManagerOf(departmentID string) bool {
	return c.Role == RoleManager && departmentID != "" && c.DepartmentID == departmentID
}
