package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the agent access token claims for the /v1 API.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CallClaims bind a browser to one call session. They are signed with the
// call token secret, never the agent secret.
type CallClaims struct {
	jwt.RegisteredClaims

	SessionID string `json:"session_id"`
	User      string `json:"user"`
}
