package auth

import (
	"errors"
	"fmt"
	"time"

	"whatsapp-calling/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformedToken = errors.New("auth: malformed call token")
	ErrExpiredToken   = errors.New("auth: call token expired")
	ErrUserMismatch   = errors.New("auth: call token issued to another user")
)

// CallTokenIssuer signs the short-lived token a browser presents to the media
// gateway. The secret is fixed per deployment so every instance verifies every
// other instance's tokens.
type CallTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewCallTokenIssuer(cfg config.CallTokenConfig) (*CallTokenIssuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("CALL_TOKEN_SECRET is required")
	}
	iss := cfg.Issuer
	if iss == "" {
		iss = "whatsapp-calling"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	return &CallTokenIssuer{secret: []byte(cfg.Secret), issuer: iss, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for userID on sessionID. ttl <= 0 uses the configured default.
func (i *CallTokenIssuer) Issue(sessionID, userID string, ttl time.Duration) (string, error) {
	if sessionID == "" || userID == "" {
		return "", errors.New("session_id and user are required")
	}
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := i.now()
	claims := CallClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		SessionID: sessionID,
		User:      userID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks signature, issuer and expiry, then that the token belongs to expectedUser.
func (i *CallTokenIssuer) Verify(token, expectedUser string) (CallClaims, error) {
	var claims CallClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return CallClaims{}, ErrExpiredToken
	case err != nil:
		return CallClaims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.SessionID == "" || claims.User == "" {
		return CallClaims{}, fmt.Errorf("%w: missing session_id or user", ErrMalformedToken)
	}
	if claims.User != expectedUser {
		return CallClaims{}, ErrUserMismatch
	}
	return claims, nil
}
