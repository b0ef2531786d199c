// Package auth provides JWT bearer issuance/validation and layered rate
// limiting for the sync REST transport.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
)

// Claims identifies the authenticated principal: either a human user or a
// bare device (guest sync client provisioned without a user account).
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	DeviceID string `json:"device_id"`
	Guest    bool   `json:"guest"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, syncerrors.Validation("jwt_secret", "must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// IssueUserToken mints a token for an authenticated human user.
func (t *TokenIssuer) IssueUserToken(userID, deviceID string) (string, error) {
	return t.issue(Claims{UserID: userID, DeviceID: deviceID})
}

// IssueGuestToken mints a device-scoped token with no associated user, for
// sync clients that haven't completed account setup.
func (t *TokenIssuer) IssueGuestToken(deviceID string) (string, error) {
	return t.issue(Claims{DeviceID: deviceID, Guest: true})
}

func (t *TokenIssuer) issue(claims Claims) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", syncerrors.New(syncerrors.KindValidation, "sign token").WithCause(err).Build()
	}
	return signed, nil
}

// Validate parses and verifies a bearer token, rejecting any signing
// method other than HMAC.
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, syncerrors.New(syncerrors.KindValidation, "invalid or expired token").WithCause(err).Build()
	}
	return claims, nil
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", syncerrors.New(syncerrors.KindValidation, "hash password").WithCause(err).Build()
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against its bcrypt hash.
func VerifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
