package ingest

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Device token policy
//
// Devices authenticate batch uploads with a long-lived bearer JWT issued at
// pairing time. The token binds a device to a family; there is no refresh
// flow, because a rejected token means the device was unpaired and must be
// paired again. The agent reacts to a 401/403 by halting uploads rather than
// retrying, so an expired or revoked token never burns battery on doomed
// requests.

// DeviceTokenExpiry is how long device tokens are valid. Pairing is a
// deliberate user action, so a long expiry beats frequent re-pairing.
const DeviceTokenExpiry = 90 * 24 * time.Hour

// Predefined token errors.
var (
	ErrInvalidDeviceToken = errors.New("invalid device token")
	ErrDeviceTokenExpired = errors.New("device token has expired")
)

// DeviceClaims represents the claims in device upload tokens.
type DeviceClaims struct {
	jwt.RegisteredClaims

	// DeviceID is the authenticated device's ID.
	DeviceID string `json:"did"`

	// FamilyID is the family the device reports into.
	FamilyID string `json:"fid"`
}

// TokenService handles device token creation and validation.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the secret key used to sign device tokens.
	SigningKey string

	// Issuer is the issuer claim for tokens (e.g., "https://api.famloop.app").
	Issuer string

	// Audience is the audience claim for tokens (e.g., "famloop-ingest").
	Audience string
}

// NewTokenService creates a new device token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
	}
}

// GenerateDeviceToken creates an upload token for the given device.
func (s *TokenService) GenerateDeviceToken(deviceID, familyID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(DeviceTokenExpiry)

	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   deviceID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		DeviceID: deviceID,
		FamilyID: familyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing device token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateDeviceToken validates a device token and returns the claims.
func (s *TokenService) ValidateDeviceToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrDeviceTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeviceToken, err.Error())
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidDeviceToken
	}

	return claims, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
