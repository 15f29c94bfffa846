package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

// Purpose tags keep the two token families apart: a registration credential
// must never authenticate an admin call and vice versa.
const (
	PurposeRegistration = "client_registration"
	PurposeAdminSession = "admin_session"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMalformedToken   = errors.New("malformed token")
	ErrTokenExpired     = errors.New("token expired")
	ErrWrongPurpose     = errors.New("token issued for a different purpose")
)

type RegistrationClaims struct {
	RegistrantID uuid.UUID `json:"registrant_id"`
	Purpose      string    `json:"purpose"`
	jwt.RegisteredClaims
}

type AdminClaims struct {
	AdminID uuid.UUID `json:"admin_id"`
	Email   string    `json:"email"`
	Purpose string    `json:"purpose"`
	jwt.RegisteredClaims
}

// GenerateRegistrationToken signs a single-purpose credential for the
// registrant. The embedded expiry is the authoritative one; the column the
// issuer stores alongside it is a convenience index only.
func GenerateRegistrationToken(secret []byte, registrantID uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	const op = "auth.GenerateRegistrationToken"

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	claims := &RegistrationClaims{
		RegistrantID: registrantID,
		Purpose:      PurposeRegistration,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, expiresAt, nil
}

// ParseRegistrationToken verifies the signature and expiry of a presented
// credential and returns the registrant it was issued for. Failures are
// collapsed into the package sentinels so callers can match with errors.Is.
func ParseRegistrationToken(secret []byte, tokenStr string) (uuid.UUID, error) {
	const op = "auth.ParseRegistrationToken"

	claims := &RegistrationClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, classifyJWTError(err))
	}
	if !token.Valid {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrMalformedToken)
	}

	if claims.Purpose != PurposeRegistration {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrWrongPurpose)
	}
	if claims.RegistrantID == uuid.Nil || claims.ExpiresAt == nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrMalformedToken)
	}

	return claims.RegistrantID, nil
}

func GenerateAdminToken(secret []byte, adminID uuid.UUID, email string, ttl time.Duration) (string, error) {
	const op = "auth.GenerateAdminToken"

	now := time.Now().UTC()
	claims := &AdminClaims{
		AdminID: adminID,
		Email:   email,
		Purpose: PurposeAdminSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

func ParseAdminToken(secret []byte, tokenStr string) (*AdminClaims, error) {
	const op = "auth.ParseAdminToken"

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classifyJWTError(err))
	}
	if !token.Valid || claims.Purpose != PurposeAdminSession || claims.AdminID == uuid.Nil {
		return nil, fmt.Errorf("%s: %w", op, ErrWrongPurpose)
	}

	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrInvalidSignature
	default:
		return ErrMalformedToken
	}
}
