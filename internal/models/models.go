package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// Registrant is a prospect whose payment has been confirmed. The row is
// created or refreshed by the invite action and mutated once by account
// activation.
type Registrant struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	FullName            string     `json:"full_name"`
	PaymentConfirmed    bool       `json:"payment_confirmed"`
	PaymentReference    string     `json:"payment_reference,omitempty"`
	RegistrationToken   *string    `json:"-"`
	TokenExpiresAt      *time.Time `json:"token_expires_at,omitempty"`
	TokenUsed           bool       `json:"token_used"`
	IsActive            bool       `json:"is_active"`
	PasscodeHash        *string    `json:"-"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	ProfileUnlocked     bool       `json:"profile_unlocked"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Admin is the single authoritative administrator identity.
type Admin struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invite is what the credential issuer hands back: the signed registration
// credential plus when it stops being valid.
type Invite struct {
	RegistrantID uuid.UUID `json:"registrant_id"`
	Credential   string    `json:"credential,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccountSummary is returned after activation. It never carries the
// password or its hash.
type AccountSummary struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
}
