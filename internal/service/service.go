package service

import (
	"applybureau/internal/auth"
	"applybureau/internal/config"
	"applybureau/internal/mail"
	"applybureau/internal/models"
	"applybureau/internal/storage"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gofrs/uuid"
	googleuuid "github.com/google/uuid"
)

const inviteTemplate = "registration_invite"

var (
	// ErrTokenAlreadyUsed: the registrant completed activation earlier; the
	// flag never flips back.
	ErrTokenAlreadyUsed = errors.New("registration token already used")

	// ErrTokenMismatch: the presented credential is not the currently
	// stored one, i.e. a later re-issue superseded it.
	ErrTokenMismatch = errors.New("registration token superseded")

	ErrInvalidCredentials = errors.New("invalid email or password")
)

type Service interface {
	// Core registration workflow
	IssueRegistrationCredential(ctx context.Context, email, fullName, paymentRef string) (models.Invite, error)
	ValidateCredential(ctx context.Context, credential string) (models.Registrant, error)
	ActivateAccount(ctx context.Context, credential, password string) (models.AccountSummary, error)
	IsProfileUnlocked(ctx context.Context, registrantID uuid.UUID) (bool, error)

	// Admin surface
	AdminLogin(ctx context.Context, email, password string) (string, error)
	ApproveOnboarding(ctx context.Context, registrantID uuid.UUID) error
	GetRegistrantByID(ctx context.Context, registrantID uuid.UUID) (models.Registrant, error)
	ListRegistrants(ctx context.Context) ([]models.Registrant, error)
}

type service struct {
	storage storage.Storage
	mailer  mail.Sender
	cfg     *config.Config
	log     *slog.Logger
}

func NewService(st storage.Storage, mailer mail.Sender, cfg *config.Config, log *slog.Logger) *service {
	return &service{
		storage: st,
		mailer:  mailer,
		cfg:     cfg,
		log:     log,
	}
}

// IssueRegistrationCredential confirms a prospect's payment and issues a
// fresh single-use registration credential. Re-issuing is always allowed and
// supersedes any prior credential, used or not.
func (s *service) IssueRegistrationCredential(ctx context.Context, email, fullName, paymentRef string) (models.Invite, error) {
	const op = "service.IssueRegistrationCredential"

	if paymentRef == "" {
		paymentRef = "pay_" + googleuuid.NewString()
	}

	registrantID, err := s.storage.UpsertRegistrant(ctx, email, fullName, paymentRef)
	if err != nil {
		return models.Invite{}, fmt.Errorf("%s: %w", op, err)
	}

	credential, expiresAt, err := auth.GenerateRegistrationToken([]byte(s.cfg.TokenSecret), registrantID, s.cfg.RegistrationTokenTTL)
	if err != nil {
		return models.Invite{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.SetRegistrationToken(ctx, registrantID, credential, expiresAt); err != nil {
		return models.Invite{}, fmt.Errorf("%s: %w", op, err)
	}

	msg := mail.Message{
		To:       email,
		Template: inviteTemplate,
		Data: map[string]string{
			"full_name":        fullName,
			"registration_url": s.registrationURL(credential),
			"expires_at":       expiresAt.Format("2006-01-02 15:04 MST"),
		},
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		// The credential is already persisted; a delivery failure is not
		// fatal because the admin can always re-issue.
		s.log.Error("failed to send invite email", slog.String("email", email), slog.Any("error", err))
	}

	s.log.Info("registration credential issued",
		slog.Any("registrant_id", registrantID),
		slog.Time("expires_at", expiresAt),
	)

	return models.Invite{
		RegistrantID: registrantID,
		Credential:   credential,
		ExpiresAt:    expiresAt,
	}, nil
}

// ValidateCredential checks whether a presented credential currently grants
// the right to complete registration. Pure read, no flags change.
func (s *service) ValidateCredential(ctx context.Context, credential string) (models.Registrant, error) {
	const op = "service.ValidateCredential"

	// The signed payload is the security boundary; the token_expires_at
	// column is only a convenience index.
	registrantID, err := auth.ParseRegistrationToken([]byte(s.cfg.TokenSecret), credential)
	if err != nil {
		return models.Registrant{}, fmt.Errorf("%s: %w", op, err)
	}

	registrant, err := s.storage.GetRegistrantByID(ctx, registrantID)
	if err != nil {
		return models.Registrant{}, fmt.Errorf("%s: %w", op, err)
	}

	if registrant.TokenUsed {
		return models.Registrant{}, fmt.Errorf("%s: %w", op, ErrTokenAlreadyUsed)
	}

	if registrant.RegistrationToken == nil || *registrant.RegistrationToken != credential {
		return models.Registrant{}, fmt.Errorf("%s: %w", op, ErrTokenMismatch)
	}

	return registrant, nil
}

// ActivateAccount consumes a valid credential exactly once and materializes
// the account. Concurrent attempts resolve through the storage layer's
// conditional update: one winner, the rest lose the race.
func (s *service) ActivateAccount(ctx context.Context, credential, password string) (models.AccountSummary, error) {
	const op = "service.ActivateAccount"

	registrant, err := s.ValidateCredential(ctx, credential)
	if err != nil {
		return models.AccountSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := auth.ValidatePassword(password); err != nil {
		return models.AccountSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	passcodeHash, err := auth.HashPassword(password)
	if err != nil {
		return models.AccountSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.ActivateRegistrant(ctx, registrant.ID, passcodeHash); err != nil {
		return models.AccountSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("account activated", slog.Any("registrant_id", registrant.ID))

	return models.AccountSummary{
		ID:       registrant.ID,
		Email:    registrant.Email,
		FullName: registrant.FullName,
	}, nil
}

// IsProfileUnlocked derives the gate for post-onboarding features. Read
// only: it never writes profile_unlocked, that belongs to the
// onboarding-approval action.
func (s *service) IsProfileUnlocked(ctx context.Context, registrantID uuid.UUID) (bool, error) {
	const op = "service.IsProfileUnlocked"

	registrant, err := s.storage.GetRegistrantByID(ctx, registrantID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if registrant.ProfileUnlocked && !registrant.PaymentConfirmed {
		// Unlock must never precede payment confirmation. Flag the row and
		// fail closed.
		s.log.Warn("inconsistent registrant state: unlocked without confirmed payment",
			slog.Any("registrant_id", registrantID),
		)
		return false, nil
	}

	return registrant.IsActive && registrant.PaymentConfirmed && registrant.OnboardingCompleted, nil
}

func (s *service) AdminLogin(ctx context.Context, email, password string) (string, error) {
	const op = "service.AdminLogin"

	admin, err := s.storage.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAdminNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if ok := auth.CheckPasswordHash(admin.PasswordHash, password); !ok {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	token, err := auth.GenerateAdminToken([]byte(s.cfg.TokenSecret), admin.ID, admin.Email, s.cfg.AdminSessionTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (s *service) ApproveOnboarding(ctx context.Context, registrantID uuid.UUID) error {
	const op = "service.ApproveOnboarding"

	if err := s.storage.ApproveOnboarding(ctx, registrantID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("onboarding approved", slog.Any("registrant_id", registrantID))

	return nil
}

func (s *service) GetRegistrantByID(ctx context.Context, registrantID uuid.UUID) (models.Registrant, error) {
	const op = "service.GetRegistrantByID"

	registrant, err := s.storage.GetRegistrantByID(ctx, registrantID)
	if err != nil {
		return models.Registrant{}, fmt.Errorf("%s: %w", op, err)
	}

	return registrant, nil
}

func (s *service) ListRegistrants(ctx context.Context) ([]models.Registrant, error) {
	const op = "service.ListRegistrants"

	registrants, err := s.storage.ListRegistrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return registrants, nil
}

func (s *service) registrationURL(credential string) string {
	base := strings.TrimRight(s.cfg.FrontendBaseURL, "/")
	return fmt.Sprintf("%s/register?token=%s", base, url.QueryEscape(credential))
}
