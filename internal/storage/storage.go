package storage

import (
	"applybureau/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	registrantsTable = "registrants"
	adminsTable      = "admins"
)

var (
	ErrRegistrantNotFound = errors.New("registrant not found")
	ErrAdminNotFound      = errors.New("admin not found")

	// ErrRaceLost means the conditional activation update matched zero rows:
	// another request consumed the token first.
	ErrRaceLost = errors.New("activation already performed")

	// ErrNotEligible means the onboarding-approval guard did not hold
	// (payment unconfirmed or account inactive).
	ErrNotEligible = errors.New("registrant not eligible")
)

type Storage interface {
	// Registrant lifecycle
	UpsertRegistrant(ctx context.Context, email, fullName, paymentRef string) (uuid.UUID, error)
	SetRegistrationToken(ctx context.Context, registrantID uuid.UUID, token string, expiresAt time.Time) error
	GetRegistrantByID(ctx context.Context, registrantID uuid.UUID) (models.Registrant, error)
	GetRegistrantByEmail(ctx context.Context, email string) (models.Registrant, error)
	ListRegistrants(ctx context.Context) ([]models.Registrant, error)

	// ActivateRegistrant is the one mutating step of account activation. It
	// must be a single conditional update guarded by token_used = FALSE so
	// concurrent attempts resolve to exactly one winner.
	ActivateRegistrant(ctx context.Context, registrantID uuid.UUID, passcodeHash string) error

	// ApproveOnboarding flips the onboarding flags, guarded so the unlock
	// invariant (never unlocked without confirmed payment) holds by
	// construction.
	ApproveOnboarding(ctx context.Context, registrantID uuid.UUID) error

	// Admin identity
	GetAdminByEmail(ctx context.Context, email string) (models.Admin, error)

	Close()
}

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgresStorage(dbURL string) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	conn, err := pgxpool.Connect(context.Background(), dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		db: conn,
	}, nil
}

func (p *PostgresStorage) UpsertRegistrant(ctx context.Context, email, fullName, paymentRef string) (uuid.UUID, error) {
	const op = "storage.UpsertRegistrant"

	var registrantID uuid.UUID
	query := fmt.Sprintf(`INSERT INTO %s(email, full_name, payment_confirmed, payment_reference)
	VALUES (lower($1), $2, TRUE, $3)
	ON CONFLICT (email) DO UPDATE
	SET full_name = EXCLUDED.full_name,
	    payment_confirmed = TRUE,
	    payment_reference = EXCLUDED.payment_reference,
	    updated_at = now()
	RETURNING id;`, registrantsTable)

	err := p.db.QueryRow(ctx, query, email, fullName, paymentRef).Scan(&registrantID)
	if err != nil {
		return registrantID, fmt.Errorf("%s: %w", op, err)
	}

	return registrantID, nil
}

func (p *PostgresStorage) SetRegistrationToken(ctx context.Context, registrantID uuid.UUID, token string, expiresAt time.Time) error {
	const op = "storage.SetRegistrationToken"

	// Re-issuance overwrites the stored credential and unconditionally
	// resets token_used: a fresh invite supersedes whatever came before.
	query := fmt.Sprintf(`UPDATE %s
	SET registration_token = $2,
	    token_expires_at = $3,
	    token_used = FALSE,
	    updated_at = now()
	WHERE id = $1`, registrantsTable)

	tag, err := p.db.Exec(ctx, query, registrantID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrRegistrantNotFound)
	}

	return nil
}

func (p *PostgresStorage) GetRegistrantByID(ctx context.Context, registrantID uuid.UUID) (models.Registrant, error) {
	const op = "storage.GetRegistrantByID"

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1;`, registrantColumns, registrantsTable)

	registrant, err := scanRegistrant(p.db.QueryRow(ctx, query, registrantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registrant, fmt.Errorf("%s: %w", op, ErrRegistrantNotFound)
		}
		return registrant, fmt.Errorf("%s: %w", op, err)
	}

	return registrant, nil
}

func (p *PostgresStorage) GetRegistrantByEmail(ctx context.Context, email string) (models.Registrant, error) {
	const op = "storage.GetRegistrantByEmail"

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email=lower($1);`, registrantColumns, registrantsTable)

	registrant, err := scanRegistrant(p.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registrant, fmt.Errorf("%s: %w", op, ErrRegistrantNotFound)
		}
		return registrant, fmt.Errorf("%s: %w", op, err)
	}

	return registrant, nil
}

func (p *PostgresStorage) ListRegistrants(ctx context.Context) ([]models.Registrant, error) {
	const op = "storage.ListRegistrants"

	var registrants []models.Registrant
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC;`, registrantColumns, registrantsTable)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return registrants, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		registrant, err := scanRegistrant(rows)
		if err != nil {
			return registrants, fmt.Errorf("%s: %w", op, err)
		}

		registrants = append(registrants, registrant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return registrants, nil
}

func (p *PostgresStorage) ActivateRegistrant(ctx context.Context, registrantID uuid.UUID, passcodeHash string) error {
	const op = "storage.ActivateRegistrant"

	// Single conditional update: the WHERE guard makes concurrent
	// activations linearizable without in-process locking. The stored
	// credential is cleared; token_used alone already blocks reuse.
	query := fmt.Sprintf(`UPDATE %s
	SET passcode_hash = $2,
	    is_active = TRUE,
	    token_used = TRUE,
	    registration_token = NULL,
	    updated_at = now()
	WHERE id = $1 AND token_used = FALSE`, registrantsTable)

	tag, err := p.db.Exec(ctx, query, registrantID, passcodeHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrRaceLost)
	}

	return nil
}

func (p *PostgresStorage) ApproveOnboarding(ctx context.Context, registrantID uuid.UUID) error {
	const op = "storage.ApproveOnboarding"

	query := fmt.Sprintf(`UPDATE %s
	SET onboarding_completed = TRUE,
	    profile_unlocked = TRUE,
	    updated_at = now()
	WHERE id = $1 AND payment_confirmed = TRUE AND is_active = TRUE`, registrantsTable)

	tag, err := p.db.Exec(ctx, query, registrantID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotEligible)
	}

	return nil
}

func (p *PostgresStorage) GetAdminByEmail(ctx context.Context, email string) (models.Admin, error) {
	const op = "storage.GetAdminByEmail"

	var admin models.Admin
	query := fmt.Sprintf("SELECT id, email, full_name, password_hash, created_at FROM %s WHERE email=lower($1);", adminsTable)

	err := p.db.QueryRow(ctx, query, email).Scan(&admin.ID, &admin.Email, &admin.FullName, &admin.PasswordHash, &admin.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return admin, fmt.Errorf("%s: %w", op, ErrAdminNotFound)
		}
		return admin, fmt.Errorf("%s: %w", op, err)
	}

	return admin, nil
}

func (p *PostgresStorage) Close() {
	p.db.Close()
}

const registrantColumns = `id, email, full_name, payment_confirmed, payment_reference,
	registration_token, token_expires_at, token_used, is_active, passcode_hash,
	onboarding_completed, profile_unlocked, created_at, updated_at`

func scanRegistrant(row pgx.Row) (models.Registrant, error) {
	var r models.Registrant

	err := row.Scan(
		&r.ID,
		&r.Email,
		&r.FullName,
		&r.PaymentConfirmed,
		&r.PaymentReference,
		&r.RegistrationToken,
		&r.TokenExpiresAt,
		&r.TokenUsed,
		&r.IsActive,
		&r.PasscodeHash,
		&r.OnboardingCompleted,
		&r.ProfileUnlocked,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}

	return r, nil
}
