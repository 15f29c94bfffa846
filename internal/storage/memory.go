package storage

import (
	"applybureau/internal/models"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// MemoryStorage keeps the registrant table in process memory. It backs the
// test suites; the mutex plays the role of the database's row-level
// conditional update.
type MemoryStorage struct {
	mu          sync.Mutex
	registrants map[uuid.UUID]models.Registrant
	admins      map[string]models.Admin
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		registrants: make(map[uuid.UUID]models.Registrant),
		admins:      make(map[string]models.Admin),
	}
}

func (m *MemoryStorage) UpsertRegistrant(_ context.Context, email, fullName, paymentRef string) (uuid.UUID, error) {
	const op = "storage.MemoryStorage.UpsertRegistrant"

	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(email)
	now := time.Now().UTC()

	for id, r := range m.registrants {
		if r.Email == key {
			r.FullName = fullName
			r.PaymentConfirmed = true
			r.PaymentReference = paymentRef
			r.UpdatedAt = now
			m.registrants[id] = r
			return id, nil
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	m.registrants[id] = models.Registrant{
		ID:               id,
		Email:            key,
		FullName:         fullName,
		PaymentConfirmed: true,
		PaymentReference: paymentRef,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	return id, nil
}

func (m *MemoryStorage) SetRegistrationToken(_ context.Context, registrantID uuid.UUID, token string, expiresAt time.Time) error {
	const op = "storage.MemoryStorage.SetRegistrationToken"

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.registrants[registrantID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrRegistrantNotFound)
	}

	r.RegistrationToken = &token
	r.TokenExpiresAt = &expiresAt
	r.TokenUsed = false
	r.UpdatedAt = time.Now().UTC()
	m.registrants[registrantID] = r

	return nil
}

func (m *MemoryStorage) GetRegistrantByID(_ context.Context, registrantID uuid.UUID) (models.Registrant, error) {
	const op = "storage.MemoryStorage.GetRegistrantByID"

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.registrants[registrantID]
	if !ok {
		return models.Registrant{}, fmt.Errorf("%s: %w", op, ErrRegistrantNotFound)
	}

	return r, nil
}

func (m *MemoryStorage) GetRegistrantByEmail(_ context.Context, email string) (models.Registrant, error) {
	const op = "storage.MemoryStorage.GetRegistrantByEmail"

	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(email)
	for _, r := range m.registrants {
		if r.Email == key {
			return r, nil
		}
	}

	return models.Registrant{}, fmt.Errorf("%s: %w", op, ErrRegistrantNotFound)
}

func (m *MemoryStorage) ListRegistrants(_ context.Context) ([]models.Registrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	registrants := make([]models.Registrant, 0, len(m.registrants))
	for _, r := range m.registrants {
		registrants = append(registrants, r)
	}

	sort.Slice(registrants, func(i, j int) bool {
		return registrants[i].CreatedAt.After(registrants[j].CreatedAt)
	})

	return registrants, nil
}

func (m *MemoryStorage) ActivateRegistrant(_ context.Context, registrantID uuid.UUID, passcodeHash string) error {
	const op = "storage.MemoryStorage.ActivateRegistrant"

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.registrants[registrantID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrRaceLost)
	}
	if r.TokenUsed {
		return fmt.Errorf("%s: %w", op, ErrRaceLost)
	}

	r.PasscodeHash = &passcodeHash
	r.IsActive = true
	r.TokenUsed = true
	r.RegistrationToken = nil
	r.UpdatedAt = time.Now().UTC()
	m.registrants[registrantID] = r

	return nil
}

func (m *MemoryStorage) ApproveOnboarding(_ context.Context, registrantID uuid.UUID) error {
	const op = "storage.MemoryStorage.ApproveOnboarding"

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.registrants[registrantID]
	if !ok || !r.PaymentConfirmed || !r.IsActive {
		return fmt.Errorf("%s: %w", op, ErrNotEligible)
	}

	r.OnboardingCompleted = true
	r.ProfileUnlocked = true
	r.UpdatedAt = time.Now().UTC()
	m.registrants[registrantID] = r

	return nil
}

func (m *MemoryStorage) GetAdminByEmail(_ context.Context, email string) (models.Admin, error) {
	const op = "storage.MemoryStorage.GetAdminByEmail"

	m.mu.Lock()
	defer m.mu.Unlock()

	admin, ok := m.admins[strings.ToLower(email)]
	if !ok {
		return models.Admin{}, fmt.Errorf("%s: %w", op, ErrAdminNotFound)
	}

	return admin, nil
}

// PutAdmin seeds an administrator account. Used by tests and local setup.
func (m *MemoryStorage) PutAdmin(admin models.Admin) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.admins[strings.ToLower(admin.Email)] = admin
}

// PutRegistrant overwrites a registrant row as-is. Test hook for preparing
// specific flag combinations.
func (m *MemoryStorage) PutRegistrant(r models.Registrant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.Email = strings.ToLower(r.Email)
	m.registrants[r.ID] = r
}

func (m *MemoryStorage) Close() {}
