package service

import (
	"applybureau/internal/auth"
	"applybureau/internal/config"
	"applybureau/internal/mail"
	"applybureau/internal/models"
	"applybureau/internal/storage"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (r *recordingSender) Send(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingSender) last(t *testing.T) mail.Message {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.messages) == 0 {
		t.Fatal("no mail recorded")
	}
	return r.messages[len(r.messages)-1]
}

func testConfig(ttl time.Duration) *config.Config {
	return &config.Config{
		Env: "local",
		Auth: config.Auth{
			TokenSecret:          "test-secret",
			RegistrationTokenTTL: ttl,
			AdminSessionTTL:      time.Minute,
			FrontendBaseURL:      "https://app.applybureau.test",
		},
	}
}

func newTestService(ttl time.Duration) (*service, *storage.MemoryStorage, *recordingSender) {
	st := storage.NewMemoryStorage()
	mailer := &recordingSender{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewService(st, mailer, testConfig(ttl), log), st, mailer
}

func TestIssueThenValidate(t *testing.T) {
	svc, _, mailer := newTestService(time.Hour)
	ctx := context.Background()

	invite, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "pay_123")
	if err != nil {
		t.Fatalf("IssueRegistrationCredential: %v", err)
	}
	if invite.Credential == "" {
		t.Fatal("empty credential")
	}

	registrant, err := svc.ValidateCredential(ctx, invite.Credential)
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	if registrant.ID != invite.RegistrantID {
		t.Errorf("validated id = %s, want %s", registrant.ID, invite.RegistrantID)
	}
	if !registrant.PaymentConfirmed {
		t.Error("payment_confirmed not set by issue")
	}

	msg := mailer.last(t)
	if msg.To != "jane@example.com" || msg.Template != "registration_invite" {
		t.Errorf("unexpected mail hand-off: %+v", msg)
	}

	regURL, err := url.Parse(msg.Data["registration_url"])
	if err != nil {
		t.Fatalf("bad registration url: %v", err)
	}
	if got := regURL.Query().Get("token"); got != invite.Credential {
		t.Error("registration url does not embed the issued credential")
	}
}

func TestEmailIsCaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)
	ctx := context.Background()

	first, err := svc.IssueRegistrationCredential(ctx, "Jane@Example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}

	second, err := svc.IssueRegistrationCredential(ctx, "jane@example.COM", "Jane Doe", "")
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	if first.RegistrantID != second.RegistrantID {
		t.Error("same email with different casing created two registrants")
	}
}

func TestReissueSupersedesOldCredential(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)
	ctx := context.Background()

	old, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}

	// The signing payload changes between issues (iat/exp), so a re-issue
	// one second apart produces a distinct credential.
	time.Sleep(1100 * time.Millisecond)

	fresh, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if fresh.Credential == old.Credential {
		t.Fatal("re-issue produced the identical credential")
	}

	// The old credential still has a valid signature and expiry but is no
	// longer the stored one.
	if _, err := svc.ValidateCredential(ctx, old.Credential); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("old credential: err = %v, want ErrTokenMismatch", err)
	}

	if _, err := svc.ValidateCredential(ctx, fresh.Credential); err != nil {
		t.Errorf("fresh credential rejected: %v", err)
	}
}

func TestActivateEndToEnd(t *testing.T) {
	svc, st, _ := newTestService(time.Hour)
	ctx := context.Background()

	invite, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("IssueRegistrationCredential: %v", err)
	}

	account, err := svc.ActivateAccount(ctx, invite.Credential, "Str0ngPass!")
	if err != nil {
		t.Fatalf("ActivateAccount: %v", err)
	}
	if account.ID != invite.RegistrantID || account.Email != "jane@example.com" {
		t.Errorf("unexpected account summary: %+v", account)
	}

	registrant, err := st.GetRegistrantByID(ctx, invite.RegistrantID)
	if err != nil {
		t.Fatalf("GetRegistrantByID: %v", err)
	}
	if !registrant.IsActive {
		t.Error("is_active not set")
	}
	if !registrant.TokenUsed {
		t.Error("token_used not set")
	}
	if registrant.RegistrationToken != nil {
		t.Error("registration_token not cleared")
	}
	if registrant.PasscodeHash == nil || !auth.CheckPasswordHash(*registrant.PasscodeHash, "Str0ngPass!") {
		t.Error("passcode_hash missing or not matching the chosen password")
	}

	// The consumed credential must never be accepted again.
	if _, err := svc.ValidateCredential(ctx, invite.Credential); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Errorf("consumed credential: err = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestActivateWeakPasswordLeavesStateUnchanged(t *testing.T) {
	svc, st, _ := newTestService(time.Hour)
	ctx := context.Background()

	invite, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("IssueRegistrationCredential: %v", err)
	}

	if _, err := svc.ActivateAccount(ctx, invite.Credential, "abc"); !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("err = %v, want ErrWeakPassword", err)
	}

	registrant, err := st.GetRegistrantByID(ctx, invite.RegistrantID)
	if err != nil {
		t.Fatalf("GetRegistrantByID: %v", err)
	}
	if registrant.IsActive || registrant.TokenUsed || registrant.PasscodeHash != nil {
		t.Errorf("state mutated by rejected activation: %+v", registrant)
	}

	// The credential stays valid for a retry with a proper password.
	if _, err := svc.ActivateAccount(ctx, invite.Credential, "Str0ngPass!"); err != nil {
		t.Errorf("retry after weak password failed: %v", err)
	}
}

func TestExpiredCredential(t *testing.T) {
	svc, _, _ := newTestService(-time.Second)
	ctx := context.Background()

	invite, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("IssueRegistrationCredential: %v", err)
	}

	if _, err := svc.ValidateCredential(ctx, invite.Credential); !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}

	if _, err := svc.ActivateAccount(ctx, invite.Credential, "Str0ngPass!"); !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("activation err = %v, want ErrTokenExpired", err)
	}
}

func TestUnknownRegistrant(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)
	ctx := context.Background()

	ghost, err := uuid.NewV4()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}

	token, _, err := auth.GenerateRegistrationToken([]byte("test-secret"), ghost, time.Hour)
	if err != nil {
		t.Fatalf("GenerateRegistrationToken: %v", err)
	}

	if _, err := svc.ValidateCredential(ctx, token); !errors.Is(err, storage.ErrRegistrantNotFound) {
		t.Errorf("err = %v, want ErrRegistrantNotFound", err)
	}
}

func TestConcurrentActivationSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)
	ctx := context.Background()

	invite, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("IssueRegistrationCredential: %v", err)
	}

	const attempts = 8

	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ActivateAccount(ctx, invite.Credential, "Str0ngPass!")
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrRaceLost), errors.Is(err, ErrTokenAlreadyUsed):
			losses++
		default:
			t.Errorf("unexpected activation error: %v", err)
		}
	}

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != attempts-1 {
		t.Errorf("losses = %d, want %d", losses, attempts-1)
	}
}

func TestUnlockGateFlagCombinations(t *testing.T) {
	svc, st, _ := newTestService(time.Hour)
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		active := i&1 != 0
		paid := i&2 != 0
		onboarded := i&4 != 0
		unlockedFlag := i&8 != 0

		id, err := uuid.NewV4()
		if err != nil {
			t.Fatalf("uuid: %v", err)
		}

		st.PutRegistrant(models.Registrant{
			ID:                  id,
			Email:               strings.ToLower(id.String()) + "@example.com",
			FullName:            "Flag Combo",
			IsActive:            active,
			PaymentConfirmed:    paid,
			OnboardingCompleted: onboarded,
			ProfileUnlocked:     unlockedFlag,
		})

		got, err := svc.IsProfileUnlocked(ctx, id)
		if err != nil {
			t.Fatalf("IsProfileUnlocked: %v", err)
		}

		want := active && paid && onboarded

		if got != want {
			t.Errorf("active=%v paid=%v onboarded=%v unlocked_flag=%v: got %v, want %v",
				active, paid, onboarded, unlockedFlag, got, want)
		}

		// The hard invariant: never unlocked without confirmed payment.
		if got && !paid {
			t.Errorf("gate returned true without payment confirmation (combo %d)", i)
		}
	}
}

func TestApproveOnboarding(t *testing.T) {
	svc, st, _ := newTestService(time.Hour)
	ctx := context.Background()

	invite, err := svc.IssueRegistrationCredential(ctx, "jane@example.com", "Jane Doe", "")
	if err != nil {
		t.Fatalf("IssueRegistrationCredential: %v", err)
	}

	// Not yet activated: approval must be refused.
	if err := svc.ApproveOnboarding(ctx, invite.RegistrantID); !errors.Is(err, storage.ErrNotEligible) {
		t.Errorf("pre-activation approval: err = %v, want ErrNotEligible", err)
	}

	if _, err := svc.ActivateAccount(ctx, invite.Credential, "Str0ngPass!"); err != nil {
		t.Fatalf("ActivateAccount: %v", err)
	}

	unlocked, err := svc.IsProfileUnlocked(ctx, invite.RegistrantID)
	if err != nil {
		t.Fatalf("IsProfileUnlocked: %v", err)
	}
	if unlocked {
		t.Error("unlocked before onboarding approval")
	}

	if err := svc.ApproveOnboarding(ctx, invite.RegistrantID); err != nil {
		t.Fatalf("ApproveOnboarding: %v", err)
	}

	unlocked, err = svc.IsProfileUnlocked(ctx, invite.RegistrantID)
	if err != nil {
		t.Fatalf("IsProfileUnlocked: %v", err)
	}
	if !unlocked {
		t.Error("not unlocked after onboarding approval")
	}

	registrant, err := st.GetRegistrantByID(ctx, invite.RegistrantID)
	if err != nil {
		t.Fatalf("GetRegistrantByID: %v", err)
	}
	if !registrant.OnboardingCompleted || !registrant.ProfileUnlocked {
		t.Errorf("onboarding flags not set: %+v", registrant)
	}
}

func TestAdminLogin(t *testing.T) {
	svc, st, _ := newTestService(time.Hour)
	ctx := context.Background()

	hash, err := auth.HashPassword("AdminPass1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	adminID, err := uuid.NewV4()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}

	st.PutAdmin(models.Admin{
		ID:           adminID,
		Email:        "ops@applybureau.com",
		FullName:     "Ops Admin",
		PasswordHash: hash,
	})

	token, err := svc.AdminLogin(ctx, "ops@applybureau.com", "AdminPass1")
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}

	claims, err := auth.ParseAdminToken([]byte("test-secret"), token)
	if err != nil {
		t.Fatalf("ParseAdminToken: %v", err)
	}
	if claims.AdminID != adminID {
		t.Errorf("admin id = %s, want %s", claims.AdminID, adminID)
	}

	if _, err := svc.AdminLogin(ctx, "ops@applybureau.com", "WrongPass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}

	// Unknown admin must fail the same way as a wrong password.
	if _, err := svc.AdminLogin(ctx, "nobody@applybureau.com", "AdminPass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown admin: err = %v, want ErrInvalidCredentials", err)
	}
}
