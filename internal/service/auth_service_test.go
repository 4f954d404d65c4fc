package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"keyed-auth/internal/domain"
	"keyed-auth/internal/repository/repositorytest"
)

type sentMail struct {
	to        string
	token     string
	expiresAt time.Time
}

type mockNotifier struct {
	mu            sync.Mutex
	verifications []sentMail
	resets        []sentMail
	err           error
}

func (m *mockNotifier) SendVerificationToken(_ context.Context, toEmail string, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, sentMail{to: toEmail, token: token, expiresAt: expiresAt})
	return m.err
}

func (m *mockNotifier) SendPasswordReset(_ context.Context, toEmail string, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, sentMail{to: toEmail, token: token, expiresAt: expiresAt})
	return m.err
}

func (m *mockNotifier) lastVerification(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifications) == 0 {
		t.Fatalf("no verification token was sent")
	}
	return m.verifications[len(m.verifications)-1]
}

func (m *mockNotifier) lastReset(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		t.Fatalf("no password reset was sent")
	}
	return m.resets[len(m.resets)-1]
}

type authFixture struct {
	svc      *AuthService
	store    *repositorytest.MemoryStore
	tokens   *TokenService
	notifier *mockNotifier
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	store := repositorytest.NewMemoryStore()
	tokens := NewTokenService("keyed-auth-test", 15*time.Minute, 7*24*time.Hour)
	notifier := &mockNotifier{}
	svc := NewAuthService(zap.NewNop(), store, tokens, NewBcryptHasher(bcrypt.MinCost, 4), notifier, NewMemoryPrincipalCache(time.Minute))
	return authFixture{svc: svc, store: store, tokens: tokens, notifier: notifier}
}

func (f authFixture) register(t *testing.T, username, emailAddr, password string) Identity {
	t.Helper()
	id, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: emailAddr, Password: password})
	if err != nil {
		t.Fatalf("register %s: %v", emailAddr, err)
	}
	return id
}

func (f authFixture) login(t *testing.T, emailAddr, password string) TokenPair {
	t.Helper()
	pair, err := f.svc.Login(context.Background(), emailAddr, password)
	if err != nil {
		t.Fatalf("login %s: %v", emailAddr, err)
	}
	return pair
}

func TestAuthServiceRegisterLoginVerify(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	alice := f.register(t, "alice", "alice@x.com", "secret1")
	if alice.ID == "" || alice.Username != "alice" || alice.Email != "alice@x.com" {
		t.Fatalf("unexpected identity: %+v", alice)
	}
	f.register(t, "bob", "bob@x.com", "secret2")

	pair := f.login(t, "alice@x.com", "secret1")
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}
	if pair.ExpiresIn != 900 {
		t.Fatalf("expected expiresIn 900, got %d", pair.ExpiresIn)
	}

	ok, err := f.svc.Verify(ctx, pair.AccessToken, "alice@x.com")
	if err != nil || !ok {
		t.Fatalf("expected token valid for alice, got %v %v", ok, err)
	}
	ok, err = f.svc.Verify(ctx, pair.AccessToken, "bob@x.com")
	if err != nil || ok {
		t.Fatalf("expected token rejected for bob, got %v %v", ok, err)
	}
	ok, err = f.svc.Verify(ctx, pair.AccessToken, "nobody@x.com")
	if err != nil || ok {
		t.Fatalf("expected token rejected for unknown email, got %v %v", ok, err)
	}

	user, err := f.store.FindUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("find alice: %v", err)
	}
	if user.LastLogin == nil {
		t.Fatalf("expected last login to be set")
	}
	if user.PasswordHash == "secret1" {
		t.Fatalf("password stored in clear")
	}
}

func TestAuthServiceRegisterNormalizesEmail(t *testing.T) {
	f := newAuthFixture(t)
	id := f.register(t, "  alice ", "  Alice@X.com ", "secret1")
	if id.Email != "alice@x.com" || id.Username != "alice" {
		t.Fatalf("expected normalized identity, got %+v", id)
	}
	f.login(t, "ALICE@x.com", "secret1")
}

func TestAuthServiceRegisterSendsVerificationToken(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice", "alice@x.com", "secret1")
	mail := f.notifier.lastVerification(t)
	if mail.to != "alice@x.com" || mail.token == "" {
		t.Fatalf("unexpected mail: %+v", mail)
	}
	if time.Until(mail.expiresAt) < 23*time.Hour {
		t.Fatalf("expected 24h expiry, got %v", mail.expiresAt)
	}
}

func TestAuthServiceRegisterSurvivesNotifierFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.notifier.err = errors.New("smtp down")
	f.register(t, "alice", "alice@x.com", "secret1")
	if users, secrets := f.store.Counts(); users != 1 || secrets != 1 {
		t.Fatalf("expected committed user and secret, got %d %d", users, secrets)
	}
}

func TestAuthServiceRegisterRejectsEmptyFields(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.Register(context.Background(), RegisterInput{Username: " ", Email: "a@x.com", Password: "secret1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuthServiceConcurrentDuplicateRegistration(t *testing.T) {
	f := newAuthFixture(t)
	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, successes, conflicts)
	}
	if users, secrets := f.store.Counts(); users != 1 || secrets != 1 {
		t.Fatalf("expected exactly one user and one secret, got %d %d", users, secrets)
	}
}

func TestAuthServiceRegisterSecretFailureLeavesNothing(t *testing.T) {
	f := newAuthFixture(t)
	f.store.FailSecretInsert = true
	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"})
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if users, secrets := f.store.Counts(); users != 0 || secrets != 0 {
		t.Fatalf("expected no rows, got %d %d", users, secrets)
	}
}

func TestAuthServiceLoginInvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice", "alice@x.com", "secret1")

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@x.com", "nope"},
		{"unknown email", "ghost@x.com", "secret1"},
		{"empty password", "alice@x.com", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tc.email, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) || !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected invalid credentials, got %v", err)
			}
		})
	}
}

type countingHasher struct {
	PasswordHasher
	mu       sync.Mutex
	compares int
}

func (h *countingHasher) Compare(ctx context.Context, hash, password string) error {
	h.mu.Lock()
	h.compares++
	h.mu.Unlock()
	return h.PasswordHasher.Compare(ctx, hash, password)
}

func (h *countingHasher) compareCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compares
}

func TestAuthServiceLoginUnknownEmailComparesAfterCancelledRequest(t *testing.T) {
	hasher := &countingHasher{PasswordHasher: NewBcryptHasher(bcrypt.MinCost, 1)}
	svc := NewAuthService(zap.NewNop(), repositorytest.NewMemoryStore(), nil, hasher, &mockNotifier{}, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Login(cancelled, "ghost@x.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if svc.dummyHash == "" {
		t.Fatal("reference hash must survive a cancelled request")
	}

	before := hasher.compareCount()
	if _, err := svc.Login(context.Background(), "ghost@x.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if got := hasher.compareCount() - before; got != 1 {
		t.Fatalf("expected one bcrypt compare for unknown email, got %d", got)
	}
}

func TestAuthServiceLoginStoreUnavailable(t *testing.T) {
	f := newAuthFixture(t)
	f.store.Err = domain.ErrUnavailable
	_, err := f.svc.Login(context.Background(), "alice@x.com", "secret1")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestAuthServiceVerifyCrossPrincipalKey(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	bob := f.register(t, "bob", "bob@x.com", "secret2")

	aliceSecret, err := f.store.GetSecretForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("alice secret: %v", err)
	}
	forged, _, err := f.tokens.Issue(bob.ID, aliceSecret.KeyMaterial, TokenKindAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ok, err := f.svc.Verify(ctx, forged, "bob@x.com")
	if err != nil || ok {
		t.Fatalf("expected token signed with alice's key rejected for bob, got %v %v", ok, err)
	}
}

func TestAuthServiceVerifyRejectsExpiredToken(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice", "alice@x.com", "secret1")

	f.tokens.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	pair := f.login(t, "alice@x.com", "secret1")
	f.tokens.now = func() time.Time { return time.Now().UTC() }

	ok, err := f.svc.Verify(context.Background(), pair.AccessToken, "alice@x.com")
	if err != nil || ok {
		t.Fatalf("expected expired token rejected, got %v %v", ok, err)
	}
}

func TestAuthServiceVerifyRejectsRefreshKind(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice", "alice@x.com", "secret1")
	pair := f.login(t, "alice@x.com", "secret1")

	ok, err := f.svc.Verify(context.Background(), pair.RefreshToken, "alice@x.com")
	if err != nil || ok {
		t.Fatalf("expected refresh token rejected as access, got %v %v", ok, err)
	}
}

func TestAuthServiceVerifyRejectsGarbage(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice", "alice@x.com", "secret1")
	for _, token := range []string{"", "abc", "a.b.c"} {
		ok, err := f.svc.Verify(context.Background(), token, "alice@x.com")
		if err != nil || ok {
			t.Fatalf("expected %q rejected, got %v %v", token, ok, err)
		}
	}
}

func TestAuthServiceVerifySurfacesUnavailable(t *testing.T) {
	f := newAuthFixture(t)
	f.store.Err = domain.ErrUnavailable
	_, err := f.svc.Verify(context.Background(), "a.b.c", "alice@x.com")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestAuthServiceRedeemVerificationTwice(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	token := f.notifier.lastVerification(t).token

	user, err := f.svc.RedeemVerification(ctx, token)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if user.ID != alice.ID || user.Status != domain.UserStatusActive {
		t.Fatalf("expected alice active, got %+v", user)
	}

	_, err = f.svc.RedeemVerification(ctx, token)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second redeem, got %v", err)
	}
}

func TestAuthServiceRedeemVerificationExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	token := f.notifier.lastVerification(t).token
	f.store.ExpireVerificationTokens()

	if _, err := f.svc.RedeemVerification(ctx, token); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	user, err := f.store.FindUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.Status != domain.UserStatusUnverified {
		t.Fatalf("expected status unchanged, got %s", user.Status)
	}
}

func TestAuthServiceResendVerification(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@x.com", "secret1")

	if err := f.svc.ResendVerification(ctx, "alice@x.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if len(f.notifier.verifications) != 2 {
		t.Fatalf("expected a second verification mail, got %d", len(f.notifier.verifications))
	}
	if _, err := f.svc.RedeemVerification(ctx, f.notifier.lastVerification(t).token); err != nil {
		t.Fatalf("redeem resent token: %v", err)
	}

	if err := f.svc.ResendVerification(ctx, "alice@x.com"); err != nil {
		t.Fatalf("resend for active user: %v", err)
	}
	if err := f.svc.ResendVerification(ctx, "ghost@x.com"); err != nil {
		t.Fatalf("resend for unknown user: %v", err)
	}
	if len(f.notifier.verifications) != 2 {
		t.Fatalf("expected no more mails, got %d", len(f.notifier.verifications))
	}
}

func TestAuthServiceRefreshRotatesSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	pair := f.login(t, "alice@x.com", "secret1")

	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatalf("expected new tokens")
	}
	if ok, _ := f.svc.Verify(ctx, next.AccessToken, "alice@x.com"); !ok {
		t.Fatalf("expected refreshed access token valid")
	}
	if n := f.store.SessionCount(alice.ID); n != 1 {
		t.Fatalf("expected one session, got %d", n)
	}

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected reused refresh token rejected, got %v", err)
	}
}

func TestAuthServiceRefreshRejectsAccessTokenAndExpiredSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	pair := f.login(t, "alice@x.com", "secret1")

	if _, err := f.svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token rejected, got %v", err)
	}

	f.store.ExpireSessions()
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired session rejected, got %v", err)
	}
	if n := f.store.SessionCount(alice.ID); n != 0 {
		t.Fatalf("expected expired session removed, got %d", n)
	}
}

func TestAuthServiceAuthenticate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	pair := f.login(t, "alice@x.com", "secret1")

	user, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.ID != alice.ID {
		t.Fatalf("expected alice, got %s", user.ID)
	}

	for _, bearer := range []string{"", "junk", pair.RefreshToken} {
		if _, err := f.svc.Authenticate(ctx, bearer); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected %q rejected, got %v", bearer, err)
		}
	}
}

func TestAuthServiceLogoutSingleSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	first := f.login(t, "alice@x.com", "secret1")
	second := f.login(t, "alice@x.com", "secret1")
	user, _ := f.svc.Authenticate(ctx, first.AccessToken)

	if err := f.svc.Logout(ctx, user, first.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected logged out refresh token rejected, got %v", err)
	}
	if n := f.store.SessionCount(alice.ID); n != 1 {
		t.Fatalf("expected other session kept, got %d", n)
	}
	if _, err := f.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("expected second session usable, got %v", err)
	}
}

func TestAuthServiceLogoutAllAndForeignToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	f.register(t, "bob", "bob@x.com", "secret2")
	alicePair := f.login(t, "alice@x.com", "secret1")
	f.login(t, "alice@x.com", "secret1")
	bobPair := f.login(t, "bob@x.com", "secret2")

	aliceUser, _ := f.svc.Authenticate(ctx, alicePair.AccessToken)
	if err := f.svc.Logout(ctx, aliceUser, bobPair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign refresh token rejected, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, bobPair.RefreshToken); err != nil {
		t.Fatalf("expected bob's session untouched, got %v", err)
	}

	if err := f.svc.Logout(ctx, aliceUser, ""); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n := f.store.SessionCount(alice.ID); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}

func TestAuthServicePasswordReset(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@x.com", "secret1")
	old := f.login(t, "alice@x.com", "secret1")

	if err := f.svc.ForgotPassword(ctx, "alice@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := f.notifier.lastReset(t).token

	if err := f.svc.ResetPassword(ctx, token, "secret9"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice@x.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	f.login(t, "alice@x.com", "secret9")

	if ok, _ := f.svc.Verify(ctx, old.AccessToken, "alice@x.com"); ok {
		t.Fatalf("expected tokens issued before the reset to be invalid")
	}
	if _, err := f.svc.Refresh(ctx, old.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, token, "secret8"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected reused reset token not found, got %v", err)
	}
}

func TestAuthServicePasswordResetExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@x.com", "secret1")
	if err := f.svc.ForgotPassword(ctx, "alice@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	f.store.ExpirePasswordResets()
	if err := f.svc.ResetPassword(ctx, f.notifier.lastReset(t).token, "secret9"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	f.login(t, "alice@x.com", "secret1")
}

func TestAuthServiceForgotPasswordDoesNotEnumerate(t *testing.T) {
	f := newAuthFixture(t)
	if err := f.svc.ForgotPassword(context.Background(), "ghost@x.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if len(f.notifier.resets) != 0 {
		t.Fatalf("expected no mail")
	}

	f.store.Err = domain.ErrUnavailable
	if err := f.svc.ForgotPassword(context.Background(), "ghost@x.com"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestAuthServiceChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@x.com", "secret1")
	pair := f.login(t, "alice@x.com", "secret1")
	user, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if err := f.svc.ChangePassword(ctx, user, "secret1", "secret2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for unverified account, got %v", err)
	}

	if _, err := f.svc.RedeemVerification(ctx, f.notifier.lastVerification(t).token); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	user, _ = f.svc.Authenticate(ctx, pair.AccessToken)

	if err := f.svc.ChangePassword(ctx, user, "wrong", "secret2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, user, "secret1", "secret2"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old access token invalid after change, got %v", err)
	}
	f.login(t, "alice@x.com", "secret2")
}

func TestAuthServiceRotateSecretInvalidatesTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")
	pair := f.login(t, "alice@x.com", "secret1")

	if err := f.svc.RotateSecret(ctx, alice.ID); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if ok, _ := f.svc.Verify(ctx, pair.AccessToken, "alice@x.com"); ok {
		t.Fatalf("expected token invalid after rotation")
	}
	if n := f.store.SessionCount(alice.ID); n != 0 {
		t.Fatalf("expected sessions revoked, got %d", n)
	}
	if err := f.svc.RotateSecret(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuthServiceProfile(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@x.com", "secret1")

	updated, err := f.svc.UpdateProfile(ctx, alice.ID, "  alicia ")
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Username != "alicia" {
		t.Fatalf("expected trimmed username, got %q", updated.Username)
	}
	user, err := f.svc.Profile(ctx, alice.ID)
	if err != nil || user.Username != "alicia" {
		t.Fatalf("expected stored username, got %+v %v", user, err)
	}
	if _, err := f.svc.UpdateProfile(ctx, alice.ID, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuthServicePurgeExpired(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "alice", "alice@x.com", "secret1")
	f.login(t, "alice@x.com", "secret1")
	f.store.ExpireVerificationTokens()
	f.store.ExpireSessions()

	res, err := f.svc.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.VerificationTokens != 1 || res.Sessions != 1 || res.PasswordResets != 0 {
		t.Fatalf("unexpected purge result: %+v", res)
	}
}
