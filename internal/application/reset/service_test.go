package reset

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/go-subscription-core/internal/pkg/hasher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTokenStore struct{ mock.Mock }

func (m *mockTokenStore) Create(ctx context.Context, t *domain.PasswordResetToken) error {
	return m.Called(ctx, t).Error(0)
}
func (m *mockTokenStore) Get(ctx context.Context, tokenID string) (*domain.PasswordResetToken, error) {
	args := m.Called(ctx, tokenID)
	if t, _ := args.Get(0).(*domain.PasswordResetToken); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockTokenStore) Redeem(ctx context.Context, t *domain.PasswordResetToken, passwordHash string, now time.Time) (string, error) {
	args := m.Called(ctx, t, passwordHash, now)
	return args.String(0), args.Error(1)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(to, subject, body string) error {
	return m.Called(to, subject, body).Error(0)
}

type mockEvents struct{ mock.Mock }

func (m *mockEvents) Publish(ctx context.Context, e domain.Event) error {
	return m.Called(ctx, e).Error(0)
}

// --- helpers ---

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newSvc(us *mockUserStore, ts *mockTokenStore, clk clock.Clock) Service {
	return NewService(ServiceDeps{UserRepo: us, TokenRepo: ts, Hasher: hasher.New(), Clock: clk})
}

func user() *domain.User {
	return &domain.User{UserID: "u1", Name: "Asha", Email: "asha@example.com"}
}

// --- GenerateResetToken ---

func TestGenerate_DefaultLifetime(t *testing.T) {
	us, ts := &mockUserStore{}, &mockTokenStore{}
	us.On("Get", mock.Anything, "u1").Return(user(), nil)
	ts.On("Create", mock.Anything, mock.AnythingOfType("*domain.PasswordResetToken")).Return(nil)

	res, err := newSvc(us, ts, clock.NewMock(t0)).GenerateResetToken(context.Background(),
		GenerateRequest{UserID: "u1", CreatedBy: "admin-1", Reason: "locked out"})

	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, t0.Add(24*time.Hour), res.ExpiresAt)
	assert.Regexp(t, `^[A-Za-z0-9]+$`, res.Token)

	stored := ts.Calls[0].Arguments.Get(1).(*domain.PasswordResetToken)
	assert.Equal(t, res.TokenID, stored.TokenID)
	assert.Equal(t, "admin-1", stored.CreatedBy)
	assert.Equal(t, "locked out", stored.Reason)
	assert.NotContains(t, stored.TokenHash, res.Token)
	ok, err := hasher.New().Verify(res.Token, stored.TokenHash, stored.TokenSalt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerate_CustomLifetime(t *testing.T) {
	us, ts := &mockUserStore{}, &mockTokenStore{}
	us.On("Get", mock.Anything, "u1").Return(user(), nil)
	ts.On("Create", mock.Anything, mock.Anything).Return(nil)

	res, err := newSvc(us, ts, clock.NewMock(t0)).GenerateResetToken(context.Background(),
		GenerateRequest{UserID: "u1", Lifetime: 30 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Minute), res.ExpiresAt)
}

func TestGenerate_LifetimeOutOfRange(t *testing.T) {
	for _, d := range []time.Duration{time.Minute, 8 * 24 * time.Hour} {
		us, ts := &mockUserStore{}, &mockTokenStore{}
		_, err := newSvc(us, ts, clock.NewMock(t0)).GenerateResetToken(context.Background(),
			GenerateRequest{UserID: "u1", Lifetime: d})
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestGenerate_UnknownUser(t *testing.T) {
	us, ts := &mockUserStore{}, &mockTokenStore{}
	us.On("Get", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	_, err := newSvc(us, ts, clock.NewMock(t0)).GenerateResetToken(context.Background(), GenerateRequest{UserID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	ts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestGenerate_TokensCoexist(t *testing.T) {
	us, ts := &mockUserStore{}, &mockTokenStore{}
	us.On("Get", mock.Anything, "u1").Return(user(), nil)
	ts.On("Create", mock.Anything, mock.Anything).Return(nil)
	svc := newSvc(us, ts, clock.NewMock(t0))

	a, err := svc.GenerateResetToken(context.Background(), GenerateRequest{UserID: "u1"})
	require.NoError(t, err)
	b, err := svc.GenerateResetToken(context.Background(), GenerateRequest{UserID: "u1"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.TokenID, b.TokenID)
	ts.AssertNumberOfCalls(t, "Create", 2)
}

func TestGenerate_EmailsLinkAndPublishes(t *testing.T) {
	us, ts, mailer, ev := &mockUserStore{}, &mockTokenStore{}, &mockMailer{}, &mockEvents{}
	us.On("Get", mock.Anything, "u1").Return(user(), nil)
	ts.On("Create", mock.Anything, mock.Anything).Return(nil)
	var body string
	mailer.On("SendEmail", "asha@example.com", "Reset your password", mock.Anything).
		Run(func(args mock.Arguments) { body = args.String(2) }).Return(nil)
	ev.On("Publish", mock.Anything, mock.MatchedBy(func(e domain.Event) bool {
		return e.Type == domain.EventPasswordResetIssued
	})).Return(nil)

	svc := NewService(ServiceDeps{
		UserRepo: us, TokenRepo: ts, Hasher: hasher.New(), Mailer: mailer, Events: ev,
		LinkBaseURL: "https://app.example.com/reset", Clock: clock.NewMock(t0),
	})
	res, err := svc.GenerateResetToken(context.Background(), GenerateRequest{UserID: "u1"})
	require.NoError(t, err)

	line := body[strings.Index(body, "https://"):]
	link, err := url.Parse(strings.TrimSpace(line))
	require.NoError(t, err)
	assert.Equal(t, res.TokenID, link.Query().Get("id"))
	assert.Equal(t, res.Token, link.Query().Get("token"))
	ev.AssertExpectations(t)
}

func TestGenerate_EmailFailureIgnored(t *testing.T) {
	us, ts, mailer := &mockUserStore{}, &mockTokenStore{}, &mockMailer{}
	us.On("Get", mock.Anything, "u1").Return(user(), nil)
	ts.On("Create", mock.Anything, mock.Anything).Return(nil)
	mailer.On("SendEmail", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	svc := NewService(ServiceDeps{
		UserRepo: us, TokenRepo: ts, Hasher: hasher.New(), Mailer: mailer,
		LinkBaseURL: "https://app.example.com/reset", Clock: clock.NewMock(t0),
	})
	_, err := svc.GenerateResetToken(context.Background(), GenerateRequest{UserID: "u1"})
	assert.NoError(t, err)
}

// --- RedeemResetToken ---

func storedToken(t *testing.T, plain string, expires time.Time) *domain.PasswordResetToken {
	t.Helper()
	hash, salt, err := hasher.New().Hash(plain)
	require.NoError(t, err)
	return &domain.PasswordResetToken{TokenID: "r1", UserID: "u1", TokenHash: hash, TokenSalt: salt, CreatedAt: t0, ExpiresAt: expires}
}

func TestRedeem_Success(t *testing.T) {
	us, ts := &mockUserStore{}, &mockTokenStore{}
	tok := storedToken(t, "plain-token", t0.Add(time.Hour))
	ts.On("Get", mock.Anything, "r1").Return(tok, nil)
	ts.On("Redeem", mock.Anything, tok, mock.AnythingOfType("string"), t0).Return("s1", nil)

	err := newSvc(us, ts, clock.NewMock(t0)).RedeemResetToken(context.Background(),
		RedeemRequest{TokenID: "r1", Token: "plain-token", NewPassword: "n3w-password"})

	require.NoError(t, err)
	pwHash := ts.Calls[1].Arguments.String(2)
	assert.True(t, hasher.CheckPassword(pwHash, "n3w-password"))
}

func TestRedeem_Rejections(t *testing.T) {
	consumed := t0.Add(-time.Minute)
	cases := map[string]struct {
		token *domain.PasswordResetToken
		err   error
		plain string
	}{
		"unknown":  {nil, domain.ErrNotFound, "plain-token"},
		"expired":  {storedToken(t, "plain-token", t0.Add(-time.Second)), nil, "plain-token"},
		"wrong":    {storedToken(t, "plain-token", t0.Add(time.Hour)), nil, "other-token"},
		"consumed": {func() *domain.PasswordResetToken { x := storedToken(t, "plain-token", t0.Add(time.Hour)); x.ConsumedAt = &consumed; return x }(), nil, "plain-token"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			us, ts := &mockUserStore{}, &mockTokenStore{}
			ts.On("Get", mock.Anything, "r1").Return(tc.token, tc.err)

			err := newSvc(us, ts, clock.NewMock(t0)).RedeemResetToken(context.Background(),
				RedeemRequest{TokenID: "r1", Token: tc.plain, NewPassword: "n3w-password"})

			assert.ErrorIs(t, err, domain.ErrResetTokenInvalid)
			ts.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRedeem_ShortPassword(t *testing.T) {
	us, ts := &mockUserStore{}, &mockTokenStore{}
	err := newSvc(us, ts, clock.NewMock(t0)).RedeemResetToken(context.Background(),
		RedeemRequest{TokenID: "r1", Token: "x", NewPassword: "123"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
