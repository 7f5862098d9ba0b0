package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/ratelimit"
	"github.com/phonegate/server/internal/repo/repotest"
	"github.com/phonegate/server/internal/store/storetest"
)

const (
	testSecret = "test-secret-that-is-long-enough-for-hs256"
	testIP     = "10.1.2.3"
	testCode   = "123456"
	testDevice = "Mozilla/5.0 (X11; Linux x86_64)"
)

var testTTLs = TTLs{Access: 15 * time.Minute, Refresh: 7 * 24 * time.Hour, WorkFlow: 10 * time.Minute}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, phone, code string) error {
	args := m.Called(ctx, phone, code)
	return args.Error(0)
}

type fixture struct {
	mr       *miniredis.Miniredis
	clock    *fakeClock
	users    *repotest.Users
	sender   *mockSender
	otps     *OTPStore
	sessions *SessionStore
	jwt      *JWTService
	tokens   *TokenService
	reg      *Registration
	gw       *Gateway
}

func defaultRules() ratelimit.Rules {
	return ratelimit.Rules{
		ratelimit.ScopeCheckPhone: {Limit: 100, Window: 10 * time.Minute},
		ratelimit.ScopeRegister:   {Limit: 100, Window: 10 * time.Minute},
		ratelimit.ScopeLogin:      {Limit: 100, Window: 10 * time.Minute},
	}
}

func newFixture(t *testing.T, rules ratelimit.Rules) *fixture {
	t.Helper()
	if rules == nil {
		rules = defaultRules()
	}

	s, mr := storetest.New(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	f := &fixture{
		mr:       mr,
		clock:    clock,
		users:    repotest.NewUsers(),
		sender:   &mockSender{},
		otps:     NewOTPStore(s.Bucket("otp", 2*time.Minute)),
		sessions: NewSessionStore(s.Bucket("auth", testTTLs.Refresh)),
		jwt:      NewJWTService(testSecret, testTTLs, clock.Now),
	}
	f.tokens = NewTokenService(f.jwt, f.sessions, NewWorkflowStore(s.Bucket("work_flow", testTTLs.WorkFlow)))

	limiter := ratelimit.NewLimiter(s.Bucket("throttle", 0), ratelimit.WithClock(clock.Now))
	gate := ratelimit.NewGate(limiter, rules)

	f.reg = NewRegistration(f.users, f.otps, f.tokens, f.sender, gate,
		WithCodeGenerator(func() (string, error) { return testCode, nil }),
		WithBcryptCost(bcrypt.MinCost),
	)
	f.gw = NewGateway(f.users, f.tokens, gate)
	return f
}

// addUser stores an account with the given password ("" for none).
func (f *fixture) addUser(t *testing.T, phone, password string, active, deleted bool) model.User {
	t.Helper()
	u := model.User{Phone: phone, IsActive: active, IsDeleted: deleted}
	if password != "" {
		hash, err := HashPassword(password, bcrypt.MinCost)
		require.NoError(t, err)
		u.PasswordHash = hash
	}
	if deleted {
		now := time.Now()
		u.DeletedAt = &now
	}
	return f.users.Add(u)
}
