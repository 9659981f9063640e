package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/notevault/server/internal/model"
	"github.com/notevault/server/internal/repo"
)

type testEnv struct {
	svc        *Service
	sessions   *JWTService
	users      *repo.MemoryUserRepo
	challenges *repo.MemoryChallengeRepo
	sender     *recordingSender
	now        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:      repo.NewMemoryUserRepo(),
		challenges: repo.NewMemoryChallengeRepo(),
		sender:     &recordingSender{},
		now:        time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	issuer := NewCodeIssuer(env.challenges, env.sender, 10*time.Minute, nil)
	issuer.now = clock
	env.sessions = NewJWTService(testSecret, 0).WithClock(clock)
	env.svc = NewService(issuer, env.sessions, env.users, env.challenges,
		WithBcryptCost(bcrypt.MinCost),
		WithServiceClock(clock),
	)
	return env
}

// signup requests a code for a new account and verifies it.
func (e *testEnv) signup(t *testing.T, email, name string) *Result {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.svc.RequestCode(ctx, CodeRequest{Email: email, Name: name}))
	res, err := e.svc.Resolve(ctx, OTPAttempt{Email: email, Code: e.sender.lastCode(t, email)})
	require.NoError(t, err)
	return res
}

func TestService_SignupCreatesOneUser(t *testing.T) {
	env := newTestEnv(t)

	res := env.signup(t, "ann@x.com", "Ann")

	assert.Equal(t, 1, env.users.Count())
	assert.Equal(t, "Ann", res.User.Name)
	assert.Equal(t, "ann@x.com", res.User.Email)
	assert.False(t, res.User.HasPassword())

	claims, err := env.sessions.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, "ann@x.com", claims.Email)
}

func TestService_RequestCodeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.svc.RequestCode(ctx, CodeRequest{Name: "Ann"})
	require.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "email required")

	err = env.svc.RequestCode(ctx, CodeRequest{Email: "new@x.com", Name: "  "})
	require.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "name required")

	assert.Zero(t, env.sender.count())
	assert.Empty(t, env.challenges.ForEmail("new@x.com"))
}

func TestService_ExistingEmailNeedsNoName(t *testing.T) {
	env := newTestEnv(t)
	first := env.signup(t, "ann@x.com", "Ann")

	require.NoError(t, env.svc.RequestCode(context.Background(), CodeRequest{Email: "ann@x.com"}))
	res, err := env.svc.Resolve(context.Background(), OTPAttempt{
		Email: "ann@x.com",
		Code:  env.sender.lastCode(t, "ann@x.com"),
		Name:  "Someone Else",
	})
	require.NoError(t, err)

	assert.Equal(t, first.User.ID, res.User.ID)
	assert.Equal(t, "Ann", res.User.Name, "sign-in must not rename the account")
	assert.Equal(t, 1, env.users.Count())
}

func TestService_CodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com", Name: "Ann"}))
	code := env.sender.lastCode(t, "ann@x.com")

	_, err := env.svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: code})
	require.NoError(t, err)

	_, err = env.svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: code})
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestService_WrongCodeKeepsChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com", Name: "Ann"}))
	code := env.sender.lastCode(t, "ann@x.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err := env.svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: wrong})
	require.ErrorIs(t, err, ErrInvalidChallenge)

	_, err = env.svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: code})
	assert.NoError(t, err)
}

func TestService_ExpiredCodeRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com", Name: "Ann"}))
	code := env.sender.lastCode(t, "ann@x.com")

	env.now = env.now.Add(11 * time.Minute)

	_, err := env.svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: code})
	require.ErrorIs(t, err, ErrInvalidChallenge)
	assert.Zero(t, env.users.Count())
	assert.Len(t, env.challenges.ForEmail("ann@x.com"), 1, "expired challenge is left to the janitor")
}

func TestService_CodeValidAtExpiryInstant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com", Name: "Ann"}))

	env.now = env.now.Add(10 * time.Minute)

	_, err := env.svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: env.sender.lastCode(t, "ann@x.com")})
	assert.NoError(t, err)
}

func TestService_VerifyWithoutNameDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// The name check lives in RequestCode; a challenge created directly has no name attached.
	_, err := env.challenges.Create(ctx, "anon@x.com", "123456", env.now.Add(time.Minute))
	require.NoError(t, err)

	res, err := env.svc.Resolve(ctx, OTPAttempt{Email: "anon@x.com", Code: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "User", res.User.Name)
}

func TestService_OverlongPasswordKeepsCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com", Name: "Ann"}))
	code := env.sender.lastCode(t, "ann@x.com")

	_, err := env.svc.Resolve(ctx, OTPAttempt{
		Email:    "ann@x.com",
		Code:     code,
		Password: strings.Repeat("a", maxPasswordLength+1),
	})
	require.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "password too long")
	assert.Zero(t, env.users.Count())

	res, err := env.svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: code, Password: "short enough"})
	require.NoError(t, err, "the code must survive a rejected password")
	assert.True(t, res.User.HasPassword())
}

func TestService_VerifyRequiresEmailAndCode(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Resolve(context.Background(), OTPAttempt{Email: "ann@x.com"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_DateOfBirthBackfill(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC)
	second := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	created := env.signup(t, "ann@x.com", "Ann")
	assert.Nil(t, created.User.DateOfBirth)

	verify := func(dob time.Time) *Result {
		require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com"}))
		res, err := env.svc.Resolve(ctx, OTPAttempt{
			Email:       "ann@x.com",
			Code:        env.sender.lastCode(t, "ann@x.com"),
			DateOfBirth: &dob,
		})
		require.NoError(t, err)
		return res
	}

	res := verify(first)
	require.NotNil(t, res.User.DateOfBirth)
	assert.True(t, first.Equal(*res.User.DateOfBirth))

	res = verify(second)
	require.NotNil(t, res.User.DateOfBirth)
	assert.True(t, first.Equal(*res.User.DateOfBirth), "existing date of birth must not be overwritten")

	stored, err := env.users.GetByID(ctx, created.User.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*stored.DateOfBirth))
}

func TestService_PasswordLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com", Name: "Ann"}))
	created, err := env.svc.Resolve(ctx, OTPAttempt{
		Email:    "ann@x.com",
		Code:     env.sender.lastCode(t, "ann@x.com"),
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.True(t, created.User.HasPassword())

	res, err := env.svc.Resolve(ctx, PasswordAttempt{Email: "ann@x.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, res.User.ID)
	assert.NotEmpty(t, res.Token)

	_, err = env.svc.Resolve(ctx, PasswordAttempt{Email: "ann@x.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_PasswordAttachedOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ann@x.com", "Ann")

	attach := func(pw string) {
		require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "ann@x.com"}))
		_, err := env.svc.Resolve(ctx, OTPAttempt{
			Email:    "ann@x.com",
			Code:     env.sender.lastCode(t, "ann@x.com"),
			Password: pw,
		})
		require.NoError(t, err)
	}
	attach("first-password")
	attach("second-password")

	_, err := env.svc.Resolve(ctx, PasswordAttempt{Email: "ann@x.com", Password: "first-password"})
	assert.NoError(t, err)
	_, err = env.svc.Resolve(ctx, PasswordAttempt{Email: "ann@x.com", Password: "second-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_PasswordLoginWithoutPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ann@x.com", "Ann")

	_, err := env.svc.Resolve(ctx, PasswordAttempt{Email: "ann@x.com", Password: "anything"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Resolve(ctx, PasswordAttempt{Email: "nobody@x.com", Password: "anything"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Resolve(ctx, PasswordAttempt{Email: "ann@x.com"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_OAuthCreatesUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.Resolve(ctx, OAuthAttempt{Profile: Profile{
		ProviderID: "g-1", DisplayName: "Bob", Email: "bob@x.com",
	}})
	require.NoError(t, err)
	assert.Equal(t, "Bob", res.User.Name)
	require.NotNil(t, res.User.GoogleID)
	assert.Equal(t, "g-1", *res.User.GoogleID)

	again, err := env.svc.Resolve(ctx, OAuthAttempt{Profile: Profile{
		ProviderID: "g-1", DisplayName: "Robert", Email: "bob@x.com",
	}})
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, again.User.ID)
	assert.Equal(t, "Bob", again.User.Name)
	assert.Equal(t, 1, env.users.Count())
}

func TestService_OAuthLinksExistingEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created := env.signup(t, "ann@x.com", "Ann")

	res, err := env.svc.Resolve(ctx, OAuthAttempt{Profile: Profile{
		ProviderID: "g-42", DisplayName: "Ann G", Email: "ann@x.com",
	}})
	require.NoError(t, err)

	assert.Equal(t, created.User.ID, res.User.ID)
	assert.Equal(t, 1, env.users.Count())

	linked, err := env.users.GetByGoogleID(ctx, "g-42")
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, linked.ID)
	assert.Equal(t, "Ann", linked.Name)
}

func TestService_OAuthDefaultName(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.svc.Resolve(context.Background(), OAuthAttempt{Profile: Profile{
		ProviderID: "g-2", Email: "noname@x.com",
	}})
	require.NoError(t, err)
	assert.Equal(t, "User", res.User.Name)
}

func TestService_OAuthIncompleteProfile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Resolve(context.Background(), OAuthAttempt{Profile: Profile{ProviderID: "g-3"}})
	assert.ErrorIs(t, err, ErrProvider)
	assert.Zero(t, env.users.Count())
}

func TestService_ConcurrentSignupSingleUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 8
	codes := make([]string, n)
	for i := range codes {
		require.NoError(t, env.svc.RequestCode(ctx, CodeRequest{Email: "race@x.com", Name: "Racer"}))
		codes[i] = env.sender.lastCode(t, "race@x.com")
	}

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.svc.Resolve(ctx, OTPAttempt{Email: "race@x.com", Code: codes[i]})
			errs[i] = err
			if err == nil {
				ids[i] = res.User.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, env.users.Count())
	var winner uuid.UUID
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			// Two requests can draw the same code; the second then finds it consumed.
			assert.ErrorIs(t, errs[i], ErrInvalidChallenge)
			continue
		}
		if winner == uuid.Nil {
			winner = ids[i]
		}
		assert.Equal(t, winner, ids[i])
	}
}

func TestService_CurrentUser(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "ann@x.com", "Ann")

	u, err := env.svc.CurrentUser(context.Background(), created.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)

	_, err = env.svc.CurrentUser(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// duplicateOnCreate simulates losing a signup race: the first Create inserts
// the winner's row and reports a conflict.
type duplicateOnCreate struct {
	*repo.MemoryUserRepo
	once sync.Once
}

func (d *duplicateOnCreate) Create(ctx context.Context, nu model.NewUser) (model.User, error) {
	raced := false
	d.once.Do(func() {
		raced = true
	})
	if raced {
		if _, err := d.MemoryUserRepo.Create(ctx, model.NewUser{Email: nu.Email, Name: "Winner"}); err != nil {
			return model.User{}, err
		}
		return model.User{}, repo.ErrDuplicate
	}
	return d.MemoryUserRepo.Create(ctx, nu)
}

func TestService_SignupConflictContinuesAsSignIn(t *testing.T) {
	env := newTestEnv(t)
	users := &duplicateOnCreate{MemoryUserRepo: env.users}
	svc := NewService(nil, env.sessions, users, env.challenges,
		WithBcryptCost(bcrypt.MinCost),
		WithServiceClock(func() time.Time { return env.now }),
	)
	ctx := context.Background()
	_, err := env.challenges.Create(ctx, "ann@x.com", "654321", env.now.Add(time.Minute))
	require.NoError(t, err)

	res, err := svc.Resolve(ctx, OTPAttempt{Email: "ann@x.com", Code: "654321", Name: "Ann", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "Winner", res.User.Name)
	assert.True(t, res.User.HasPassword(), "password attaches to the winning account")
	assert.Equal(t, 1, env.users.Count())
}

func TestService_OAuthConflictRetries(t *testing.T) {
	env := newTestEnv(t)
	users := &duplicateOnCreate{MemoryUserRepo: env.users}
	svc := NewService(nil, env.sessions, users, env.challenges, WithBcryptCost(bcrypt.MinCost))

	res, err := svc.Resolve(context.Background(), OAuthAttempt{Profile: Profile{
		ProviderID: "g-9", DisplayName: "Bob", Email: "bob@x.com",
	}})
	require.NoError(t, err)
	assert.Equal(t, "Winner", res.User.Name)
	require.NotNil(t, res.User.GoogleID)
	assert.Equal(t, "g-9", *res.User.GoogleID)
	assert.Equal(t, 1, env.users.Count())
}
