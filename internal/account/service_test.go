package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasbhatti/authnzerver/internal/authdb"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/emailer"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
	"github.com/waqasbhatti/authnzerver/internal/passwd"
	"github.com/waqasbhatti/authnzerver/internal/repositories/users"
)

// fakeHasher keeps account tests fast; argon2 behavior is covered in the
// passwd package.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + passwd.Truncate(password), nil
}

func (fakeHasher) Verify(password, encodedHash string) (bool, error) {
	return encodedHash == "hashed:"+passwd.Truncate(password), nil
}

// captureSender records outbound emails for inspection.
type captureSender struct {
	mu   sync.Mutex
	sent []emailer.Message
}

func (c *captureSender) Send(_ context.Context, msg emailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) last(t *testing.T) emailer.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1]
}

type fixture struct {
	store  *authdb.Store
	sender *captureSender
	svc    *Service
}

// goodPassword shares no characters with any fixture email or the fixture
// hostname (only j and q are unused by all of them), so the similarity check
// can never trip on it. Asserted in TestFixturePasswordSatisfiesPolicy.
const goodPassword = "J8!q3#J7$q2&J9%q4^"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := authdb.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Roles.Seed(ctx))

	now := time.Now().UTC()
	for _, u := range []*models.User{
		{
			UserID: common.SuperuserID, Email: "admin@example.org",
			Password: "hashed:" + goodPassword, IsActive: true, EmailVerified: true,
			UserRole: models.RoleSuperuser, CreatedOn: now, LastUpdated: now,
		},
		{
			UserID: common.AnonymousUserID, Email: "anonuser@localhost",
			Password: "hashed:unusable", IsActive: true,
			UserRole: models.RoleAnonymous, CreatedOn: now, LastUpdated: now,
		},
		{
			UserID: common.DummyUserID, Email: "dummyuser@localhost",
			Password: "hashed:unusable", UserRole: models.RoleLocked,
			CreatedOn: now, LastUpdated: now,
		},
	} {
		require.NoError(t, store.Users.InsertWithID(ctx, u))
	}

	sender := &captureSender{}
	return &fixture{
		store:  store,
		sender: sender,
		svc: NewService(store, fakeHasher{}, passwd.DefaultPolicy("auth.example.org"),
			sender, logging.Discard()),
	}
}

func (f *fixture) newSession(t *testing.T, userID int64) string {
	t.Helper()
	token, err := common.MakeRandURLSafeString(32)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.store.Sessions.Insert(context.Background(), &models.Session{
		Token: token, UserID: userID, IPAddress: "127.0.0.1",
		ClientHeader: "curl/8.0", Created: now,
		Expires: now.Add(time.Hour), ExtraInfo: "{}",
	}))
	return token
}

func TestFixturePasswordSatisfiesPolicy(t *testing.T) {
	p := passwd.DefaultPolicy("auth.example.org")
	for _, email := range []string{
		"admin@example.org", "newuser@example.org", "dupe@example.org",
		"changer@example.org", "forgetful@example.org", "doomed@example.org",
		"editable@example.org", "tokenized@example.org", "inactive@example.org",
	} {
		ok, messages := p.Validate(email, goodPassword)
		assert.True(t, ok, "policy rejected fixture password for %s: %v", email, messages)
	}
}

func TestCreateNewUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "NewUser@Example.Org ", goodPassword)
	require.True(t, res.Success)
	assert.True(t, res.SendVerification)
	assert.Equal(t, "newuser@example.org", res.UserEmail)
	assert.Equal(t, []string{SignupAckMessage}, res.Messages)

	u, err := f.store.Users.GetByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.False(t, u.IsActive)
	assert.False(t, u.EmailVerified)
	assert.Equal(t, models.RoleLocked, u.UserRole)
	assert.True(t, u.EmailVerifySent.Valid)
}

func TestCreatePolicyFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "weak@example.org", "password")
	require.False(t, res.Success)
	assert.False(t, res.SendVerification)
	assert.Contains(t, res.Messages, passwd.MsgTooShort)

	_, err := f.store.Users.GetByEmail(ctx, "weak@example.org")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

// Duplicate signups must return the exact message a fresh one does.
func TestCreateConflictIsExistenceSafe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.svc.Create(ctx, "dupe@example.org", goodPassword)
	require.True(t, first.Success)

	// Inactive + verification sent just now: throttled, no resend.
	again := f.svc.Create(ctx, "dupe@example.org", goodPassword)
	assert.False(t, again.Success)
	assert.False(t, again.SendVerification)
	assert.Equal(t, []string{SignupAckMessage}, again.Messages)

	// 25 hours later the resend branch fires, same message.
	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	resend := f.svc.Create(ctx, "dupe@example.org", goodPassword)
	assert.False(t, resend.Success)
	assert.True(t, resend.SendVerification)
	assert.Equal(t, first.UserID, resend.UserID)
	assert.Equal(t, []string{SignupAckMessage}, resend.Messages)

	// An active account never triggers a resend, same message again.
	active := f.svc.Create(ctx, "admin@example.org", goodPassword)
	assert.False(t, active.Success)
	assert.False(t, active.SendVerification)
	assert.Equal(t, []string{SignupAckMessage}, active.Messages)
}

func TestVerifyEmailActivates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "pending@example.org", goodPassword)
	require.True(t, res.Success)

	info, err := f.svc.VerifyEmail(ctx, "pending@example.org")
	require.NoError(t, err)
	assert.True(t, info.IsActive)
	assert.True(t, info.EmailVerified)
	assert.Equal(t, models.RoleAuthenticated, info.UserRole)

	// Already-active rows do not match: activation is one-shot.
	_, err = f.svc.VerifyEmail(ctx, "pending@example.org")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "changer@example.org", goodPassword)
	require.True(t, res.Success)
	uid := res.UserID

	// Wrong current password.
	out := f.svc.ChangePassword(ctx, uid, "changer@example.org", "wrong", "a brand new passphrase 99")
	assert.False(t, out.Success)

	// Reuse of the current password.
	out = f.svc.ChangePassword(ctx, uid, "changer@example.org", goodPassword, goodPassword)
	assert.False(t, out.Success)

	// Weak new password reports policy messages.
	out = f.svc.ChangePassword(ctx, uid, "changer@example.org", goodPassword, "short")
	assert.False(t, out.Success)
	assert.Contains(t, out.Messages, passwd.MsgTooShort)

	// Email must match the account on record.
	out = f.svc.ChangePassword(ctx, uid, "other@example.org", goodPassword, "a brand new passphrase 99")
	assert.False(t, out.Success)

	out = f.svc.ChangePassword(ctx, uid, "changer@example.org", goodPassword, "a brand new passphrase 99")
	require.True(t, out.Success)

	u, err := f.store.Users.GetByID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "hashed:a brand new passphrase 99", u.Password)
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "forgetful@example.org", goodPassword)
	require.True(t, res.Success)
	token := f.newSession(t, common.AnonymousUserID)

	// No valid session: refused.
	out := f.svc.ResetPassword(ctx, "forgetful@example.org", "bogus-session", "a brand new passphrase 99")
	assert.False(t, out.Success)

	// Same-as-old warns but does not block.
	out = f.svc.ResetPassword(ctx, "forgetful@example.org", token, goodPassword)
	require.True(t, out.Success)
	assert.Contains(t, out.Messages,
		"Your new password is the same as your previous password.")

	out = f.svc.ResetPassword(ctx, "forgetful@example.org", token, "a brand new passphrase 99")
	require.True(t, out.Success)

	u, err := f.store.Users.GetByEmail(ctx, "forgetful@example.org")
	require.NoError(t, err)
	assert.Equal(t, "hashed:a brand new passphrase 99", u.Password)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "doomed@example.org", goodPassword)
	require.True(t, res.Success)
	uid := res.UserID
	f.newSession(t, uid)

	// Wrong password refuses.
	out := f.svc.Delete(ctx, uid, "doomed@example.org", "wrong password")
	assert.False(t, out.Success)

	out = f.svc.Delete(ctx, uid, "doomed@example.org", goodPassword)
	require.True(t, out.Success)

	_, err := f.store.Users.GetByID(ctx, uid)
	assert.ErrorIs(t, err, common.ErrNotFound)

	// The cascade took the sessions with it.
	n, err := f.store.Sessions.CountForUser(ctx, uid)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteRefusesSuperuser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out := f.svc.Delete(ctx, common.SuperuserID, "admin@example.org", goodPassword)
	assert.False(t, out.Success)
	assert.Equal(t, []string{"Superuser accounts cannot be deleted."}, out.Messages)

	_, err := f.store.Users.GetByID(ctx, common.SuperuserID)
	require.NoError(t, err)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	all, err := f.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := f.svc.List(ctx, []int64{common.SuperuserID})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "admin@example.org", one[0].Email)
}

func TestEditRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "editable@example.org", goodPassword)
	require.True(t, res.Success)
	uid := res.UserID

	name := "Edith Example"
	info, err := f.svc.Edit(ctx, EditRequest{
		ActorID: uid, ActorRole: models.RoleAuthenticated, TargetID: uid,
		Update: users.Update{FullName: &name},
	})
	require.NoError(t, err)
	assert.Equal(t, "Edith Example", info.FullName)

	// Non-superusers cannot touch role or status.
	role := models.RoleStaff
	_, err = f.svc.Edit(ctx, EditRequest{
		ActorID: uid, ActorRole: models.RoleAuthenticated, TargetID: uid,
		Update: users.Update{UserRole: &role},
	})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	// Nor anyone else's account.
	_, err = f.svc.Edit(ctx, EditRequest{
		ActorID: uid, ActorRole: models.RoleAuthenticated, TargetID: common.SuperuserID,
		Update: users.Update{FullName: &name},
	})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	// Superusers can promote.
	info, err = f.svc.Edit(ctx, EditRequest{
		ActorID: common.SuperuserID, ActorRole: models.RoleSuperuser, TargetID: uid,
		Update: users.Update{UserRole: &role},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, info.UserRole)

	// Unknown roles are rejected even for superusers.
	bad := "archduke"
	_, err = f.svc.Edit(ctx, EditRequest{
		ActorID: common.SuperuserID, ActorRole: models.RoleSuperuser, TargetID: uid,
		Update: users.Update{UserRole: &bad},
	})
	assert.ErrorIs(t, err, common.ErrValidation)

	// The reserved accounts are never editable.
	for _, reserved := range []int64{common.AnonymousUserID, common.DummyUserID} {
		_, err = f.svc.Edit(ctx, EditRequest{
			ActorID: common.SuperuserID, ActorRole: models.RoleSuperuser, TargetID: reserved,
			Update: users.Update{FullName: &name},
		})
		assert.ErrorIs(t, err, common.ErrValidation)
	}
}

func TestSignupEmailTokenFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.Create(ctx, "tokenized@example.org", goodPassword)
	require.True(t, res.Success)
	sessionToken := f.newSession(t, common.AnonymousUserID)

	// Throttled: the signup itself counted as the first send.
	out := f.svc.SendSignupEmail(ctx, "tokenized@example.org", sessionToken)
	assert.False(t, out.Success)

	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	// Session expired by then, make a fresh long-lived one.
	long, err := common.MakeRandURLSafeString(32)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.store.Sessions.Insert(ctx, &models.Session{
		Token: long, UserID: common.AnonymousUserID, IPAddress: "127.0.0.1",
		ClientHeader: "curl/8.0", Created: now,
		Expires: now.Add(48 * time.Hour), ExtraInfo: "{}",
	}))

	out = f.svc.SendSignupEmail(ctx, "tokenized@example.org", long)
	require.True(t, out.Success)

	msg := f.sender.last(t)
	assert.Equal(t, "tokenized@example.org", msg.To)
	token := msg.Body[len(msg.Body)-43:]

	assert.True(t, f.svc.CheckEmailToken(ctx, long, "signup", token))
	assert.False(t, f.svc.CheckEmailToken(ctx, long, "signup", "wrong-token"))
	assert.False(t, f.svc.CheckEmailToken(ctx, long, "forgotpass", token))
	assert.False(t, f.svc.CheckEmailToken(ctx, "bogus-session", "signup", token))
}

func TestForgotPassEmailExistenceSafe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessionToken := f.newSession(t, common.AnonymousUserID)

	// Unknown account and real-but-ineligible account get the identical
	// acknowledgment.
	unknown := f.svc.SendForgotPassEmail(ctx, "nobody@example.org", sessionToken)
	assert.False(t, unknown.Success)

	pending := f.svc.Create(ctx, "inactive@example.org", goodPassword)
	require.True(t, pending.Success)
	ineligible := f.svc.SendForgotPassEmail(ctx, "inactive@example.org", sessionToken)
	assert.False(t, ineligible.Success)
	assert.Equal(t, unknown.Messages, ineligible.Messages)

	// An active verified account actually gets the email.
	ok := f.svc.SendForgotPassEmail(ctx, "admin@example.org", sessionToken)
	require.True(t, ok.Success)
	assert.Equal(t, unknown.Messages, ok.Messages)
	assert.Equal(t, "admin@example.org", f.sender.last(t).To)

	u, err := f.store.Users.GetByEmail(ctx, "admin@example.org")
	require.NoError(t, err)
	assert.True(t, u.ForgotPassSent.Valid)
}
