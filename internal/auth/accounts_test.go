package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/token"
)

func TestSignUp_UniquenessConflicts(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	signUp(t, svc, "ewout", "ewout@x.io", "hunter22")

	_, err := svc.SignUp(ctx, auth.SignUpRequest{Username: "ewout", Password: "x12345678"})
	assert.ErrorIs(t, err, auth.ErrUsernameTaken)

	_, err = svc.SignUp(ctx, auth.SignUpRequest{Email: "ewout@x.io", Password: "x12345678"})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestSignUp_AdminUsernameReserved(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.SignUp(context.Background(), auth.SignUpRequest{Username: rules.AdminUID, Password: "x12345678"})
	assert.ErrorIs(t, err, auth.ErrAdminReserved)
}

func TestUpdateAccount(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()
	created := signUp(t, svc, "ewout", "ewout@x.io", "hunter22")

	name := "Ewout"
	updated, err := svc.UpdateAccount(ctx, created.UID, auth.AccountUpdate{
		DisplayName: &name,
		Settings:    map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ewout", updated.DisplayName)
	assert.Equal(t, "dark", updated.Settings["theme"])

	// A nil settings value removes the key.
	updated, err = svc.UpdateAccount(ctx, created.UID, auth.AccountUpdate{
		Settings: map[string]any{"theme": nil},
	})
	require.NoError(t, err)
	assert.NotContains(t, updated.Settings, "theme")

	reloaded, err := repo.GetByUID(ctx, created.UID)
	require.NoError(t, err)
	assert.Equal(t, "Ewout", reloaded.DisplayName)
}

func TestChangePassword_RotatesAccessToken(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	created := signUp(t, svc, "ewout", "ewout@x.io", "hunter22")
	oldToken := created.AccessToken

	_, err := svc.ChangePassword(ctx, created.UID, "wrong", "newpassword1")
	assert.Equal(t, auth.CodeWrongPassword, signInCode(t, err))

	updated, err := svc.ChangePassword(ctx, created.UID, "hunter22", "newpassword1")
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, updated.AccessToken, "password change must invalidate issued tokens")

	_, err = svc.SignIn(ctx, auth.SignInRequest{Method: auth.MethodUsername, Username: "ewout", Password: "newpassword1"})
	require.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	signUp(t, svc, "ewout", "ewout@x.io", "hunter22")

	signed, err := svc.RequestPasswordReset(ctx, "ewout@x.io", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, signed, "resetpass99", "10.0.0.1"))

	_, err = svc.SignIn(ctx, auth.SignInRequest{Method: auth.MethodEmail, Email: "ewout@x.io", Password: "resetpass99"})
	require.NoError(t, err)

	// The code is single use.
	err = svc.ResetPassword(ctx, signed, "again00000", "10.0.0.1")
	assert.ErrorIs(t, err, auth.ErrInvalidResetCode)
}

func TestResetPassword_ForgedCode(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	created := signUp(t, svc, "ewout", "ewout@x.io", "hunter22")

	// Correctly signed but not the code stored on the account.
	forged, err := token.CreateSignedPayload(map[string]string{"uid": created.UID, "code": "guess"}, testSalt)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.ResetPassword(ctx, forged, "newpass000", ""), auth.ErrInvalidResetCode)

	assert.ErrorIs(t, svc.ResetPassword(ctx, "tampered", "newpass000", ""), auth.ErrInvalidResetCode)
}

func TestEmailVerificationFlow(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()
	created := signUp(t, svc, "ewout", "ewout@x.io", "hunter22")
	require.False(t, created.EmailVerified)

	signed, err := svc.RequestEmailVerification(ctx, created.UID)
	require.NoError(t, err)

	require.NoError(t, svc.VerifyEmail(ctx, signed, "10.0.0.1"))

	reloaded, err := repo.GetByUID(ctx, created.UID)
	require.NoError(t, err)
	assert.True(t, reloaded.EmailVerified)
	assert.Empty(t, reloaded.VerificationCode)
}

func TestDeleteAccount(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()
	created := signUp(t, svc, "ewout", "ewout@x.io", "hunter22")

	require.NoError(t, svc.DeleteAccount(ctx, created.UID))

	_, err := repo.GetByUID(ctx, created.UID)
	assert.ErrorIs(t, err, auth.ErrAccountNotFound)
	_, ok := svc.Cache().Get(ctx, created.UID)
	assert.False(t, ok, "deletion should drop the cached session")

	assert.ErrorIs(t, svc.DeleteAccount(ctx, rules.AdminUID), auth.ErrAdminReserved)
}

func TestSignInOAuth_CreatesThenLinks(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	profile := auth.OAuthProfile{
		Provider:      "google",
		Email:         "oauth@x.io",
		DisplayName:   "O. Auth",
		EmailVerified: true,
	}

	first, err := svc.SignInOAuth(ctx, profile, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "google", first.Provider)

	second, err := svc.SignInOAuth(ctx, profile, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, first.UID, second.UID, "second provider sign-in should link, not create")
	assert.True(t, second.EmailVerified)
}

func TestBootstrapAdmin(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.BootstrapAdmin(ctx))

	admin, err := repo.GetByUID(ctx, rules.AdminUID)
	require.NoError(t, err)
	assert.NotEmpty(t, admin.PasswordHash)
	assert.NotEmpty(t, admin.AccessToken)

	// Second boot is a no-op; the account keeps its credentials.
	require.NoError(t, svc.BootstrapAdmin(ctx))
	again, err := repo.GetByUID(ctx, rules.AdminUID)
	require.NoError(t, err)
	assert.Equal(t, admin.PasswordHash, again.PasswordHash)
}
