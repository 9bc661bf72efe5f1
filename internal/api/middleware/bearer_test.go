package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appy-one/acebase-server-sub001/internal/api/middleware"
	"github.com/appy-one/acebase-server-sub001/internal/audit"
	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/storage"
)

var testSalt = []byte("0123456789abcdef0123456789abcdef")

func setupBearer(t *testing.T) (*auth.Service, func(http.Handler) http.Handler) {
	t.Helper()
	store := storage.NewMemoryStore()
	repo := auth.NewStoreRepository(store)
	cache := auth.NewMemoryCache(100, time.Hour)
	service := auth.NewService(repo, cache, audit.NopSink{}, testSalt)
	return service, middleware.Bearer(service, true)
}

func createAccount(t *testing.T, service *auth.Service) (*auth.UserAccount, string) {
	t.Helper()
	account, err := service.SignUp(context.Background(), auth.SignUpRequest{
		Username: "ewout",
		Password: "hunter22",
	})
	require.NoError(t, err)
	public, err := service.IssuePublicToken(account, "10.0.0.1")
	require.NoError(t, err)
	return account, public
}

// echoUser records the identity the middleware attached.
func echoUser(captured **auth.UserAccount) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = middleware.GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearer_AnonymousPassesThrough(t *testing.T) {
	_, bearer := setupBearer(t)

	var user *auth.UserAccount
	rec := httptest.NewRecorder()
	bearer(echoUser(&user)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/db/state", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, user)
}

func TestBearer_ValidTokenAttachesUser(t *testing.T) {
	service, bearer := setupBearer(t)
	account, public := createAccount(t, service)

	var user *auth.UserAccount
	req := httptest.NewRequest(http.MethodGet, "/auth/db/state", nil)
	req.Header.Set("Authorization", "Bearer "+public)
	rec := httptest.NewRecorder()
	bearer(echoUser(&user)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, user)
	assert.Equal(t, account.UID, user.UID)
}

func TestBearer_InvalidTokenRejected(t *testing.T) {
	_, bearer := setupBearer(t)

	var user *auth.UserAccount
	req := httptest.NewRequest(http.MethodGet, "/auth/db/state", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	bearer(echoUser(&user)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeInvalidToken)
	assert.Nil(t, user)
}

func TestBearer_CacheMissRepopulatesFromDatabase(t *testing.T) {
	service, bearer := setupBearer(t)
	account, public := createAccount(t, service)

	// Simulate a restarted process: the cache is cold but the account
	// still exists.
	service.Cache().Remove(context.Background(), account.UID)

	var user *auth.UserAccount
	req := httptest.NewRequest(http.MethodGet, "/auth/db/state", nil)
	req.Header.Set("Authorization", "Bearer "+public)
	rec := httptest.NewRecorder()
	bearer(echoUser(&user)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, user)
	assert.Equal(t, account.UID, user.UID)

	_, ok := service.Cache().Get(context.Background(), account.UID)
	assert.True(t, ok, "internal sign-in should repopulate the cache")
}

func TestBearer_DisabledAccountRejected(t *testing.T) {
	service, bearer := setupBearer(t)
	account, public := createAccount(t, service)

	account.IsDisabled = true
	service.Cache().Set(context.Background(), account.UID, account)

	req := httptest.NewRequest(http.MethodGet, "/auth/db/state", nil)
	req.Header.Set("Authorization", "Bearer "+public)
	rec := httptest.NewRecorder()
	bearer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for a disabled account")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeAccountDisabled)
}

func TestBearer_RotatedTokenRejected(t *testing.T) {
	service, bearer := setupBearer(t)
	account, public := createAccount(t, service)

	// Password change rotates the private token; the old public token no
	// longer matches.
	_, err := service.ChangePassword(context.Background(), account.UID, "hunter22", "newpassword1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/db/state", nil)
	req.Header.Set("Authorization", "Bearer "+public)
	rec := httptest.NewRecorder()
	bearer(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeTokenMismatch)
}

func TestBearer_QueryTokenOnlyOnAllowListedPaths(t *testing.T) {
	service, bearer := setupBearer(t)
	_, public := createAccount(t, service)

	var user *auth.UserAccount
	rec := httptest.NewRecorder()
	bearer(echoUser(&user)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export/db?auth_token="+public, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, user, "export route accepts the query token")

	user = nil
	rec = httptest.NewRecorder()
	bearer(echoUser(&user)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/db/state?auth_token="+public, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, user, "other routes ignore the query token")
}

func TestBearer_DisabledMiddlewareIsNoOp(t *testing.T) {
	store := storage.NewMemoryStore()
	service := auth.NewService(auth.NewStoreRepository(store), auth.NewMemoryCache(10, time.Hour), audit.NopSink{}, testSalt)
	bearer := middleware.Bearer(service, false)

	req := httptest.NewRequest(http.MethodGet, "/auth/db/state", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	bearer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthAndAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	middleware.RequireAuth()(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// RequireAdmin refuses a regular user but admits the admin uid.
	service, bearer := setupBearer(t)
	_, public := createAccount(t, service)

	req := httptest.NewRequest(http.MethodGet, "/logs/db", nil)
	req.Header.Set("Authorization", "Bearer "+public)
	rec = httptest.NewRecorder()
	bearer(middleware.RequireAdmin()(ok)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := &auth.UserAccount{UID: rules.AdminUID, AccessToken: "admin-secret"}
	service.Cache().Set(context.Background(), admin.UID, admin)
	adminToken, err := service.IssuePublicToken(admin, "10.0.0.1")
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/logs/db", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	bearer(middleware.RequireAdmin()(ok)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
