package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/appy-one/acebase-server-sub001/internal/api/middleware"
	"github.com/appy-one/acebase-server-sub001/internal/api/response"
	"github.com/appy-one/acebase-server-sub001/internal/api/validation"
	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
)

type signInRequest struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Username    string         `json:"username"`
	Email       string         `json:"email"`
	Password    string         `json:"password"`
	DisplayName string         `json:"displayName"`
	Picture     string         `json:"picture"`
	Settings    map[string]any `json:"settings"`
}

type updateRequest struct {
	UID         string         `json:"uid"`
	DisplayName *string        `json:"displayName"`
	Picture     *string        `json:"picture"`
	Settings    map[string]any `json:"settings"`
}

type userResponse struct {
	UID           string         `json:"uid"`
	Username      string         `json:"username,omitempty"`
	Email         string         `json:"email,omitempty"`
	DisplayName   string         `json:"displayName,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	Created       string         `json:"created"`
	LastSignin    *string        `json:"lastSignin,omitempty"`
	Settings      map[string]any `json:"settings,omitempty"`
}

type signInResponse struct {
	AccessToken string       `json:"access_token"`
	User        userResponse `json:"user"`
}

// AuthHandler handles the /auth/{db}/* endpoints.
type AuthHandler struct {
	service *auth.Service
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

func userToResponse(u *auth.UserAccount) userResponse {
	resp := userResponse{
		UID:           u.UID,
		Username:      u.Username,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Picture:       u.Picture,
		EmailVerified: u.EmailVerified,
		Created:       u.Created.UTC().Format(time.RFC3339),
		Settings:      u.Settings,
	}
	if u.LastSignin != nil {
		t := u.LastSignin.UTC().Format(time.RFC3339)
		resp.LastSignin = &t
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Err(w, http.StatusUnprocessableEntity, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

// writeSignInError maps auth failures onto transport statuses without
// leaking more than the code enumeration.
func writeSignInError(w http.ResponseWriter, err error) {
	var serr *auth.SignInError
	if errors.As(err, &serr) {
		response.Err(w, http.StatusUnauthorized, serr.Code, "not authenticated")
		return
	}
	response.Unexpected(w, err)
}

// SignIn handles POST /auth/{db}/signin. The credential method is
// inferred from which discriminant field is present.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeBody(w, r, &req) {
		return
	}

	signin := auth.SignInRequest{ClientIP: middleware.ClientIP(r)}
	switch {
	case req.Token != "":
		signin.Method = auth.MethodToken
		signin.PublicToken = req.Token
	case req.Email != "":
		signin.Method = auth.MethodEmail
		signin.Email = req.Email
		signin.Password = req.Password
	case req.Username != "":
		signin.Method = auth.MethodUsername
		signin.Username = req.Username
		signin.Password = req.Password
	default:
		response.Err(w, http.StatusUnprocessableEntity, "invalid_request", "token, email or username is required")
		return
	}

	account, err := h.service.SignIn(r.Context(), signin)
	if err != nil {
		writeSignInError(w, err)
		return
	}

	publicToken, err := h.service.IssuePublicToken(account, signin.ClientIP)
	if err != nil {
		response.Unexpected(w, err)
		return
	}
	response.OK(w, signInResponse{AccessToken: publicToken, User: userToResponse(account)})
}

// SignUp handles POST /auth/{db}/signup.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeBody(w, r, &req) {
		return
	}

	fieldErrors := validation.ValidateSignUpRequest(validation.SignUpRequest{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if len(fieldErrors) > 0 {
		response.Err(w, http.StatusUnprocessableEntity, "invalid_request", fieldErrors[0].Field+": "+fieldErrors[0].Message)
		return
	}

	account, err := h.service.SignUp(r.Context(), auth.SignUpRequest{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Picture:     req.Picture,
		Settings:    req.Settings,
		ClientIP:    middleware.ClientIP(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrEmailTaken):
			response.Err(w, http.StatusConflict, "conflict", err.Error())
		case errors.Is(err, auth.ErrAdminReserved):
			response.Err(w, http.StatusForbidden, "forbidden", err.Error())
		default:
			response.Unexpected(w, err)
		}
		return
	}

	publicToken, err := h.service.IssuePublicToken(account, middleware.ClientIP(r))
	if err != nil {
		response.Unexpected(w, err)
		return
	}
	response.OK(w, signInResponse{AccessToken: publicToken, User: userToResponse(account)})
}

// targetUID resolves which account an authenticated request operates
// on: the caller's own, or any account when the caller is admin.
func targetUID(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	user := middleware.GetUser(r.Context())
	if requested == "" || requested == user.UID {
		return user.UID, true
	}
	if user.UID != rules.AdminUID {
		response.Err(w, http.StatusForbidden, "forbidden", "cannot operate on another account")
		return "", false
	}
	return requested, true
}

// Update handles POST /auth/{db}/update.
func (h *AuthHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	uid, ok := targetUID(w, r, req.UID)
	if !ok {
		return
	}

	account, err := h.service.UpdateAccount(r.Context(), uid, auth.AccountUpdate{
		DisplayName: req.DisplayName,
		Picture:     req.Picture,
		Settings:    req.Settings,
	})
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			response.Err(w, http.StatusNotFound, "not_found", "account not found")
			return
		}
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{"user": userToResponse(account)})
}

// Delete handles POST /auth/{db}/delete.
func (h *AuthHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID string `json:"uid"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	uid, ok := targetUID(w, r, req.UID)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), uid); err != nil {
		if errors.Is(err, auth.ErrAdminReserved) {
			response.Err(w, http.StatusForbidden, "forbidden", err.Error())
			return
		}
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{})
}

// ChangePassword handles POST /auth/{db}/change_password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID         string `json:"uid"`
		Password    string `json:"password"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if fieldErrors := validation.ValidatePassword(req.NewPassword); len(fieldErrors) > 0 {
		response.Err(w, http.StatusUnprocessableEntity, "invalid_request", fieldErrors[0].Message)
		return
	}
	uid, ok := targetUID(w, r, req.UID)
	if !ok {
		return
	}

	account, err := h.service.ChangePassword(r.Context(), uid, req.Password, req.NewPassword)
	if err != nil {
		writeSignInError(w, err)
		return
	}

	publicToken, err := h.service.IssuePublicToken(account, middleware.ClientIP(r))
	if err != nil {
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{"access_token": publicToken})
}

// ForgotPassword handles POST /auth/{db}/forgot_password. The signed
// reset code is returned to the caller; delivering it to the user
// (email) is outside this gateway.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if fieldErrors := validation.ValidateEmail(req.Email); len(fieldErrors) > 0 {
		response.Err(w, http.StatusUnprocessableEntity, "invalid_request", fieldErrors[0].Message)
		return
	}

	code, err := h.service.RequestPasswordReset(r.Context(), req.Email, middleware.ClientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			response.Err(w, http.StatusNotFound, "not_found", "account not found")
			return
		}
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{"code": code})
}

// ResetPassword handles POST /auth/{db}/reset_password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if fieldErrors := validation.ValidatePassword(req.Password); len(fieldErrors) > 0 {
		response.Err(w, http.StatusUnprocessableEntity, "invalid_request", fieldErrors[0].Message)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Code, req.Password, middleware.ClientIP(r)); err != nil {
		if errors.Is(err, auth.ErrInvalidResetCode) {
			response.Err(w, http.StatusGone, "invalid_code", "reset code is invalid or already used")
			return
		}
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{})
}

// SendEmailVerification handles POST /auth/{db}/send_email_verification.
func (h *AuthHandler) SendEmailVerification(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	code, err := h.service.RequestEmailVerification(r.Context(), user.UID)
	if err != nil {
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{"code": code})
}

// VerifyEmail handles POST /auth/{db}/verify_email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Code, middleware.ClientIP(r)); err != nil {
		if errors.Is(err, auth.ErrInvalidResetCode) {
			response.Err(w, http.StatusGone, "invalid_code", "verification code is invalid or already used")
			return
		}
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{})
}

// State handles GET /auth/{db}/state.
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		response.OK(w, map[string]any{"signed_in": false})
		return
	}
	response.OK(w, map[string]any{"signed_in": true, "user": userToResponse(user)})
}
