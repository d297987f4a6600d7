// Package dispatch routes decrypted request envelopes to the domain
// services. Every request type maps to exactly one handler; unknown types
// are rejected before any work is queued. Handlers run under a bounded
// worker pool so a burst of expensive operations (argon2) cannot exhaust
// the process.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/waqasbhatti/authnzerver/internal/account"
	"github.com/waqasbhatti/authnzerver/internal/apikeys"
	"github.com/waqasbhatti/authnzerver/internal/auth"
	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/envelope"
	"github.com/waqasbhatti/authnzerver/internal/logging"
	"github.com/waqasbhatti/authnzerver/internal/models"
	"github.com/waqasbhatti/authnzerver/internal/permissions"
	"github.com/waqasbhatti/authnzerver/internal/repositories/users"
	"github.com/waqasbhatti/authnzerver/internal/session"
)

// DefaultWorkers bounds concurrent handler execution when the configuration
// does not say otherwise.
const DefaultWorkers = 4

// DefaultSessionExpiryDays is how long new sessions live when the request
// does not pick a duration.
const DefaultSessionExpiryDays = 30

const (
	msgRequestNotUnderstood = "Request was not understood."
	msgRequestFailed        = "Request failed."
	msgSessionNotFound      = "Session does not exist."
)

// Services collects the domain services a Dispatcher routes to.
type Services struct {
	Sessions *session.Service
	Auth     *auth.Service
	Accounts *account.Service
	APIKeys  *apikeys.Service
}

// Options tune dispatcher behavior.
type Options struct {
	// Workers caps concurrently executing handlers.
	Workers int
	// SessionExpiryDays is the default lifetime of new sessions.
	SessionExpiryDays int
}

// handler decodes a request body and produces the response payload, the
// user-facing messages, and the success verdict.
type handler func(ctx context.Context, body json.RawMessage) (any, []string, bool)

// Dispatcher routes request envelopes to handlers.
type Dispatcher struct {
	svcs       Services
	logger     logging.Logger
	sem        chan struct{}
	expiryDays int
	handlers   map[string]handler
}

// New builds a Dispatcher over the given services.
func New(svcs Services, logger logging.Logger, opts Options) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	expiryDays := opts.SessionExpiryDays
	if expiryDays <= 0 {
		expiryDays = DefaultSessionExpiryDays
	}

	d := &Dispatcher{
		svcs:       svcs,
		logger:     logger,
		sem:        make(chan struct{}, workers),
		expiryDays: expiryDays,
	}
	d.handlers = map[string]handler{
		"session-new":     d.sessionNew,
		"session-exists":  d.sessionExists,
		"session-delete":  d.sessionDelete,
		"session-setinfo": d.sessionSetInfo,

		"user-login":     d.userLogin,
		"user-logout":    d.userLogout,
		"user-passcheck": d.userPassCheck,

		"user-check-permissions": d.userCheckPermissions,

		"user-new":        d.userNew,
		"user-changepass": d.userChangePass,
		"user-resetpass":  d.userResetPass,
		"user-delete":     d.userDelete,
		"user-list":       d.userList,
		"user-edit":       d.userEdit,

		"email-signup":     d.emailSignup,
		"email-forgotpass": d.emailForgotPass,
		"email-verify":     d.emailVerify,

		"apikey-new":    d.apikeyNew,
		"apikey-verify": d.apikeyVerify,
		"apikey-revoke": d.apikeyRevoke,
	}
	return d
}

// RequestTypes lists every request type this dispatcher understands.
func (d *Dispatcher) RequestTypes() []string {
	types := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		types = append(types, k)
	}
	return types
}

// Handle routes one decrypted request and always produces a response
// envelope: handler panics and unknown request types become generic
// failures, never a dropped connection.
func (d *Dispatcher) Handle(ctx context.Context, req envelope.Request) envelope.Response {
	log := d.logger.With("reqid", req.ReqID, "request", req.Request,
		"corr_id", uuid.NewString())

	h, ok := d.handlers[req.Request]
	if !ok {
		log.Warn(ctx, "unknown request type")
		return envelope.Response{
			Success: false, ReqID: req.ReqID,
			Messages: []string{msgRequestNotUnderstood},
		}
	}

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return envelope.Response{
			Success: false, ReqID: req.ReqID,
			Messages: []string{msgRequestFailed},
		}
	}

	resp := envelope.Response{ReqID: req.ReqID}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error(ctx, "handler panicked", "panic", r)
				resp.Success = false
				resp.Response = nil
				resp.Messages = []string{msgRequestFailed}
			}
		}()
		resp.Response, resp.Messages, resp.Success = h(ctx, req.Body)
	}()

	if !resp.Success {
		log.Warn(ctx, "request failed")
	}
	return resp
}

// failure produces the uniform failing triple.
func failure(messages ...string) (any, []string, bool) {
	if len(messages) == 0 {
		messages = []string{msgRequestFailed}
	}
	return nil, messages, false
}

// decode unmarshals a handler body, tolerating an empty one.
func decode(body json.RawMessage, v any) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// sessionInfo is the wire shape of a session-and-user view.
type sessionInfo struct {
	SessionToken string         `json:"session_token"`
	UserID       int64          `json:"user_id"`
	Email        string         `json:"email"`
	FullName     string         `json:"full_name"`
	UserRole     string         `json:"user_role"`
	IsActive     bool           `json:"is_active"`
	IPAddress    string         `json:"ip_address"`
	ClientHeader string         `json:"client_header"`
	Created      string         `json:"created"`
	Expires      string         `json:"expires"`
	ExtraInfo    map[string]any `json:"extra_info"`
}

func sessionInfoFrom(su *models.SessionUser) *sessionInfo {
	extra := map[string]any{}
	_ = json.Unmarshal([]byte(su.ExtraInfo), &extra)
	return &sessionInfo{
		SessionToken: su.Token,
		UserID:       su.UserID,
		Email:        su.Email,
		FullName:     su.FullName.String,
		UserRole:     su.UserRole,
		IsActive:     su.IsActive,
		IPAddress:    su.IPAddress,
		ClientHeader: su.ClientHeader,
		Created:      su.Created.UTC().Format(time.RFC3339),
		Expires:      su.Expires.UTC().Format(time.RFC3339),
		ExtraInfo:    extra,
	}
}

func (d *Dispatcher) sessionNew(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		UserID       int64          `json:"user_id"`
		IPAddress    string         `json:"ip_address"`
		ClientHeader string         `json:"client_header"`
		ExpiresDays  int            `json:"expires_days"`
		ExtraInfo    map[string]any `json:"extra_info"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	days := params.ExpiresDays
	if days <= 0 {
		days = d.expiryDays
	}

	sess, err := d.svcs.Sessions.New(ctx, params.UserID, params.IPAddress,
		params.ClientHeader, time.Now().UTC().AddDate(0, 0, days), params.ExtraInfo)
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			return failure("Invalid session request.")
		}
		return failure()
	}
	return map[string]any{
		"session_token": sess.Token,
		"expires":       sess.Expires.UTC().Format(time.RFC3339),
	}, []string{"Session created."}, true
}

func (d *Dispatcher) sessionExists(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		SessionToken string `json:"session_token"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	su, err := d.svcs.Sessions.Exists(ctx, params.SessionToken)
	if err != nil {
		return failure(msgSessionNotFound)
	}
	return map[string]any{"session_info": sessionInfoFrom(su)},
		[]string{"Session found."}, true
}

func (d *Dispatcher) sessionDelete(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		SessionToken string `json:"session_token"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	if err := d.svcs.Sessions.Delete(ctx, params.SessionToken); err != nil {
		return failure(msgSessionNotFound)
	}
	return nil, []string{"Session deleted."}, true
}

func (d *Dispatcher) sessionSetInfo(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		SessionToken string         `json:"session_token"`
		ExtraInfo    map[string]any `json:"extra_info"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	su, err := d.svcs.Sessions.SetExtraInfo(ctx, params.SessionToken, params.ExtraInfo)
	if err != nil {
		return failure(msgSessionNotFound)
	}
	return map[string]any{"session_info": sessionInfoFrom(su)},
		[]string{"Session info updated."}, true
}

func (d *Dispatcher) userLogin(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		SessionToken string `json:"session_token"`
		Email        string `json:"email"`
		Password     string `json:"password"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Auth.Login(ctx, params.SessionToken, params.Email, params.Password)
	if !res.Success {
		return failure(res.Messages...)
	}
	return map[string]any{"user_id": res.UserID, "user_role": res.UserRole},
		res.Messages, true
}

func (d *Dispatcher) userLogout(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		SessionToken string `json:"session_token"`
		UserID       int64  `json:"user_id"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Auth.Logout(ctx, params.SessionToken, params.UserID)
	if !res.Success {
		return failure(res.Messages...)
	}
	return map[string]any{"user_id": res.UserID}, res.Messages, true
}

func (d *Dispatcher) userPassCheck(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		SessionToken string `json:"session_token"`
		Password     string `json:"password"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Auth.PasswordRecheck(ctx, params.SessionToken, params.Password)
	if !res.Success {
		return failure(res.Messages...)
	}
	return map[string]any{"user_id": res.UserID, "user_role": res.UserRole},
		res.Messages, true
}

func (d *Dispatcher) userCheckPermissions(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		UserID     int64  `json:"user_id"`
		UserRole   string `json:"user_role"`
		Action     string `json:"action"`
		Resource   string `json:"resource_name"`
		OwnerID    int64  `json:"resource_owner_id"`
		Visibility string `json:"resource_visibility"`
		SharedWith string `json:"resource_sharedwith"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	granted := permissions.Decide(permissions.Request{
		UserID:       params.UserID,
		Role:         params.UserRole,
		Action:       params.Action,
		ResourceKind: params.Resource,
		OwnerID:      params.OwnerID,
		Visibility:   params.Visibility,
		SharedWith:   params.SharedWith,
	})
	if !granted {
		return map[string]any{"granted": false},
			[]string{"Access denied."}, false
	}
	return map[string]any{"granted": true}, []string{"Access granted."}, true
}

func (d *Dispatcher) userNew(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Accounts.Create(ctx, params.Email, params.Password)
	payload := map[string]any{
		"user_email":        res.UserEmail,
		"user_id":           res.UserID,
		"send_verification": res.SendVerification,
	}
	return payload, res.Messages, res.Success
}

func (d *Dispatcher) userChangePass(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		UserID          int64  `json:"user_id"`
		Email           string `json:"email"`
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Accounts.ChangePassword(ctx, params.UserID, params.Email,
		params.CurrentPassword, params.NewPassword)
	return map[string]any{"user_id": res.UserID}, res.Messages, res.Success
}

func (d *Dispatcher) userResetPass(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		Email        string `json:"email"`
		SessionToken string `json:"session_token"`
		NewPassword  string `json:"new_password"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Accounts.ResetPassword(ctx, params.Email, params.SessionToken,
		params.NewPassword)
	return map[string]any{"user_id": res.UserID}, res.Messages, res.Success
}

func (d *Dispatcher) userDelete(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		UserID   int64  `json:"user_id"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Accounts.Delete(ctx, params.UserID, params.Email, params.Password)
	return map[string]any{"user_id": res.UserID}, res.Messages, res.Success
}

func (d *Dispatcher) userList(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		UserIDs []int64 `json:"user_ids"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	infos, err := d.svcs.Accounts.List(ctx, params.UserIDs)
	if err != nil {
		return failure()
	}
	return map[string]any{"user_info": infos}, []string{"User list retrieved."}, true
}

func (d *Dispatcher) userEdit(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		ActorID   int64  `json:"actor_id"`
		ActorRole string `json:"actor_role"`
		TargetID  int64  `json:"target_id"`
		Update    struct {
			FullName      *string `json:"full_name"`
			Email         *string `json:"email"`
			IsActive      *bool   `json:"is_active"`
			EmailVerified *bool   `json:"email_verified"`
			UserRole      *string `json:"user_role"`
		} `json:"update"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	info, err := d.svcs.Accounts.Edit(ctx, account.EditRequest{
		ActorID:   params.ActorID,
		ActorRole: params.ActorRole,
		TargetID:  params.TargetID,
		Update: users.Update{
			FullName:      params.Update.FullName,
			Email:         params.Update.Email,
			IsActive:      params.Update.IsActive,
			EmailVerified: params.Update.EmailVerified,
			UserRole:      params.Update.UserRole,
		},
	})
	switch {
	case err == nil:
		return map[string]any{"user_info": info}, []string{"User updated."}, true
	case errors.Is(err, common.ErrUnauthorized):
		return failure("You are not allowed to make this change.")
	case errors.Is(err, common.ErrValidation):
		return failure("This change is not valid.")
	default:
		return failure()
	}
}

func (d *Dispatcher) emailSignup(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		Email        string `json:"email"`
		SessionToken string `json:"session_token"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Accounts.SendSignupEmail(ctx, params.Email, params.SessionToken)
	return map[string]any{"user_id": res.UserID}, res.Messages, res.Success
}

func (d *Dispatcher) emailForgotPass(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		Email        string `json:"email"`
		SessionToken string `json:"session_token"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res := d.svcs.Accounts.SendForgotPassEmail(ctx, params.Email, params.SessionToken)
	return map[string]any{"user_id": res.UserID}, res.Messages, res.Success
}

func (d *Dispatcher) emailVerify(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		Email        string `json:"email"`
		SessionToken string `json:"session_token"`
		VerifyToken  string `json:"verify_token"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	if !d.svcs.Accounts.CheckEmailToken(ctx, params.SessionToken, "signup", params.VerifyToken) {
		return failure("Verification token is invalid or has expired.")
	}
	info, err := d.svcs.Accounts.VerifyEmail(ctx, params.Email)
	if err != nil {
		return failure("Verification token is invalid or has expired.")
	}
	return map[string]any{"user_info": info}, []string{"Email address verified."}, true
}

func (d *Dispatcher) apikeyNew(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		SessionToken string `json:"session_token"`
		UserID       int64  `json:"user_id"`
		UserRole     string `json:"user_role"`
		IPAddress    string `json:"ip_address"`
		ClientHeader string `json:"client_header"`
		ExpiresDays  int    `json:"expires_days"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	issued, err := d.svcs.APIKeys.Issue(ctx, apikeys.IssueRequest{
		SessionToken: params.SessionToken,
		UserID:       params.UserID,
		UserRole:     params.UserRole,
		IPAddress:    params.IPAddress,
		ClientHeader: params.ClientHeader,
		ExpiresDays:  params.ExpiresDays,
	})
	if err != nil {
		return failure("API key request was not authorized.")
	}
	return map[string]any{
		"apikey":  issued.Bundle,
		"expires": issued.Expires.UTC().Format(time.RFC3339),
	}, []string{"API key issued."}, true
}

func (d *Dispatcher) apikeyVerify(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		APIKey string `json:"apikey"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	res, err := d.svcs.APIKeys.Verify(ctx, params.APIKey)
	if err != nil {
		return failure("API key is invalid, expired, or revoked.")
	}
	return map[string]any{
		"user_id":   res.UserID,
		"user_role": res.UserRole,
		"expires":   res.Expires.UTC().Format(time.RFC3339),
	}, []string{"API key verified."}, true
}

func (d *Dispatcher) apikeyRevoke(ctx context.Context, body json.RawMessage) (any, []string, bool) {
	var params struct {
		APIKey string `json:"apikey"`
		UserID int64  `json:"user_id"`
	}
	if err := decode(body, &params); err != nil {
		return failure(msgRequestNotUnderstood)
	}
	if err := d.svcs.APIKeys.Revoke(ctx, params.APIKey, params.UserID); err != nil {
		return failure("API key could not be revoked.")
	}
	return nil, []string{"API key revoked."}, true
}
