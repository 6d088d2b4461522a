package httpapi

import (
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Verified    bool       `json:"verified"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type loginResponse struct {
	tokenResponse
	User        userResponse `json:"user"`
	Roles       []string     `json:"roles"`
	Permissions []string     `json:"permissions"`
}

func toTokens(p goIdentity.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.SessionID,
	}
}

func toUser(u *goIdentity.UserRecord) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Verified:    u.Verified,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func toLogin(res *goIdentity.LoginResult) loginResponse {
	return loginResponse{
		tokenResponse: toTokens(res.TokenPair),
		User:          toUser(res.User),
		Roles:         res.Roles,
		Permissions:   res.Permissions,
	}
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email     string `json:"email"`
		Username  string `json:"username"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	res, err := a.engine.Register(r.Context(), goIdentity.RegisterInput{
		Email:     body.Email,
		Username:  body.Username,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	if err != nil && (res == nil || res.User == nil) {
		a.writeError(w, r, err)
		return
	}
	if err != nil {
		// Registered, but the automatic login failed.
		a.logger.Warn("auto login after registration failed", "user_id", res.User.ID, "error", err)
	}

	out := map[string]any{"user": toUser(res.User)}
	if res.Login != nil {
		out["login"] = toLogin(res.Login)
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	res, err := a.engine.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogin(res))
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decode(r, &body); err != nil || body.RefreshToken == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "refresh_token required")
		return
	}

	pair, err := a.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokens(*pair))
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decode(r, &body); err != nil || body.RefreshToken == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "refresh_token required")
		return
	}

	if err := a.engine.Logout(r.Context(), actor(r).UserID, body.RefreshToken); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.LogoutAll(r.Context(), actor(r).UserID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	profile, err := a.engine.CurrentUser(r.Context(), actor(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	roles := make([]string, 0, len(profile.Roles))
	for _, role := range profile.Roles {
		roles = append(roles, role.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        toUser(profile.User),
		"roles":       roles,
		"permissions": profile.Permissions,
		"level":       profile.Level,
	})
}

func (a *API) sessions(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	list, err := a.engine.ListSessions(r.Context(), caller.UserID, caller.SessionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	type sessionResponse struct {
		SessionID string    `json:"session_id"`
		IP        string    `json:"ip,omitempty"`
		UserAgent string    `json:"user_agent,omitempty"`
		IssuedAt  time.Time `json:"issued_at"`
		ExpiresAt time.Time `json:"expires_at"`
		Current   bool      `json:"current"`
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sessionResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	if err := a.engine.ChangePassword(r.Context(), actor(r).UserID, body.OldPassword, body.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// forgotPassword always answers 202 for unknown addresses. The token is
// handed to the delivery hook, never to the caller.
func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	token, err := a.engine.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if token != "" {
		a.deliver(r, Delivery{Kind: DeliveryPasswordReset, Email: body.Email, Token: token})
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	if err := a.engine.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resendVerification(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	token, err := a.engine.RequestEmailVerification(r.Context(), caller.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.deliver(r, Delivery{Kind: DeliveryEmailVerification, Email: caller.Email, UserID: caller.UserID, Token: token})
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	if err := a.engine.VerifyEmail(r.Context(), body.Token); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
