package httpserver

import (
	"errors"
	"net/http"

	"userauth/auth-service/internal/audit"
	"userauth/auth-service/internal/auth"
	"userauth/auth-service/internal/observability"
)

// registerProfileHandlers mounts the cookie driven account flow: sign up,
// log in and out, view the profile and reset a forgotten password.
func registerProfileHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusOK, "Bienvenue")
	})

	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		email, password, missing := formCredentials(r)
		if missing != "" {
			writeMessage(w, http.StatusBadRequest, missing)
			return
		}
		u, err := deps.Auth.Register(email, password)
		if err != nil {
			deps.Metrics.RecordAuthEvent("register", observability.ResultFailure)
			auditReq(deps, r, audit.Event{Action: audit.ActionRegister, Outcome: audit.OutcomeFailure}, "email="+email)
			switch {
			case errors.Is(err, auth.ErrDuplicateEmail):
				writeMessage(w, http.StatusBadRequest, "email already registered")
			case errors.Is(err, auth.ErrEmptyPassword), errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidField):
				writeMessage(w, http.StatusBadRequest, err.Error())
			default:
				observability.LogError(deps.Logger, "register failed", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		deps.Metrics.RecordAuthEvent("register", observability.ResultSuccess)
		auditReq(deps, r, audit.Event{Actor: u.ID, Action: audit.ActionRegister, Target: u.ID, Outcome: audit.OutcomeSuccess})
		writeJSON(w, http.StatusOK, map[string]string{"email": u.Email, "message": "user created"})
	})

	mux.HandleFunc("POST /sessions", limitLogin(deps, "login", func(w http.ResponseWriter, r *http.Request) {
		email, password, missing := formCredentials(r)
		if missing != "" {
			writeMessage(w, http.StatusBadRequest, missing)
			return
		}
		sess, ok := startSession(w, r, deps, email, password, "Unauthorized")
		if !ok {
			return
		}
		auditReq(deps, r, audit.Event{Actor: sess.UserID, Action: audit.ActionLogin, Target: sess.UserID, Outcome: audit.OutcomeSuccess})
		writeJSON(w, http.StatusOK, map[string]string{"email": email, "message": "logged in"})
	}))

	mux.HandleFunc("DELETE /sessions", func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(r, deps)
		if !ok {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		if err := deps.Auth.Logout(u.ID); err != nil {
			observability.LogError(deps.Logger, "logout failed", err, "user_id", u.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		deps.Metrics.RecordAuthEvent("logout", observability.ResultSuccess)
		auditReq(deps, r, audit.Event{Actor: u.ID, Action: audit.ActionLogout, Target: u.ID, Outcome: audit.OutcomeSuccess})
		clearSessionCookie(w, deps.SessionName)
		http.Redirect(w, r, "/", http.StatusFound)
	})

	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(r, deps)
		if !ok {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"email": u.Email})
	})

	mux.HandleFunc("POST /reset_password", limitLogin(deps, "reset_request", func(w http.ResponseWriter, r *http.Request) {
		email := r.FormValue("email")
		if email == "" {
			writeMessage(w, http.StatusBadRequest, "email missing")
			return
		}
		token, err := deps.Auth.RequestReset(email)
		if err != nil {
			deps.Metrics.RecordAuthEvent("reset_request", observability.ResultFailure)
			auditReq(deps, r, audit.Event{Action: audit.ActionResetRequest, Outcome: audit.OutcomeFailure}, "email="+email)
			if errors.Is(err, auth.ErrUnknownEmail) {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			observability.LogError(deps.Logger, "reset token request failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		deps.Metrics.RecordAuthEvent("reset_request", observability.ResultSuccess)
		auditReq(deps, r, audit.Event{Action: audit.ActionResetRequest, Outcome: audit.OutcomeSuccess}, "email="+email)
		writeJSON(w, http.StatusOK, map[string]string{"email": email, "reset_token": token})
	}))

	mux.HandleFunc("PUT /reset_password", func(w http.ResponseWriter, r *http.Request) {
		email := r.FormValue("email")
		token := r.FormValue("reset_token")
		newPassword := r.FormValue("new_password")
		if err := deps.Auth.ConsumeReset(token, newPassword); err != nil {
			deps.Metrics.RecordAuthEvent("reset", observability.ResultFailure)
			auditReq(deps, r, audit.Event{Action: audit.ActionResetConsume, Outcome: audit.OutcomeFailure}, "email="+email)
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, http.StatusForbidden, "Forbidden")
			case errors.Is(err, auth.ErrEmptyPassword), errors.Is(err, auth.ErrWeakPassword):
				writeMessage(w, http.StatusBadRequest, err.Error())
			default:
				observability.LogError(deps.Logger, "password reset failed", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		deps.Metrics.RecordAuthEvent("reset", observability.ResultSuccess)
		auditReq(deps, r, audit.Event{Action: audit.ActionResetConsume, Outcome: audit.OutcomeSuccess}, "email="+email)
		writeJSON(w, http.StatusOK, map[string]string{"email": email, "message": "Password updated"})
	})
}

// startSession logs the caller in and sets the session cookie. On failure it
// has already written the response: rejected credentials get a 401 carrying
// deniedMsg.
func startSession(w http.ResponseWriter, r *http.Request, deps Deps, email, password, deniedMsg string) (auth.Session, bool) {
	sess, err := deps.Auth.Login(email, password)
	if err != nil {
		deps.Metrics.RecordAuthEvent("login", observability.ResultFailure)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			auditReq(deps, r, audit.Event{Action: audit.ActionLogin, Outcome: audit.OutcomeFailure}, "email="+email)
			writeError(w, http.StatusUnauthorized, deniedMsg)
			return auth.Session{}, false
		}
		observability.LogError(deps.Logger, "login failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return auth.Session{}, false
	}
	deps.Metrics.RecordAuthEvent("login", observability.ResultSuccess)
	cookie := &http.Cookie{
		Name:     deps.SessionName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	if exp := deps.Auth.SessionExpiresAt(sess); !exp.IsZero() {
		cookie.Expires = exp
	}
	http.SetCookie(w, cookie)
	return sess, true
}

func clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
}

func sessionUser(r *http.Request, deps Deps) (auth.User, bool) {
	c, err := r.Cookie(deps.SessionName)
	if err != nil || c.Value == "" {
		return auth.User{}, false
	}
	return deps.Auth.ResolveSession(c.Value)
}
