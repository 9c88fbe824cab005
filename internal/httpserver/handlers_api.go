package httpserver

import (
	"errors"
	"net/http"

	"userauth/auth-service/internal/audit"
	"userauth/auth-service/internal/auth"
	"userauth/auth-service/internal/observability"
)

func registerAPIHandlers(mux *http.ServeMux, deps Deps) {
	rv := newRequestValidator()

	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, _ *http.Request) {
		n, err := deps.Auth.CountUsers()
		if err != nil {
			observability.LogError(deps.Logger, "count users failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"users": n})
	})
	mux.HandleFunc("GET /api/v1/unauthorized", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	})
	mux.HandleFunc("GET /api/v1/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusForbidden, "Forbidden")
	})

	mux.HandleFunc("GET /api/v1/users", func(w http.ResponseWriter, _ *http.Request) {
		users, err := deps.Auth.Users()
		if err != nil {
			observability.LogError(deps.Logger, "list users failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		out := make([]userJSON, 0, len(users))
		for _, u := range users {
			out = append(out, toUserJSON(u))
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST /api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[createUserRequest](r)
		if !ok {
			writeError(w, http.StatusBadRequest, msgWrongFormat)
			return
		}
		if err := rv.check(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		u, err := deps.Auth.CreateUser(auth.NewUser{
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if err != nil {
			deps.Metrics.RecordAuthEvent("register", observability.ResultFailure)
			auditReq(deps, r, audit.Event{Action: audit.ActionRegister, Outcome: audit.OutcomeFailure}, "email="+req.Email)
			observability.LogError(deps.Logger, "create user failed", err)
			writeError(w, http.StatusBadRequest, "Can't create User: "+err.Error())
			return
		}
		deps.Metrics.RecordAuthEvent("register", observability.ResultSuccess)
		auditReq(deps, r, audit.Event{Actor: actorID(r), Action: audit.ActionRegister, Target: u.ID, Outcome: audit.OutcomeSuccess})
		writeJSON(w, http.StatusCreated, toUserJSON(u))
	})

	mux.HandleFunc("GET /api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := lookupUser(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toUserJSON(u))
	})

	mux.HandleFunc("PUT /api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := lookupUser(w, r, deps)
		if !ok {
			return
		}
		req, ok := decodeJSON[updateUserRequest](r)
		if !ok {
			writeError(w, http.StatusBadRequest, msgWrongFormat)
			return
		}
		if err := rv.check(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := deps.Auth.UpdateProfile(u.ID, auth.ProfileUpdate{FirstName: req.FirstName, LastName: req.LastName})
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Not found")
				return
			}
			observability.LogError(deps.Logger, "update user failed", err, "user_id", u.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		auditReq(deps, r, audit.Event{Actor: actorID(r), Action: audit.ActionProfileUpdate, Target: u.ID, Outcome: audit.OutcomeSuccess})
		writeJSON(w, http.StatusOK, toUserJSON(updated))
	})

	mux.HandleFunc("DELETE /api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := lookupUser(w, r, deps)
		if !ok {
			return
		}
		if err := deps.Auth.DeleteUser(u.ID); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Not found")
				return
			}
			observability.LogError(deps.Logger, "delete user failed", err, "user_id", u.ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		auditReq(deps, r, audit.Event{Actor: actorID(r), Action: audit.ActionUserDelete, Target: u.ID, Outcome: audit.OutcomeSuccess})
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	mux.HandleFunc("POST /api/v1/auth_session/login", limitLogin(deps, "login", func(w http.ResponseWriter, r *http.Request) {
		email, password, missing := formCredentials(r)
		if missing != "" {
			writeError(w, http.StatusBadRequest, missing)
			return
		}
		u, err := deps.Auth.UserByEmail(email)
		if err != nil {
			deps.Metrics.RecordAuthEvent("login", observability.ResultFailure)
			if errors.Is(err, auth.ErrNotFound) {
				auditReq(deps, r, audit.Event{Action: audit.ActionLogin, Outcome: audit.OutcomeFailure}, "email="+email)
				writeError(w, http.StatusNotFound, "no user found for this email")
				return
			}
			observability.LogError(deps.Logger, "login lookup failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if _, ok := startSession(w, r, deps, email, password, "wrong password"); !ok {
			return
		}
		auditReq(deps, r, audit.Event{Actor: u.ID, Action: audit.ActionLogin, Target: u.ID, Outcome: audit.OutcomeSuccess})
		writeJSON(w, http.StatusOK, toUserJSON(u))
	}))

	mux.HandleFunc("DELETE /api/v1/auth_session/logout", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(deps.SessionName)
		if err != nil || c.Value == "" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		ended, err := deps.Auth.EndSession(c.Value)
		if err != nil {
			observability.LogError(deps.Logger, "end session failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ended {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		deps.Metrics.RecordAuthEvent("logout", observability.ResultSuccess)
		auditReq(deps, r, audit.Event{Actor: actorID(r), Action: audit.ActionLogout, Outcome: audit.OutcomeSuccess})
		clearSessionCookie(w, deps.SessionName)
		writeJSON(w, http.StatusOK, map[string]any{})
	})
}

// lookupUser resolves the {id} path value, where "me" names the caller.
// It writes a 404 when there is no such user.
func lookupUser(w http.ResponseWriter, r *http.Request, deps Deps) (auth.User, bool) {
	id := r.PathValue("id")
	if id == "me" {
		u, ok := CurrentUser(r.Context())
		if !ok {
			writeError(w, http.StatusNotFound, "Not found")
		}
		return u, ok
	}
	u, err := deps.Auth.User(id)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			observability.LogError(deps.Logger, "load user failed", err, "user_id", id)
			writeError(w, http.StatusInternalServerError, "internal error")
			return auth.User{}, false
		}
		writeError(w, http.StatusNotFound, "Not found")
		return auth.User{}, false
	}
	return u, true
}

func actorID(r *http.Request) string {
	u, _ := CurrentUser(r.Context())
	return u.ID
}
