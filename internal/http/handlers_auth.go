package http

import (
	"errors"
	"net/http"
	"time"

	"cointraq/internal/auth"
	"cointraq/internal/core"
	"cointraq/internal/log"
)

// authedHandler serves a request made by a signed-in user.
type authedHandler func(w http.ResponseWriter, r *http.Request, p core.Principal)

// requirePage redirects anonymous visitors to the login page.
func (s *Server) requirePage(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.sessions.FromRequest(r)
		if err != nil {
			// drop a stale or forged cookie
			if _, cerr := r.Cookie(auth.CookieName); cerr == nil {
				s.sessions.ClearCookie(w)
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		h(w, s.withUser(r, p), p)
	})
}

// requireAPI answers 401 for anonymous callers.
func (s *Server) requireAPI(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.sessions.FromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, message{Msg: "Not authenticated"})
			return
		}
		h(w, s.withUser(r, p), p)
	})
}

func (s *Server) withUser(r *http.Request, p core.Principal) *http.Request {
	ctx := auth.WithPrincipal(r.Context(), p)
	ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, p.UserID))
	return r.WithContext(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.FromRequest(r); err == nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type authPage struct {
	Title string
	Error string
	Name  string
	Email string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login.html", authPage{Title: "Log in"})
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register.html", authPage{Title: "Sign up"})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	email := sanitizeInput(r.PostForm.Get("email"))
	p, err := s.login(r, email, r.PostForm.Get("password"))
	if err != nil {
		status := statusFor(err)
		logFailure(r, "Login failed", log.OpLogin, status, err)
		s.render(w, r, status, "login.html", authPage{Title: "Log in", Error: errorMessage(status, err), Email: email})
		return
	}
	if err := s.sessions.SetCookie(w, p); err != nil {
		s.renderError(w, r, log.OpLogin, err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	name := sanitizeInput(r.PostForm.Get("name"))
	email := sanitizeInput(r.PostForm.Get("email"))
	p, err := s.register(r, name, email, r.PostForm.Get("password"))
	if err != nil {
		status := statusFor(err)
		logFailure(r, "Registration failed", log.OpRegister, status, err)
		s.render(w, r, status, "register.html", authPage{Title: "Sign up", Error: errorMessage(status, err), Name: name, Email: email})
		return
	}
	if err := s.sessions.SetCookie(w, p); err != nil {
		s.renderError(w, r, log.OpRegister, err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleLogoutForm(w http.ResponseWriter, r *http.Request) {
	s.logout(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) login(r *http.Request, email, password string) (core.Principal, error) {
	if err := core.ValidateCredentials(email, password); err != nil {
		// Never tell which part of the pair was wrong.
		return core.Principal{}, core.ErrUnauthorized
	}
	p, err := s.auth.Login(r.Context(), email, password)
	if err != nil {
		return core.Principal{}, err
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "User logged in",
		log.FieldComponent, log.ComponentAuth,
		log.FieldOperation, log.OpLogin,
		log.FieldUserID, p.UserID)
	return p, nil
}

func (s *Server) register(r *http.Request, name, email, password string) (core.Principal, error) {
	if name == "" {
		return core.Principal{}, core.InvalidInput("name is required")
	}
	p, err := s.auth.Register(r.Context(), name, email, password)
	if err != nil {
		return core.Principal{}, err
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "User registered",
		log.FieldComponent, log.ComponentAuth,
		log.FieldOperation, log.OpRegister,
		log.FieldUserID, p.UserID)
	return p, nil
}

// logout clears the cookie even when the upstream call fails.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if p, err := s.sessions.FromRequest(r); err == nil {
		if err := s.auth.Logout(r.Context(), p); err != nil {
			logFailure(r, "Upstream logout failed", log.OpLogout, statusFor(err), err)
		}
		s.dashboard.Invalidate(p.UserID)
	}
	s.sessions.ClearCookie(w)
}

type apiUser struct {
	ID        string `json:"_id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func toAPIUser(u core.User) apiUser {
	out := apiUser{ID: u.ID, Name: u.Name, Email: u.Email}
	if !u.CreatedAt.IsZero() {
		out.CreatedAt = u.CreatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleAPIRegister(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, r, log.OpRegister, err)
		return
	}
	p, err := s.register(r, sanitizeInput(body.Name), sanitizeInput(body.Email), body.Password)
	if err != nil {
		writeAPIError(w, r, log.OpRegister, err)
		return
	}
	if err := s.sessions.SetCookie(w, p); err != nil {
		writeAPIError(w, r, log.OpRegister, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"msg":  "User registered",
		"user": apiUser{ID: p.UserID, Name: sanitizeInput(body.Name), Email: p.Email},
	})
}

func (s *Server) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, r, log.OpLogin, err)
		return
	}
	p, err := s.login(r, sanitizeInput(body.Email), body.Password)
	if err != nil {
		writeAPIError(w, r, log.OpLogin, err)
		return
	}
	if err := s.sessions.SetCookie(w, p); err != nil {
		writeAPIError(w, r, log.OpLogin, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"msg":  "Logged in",
		"user": apiUser{ID: p.UserID, Email: p.Email},
	})
}

func (s *Server) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	s.logout(w, r)
	writeJSON(w, http.StatusOK, message{Msg: "Logged out"})
}

// handleAPIAuthStatus reports whether the session is valid and its account
// still exists.
func (s *Server) handleAPIAuthStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.sessions.FromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	u, err := s.auth.Status(r.Context(), p)
	if err != nil {
		if !errors.Is(err, core.ErrUnauthorized) {
			writeAPIError(w, r, log.OpRead, err)
			return
		}
		s.sessions.ClearCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": toAPIUser(u)})
}

func (s *Server) handleAPIGetUser(w http.ResponseWriter, r *http.Request, p core.Principal) {
	u, err := s.auth.Status(r.Context(), p)
	if err != nil {
		writeAPIError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toAPIUser(u)})
}
