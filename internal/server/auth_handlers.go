// auth_handlers.go - Invite bootstrap/accept, login, logout.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ztransfer/internal/auth"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validEmail(email string) bool {
	return emailRegex.MatchString(email)
}

const loginFormHTML = `<!doctype html>
<html><body>
<h1>Sign in</h1>
<form method="post" action="/auth/login">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <label>Email <input type="email" name="email" required></label>
  <label>Password <input type="password" name="password" required></label>
  <button type="submit">Sign in</button>
</form>
</body></html>`

var loginFormTmpl = template.Must(template.New("login").Parse(loginFormHTML))

// handleBootstrapInvite seeds the first admin invite. It requires the
// configured bootstrap token and is closed permanently once any user
// exists.
func (s *Server) handleBootstrapInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AdminToken string `json:"admin_token"`
		Email      string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if s.cfg.BootstrapToken == "" ||
		subtle.ConstantTimeCompare([]byte(req.AdminToken), []byte(s.cfg.BootstrapToken)) != 1 {
		writeDetail(w, http.StatusForbidden, "Invalid bootstrap token")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(req.Email) {
		writeDetail(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	exists, err := s.cfg.Auth.UsersExist(r.Context())
	if err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "users_exist_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}
	if exists {
		writeDetail(w, http.StatusConflict, "Bootstrap unavailable once users exist")
		return
	}

	inv, rawToken, err := s.cfg.Auth.CreateInvite(r.Context(), req.Email, "admin", nil)
	if err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "create_invite_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"invite_token": rawToken,
		"expires_at":   inv.ExpiresAt.Format(time.RFC3339),
	})
}

// handleAcceptInvite consumes an invite and creates the account.
func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Token    string `json:"token"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" || req.Email == "" || len(req.Password) < 8 {
		writeDetail(w, http.StatusBadRequest, "Token, email and a password of at least 8 characters are required")
		return
	}

	user, err := s.cfg.Auth.ConsumeInvite(r.Context(), req.Token, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInvite):
		writeDetail(w, http.StatusBadRequest, "Invalid or expired invite")
		return
	case errors.Is(err, auth.ErrInviteAlreadyUsed):
		writeDetail(w, http.StatusConflict, "Invite already used")
		return
	case err != nil:
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "consume_invite_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	})
}

// handleLogin serves the CSRF-protected login form on GET and performs the
// credential check on POST.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.serveLoginForm(w, r)
	case http.MethodPost:
		s.submitLogin(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveLoginForm(w http.ResponseWriter, r *http.Request) {
	token, err := s.cfg.CSRF.IssueToken()
	if err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "csrf_issue_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CSRFCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.CookieSecure,
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginFormTmpl.Execute(w, struct{ CSRFToken string }{CSRFToken: token})
}

func (s *Server) submitLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	cookie, err := r.Cookie(s.cfg.CSRFCookie)
	cookieValue := ""
	if err == nil {
		cookieValue = cookie.Value
	}
	if !s.cfg.CSRF.ValidateToken(cookieValue, r.PostFormValue("csrf_token")) {
		writeDetail(w, http.StatusBadRequest, "Invalid CSRF token")
		return
	}

	user, err := s.cfg.Auth.AuthenticateUser(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "authenticate_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	rawToken, err := s.cfg.Auth.CreateSession(r.Context(), user.ID, getClientIP(r), r.UserAgent())
	if err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "create_session_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    rawToken,
		Path:     "/",
		Expires:  time.Now().Add(s.cfg.SessionTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.CookieSecure,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout revokes the presented session and clears the cookie. Safe to
// call without a session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(s.cfg.SessionCookie); err == nil && cookie.Value != "" {
		if err := s.cfg.Auth.RevokeSession(r.Context(), cookie.Value); err != nil {
			log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "revoke_session_failed", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.CookieSecure,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// currentUser resolves the authenticated user from the session cookie.
// A nil user with a nil error means "not authenticated".
func (s *Server) currentUser(r *http.Request) (*auth.User, error) {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	user, err := s.cfg.Auth.ResolveUserFromSession(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return user, nil
}
