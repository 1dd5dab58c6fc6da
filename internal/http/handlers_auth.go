package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/auth"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
)

// csrfField is the double-submit token Google Identity Services posts along
// with the credential, echoed in a cookie of the same name.
const csrfField = "g_csrf_token"

type loginData struct {
	ClientID string
	LoginURI string
	Error    string
}

var loginErrors = map[string]string{
	"invalid":   "Sign-in failed. Please try again.",
	"forbidden": "This account is not allowed to view the dashboard.",
}

// safeNext keeps redirects on this host.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}

// requestOrigin is the absolute origin the browser used. Google requires an
// absolute login URI.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	next := safeNext(r.URL.Query().Get("next"))
	data := loginData{
		ClientID: s.clientID,
		LoginURI: requestOrigin(r) + "/auth/session?next=" + url.QueryEscape(next),
		Error:    loginErrors[r.URL.Query().Get("error")],
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "login.html", data); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Login template execution failed",
			applog.FieldOperation, applog.OpRender,
			applog.FieldError, err)
	}
}

// handleCreateSession verifies the posted ID token and stores it in the
// session cookie.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	ctx := r.Context()
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentAuth)

	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(csrfField)
	posted := r.PostForm.Get(csrfField)
	if err != nil || posted == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(posted)) != 1 {
		logger.WarnContext(ctx, "Sign-in CSRF check failed", applog.FieldOperation, applog.OpVerify)
		http.Error(w, "invalid sign-in request", http.StatusBadRequest)
		return
	}

	next := safeNext(r.URL.Query().Get("next"))
	token := strings.TrimSpace(r.PostForm.Get("credential"))
	id, err := s.verifier.Verify(ctx, token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, auth.ErrForbidden) {
			reason = "forbidden"
		}
		logger.WarnContext(ctx, "Sign-in rejected",
			applog.FieldOperation, applog.OpVerify,
			applog.FieldReason, reason,
			applog.FieldError, err)
		target := loginPath + "?error=" + reason + "&next=" + url.QueryEscape(next)
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	auth.SetSessionCookie(w, token, id.ExpiresAt, s.secure)
	logger.InfoContext(ctx, "Signed in", applog.FieldEmail, id.Email)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, s.secure)
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}
