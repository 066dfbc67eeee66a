package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	adminCookieName = "admin_session"
	sessionTTL      = 12 * time.Hour
)

// session values are "<unix expiry>.<hmac>"
func (a *App) signSession(exp int64) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte("admin|" + strconv.FormatInt(exp, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (a *App) validSession(v string) bool {
	raw, sig, ok := strings.Cut(v, ".")
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(a.signSession(exp)))
}

// RequireAdmin is middleware: blocks access unless logged in
func (a *App) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(adminCookieName)
		if err != nil || !a.validSession(c.Value) {
			http.Redirect(w, r, "/admin/login?next="+r.URL.RequestURI(), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GET /admin/login
func (a *App) AdminLoginForm(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, "admin/login.tmpl", map[string]any{
		"Title": "Staff • Login",
		"Next":  r.URL.Query().Get("next"),
		"Flash": MakeFlash(r, "", ""),
	})
}

// POST /admin/login
func (a *App) AdminLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pw := r.FormValue("password")
	if a.Cfg.AdminPassword == "" || subtle.ConstantTimeCompare([]byte(pw), []byte(a.Cfg.AdminPassword)) != 1 {
		a.Log.Warn("admin login failed", zap.String("ip", r.RemoteAddr))
		a.render(w, http.StatusUnauthorized, "admin/login.tmpl", map[string]any{
			"Title": "Staff • Login",
			"Next":  r.FormValue("next"),
			"Flash": &Flash{Kind: "error", Text: "Invalid password."},
		})
		return
	}

	exp := time.Now().Add(sessionTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookieName,
		Value:    strconv.FormatInt(exp.Unix(), 10) + "." + a.signSession(exp.Unix()),
		Path:     "/",
		HttpOnly: true,
		Secure:   a.Cfg.Production(),
		SameSite: http.SameSiteLaxMode,
		Expires:  exp,
	})

	next := r.FormValue("next")
	// only local paths, never //host or absolute urls
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/admin"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// POST /admin/logout
func (a *App) AdminLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}
