package handlers

import (
	"bytes"
	"crypto/rand"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodbank/fuelsupport/internal/config"
	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/messaging"
	"github.com/foodbank/fuelsupport/internal/services"
	"github.com/foodbank/fuelsupport/internal/storage"
	"github.com/foodbank/fuelsupport/internal/uploads"
)

// Deps are the services the handlers call into.
type Deps struct {
	Cfg      config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Links    *links.Store
	Intake   *uploads.Intake
	Clients  *services.Clients
	Dispatch *services.Dispatcher
	Reports  *services.Reports
	Files    storage.Store
	Sender   messaging.MessageSender
}

// App serves every page. Templates are the shared layouts and partials;
// pages are parsed per request from the pages filesystem.
type App struct {
	Deps
	tmpl   *template.Template
	pages  fs.FS
	secret []byte
}

func New(deps Deps, tmpl *template.Template, pages fs.FS) *App {
	a := &App{Deps: deps, tmpl: tmpl, pages: pages, secret: []byte(deps.Cfg.SecretKey)}
	if len(a.secret) == 0 {
		a.secret = make([]byte, 32)
		_, _ = rand.Read(a.secret)
		a.Log.Warn("SECRET_KEY not set, staff sessions will not survive a restart")
	}
	return a
}

// render clones the layouts, adds the page and executes it. Output is
// buffered so a template error never yields half a page.
func (a *App) render(w http.ResponseWriter, status int, page string, data map[string]any) {
	view, err := a.tmpl.Clone()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := view.ParseFS(a.pages, "pages/"+page); err != nil {
		a.Log.Error("parse page", zap.String("page", page), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	if _, ok := data["FoodBank"]; !ok {
		data["FoodBank"] = a.Cfg.FoodBankName
	}
	var buf bytes.Buffer
	if err := view.ExecuteTemplate(&buf, path.Base(page), data); err != nil {
		a.Log.Error("render page", zap.String("page", page), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderAdmin adds the staff navigation and any flash from the query string.
func (a *App) renderAdmin(w http.ResponseWriter, r *http.Request, page string, data map[string]any) {
	data["Admin"] = true
	if _, ok := data["Flash"]; !ok {
		data["Flash"] = MakeFlash(r, "", "")
	}
	a.render(w, http.StatusOK, page, data)
}

func redirectOK(w http.ResponseWriter, r *http.Request, to, msg string) {
	http.Redirect(w, r, to+"?ok="+url.QueryEscape(msg), http.StatusSeeOther)
}

func redirectErr(w http.ResponseWriter, r *http.Request, to, msg string) {
	http.Redirect(w, r, to+"?error="+url.QueryEscape(msg), http.StatusSeeOther)
}

func idParam(r *http.Request) (uint, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// formIDs reads repeated numeric form values, skipping junk.
func formIDs(r *http.Request, key string) []uint {
	var out []uint
	for _, v := range r.Form[key] {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			out = append(out, uint(n))
		}
	}
	return out
}

// GET /healthz
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		a.Log.Error("health check", zap.Error(err))
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
