package web

import (
	"embed"
	"html"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/handlers"
	"github.com/foodbank/fuelsupport/internal/logger"
	"github.com/foodbank/fuelsupport/internal/models"
)

//go:embed templates
var templatesFS embed.FS

func Router(app *handlers.App, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Requests(log))
	r.Use(middleware.Recoverer)

	// Public pages
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
	})
	r.Get("/healthz", app.Health)

	// Client upload, reached from the SMS link
	r.Get("/upload/{token}", app.UploadForm)
	r.Post("/upload/{token}", app.UploadSubmit)

	// --- Admin routes (with login + guard) ---
	r.Route("/admin", func(ar chi.Router) {
		// Auth endpoints (public)
		ar.Get("/login", app.AdminLoginForm)
		ar.Post("/login", app.AdminLoginSubmit)
		ar.Post("/logout", app.AdminLogout)

		// Guarded admin pages
		ar.Group(func(ag chi.Router) {
			ag.Use(app.RequireAdmin)

			ag.Get("/", app.AdminDashboard)

			// Clients
			ag.Get("/clients", app.AdminClients)
			ag.Get("/clients.csv", app.AdminClientsCSV)
			ag.Get("/clients/new", app.AdminNewClient)
			ag.Post("/clients", app.AdminCreateClient)
			ag.Post("/clients/quick", app.AdminQuickAddClient)
			ag.Post("/clients/bulk", app.AdminBulkClients)
			ag.Get("/clients/{id}", app.AdminClientDetails)
			ag.Get("/clients/{id}/edit", app.AdminEditClient)
			ag.Post("/clients/{id}", app.AdminUpdateClient)
			ag.Post("/clients/{id}/delete", app.AdminDeleteClient)

			// Requests
			ag.Get("/send", app.AdminSendForm)
			ag.Post("/send", app.AdminSendSubmit)
			ag.Get("/requests", app.AdminRequests)
			ag.Post("/requests/{id}/resend", app.AdminResend)
			ag.Get("/requests/{id}/qr.png", app.AdminRequestQR)
			ag.Get("/documents/{id}", app.AdminDocument)

			// SMS & reports
			ag.Get("/sms", app.AdminSMSHistory)
			ag.Get("/sms/status", app.AdminSMSStatus)
			ag.Get("/report", app.AdminReport)
			ag.Post("/retention/purge", app.AdminRetentionPurge)
		})
	})

	return r
}

// Templates parses the shared layouts and partials and returns them with the
// filesystem the handlers load pages from.
func Templates(display *time.Location, now func() time.Time) (*template.Template, fs.FS) {
	funcs := template.FuncMap{
		"year":        func() string { return now().Format("2006") },
		"fmtDate":     func(t time.Time) string { return t.In(display).Format("02 Jan 2006") },
		"fmtDateTime": func(t time.Time) string { return t.In(display).Format("Mon 02 Jan 2006 15:04") },
		"effective":   func(l models.UploadLink) models.LinkStatus { return l.EffectiveStatus(now().UTC()) },
		"nl2br": func(s string) template.HTML {
			if s == "" {
				return ""
			}
			esc := html.EscapeString(strings.ReplaceAll(s, "\r\n", "\n"))
			return template.HTML(strings.ReplaceAll(esc, "\n", "<br>"))
		},
	}

	root, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(err)
	}
	p := template.New("").Funcs(funcs)
	p = template.Must(p.ParseFS(root, "layouts/*.tmpl"))
	p = template.Must(p.ParseFS(root, "partials/*.tmpl"))
	return p, root
}

// DisplayLocation is where staff read times; UK unless the zone is missing.
func DisplayLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		return time.UTC
	}
	return loc
}
