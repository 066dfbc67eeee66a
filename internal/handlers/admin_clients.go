package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/models"
	"github.com/foodbank/fuelsupport/internal/services"
)

func clientInput(r *http.Request) services.ClientInput {
	return services.ClientInput{
		Name:           r.FormValue("name"),
		Phone:          r.FormValue("phone"),
		HasCameraPhone: r.FormValue("has_camera_phone") == "on",
		Consent:        r.FormValue("consent") == "on",
	}
}

// clientErrText turns a validation error into flash wording; "" means the
// error is not the user's fault.
func clientErrText(err error) string {
	var dup *services.DuplicatePhoneError
	switch {
	case errors.As(err, &dup):
		return fmt.Sprintf("Phone number %s is already registered to %s.", dup.Phone, dup.Existing)
	case errors.Is(err, services.ErrNameRequired), errors.Is(err, services.ErrInvalidPhone):
		s := err.Error()
		return strings.ToUpper(s[:1]) + s[1:] + "."
	case errors.Is(err, services.ErrNotFound):
		return "Client not found."
	}
	return ""
}

// GET /admin/clients?q=
func (a *App) AdminClients(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	list, err := a.Clients.Search(r.Context(), q)
	if err != nil {
		a.Log.Error("search clients", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	a.renderAdmin(w, r, "admin/clients.tmpl", map[string]any{
		"Title":   "Clients",
		"Query":   q,
		"Clients": list,
	})
}

// GET /admin/clients/new
func (a *App) AdminNewClient(w http.ResponseWriter, r *http.Request) {
	a.renderAdmin(w, r, "admin/client_form.tmpl", map[string]any{
		"Title":  "Add client",
		"Client": models.Client{},
	})
}

// POST /admin/clients
func (a *App) AdminCreateClient(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in := clientInput(r)
	if _, err := a.Clients.Create(r.Context(), in); err != nil {
		if msg := clientErrText(err); msg != "" {
			a.renderAdmin(w, r, "admin/client_form.tmpl", map[string]any{
				"Title":  "Add client",
				"Client": models.Client{Name: in.Name, PhoneNumber: in.Phone, HasCameraPhone: in.HasCameraPhone, Consent: in.Consent},
				"Flash":  &Flash{Kind: "error", Text: msg},
			})
			return
		}
		a.Log.Error("create client", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	redirectOK(w, r, "/admin/clients", "added")
}

// POST /admin/clients/quick (dashboard form)
func (a *App) AdminQuickAddClient(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := a.Clients.Create(r.Context(), clientInput(r))
	if err != nil {
		if msg := clientErrText(err); msg != "" {
			redirectErr(w, r, "/admin", msg)
			return
		}
		a.Log.Error("quick add client", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	redirectOK(w, r, "/admin", fmt.Sprintf("%s added.", c.Name))
}

// GET /admin/clients/{id}/edit
func (a *App) AdminEditClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	c, err := a.Clients.Get(r.Context(), id)
	if err != nil {
		redirectErr(w, r, "/admin/clients", "not_found")
		return
	}
	a.renderAdmin(w, r, "admin/client_form.tmpl", map[string]any{
		"Title":  "Edit " + c.Name,
		"Client": *c,
	})
}

// POST /admin/clients/{id}
func (a *App) AdminUpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in := clientInput(r)
	if _, err := a.Clients.Update(r.Context(), id, in); err != nil {
		if msg := clientErrText(err); msg != "" {
			a.renderAdmin(w, r, "admin/client_form.tmpl", map[string]any{
				"Title":  "Edit client",
				"Client": models.Client{ID: id, Name: in.Name, PhoneNumber: in.Phone, HasCameraPhone: in.HasCameraPhone, Consent: in.Consent},
				"Flash":  &Flash{Kind: "error", Text: msg},
			})
			return
		}
		a.Log.Error("update client", zap.Uint("client_id", id), zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	redirectOK(w, r, fmt.Sprintf("/admin/clients/%d", id), "saved")
}

// POST /admin/clients/{id}/delete
func (a *App) AdminDeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	err := a.Clients.Delete(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		redirectErr(w, r, "/admin/clients", "not_found")
		return
	}
	if err != nil {
		a.Log.Error("delete client", zap.Uint("client_id", id), zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	redirectOK(w, r, "/admin/clients", "deleted")
}

// POST /admin/clients/bulk
func (a *App) AdminBulkClients(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ids := formIDs(r, "client_ids")
	if len(ids) == 0 {
		redirectErr(w, r, "/admin/clients", "no_selection")
		return
	}
	op := r.FormValue("operation")
	n, err := a.Clients.Bulk(r.Context(), op, ids, r.FormValue("camera_status") == "true")
	if errors.Is(err, services.ErrUnknownAction) {
		redirectErr(w, r, "/admin/clients", "Unknown bulk action.")
		return
	}
	if err != nil {
		a.Log.Error("bulk clients", zap.String("operation", op), zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	redirectOK(w, r, "/admin/clients", fmt.Sprintf("Updated %d client(s).", n))
}

// GET /admin/clients/{id}
func (a *App) AdminClientDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	d, err := a.Clients.Details(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		redirectErr(w, r, "/admin/clients", "not_found")
		return
	}
	if err != nil {
		a.Log.Error("client details", zap.Uint("client_id", id), zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	a.renderAdmin(w, r, "admin/client_details.tmpl", map[string]any{
		"Title":   d.Client.Name,
		"Details": d,
	})
}
