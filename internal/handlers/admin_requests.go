package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/messaging"
	"github.com/foodbank/fuelsupport/internal/models"
	"github.com/foodbank/fuelsupport/internal/services"
)

var purposes = []models.Purpose{models.PurposeFuelSupport, models.PurposeMeterReading, models.PurposeIdentity}

// GET /admin/send
func (a *App) AdminSendForm(w http.ResponseWriter, r *http.Request) {
	all, err := a.Clients.Search(r.Context(), "")
	if err != nil {
		a.Log.Error("list clients", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	var consenting []models.Client
	for _, c := range all {
		if c.Consent {
			consenting = append(consenting, c)
		}
	}
	a.renderAdmin(w, r, "admin/send.tmpl", map[string]any{
		"Title":    "Send requests",
		"Clients":  consenting,
		"Purposes": purposes,
		"Mode":     a.Sender.Mode(),
	})
}

// POST /admin/send
func (a *App) AdminSendSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ids := formIDs(r, "client_ids")
	if len(ids) == 0 {
		redirectErr(w, r, "/admin/send", "no_selection")
		return
	}
	purpose := models.Purpose(r.FormValue("purpose"))
	if purpose == "" {
		purpose = models.PurposeFuelSupport
	}
	sum, err := a.Dispatch.SendRequests(r.Context(), ids, purpose)
	if errors.Is(err, links.ErrUnknownPurpose) {
		redirectErr(w, r, "/admin/send", "Unknown request type.")
		return
	}
	if err != nil {
		a.Log.Error("send requests", zap.Error(err))
		http.Error(w, "send failed", http.StatusInternalServerError)
		return
	}
	msg := fmt.Sprintf("Sent %d SMS request(s).", sum.Sent)
	if sum.Failed > 0 {
		msg += fmt.Sprintf(" %d failed.", sum.Failed)
	}
	redirectOK(w, r, "/admin/requests", msg)
}

// GET /admin/requests
func (a *App) AdminRequests(w http.ResponseWriter, r *http.Request) {
	if n, err := a.Links.ExpireStale(r.Context()); err != nil {
		a.Log.Warn("expire stale links", zap.Error(err))
	} else if n > 0 {
		a.Log.Info("expired stale links", zap.Int64("count", n))
	}
	pending, err := a.Links.Pending(r.Context())
	if err != nil {
		a.Log.Error("pending links", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	a.renderAdmin(w, r, "admin/requests.tmpl", map[string]any{
		"Title": "Staff portal",
		"Links": pending,
	})
}

// POST /admin/requests/{id}/resend
func (a *App) AdminResend(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, err := a.Dispatch.Resend(r.Context(), id)
	switch {
	case err == nil:
		redirectOK(w, r, "/admin/requests", "resent")
	case errors.Is(err, links.ErrLinkNotPending), errors.Is(err, links.ErrInvalidToken):
		redirectErr(w, r, "/admin/requests", "not_pending")
	case errors.Is(err, messaging.ErrGatewayUnavailable):
		redirectErr(w, r, "/admin/requests", "sms_failed")
	case errors.Is(err, links.ErrNoConsent):
		redirectErr(w, r, "/admin/requests", "This client has withdrawn consent.")
	default:
		a.Log.Error("resend", zap.Uint("link_id", id), zap.Error(err))
		http.Error(w, "resend failed", http.StatusInternalServerError)
	}
}

// GET /admin/requests/{id}/qr.png
func (a *App) AdminRequestQR(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	link, err := a.Links.Get(r.Context(), id)
	if err != nil || link.EffectiveStatus(time.Now().UTC()) != models.LinkPending {
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(a.Cfg.UploadURL(link.Token), qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to generate qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GET /admin/documents/{id}
func (a *App) AdminDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	doc, err := a.Reports.Document(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		a.Log.Error("load document", zap.Uint("document_id", id), zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	rc, err := a.Files.Open(r.Context(), doc.StoragePath)
	if err != nil {
		a.Log.Error("open document", zap.Uint("document_id", id), zap.Error(err))
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	defer rc.Close()

	name := fmt.Sprintf("%s-%d%s", doc.Purpose, doc.ID, path.Ext(doc.StoragePath))
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", "inline; filename="+name)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, rc); err != nil {
		a.Log.Warn("stream document", zap.Uint("document_id", id), zap.Error(err))
	}
}
