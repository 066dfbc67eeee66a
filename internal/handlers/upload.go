package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/foodbank/fuelsupport/internal/links"
	"github.com/foodbank/fuelsupport/internal/logger"
	"github.com/foodbank/fuelsupport/internal/models"
	"github.com/foodbank/fuelsupport/internal/uploads"
)

type slotView struct {
	Name  string
	Label string
}

var rejectStatus = map[uploads.Reason]int{
	uploads.ReasonTooLarge:        http.StatusRequestEntityTooLarge,
	uploads.ReasonUnsupportedType: http.StatusUnsupportedMediaType,
	uploads.ReasonMissingFile:     http.StatusBadRequest,
	uploads.ReasonStorageFull:     http.StatusInsufficientStorage,
}

var rejectText = map[uploads.Reason]string{
	uploads.ReasonTooLarge:        "That file is too large. Please take a smaller photo and try again.",
	uploads.ReasonUnsupportedType: "Only photos (PNG, JPG, GIF or WEBP) can be uploaded.",
	uploads.ReasonMissingFile:     "Please choose a photo for every item.",
	uploads.ReasonStorageFull:     "We cannot accept uploads right now. Please call us.",
}

// linkGone is the one answer for unknown, expired and used links.
func (a *App) linkGone(w http.ResponseWriter) {
	a.render(w, http.StatusGone, "link_invalid.tmpl", map[string]any{
		"Title": "Link no longer valid",
		"Phone": a.Cfg.FoodBankPhone,
	})
}

func (a *App) uploadForm(w http.ResponseWriter, status int, link *models.UploadLink, flash *Flash) {
	var slots []slotView
	for _, s := range link.Purpose.Slots() {
		slots = append(slots, slotView{Name: string(s), Label: s.Label()})
	}
	a.render(w, status, "upload.tmpl", map[string]any{
		"Title":     "Upload documents",
		"Slots":     slots,
		"MaxMB":     a.Intake.Limits().MaxFileBytes >> 20,
		"ExpiresAt": link.ExpiresAt,
		"Flash":     flash,
	})
}

// GET /upload/{token}
func (a *App) UploadForm(w http.ResponseWriter, r *http.Request) {
	link, err := a.Intake.Lookup(r.Context(), chi.URLParam(r, "token"))
	if links.IsUnusable(err) {
		a.linkGone(w)
		return
	}
	if err != nil {
		a.Log.Error("upload lookup", zap.Error(err))
		http.Error(w, "something went wrong", http.StatusInternalServerError)
		return
	}
	a.uploadForm(w, http.StatusOK, link, nil)
}

// POST /upload/{token}
func (a *App) UploadSubmit(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	link, err := a.Intake.Lookup(r.Context(), token)
	if links.IsUnusable(err) {
		a.linkGone(w)
		return
	}
	if err != nil {
		a.Log.Error("upload lookup", zap.Error(err))
		http.Error(w, "something went wrong", http.StatusInternalServerError)
		return
	}

	form, err := uploads.ReadForm(w, r, link.Purpose.Slots(), a.Intake.Limits().MaxRequestBytes)
	if err == nil {
		defer form.Close()
		var docs []models.UploadedDocument
		docs, err = a.Intake.Receive(r.Context(), token, form.Files)
		if err == nil {
			a.render(w, http.StatusOK, "upload_done.tmpl", map[string]any{
				"Title": "Thank you",
				"Count": len(docs),
				"Phone": a.Cfg.FoodBankPhone,
			})
			return
		}
	}

	var rej *uploads.RejectError
	switch {
	case links.IsUnusable(err):
		a.linkGone(w)
	case errors.As(err, &rej):
		a.Log.Info("upload rejected", logger.Token(token), zap.String("reason", string(rej.Reason)), zap.String("detail", rej.Detail))
		a.uploadForm(w, rejectStatus[rej.Reason], link, &Flash{Kind: "error", Text: rejectText[rej.Reason]})
	default:
		a.Log.Error("upload failed", logger.Token(token), zap.Error(err))
		http.Error(w, "something went wrong, please try again", http.StatusInternalServerError)
	}
}
