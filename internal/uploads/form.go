package uploads

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/foodbank/fuelsupport/internal/models"
)

// files above this spill from memory to temp files while parsing
const formMemory = 4 << 20

// Form holds the parsed files of one upload post, keyed by slot.
type Form struct {
	Files map[models.Purpose]*multipart.FileHeader
	raw   *multipart.Form
}

// Close removes any temp files created while parsing.
func (f *Form) Close() {
	if f != nil && f.raw != nil {
		_ = f.raw.RemoveAll()
	}
}

// ReadForm parses a multipart post capped at maxRequest bytes and picks one
// file per slot. Fields for other slots are ignored.
func ReadForm(w http.ResponseWriter, r *http.Request, slots []models.Purpose, maxRequest int64) (*Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequest)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			return nil, reject(ReasonTooLarge, "request exceeds %d bytes", maxRequest)
		}
		return nil, reject(ReasonMissingFile, "unreadable form")
	}

	form := &Form{Files: make(map[models.Purpose]*multipart.FileHeader, len(slots)), raw: r.MultipartForm}
	for _, slot := range slots {
		fhs := r.MultipartForm.File[string(slot)]
		switch len(fhs) {
		case 0:
		case 1:
			form.Files[slot] = fhs[0]
		default:
			form.Close()
			return nil, reject(ReasonTooLarge, "more than one file for %s", slot)
		}
	}
	return form, nil
}
