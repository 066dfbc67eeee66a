package handlers

import (
	"net/http"
	"strings"
)

type Flash struct {
	Kind string // "ok" or "error"
	Text string
}

var okText = map[string]string{
	"saved":   "Client saved.",
	"added":   "Client added.",
	"deleted": "Client deleted.",
	"resent":  "SMS sent again.",
}

var errText = map[string]string{
	"missing":      "Name and phone are required.",
	"not_found":    "Client not found.",
	"no_selection": "Please select at least one client.",
	"not_pending":  "That request is no longer pending.",
	"sms_failed":   "The SMS could not be sent. The link is still pending; try resending later.",
}

// MakeFlash reads ?ok= / ?error= and falls back to the handler's own
// messages. Known keys map to fixed wording; anything else is shown as is.
func MakeFlash(r *http.Request, errStr, msgStr string) *Flash {
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("error")); raw != "" {
		if t, ok := errText[strings.ToLower(raw)]; ok {
			return &Flash{Kind: "error", Text: t}
		}
		return &Flash{Kind: "error", Text: raw}
	}
	if raw := strings.TrimSpace(q.Get("ok")); raw != "" {
		if t, ok := okText[strings.ToLower(raw)]; ok {
			return &Flash{Kind: "ok", Text: t}
		}
		return &Flash{Kind: "ok", Text: raw}
	}

	if errStr != "" {
		return &Flash{Kind: "error", Text: errStr}
	}
	if msgStr != "" {
		return &Flash{Kind: "ok", Text: msgStr}
	}
	return nil
}
