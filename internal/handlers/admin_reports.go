package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// GET /admin
func (a *App) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Reports.Stats(r.Context())
	if err != nil {
		a.Log.Error("stats", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	a.renderAdmin(w, r, "admin/dashboard.tmpl", map[string]any{
		"Title": "Dashboard",
		"Stats": stats,
		"Mode":  a.Sender.Mode(),
	})
}

// GET /admin/report
func (a *App) AdminReport(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Reports.Stats(r.Context())
	if err != nil {
		a.Log.Error("stats", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	a.renderAdmin(w, r, "admin/report.tmpl", map[string]any{
		"Title":         "Report",
		"Stats":         stats,
		"RetentionDays": a.Cfg.RetentionDays,
	})
}

// GET /admin/clients.csv
func (a *App) AdminClientsCSV(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("clients-%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := a.Reports.WriteClientsCSV(r.Context(), w); err != nil {
		a.Log.Error("clients csv", zap.Error(err))
	}
}

// POST /admin/retention/purge
func (a *App) AdminRetentionPurge(w http.ResponseWriter, r *http.Request) {
	if a.Cfg.RetentionDays <= 0 {
		redirectErr(w, r, "/admin/report", "Retention is not configured.")
		return
	}
	n, err := a.Clients.PurgeRetention(r.Context(), a.Cfg.RetentionDays)
	if err != nil {
		a.Log.Error("retention purge", zap.Error(err))
		http.Error(w, "purge failed", http.StatusInternalServerError)
		return
	}
	redirectOK(w, r, "/admin/report", fmt.Sprintf("Removed %d client(s).", n))
}

// GET /admin/sms
func (a *App) AdminSMSHistory(w http.ResponseWriter, r *http.Request) {
	logs, err := a.Reports.RecentSMS(r.Context(), 50)
	if err != nil {
		a.Log.Error("sms history", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	a.renderAdmin(w, r, "admin/sms.tmpl", map[string]any{
		"Title": "SMS history",
		"Logs":  logs,
		"Mode":  a.Sender.Mode(),
	})
}

type smsStatusEntry struct {
	ID        uint       `json:"id"`
	Client    string     `json:"client"`
	To        string     `json:"to"`
	Status    string     `json:"status"`
	SID       string     `json:"sid,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// GET /admin/sms/status
func (a *App) AdminSMSStatus(w http.ResponseWriter, r *http.Request) {
	logs, err := a.Reports.RecentSMS(r.Context(), 10)
	if err != nil {
		a.Log.Error("sms status", zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	recent := make([]smsStatusEntry, 0, len(logs))
	for _, l := range logs {
		recent = append(recent, smsStatusEntry{
			ID:        l.ID,
			Client:    l.ClientName,
			To:        l.PhoneNumber,
			Status:    l.Status,
			SID:       l.ProviderSID,
			Error:     l.Error,
			CreatedAt: l.CreatedAt,
			SentAt:    l.SentAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"mode":            a.Sender.Mode(),
		"base_url":        a.Cfg.BaseURL,
		"food_bank_name":  a.Cfg.FoodBankName,
		"food_bank_phone": a.Cfg.FoodBankPhone,
		"recent":          recent,
	})
}
