package messaging

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/foodbank/fuelsupport/internal/models"
)

var requestTmpl = template.Must(template.New("request").Parse(
	`Hi {{.Name}}, this is {{.FoodBank}}.

To process your fuel support we need:
{{range .Documents}}- {{.}}
{{end}}
Upload here: {{.URL}}

This link works once and expires in {{.Hours}} hours.
Questions? Call {{.Phone}}`))

// UploadRequest is the content of the SMS that carries an upload link.
type UploadRequest struct {
	Name      string
	FoodBank  string
	Purpose   models.Purpose
	URL       string
	ExpiresIn time.Duration
	Phone     string
}

// RenderUploadRequest builds the SMS body for an upload request.
func RenderUploadRequest(r UploadRequest) (string, error) {
	docs := make([]string, 0, 2)
	for _, slot := range r.Purpose.Slots() {
		docs = append(docs, slot.Label())
	}
	hours := int(r.ExpiresIn.Round(time.Hour) / time.Hour)
	if hours < 1 {
		hours = 1
	}
	var buf bytes.Buffer
	err := requestTmpl.Execute(&buf, map[string]any{
		"Name":      r.Name,
		"FoodBank":  r.FoodBank,
		"Documents": docs,
		"URL":       r.URL,
		"Hours":     hours,
		"Phone":     r.Phone,
	})
	if err != nil {
		return "", fmt.Errorf("render sms: %w", err)
	}
	return buf.String(), nil
}

func renderReceived(client models.Client, link models.UploadLink, docs int, adminURL string) string {
	return fmt.Sprintf("%s (%s) uploaded %d file(s) for %s. Review: %s",
		client.Name, client.PhoneNumber, docs, link.Purpose.Label(), adminURL)
}
