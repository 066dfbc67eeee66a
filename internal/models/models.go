package models

import "time"

type Client struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name           string `gorm:"not null"`
	PhoneNumber    string `gorm:"uniqueIndex;not null"` // normalised +E.164
	HasCameraPhone bool
	Consent        bool // GDPR consent to be contacted by SMS

	Links []UploadLink
}

// Purpose says what a link (or a single uploaded file) is for.
type Purpose string

const (
	PurposeMeterReading Purpose = "meter-reading"
	PurposeIdentity     Purpose = "identity-document"
	// PurposeFuelSupport is the combined fuel-voucher request: meter photo
	// plus a photo of the client holding ID.
	PurposeFuelSupport Purpose = "fuel-support"
)

// Slots lists the documents a link of this purpose accepts, in form order.
// Unknown purposes accept nothing.
func (p Purpose) Slots() []Purpose {
	switch p {
	case PurposeMeterReading:
		return []Purpose{PurposeMeterReading}
	case PurposeIdentity:
		return []Purpose{PurposeIdentity}
	case PurposeFuelSupport:
		return []Purpose{PurposeMeterReading, PurposeIdentity}
	}
	return nil
}

func (p Purpose) Valid() bool { return len(p.Slots()) > 0 }

// Label is the human wording used in SMS text and pages.
func (p Purpose) Label() string {
	switch p {
	case PurposeMeterReading:
		return "Photo of your meter reading"
	case PurposeIdentity:
		return "Photo of yourself with ID"
	case PurposeFuelSupport:
		return "Fuel support documents"
	}
	return string(p)
}

// LinkStatus: pending | consumed | expired
type LinkStatus string

const (
	LinkPending  LinkStatus = "pending"
	LinkConsumed LinkStatus = "consumed"
	LinkExpired  LinkStatus = "expired"
)

type UploadLink struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Token      string     `gorm:"size:64;uniqueIndex;not null"`
	ClientID   uint       `gorm:"index;not null"`
	Client     Client     `gorm:"constraint:OnDelete:CASCADE"`
	Purpose    Purpose    `gorm:"size:32;not null"`
	Status     LinkStatus `gorm:"size:16;index;not null;default:pending"`
	ExpiresAt  time.Time  `gorm:"index;not null"`
	ConsumedAt *time.Time

	// delivery state, independent of the link itself
	SMSSent        bool       `gorm:"column:sms_sent"`
	SMSSentAt      *time.Time `gorm:"column:sms_sent_at"`
	SMSSID         string     `gorm:"column:sms_sid"`
	DeliveryFailed bool
	SendAttempts   int

	Documents []UploadedDocument
}

// ExpiredAt reports whether the link can no longer be used at now, whatever
// its stored status says.
func (l UploadLink) ExpiredAt(now time.Time) bool {
	return l.Status == LinkExpired || now.After(l.ExpiresAt)
}

// EffectiveStatus folds read-time expiry into the stored status.
func (l UploadLink) EffectiveStatus(now time.Time) LinkStatus {
	if l.Status == LinkPending && now.After(l.ExpiresAt) {
		return LinkExpired
	}
	return l.Status
}

type UploadedDocument struct {
	ID         uint      `gorm:"primaryKey"`
	ReceivedAt time.Time `gorm:"not null"`

	UploadLinkID     uint    `gorm:"index;not null"`
	ClientID         uint    `gorm:"index;not null"`
	Purpose          Purpose `gorm:"size:32;not null"`
	StoragePath      string  `gorm:"uniqueIndex;not null"`
	OriginalFilename string
	ContentType      string
	SizeBytes        int64
}

// SMSLog status: sent | failed
type SMSLog struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	ClientID     uint `gorm:"index;not null"`
	UploadLinkID *uint
	PhoneNumber  string `gorm:"not null"`
	Body         string `gorm:"type:text;not null"`
	Status       string `gorm:"size:16;not null"`
	ProviderSID  string `gorm:"column:provider_sid"`
	Error        string `gorm:"type:text"`
	SentAt       *time.Time
}

func (SMSLog) TableName() string { return "sms_logs" }
