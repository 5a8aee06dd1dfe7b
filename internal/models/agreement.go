package models

import (
	"strings"
	"time"
)

// AgreementStatus is the canonical lifecycle status of an agreement.
// UI labels and API casing are translations of these values, never the source.
type AgreementStatus string

// Agreement status constants
const (
	AgreementStatusDraft     AgreementStatus = "draft"
	AgreementStatusSent      AgreementStatus = "sent"
	AgreementStatusSigned    AgreementStatus = "signed"
	AgreementStatusCancelled AgreementStatus = "cancelled"
	AgreementStatusExpired   AgreementStatus = "expired"
)

// DisplayStatusViewed is derived from a sent agreement that has been opened at least once.
const DisplayStatusViewed = "viewed"

// ParseAgreementStatus normalizes external representations ("Draft", " SIGNED ").
func ParseAgreementStatus(s string) (AgreementStatus, bool) {
	switch AgreementStatus(normalizeStatus(s)) {
	case AgreementStatusDraft:
		return AgreementStatusDraft, true
	case AgreementStatusSent:
		return AgreementStatusSent, true
	case AgreementStatusSigned:
		return AgreementStatusSigned, true
	case AgreementStatusCancelled:
		return AgreementStatusCancelled, true
	case AgreementStatusExpired:
		return AgreementStatusExpired, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is permitted.
func (s AgreementStatus) IsTerminal() bool {
	return s == AgreementStatusSigned || s == AgreementStatusCancelled || s == AgreementStatusExpired
}

// Signature is the recorded assertion of intent captured when the signer signs.
type Signature struct {
	SignerName string    `json:"signer_name"`
	SignedAt   time.Time `json:"signed_at"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
}

// Note is an operator note attached to an agreement. Notes are append-only.
type Note struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsPrivate bool      `json:"is_private"`
}

// Agreement is the signable document and its lifecycle state
type Agreement struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	Status            AgreementStatus `gorm:"size:20;not null;index" json:"status"`
	ClientName        string          `gorm:"not null" json:"client_name"`
	ClientEmail       string          `gorm:"not null;index" json:"client_email"`
	ClientCompany     *string         `json:"client_company"`
	CompanyName       string          `json:"company_name"`
	CompanySignerName string          `json:"company_signer_name"`
	Title             string          `gorm:"not null" json:"title"`
	Description       string          `gorm:"type:text" json:"description"`
	ContractRef       *string         `gorm:"size:64;index" json:"contract_ref"`
	PdfPath           *string         `json:"pdf_path"`
	PdfSHA256         *string         `gorm:"size:64" json:"pdf_sha256"`
	Version           int             `gorm:"not null" json:"version"`
	SigningToken      *string         `gorm:"size:64;uniqueIndex" json:"-"`
	Views             int             `gorm:"not null" json:"views"`
	Signature         *Signature      `gorm:"serializer:json;type:jsonb" json:"signature"`
	Notes             []Note          `gorm:"serializer:json;type:jsonb" json:"notes"`
	CreatedBy         string          `gorm:"size:64" json:"created_by"`
	SentAt            *time.Time      `json:"sent_at"`
	SignedAt          *time.Time      `json:"signed_at"`
	ExpiresAt         *time.Time      `gorm:"index" json:"expires_at"`
	CancelledAt       *time.Time      `json:"cancelled_at"`
	CancelReason      *string         `gorm:"type:text" json:"cancel_reason"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Agreement
func (Agreement) TableName() string {
	return "agreements"
}

// IsTerminal returns true if the agreement can no longer transition
func (a *Agreement) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// HasPdf returns true if a document is bound
func (a *Agreement) HasPdf() bool {
	return a.PdfPath != nil && *a.PdfPath != ""
}

// IsPastDeadline reports whether the signing deadline has passed at now.
func (a *Agreement) IsPastDeadline(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// MayBindPdf returns true if the document may be (re)bound
func (a *Agreement) MayBindPdf() bool {
	return a.Status == AgreementStatusDraft || a.Status == AgreementStatusSent
}

// MaySend returns true if the agreement can be dispatched for signing
func (a *Agreement) MaySend() bool {
	return a.Status == AgreementStatusDraft
}

// MaySign returns true if the agreement is waiting for a signature
func (a *Agreement) MaySign() bool {
	return a.Status == AgreementStatusSent
}

// MayCancel returns true if the agreement can be cancelled
func (a *Agreement) MayCancel() bool {
	return a.Status == AgreementStatusDraft || a.Status == AgreementStatusSent
}

// MayDelete returns true if the agreement may be hard deleted.
// Executed agreements are legal records and are kept.
func (a *Agreement) MayDelete() bool {
	return a.Status != AgreementStatusSigned
}

// DisplayStatus returns the status shown to people, materializing "viewed".
func (a *Agreement) DisplayStatus() string {
	if a.Status == AgreementStatusSent && a.Views > 0 {
		return DisplayStatusViewed
	}
	return string(a.Status)
}

// Clone returns a deep copy so callers never share mutable state.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	c := *a
	c.ClientCompany = cloneString(a.ClientCompany)
	c.ContractRef = cloneString(a.ContractRef)
	c.PdfPath = cloneString(a.PdfPath)
	c.PdfSHA256 = cloneString(a.PdfSHA256)
	c.SigningToken = cloneString(a.SigningToken)
	c.CancelReason = cloneString(a.CancelReason)
	c.SentAt = cloneTime(a.SentAt)
	c.SignedAt = cloneTime(a.SignedAt)
	c.ExpiresAt = cloneTime(a.ExpiresAt)
	c.CancelledAt = cloneTime(a.CancelledAt)
	if a.Signature != nil {
		sig := *a.Signature
		c.Signature = &sig
	}
	if a.Notes != nil {
		c.Notes = append([]Note(nil), a.Notes...)
	}
	return &c
}

// AgreementResponse is the operator-facing JSON representation
type AgreementResponse struct {
	ID                string          `json:"id"`
	Status            AgreementStatus `json:"status"`
	DisplayStatus     string          `json:"display_status"`
	ClientName        string          `json:"client_name"`
	ClientEmail       string          `json:"client_email"`
	ClientCompany     *string         `json:"client_company"`
	CompanyName       string          `json:"company_name"`
	CompanySignerName string          `json:"company_signer_name"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	ContractRef       *string         `json:"contract_ref"`
	HasPdf            bool            `json:"has_pdf"`
	PdfSHA256         *string         `json:"pdf_sha256"`
	Version           int             `json:"version"`
	Views             int             `json:"views"`
	Signature         *Signature      `json:"signature"`
	Notes             []Note          `json:"notes"`
	SentAt            *time.Time      `json:"sent_at"`
	SignedAt          *time.Time      `json:"signed_at"`
	ExpiresAt         *time.Time      `json:"expires_at"`
	CancelledAt       *time.Time      `json:"cancelled_at"`
	CancelReason      *string         `json:"cancel_reason"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ToResponse converts Agreement to AgreementResponse
func (a *Agreement) ToResponse() AgreementResponse {
	notes := a.Notes
	if notes == nil {
		notes = []Note{}
	}
	return AgreementResponse{
		ID:                a.ID,
		Status:            a.Status,
		DisplayStatus:     a.DisplayStatus(),
		ClientName:        a.ClientName,
		ClientEmail:       a.ClientEmail,
		ClientCompany:     a.ClientCompany,
		CompanyName:       a.CompanyName,
		CompanySignerName: a.CompanySignerName,
		Title:             a.Title,
		Description:       a.Description,
		ContractRef:       a.ContractRef,
		HasPdf:            a.HasPdf(),
		PdfSHA256:         a.PdfSHA256,
		Version:           a.Version,
		Views:             a.Views,
		Signature:         a.Signature,
		Notes:             notes,
		SentAt:            a.SentAt,
		SignedAt:          a.SignedAt,
		ExpiresAt:         a.ExpiresAt,
		CancelledAt:       a.CancelledAt,
		CancelReason:      a.CancelReason,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// SignerView is the only projection of an agreement a token holder ever sees.
type SignerView struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            string     `json:"status"`
	ClientName        string     `json:"client_name"`
	ClientCompany     *string    `json:"client_company"`
	CompanyName       string     `json:"company_name"`
	CompanySignerName string     `json:"company_signer_name"`
	DocumentURL       string     `json:"document_url"`
	DocumentSHA256    *string    `json:"document_sha256"`
	ExpiresAt         *time.Time `json:"expires_at"`
	Signature         *Signature `json:"signature"`
	Notes             []Note     `json:"notes"`
}

// ToSignerView builds the signer projection; private notes are dropped.
func (a *Agreement) ToSignerView(documentURL string) SignerView {
	notes := []Note{}
	for _, n := range a.Notes {
		if !n.IsPrivate {
			notes = append(notes, n)
		}
	}
	view := SignerView{
		Title:             a.Title,
		Description:       a.Description,
		Status:            a.DisplayStatus(),
		ClientName:        a.ClientName,
		ClientCompany:     a.ClientCompany,
		CompanyName:       a.CompanyName,
		CompanySignerName: a.CompanySignerName,
		DocumentSHA256:    a.PdfSHA256,
		ExpiresAt:         a.ExpiresAt,
		Signature:         a.Signature,
		Notes:             notes,
	}
	if a.HasPdf() {
		view.DocumentURL = documentURL
	}
	return view
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
