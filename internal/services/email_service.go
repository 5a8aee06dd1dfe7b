package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/sjperalta/fintera-sign/internal/config"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

// Notification templates
const (
	TemplateSigningRequest  = "signing_request"
	TemplateLinkRegenerated = "link_regenerated"
	TemplateAgreementSigned = "agreement_signed"
)

var templateSubjects = map[string]string{
	TemplateSigningRequest:  "Documento pendiente de firma",
	TemplateLinkRegenerated: "Nuevo enlace de firma",
	TemplateAgreementSigned: "Documento firmado",
}

// Notification is one outbound message about an agreement
type Notification struct {
	Template  string
	Agreement *models.Agreement
	SignURL   string
}

// Notifier delivers notifications. Callers do not retry.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type EmailService struct {
	config *config.Config
	sender emailSender
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		config: cfg,
		sender: client.Emails,
	}
}

// checkEmailPreconditions reports whether an email should be sent. A disabled
// service is not an error; a misconfigured one is.
func (s *EmailService) checkEmailPreconditions(recipient, operation string) (bool, error) {
	if !s.config.EnableEmailNotifications {
		logger.Debug("Email notifications disabled, skipping", "operation", operation)
		return false, nil
	}
	if s.config.ResendAPIKey == "" {
		return false, errors.New("RESEND_API_KEY is not set")
	}
	if strings.TrimSpace(recipient) == "" {
		return false, errors.New("email address is empty")
	}
	return true, nil
}

// Notify renders the template and sends it to the agreement's client
func (s *EmailService) Notify(ctx context.Context, n Notification) error {
	if n.Agreement == nil {
		return fmt.Errorf("%w: missing agreement", ErrDelivery)
	}
	recipient := n.Agreement.ClientEmail

	ok, err := s.checkEmailPreconditions(recipient, n.Template)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if !ok {
		return nil
	}

	subject, known := templateSubjects[n.Template]
	if !known {
		return fmt.Errorf("%w: unknown template %s", ErrDelivery, n.Template)
	}

	body, err := s.renderTemplate(n.Template+".html", s.templateData(n))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	ctx, cancel := withTimeout(ctx, s.config.NotifierTimeout)
	defer cancel()

	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{recipient},
		Subject: fmt.Sprintf("%s: %s", subject, n.Agreement.Title),
		Html:    body,
	}
	if _, err := s.sender.SendWithContext(ctx, params); err != nil {
		logger.Error("Failed to send email", "to", recipient, "template", n.Template, "agreement_id", n.Agreement.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	logger.Info("📧 [Email Sent]", "to", recipient, "template", n.Template, "agreement_id", n.Agreement.ID)
	return nil
}

type emailData struct {
	ClientName        string
	Title             string
	Description       string
	CompanyName       string
	CompanySignerName string
	SignURL           string
	ExpiresAt         string
	SignerName        string
	SignedAt          string
	AppURL            string
}

func (s *EmailService) templateData(n Notification) emailData {
	a := n.Agreement
	data := emailData{
		ClientName:        a.ClientName,
		Title:             a.Title,
		Description:       a.Description,
		CompanyName:       a.CompanyName,
		CompanySignerName: a.CompanySignerName,
		SignURL:           n.SignURL,
		AppURL:            s.config.AppURL,
	}
	if a.ExpiresAt != nil {
		data.ExpiresAt = a.ExpiresAt.Format("02/01/2006 15:04")
	}
	if a.Signature != nil {
		data.SignerName = a.Signature.SignerName
		data.SignedAt = a.Signature.SignedAt.In(time.UTC).Format("02/01/2006 15:04 MST")
	}
	return data
}

func (s *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
