package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/fintera-sign/internal/config"
	"github.com/sjperalta/fintera-sign/internal/jobs"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/statemachine"
	"github.com/sjperalta/fintera-sign/internal/storage"
	"github.com/sjperalta/fintera-sign/pkg/logger"
)

const (
	maxSignerNameLength = 255
	maxUserAgentLength  = 512
)

// SignInput is what the signer submits; IP and UserAgent come from the request
type SignInput struct {
	SignerName string
	IP         string
	UserAgent  string
}

// ViewResult is the signer's view of an agreement. Counted is false when the
// view was not recorded (terminal agreements).
type ViewResult struct {
	Agreement *models.Agreement
	View      models.SignerView
	Counted   bool
}

// SignResult carries the signed agreement. AlreadySigned marks a replay that
// returned the original signature.
type SignResult struct {
	Agreement     *models.Agreement
	View          models.SignerView
	AlreadySigned bool
}

// SigningService handles the token-authenticated signer actions
type SigningService struct {
	repo     repository.AgreementRepository
	blobs    storage.BlobStore
	notifier Notifier
	worker   *jobs.Worker
	config   *config.Config
	now      func() time.Time
}

func NewSigningService(
	repo repository.AgreementRepository,
	blobs storage.BlobStore,
	notifier Notifier,
	worker *jobs.Worker,
	cfg *config.Config,
) *SigningService {
	return &SigningService{
		repo:     repo,
		blobs:    blobs,
		notifier: notifier,
		worker:   worker,
		config:   cfg,
		now:      defaultNow,
	}
}

// DocumentPath is the signer-facing URL of the bound document
func DocumentPath(token string) string {
	return fmt.Sprintf("/api/v1/sign/%s/document", token)
}

func (s *SigningService) byToken(token string) loader {
	return func(ctx context.Context) (*models.Agreement, error) {
		return s.repo.FindByToken(ctx, token)
	}
}

func (s *SigningService) resolve(ctx context.Context, token string) (*models.Agreement, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}
	a, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, translateError(err)
	}
	return a, nil
}

// View resolves the token and records a view on a sent agreement. Terminal
// agreements are returned unchanged; a sent agreement past its deadline is
// expired first.
func (s *SigningService) View(ctx context.Context, token, ip, userAgent string) (*ViewResult, error) {
	current, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if current.Status != models.AgreementStatusSent {
		return s.viewResult(token, current, false), nil
	}

	counted := false
	updated, err := updateAgreement(ctx, s.repo, s.byToken(token), func(a *models.Agreement) (*models.AuditEntry, error) {
		counted = false
		if a.Status != models.AgreementStatusSent {
			return nil, errNoChange
		}
		now := s.now()
		if a.IsPastDeadline(now) {
			return expire(ctx, a, now, "view")
		}
		a.Views++
		counted = true
		return models.NewAuditEntry(a.ID, models.AuditKindViewed, models.ActorSigner, now, map[string]any{
			"ip":         ip,
			"user_agent": truncate(userAgent, maxUserAgentLength),
			"views":      a.Views,
		}), nil
	})
	if errors.Is(err, errNoChange) {
		latest, err := s.resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		return s.viewResult(token, latest, false), nil
	}
	if err != nil {
		return nil, err
	}
	return s.viewResult(token, updated, counted), nil
}

func (s *SigningService) viewResult(token string, a *models.Agreement, counted bool) *ViewResult {
	documentURL := ""
	if a.HasPdf() {
		documentURL = DocumentPath(token)
	}
	return &ViewResult{Agreement: a, View: a.ToSignerView(documentURL), Counted: counted}
}

// Sign records the signature. Replays on a signed agreement return the
// original signature. A sent agreement past its deadline is expired and the
// call fails with ErrExpired.
func (s *SigningService) Sign(ctx context.Context, token string, input SignInput) (*SignResult, error) {
	signerName := strings.TrimSpace(input.SignerName)
	if signerName == "" {
		return nil, newValidationError("signer_name", "el nombre del firmante es requerido")
	}
	if len(signerName) > maxSignerNameLength {
		return nil, newValidationError("signer_name", "el nombre del firmante es demasiado largo")
	}
	if _, err := s.resolve(ctx, token); err != nil {
		return nil, err
	}

	expired := false
	updated, err := updateAgreement(ctx, s.repo, s.byToken(token), func(a *models.Agreement) (*models.AuditEntry, error) {
		expired = false
		switch a.Status {
		case models.AgreementStatusSigned:
			return nil, errAlreadySigned
		case models.AgreementStatusSent:
		default:
			return nil, invalidStateError(fmt.Sprintf("no se puede firmar un acuerdo en estado %s", a.Status))
		}

		now := s.now()
		if a.IsPastDeadline(now) {
			expired = true
			return expire(ctx, a, now, "sign")
		}
		if !a.HasPdf() {
			return nil, preconditionError("el acuerdo no tiene documento")
		}
		if err := statemachine.NewAgreementFSM(a).Sign(ctx); err != nil {
			return nil, err
		}

		a.Signature = &models.Signature{
			SignerName: signerName,
			SignedAt:   now,
			IP:         input.IP,
			UserAgent:  truncate(input.UserAgent, maxUserAgentLength),
		}
		a.SignedAt = &now

		metadata := map[string]any{
			"signer_name": signerName,
			"ip":          input.IP,
			"user_agent":  a.Signature.UserAgent,
		}
		if a.PdfSHA256 != nil {
			metadata["pdf_sha256"] = *a.PdfSHA256
		}
		return models.NewAuditEntry(a.ID, models.AuditKindSigned, models.ActorSigner, now, metadata), nil
	})
	if errors.Is(err, errAlreadySigned) {
		current, err := s.resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		return &SignResult{Agreement: current, View: s.viewResult(token, current, false).View, AlreadySigned: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if expired {
		logger.Info("Sign attempt after deadline, agreement expired", "agreement_id", updated.ID)
		return nil, ErrExpired
	}

	logger.Info("Agreement signed", "agreement_id", updated.ID)
	s.notifySigned(updated)
	return &SignResult{Agreement: updated, View: s.viewResult(token, updated, false).View}, nil
}

// Document returns the bound PDF of a sent or signed agreement
func (s *SigningService) Document(ctx context.Context, token string) (*models.Agreement, []byte, error) {
	a, err := s.resolve(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if a.Status != models.AgreementStatusSent && a.Status != models.AgreementStatusSigned {
		return nil, nil, invalidStateError(fmt.Sprintf("el documento no está disponible en estado %s", a.Status))
	}
	if !a.HasPdf() {
		return nil, nil, ErrNotFound
	}

	ctx, cancel := withTimeout(ctx, s.config.BlobTimeout)
	defer cancel()
	data, err := s.blobs.Get(ctx, *a.PdfPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document: %w", err)
	}
	return a, data, nil
}

// notifySigned sends the confirmation email off the request path
func (s *SigningService) notifySigned(a *models.Agreement) {
	if s.notifier == nil {
		return
	}
	n := Notification{Template: TemplateAgreementSigned, Agreement: a.Clone()}
	job := func(ctx context.Context) error {
		return s.notifier.Notify(ctx, n)
	}
	if s.worker == nil {
		if err := job(context.Background()); err != nil {
			logger.Warn("Signed confirmation failed", "agreement_id", a.ID, "error", err)
		}
		return
	}
	s.worker.EnqueueAsync(job)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
