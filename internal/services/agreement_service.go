package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sjperalta/fintera-sign/internal/config"
	"github.com/sjperalta/fintera-sign/internal/jobs"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/statemachine"
	"github.com/sjperalta/fintera-sign/internal/storage"
	"github.com/sjperalta/fintera-sign/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	blobSubDir        = "agreements"
	maxTitleLength    = 255
	maxNoteLength     = 2000
	maxReasonLength   = 1000
	expireBatchSize   = 500
	expireConcurrency = 4
)

// CreateAgreementInput holds the operator-supplied fields of a new agreement
type CreateAgreementInput struct {
	ClientName        string     `json:"client_name"`
	ClientEmail       string     `json:"client_email"`
	ClientCompany     *string    `json:"client_company"`
	CompanyName       string     `json:"company_name"`
	CompanySignerName string     `json:"company_signer_name"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	ContractRef       *string    `json:"contract_ref"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

func (in *CreateAgreementInput) normalize() {
	in.ClientName = strings.TrimSpace(in.ClientName)
	in.ClientEmail = strings.ToLower(strings.TrimSpace(in.ClientEmail))
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.CompanySignerName = strings.TrimSpace(in.CompanySignerName)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.ClientCompany != nil && strings.TrimSpace(*in.ClientCompany) == "" {
		in.ClientCompany = nil
	}
	if in.ContractRef != nil && strings.TrimSpace(*in.ContractRef) == "" {
		in.ContractRef = nil
	}
}

// Validate checks required fields
func (in *CreateAgreementInput) Validate(now time.Time) error {
	if in.ClientName == "" {
		return newValidationError("client_name", "el nombre del cliente es requerido")
	}
	if in.ClientEmail == "" {
		return newValidationError("client_email", "el correo del cliente es requerido")
	}
	if _, err := mail.ParseAddress(in.ClientEmail); err != nil {
		return newValidationError("client_email", "el correo del cliente no es válido")
	}
	if in.Title == "" {
		return newValidationError("title", "el título es requerido")
	}
	if len(in.Title) > maxTitleLength {
		return newValidationError("title", "el título es demasiado largo")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return newValidationError("expires_at", "la fecha de vencimiento debe ser futura")
	}
	return nil
}

// SendResult is the outcome of dispatching (or re-dispatching) a signing link.
// DeliveryErr is a warning: the state change is committed regardless.
type SendResult struct {
	Agreement   *models.Agreement
	SignURL     string
	AlreadySent bool
	DeliveryErr error
}

// AgreementService owns the operator side of the agreement lifecycle
type AgreementService struct {
	repo     repository.AgreementRepository
	blobs    storage.BlobStore
	tokens   TokenIssuer
	notifier Notifier
	renderer DocumentRenderer
	worker   *jobs.Worker
	config   *config.Config
	now      func() time.Time
}

func NewAgreementService(
	repo repository.AgreementRepository,
	blobs storage.BlobStore,
	tokens TokenIssuer,
	notifier Notifier,
	renderer DocumentRenderer,
	worker *jobs.Worker,
	cfg *config.Config,
) *AgreementService {
	return &AgreementService{
		repo:     repo,
		blobs:    blobs,
		tokens:   tokens,
		notifier: notifier,
		renderer: renderer,
		worker:   worker,
		config:   cfg,
		now:      defaultNow,
	}
}

func (s *AgreementService) byID(id string) loader {
	return func(ctx context.Context) (*models.Agreement, error) {
		return s.repo.FindByID(ctx, id)
	}
}

// Get returns a single agreement
func (s *AgreementService) Get(ctx context.Context, id string) (*models.Agreement, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}
	return a, nil
}

// List returns a page of agreements
func (s *AgreementService) List(ctx context.Context, query *repository.AgreementQuery) ([]models.Agreement, int64, error) {
	if query.ListQuery == nil {
		query.ListQuery = repository.NewListQuery()
	}
	return s.repo.List(ctx, query)
}

// Create stores a new draft agreement
func (s *AgreementService) Create(ctx context.Context, input CreateAgreementInput, actor string) (*models.Agreement, error) {
	input.normalize()
	now := s.now()
	if err := input.Validate(now); err != nil {
		return nil, err
	}

	a := &models.Agreement{
		ID:                uuid.NewString(),
		Status:            models.AgreementStatusDraft,
		ClientName:        input.ClientName,
		ClientEmail:       input.ClientEmail,
		ClientCompany:     input.ClientCompany,
		CompanyName:       input.CompanyName,
		CompanySignerName: input.CompanySignerName,
		Title:             input.Title,
		Description:       input.Description,
		ContractRef:       input.ContractRef,
		ExpiresAt:         input.ExpiresAt,
		Version:           1,
		Notes:             []models.Note{},
		CreatedBy:         actor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	entry := models.NewAuditEntry(a.ID, models.AuditKindCreated, actor, now, map[string]any{
		"title":        a.Title,
		"client_email": a.ClientEmail,
	})

	if err := s.repo.Create(ctx, a, entry); err != nil {
		return nil, translateError(err)
	}

	logger.Info("Agreement created", "agreement_id", a.ID, "actor", actor)
	return a, nil
}

// BindPdf stores the document bytes and binds them to a draft or sent agreement
func (s *AgreementService) BindPdf(ctx context.Context, id, filename string, data []byte, actor string) (*models.Agreement, error) {
	if len(data) == 0 {
		return nil, newValidationError("file", "el archivo está vacío")
	}
	if int64(len(data)) > storage.MaxFileSize() {
		return nil, newValidationError("file", "el archivo excede el tamaño máximo de 10MB")
	}
	if !storage.IsPDF(data) {
		return nil, newValidationError("file", "solo se permiten archivos PDF")
	}

	// Refuse before touching storage when the agreement can no longer change
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.MayBindPdf() {
		return nil, invalidStateError(fmt.Sprintf("no se puede cambiar el documento de un acuerdo en estado %s", current.Status))
	}

	path, err := s.putBlob(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	var previous string
	updated, err := updateAgreement(ctx, s.repo, s.byID(id), func(a *models.Agreement) (*models.AuditEntry, error) {
		if !a.MayBindPdf() {
			return nil, invalidStateError(fmt.Sprintf("no se puede cambiar el documento de un acuerdo en estado %s", a.Status))
		}
		previous = ""
		if a.HasPdf() {
			previous = *a.PdfPath
		}
		p, d := path, digest
		a.PdfPath = &p
		a.PdfSHA256 = &d
		return models.NewAuditEntry(a.ID, models.AuditKindPdfUploaded, actor, s.now(), map[string]any{
			"path":     path,
			"sha256":   digest,
			"size":     len(data),
			"filename": filename,
			"replaced": previous != "",
		}), nil
	})
	if err != nil {
		s.deleteBlobLater(path)
		return nil, err
	}
	if previous != "" && previous != path {
		s.deleteBlobLater(previous)
	}

	logger.Info("Agreement document bound", "agreement_id", id, "sha256", digest, "actor", actor)
	return updated, nil
}

// RemovePdf unbinds the document of a draft or sent agreement
func (s *AgreementService) RemovePdf(ctx context.Context, id, actor string) (*models.Agreement, error) {
	var removed string
	updated, err := updateAgreement(ctx, s.repo, s.byID(id), func(a *models.Agreement) (*models.AuditEntry, error) {
		if !a.MayBindPdf() {
			return nil, invalidStateError(fmt.Sprintf("no se puede quitar el documento de un acuerdo en estado %s", a.Status))
		}
		if !a.HasPdf() {
			return nil, preconditionError("el acuerdo no tiene documento")
		}
		removed = *a.PdfPath
		a.PdfPath = nil
		a.PdfSHA256 = nil
		return models.NewAuditEntry(a.ID, models.AuditKindPdfRemoved, actor, s.now(), map[string]any{
			"path": removed,
		}), nil
	})
	if err != nil {
		return nil, err
	}
	s.deleteBlobLater(removed)
	return updated, nil
}

// RenderPdf produces a document from the agreement's own fields and binds it
func (s *AgreementService) RenderPdf(ctx context.Context, id, actor string) (*models.Agreement, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.MayBindPdf() {
		return nil, invalidStateError(fmt.Sprintf("no se puede generar el documento de un acuerdo en estado %s", current.Status))
	}

	data, err := s.renderer.Render(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("failed to render agreement: %w", err)
	}
	return s.BindPdf(ctx, id, "agreement.pdf", data, actor)
}

// Send dispatches the signing link. Sending an already sent agreement returns
// the existing link without notifying again.
func (s *AgreementService) Send(ctx context.Context, id, actor string) (*SendResult, error) {
	updated, err := updateAgreement(ctx, s.repo, s.byID(id), func(a *models.Agreement) (*models.AuditEntry, error) {
		if a.Status == models.AgreementStatusSent {
			return nil, errNoChange
		}
		if !a.MaySend() {
			return nil, invalidStateError(fmt.Sprintf("no se puede enviar un acuerdo en estado %s", a.Status))
		}
		if !a.HasPdf() {
			return nil, preconditionError("el acuerdo no tiene documento PDF")
		}
		now := s.now()
		if a.IsPastDeadline(now) {
			return nil, preconditionError("la fecha de vencimiento ya pasó")
		}

		if a.SigningToken == nil {
			token, err := s.tokens.Issue()
			if err != nil {
				return nil, err
			}
			a.SigningToken = &token
		}
		if err := statemachine.NewAgreementFSM(a).Send(ctx); err != nil {
			return nil, err
		}
		a.SentAt = &now
		if a.ExpiresAt == nil && s.config.DefaultSigningDays > 0 {
			deadline := now.AddDate(0, 0, s.config.DefaultSigningDays)
			a.ExpiresAt = &deadline
		}

		metadata := map[string]any{"recipient": a.ClientEmail}
		if a.ExpiresAt != nil {
			metadata["expires_at"] = a.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return models.NewAuditEntry(a.ID, models.AuditKindSent, actor, now, metadata), nil
	})
	if errors.Is(err, errNoChange) {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &SendResult{Agreement: current, SignURL: s.SignURL(current), AlreadySent: true}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &SendResult{Agreement: updated, SignURL: s.SignURL(updated)}
	result.DeliveryErr = s.notify(ctx, Notification{
		Template:  TemplateSigningRequest,
		Agreement: updated,
		SignURL:   result.SignURL,
	})

	logger.Info("Agreement sent", "agreement_id", id, "actor", actor, "delivered", result.DeliveryErr == nil)
	return result, nil
}

// RegenerateLink replaces the signing token of a sent agreement. The old
// token stops resolving in the same write that issues the new one.
func (s *AgreementService) RegenerateLink(ctx context.Context, id, actor string) (*SendResult, error) {
	updated, err := updateAgreement(ctx, s.repo, s.byID(id), func(a *models.Agreement) (*models.AuditEntry, error) {
		if a.Status != models.AgreementStatusSent {
			return nil, invalidStateError(fmt.Sprintf("solo se puede regenerar el enlace de un acuerdo enviado (estado %s)", a.Status))
		}
		token, err := s.tokens.Issue()
		if err != nil {
			return nil, err
		}
		a.SigningToken = &token
		return models.NewAuditEntry(a.ID, models.AuditKindLinkRegenerated, actor, s.now(), map[string]any{
			"recipient": a.ClientEmail,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	result := &SendResult{Agreement: updated, SignURL: s.SignURL(updated)}
	result.DeliveryErr = s.notify(ctx, Notification{
		Template:  TemplateLinkRegenerated,
		Agreement: updated,
		SignURL:   result.SignURL,
	})
	return result, nil
}

// Cancel withdraws a draft or sent agreement
func (s *AgreementService) Cancel(ctx context.Context, id, reason, actor string) (*models.Agreement, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, newValidationError("reason", "el motivo es demasiado largo")
	}

	updated, err := updateAgreement(ctx, s.repo, s.byID(id), func(a *models.Agreement) (*models.AuditEntry, error) {
		if !a.MayCancel() {
			return nil, invalidStateError(fmt.Sprintf("no se puede cancelar un acuerdo en estado %s", a.Status))
		}
		if err := statemachine.NewAgreementFSM(a).Cancel(ctx); err != nil {
			return nil, err
		}
		now := s.now()
		a.CancelledAt = &now
		if reason != "" {
			r := reason
			a.CancelReason = &r
		}
		return models.NewAuditEntry(a.ID, models.AuditKindCancelled, actor, now, map[string]any{
			"reason": reason,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Agreement cancelled", "agreement_id", id, "actor", actor)
	return updated, nil
}

// AddNote appends an operator note. Notes never change document content, so
// they are accepted in any status.
func (s *AgreementService) AddNote(ctx context.Context, id, content string, isPrivate bool, actor string) (*models.Agreement, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, newValidationError("content", "la nota no puede estar vacía")
	}
	if len(content) > maxNoteLength {
		return nil, newValidationError("content", "la nota es demasiado larga")
	}

	return updateAgreement(ctx, s.repo, s.byID(id), func(a *models.Agreement) (*models.AuditEntry, error) {
		now := s.now()
		a.Notes = append(a.Notes, models.Note{Content: content, CreatedAt: now, IsPrivate: isPrivate})
		return models.NewAuditEntry(a.ID, models.AuditKindNoteAdded, actor, now, map[string]any{
			"private": isPrivate,
			"length":  len(content),
		}), nil
	})
}

// Delete removes an agreement that was never signed. Its audit trail is kept.
func (s *AgreementService) Delete(ctx context.Context, id, actor string) error {
	deleted, err := withConflictRetry(ctx, func(ctx context.Context) (*models.Agreement, error) {
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !current.MayDelete() {
			return nil, invalidStateError("no se puede eliminar un acuerdo firmado")
		}
		entry := models.NewAuditEntry(current.ID, models.AuditKindDeleted, actor, s.now(), map[string]any{
			"status": string(current.Status),
			"title":  current.Title,
		})
		if err := s.repo.Delete(ctx, current.ID, current.Version, entry); err != nil {
			return nil, err
		}
		return current, nil
	})
	if err != nil {
		return err
	}

	if deleted.HasPdf() {
		s.deleteBlobLater(*deleted.PdfPath)
	}
	logger.Info("Agreement deleted", "agreement_id", id, "actor", actor)
	return nil
}

// ExpireSweep expires every sent agreement whose deadline has passed. It is
// idempotent and safe to run concurrently with itself.
func (s *AgreementService) ExpireSweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.FindExpiring(ctx, now, expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find expiring agreements: %w", err)
	}

	var (
		expired atomic.Int32
		mu      sync.Mutex
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(expireConcurrency)
	for _, a := range due {
		id := a.ID
		g.Go(func() error {
			ok, err := s.expireOne(ctx, id, now)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("agreement %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			if ok {
				expired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := expired.Load(); n > 0 {
		logger.Info("Expire sweep finished", "expired", n, "candidates", len(due))
	}
	return int(expired.Load()), errors.Join(errs...)
}

func (s *AgreementService) expireOne(ctx context.Context, id string, now time.Time) (bool, error) {
	_, err := updateAgreement(ctx, s.repo, s.byID(id), func(a *models.Agreement) (*models.AuditEntry, error) {
		if a.Status != models.AgreementStatusSent || !a.IsPastDeadline(now) {
			return nil, errNoChange
		}
		return expire(ctx, a, now, "sweep")
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNoChange), errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// SignURL is the link the signer receives
func (s *AgreementService) SignURL(a *models.Agreement) string {
	if a.SigningToken == nil {
		return ""
	}
	return fmt.Sprintf("%s/sign/%s", s.config.AppURL, *a.SigningToken)
}

func (s *AgreementService) notify(ctx context.Context, n Notification) error {
	if s.notifier == nil {
		return nil
	}
	err := s.notifier.Notify(ctx, n)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrDelivery) {
		err = fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	logger.Warn("Notification failed", "agreement_id", n.Agreement.ID, "template", n.Template, "error", err)
	sentry.CaptureException(err)
	return err
}

func (s *AgreementService) putBlob(ctx context.Context, filename string, data []byte) (string, error) {
	ctx, cancel := withTimeout(ctx, s.config.BlobTimeout)
	defer cancel()
	path, err := s.blobs.Put(ctx, blobSubDir, filename, data)
	if err != nil {
		return "", fmt.Errorf("failed to store document: %w", err)
	}
	return path, nil
}

// deleteBlobLater removes a blob after the state change that orphaned it has
// committed. Failures leave an orphan blob, never a dangling reference.
func (s *AgreementService) deleteBlobLater(path string) {
	runAfterCommit(s.worker, func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, s.config.BlobTimeout)
		defer cancel()
		if err := s.blobs.Delete(ctx, path); err != nil {
			return fmt.Errorf("failed to delete blob %s: %w", path, err)
		}
		return nil
	})
}

// runAfterCommit queues job on the worker, or runs it inline without one.
func runAfterCommit(worker *jobs.Worker, job jobs.Job) {
	if worker == nil {
		if err := job(context.Background()); err != nil {
			logger.Error("Post-commit job failed", "error", err)
		}
		return
	}
	worker.Enqueue(job)
}
