package services

import (
	"github.com/sjperalta/fintera-sign/internal/config"
	"github.com/sjperalta/fintera-sign/internal/jobs"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/storage"
)

// Services holds all service instances
type Services struct {
	Agreement *AgreementService
	Signing   *SigningService
	Audit     *AuditService
	Render    *RenderService
	Email     *EmailService
	Job       *JobService
}

// NewServices creates all service instances
func NewServices(repos *repository.Repositories, worker *jobs.Worker, blobs storage.BlobStore, cfg *config.Config) *Services {
	emailSvc := NewEmailService(cfg)
	renderSvc := NewRenderService(cfg)

	return &Services{
		Agreement: NewAgreementService(repos.Agreement, blobs, NewTokenIssuer(), emailSvc, renderSvc, worker, cfg),
		Signing:   NewSigningService(repos.Agreement, blobs, emailSvc, worker, cfg),
		Audit:     NewAuditService(repos.Audit, repos.Agreement),
		Render:    renderSvc,
		Email:     emailSvc,
		Job:       NewJobService(worker),
	}
}
