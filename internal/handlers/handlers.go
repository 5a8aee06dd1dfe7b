package handlers

import (
	"github.com/sjperalta/fintera-sign/internal/services"
)

// Handlers holds all handler instances
type Handlers struct {
	Health    *HealthHandler
	Agreement *AgreementHandler
	Signing   *SigningHandler
	Audit     *AuditHandler
	Job       *JobHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services, ping Pinger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(ping),
		Agreement: NewAgreementHandler(svcs.Agreement),
		Signing:   NewSigningHandler(svcs.Signing),
		Audit:     NewAuditHandler(svcs.Audit),
		Job:       NewJobHandler(svcs.Job),
	}
}
