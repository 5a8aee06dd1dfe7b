package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-sign/internal/models"
	"gorm.io/gorm"
)

// AuditRepository reads the append-only audit trail. Entries are only ever
// written by AgreementRepository alongside the state change they describe.
type AuditRepository interface {
	ListByAgreement(ctx context.Context, agreementID string) ([]models.AuditEntry, error)
	List(ctx context.Context, query *AuditQuery) ([]models.AuditEntry, int64, error)
}

// AuditQuery extends ListQuery with audit-specific filters
type AuditQuery struct {
	*ListQuery
	AgreementID string
	Kind        models.AuditKind
	Actor       string
	From        *time.Time
	To          *time.Time
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) ListByAgreement(ctx context.Context, agreementID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("seq ASC").
		Find(&entries).Error
	return entries, err
}

func (r *auditRepository) List(ctx context.Context, query *AuditQuery) ([]models.AuditEntry, int64, error) {
	var entries []models.AuditEntry
	var total int64

	db := r.db.WithContext(ctx).Model(&models.AuditEntry{})

	if query.AgreementID != "" {
		db = db.Where("agreement_id = ?", query.AgreementID)
	}
	if query.Kind != "" {
		db = db.Where("kind = ?", query.Kind)
	}
	if query.Actor != "" {
		db = db.Where("actor = ?", query.Actor)
	}
	if query.From != nil {
		db = db.Where(`"timestamp" >= ?`, *query.From)
	}
	if query.To != nil {
		db = db.Where(`"timestamp" <= ?`, *query.To)
	}

	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order(`"timestamp" DESC`).Order("seq DESC")
	if query.PerPage > 0 {
		db = db.Offset(query.offset()).Limit(query.PerPage)
	}

	if err := db.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
