package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-sign/internal/models"
	"gorm.io/gorm"
)

// AgreementRepository defines the interface for agreement data access.
// Every state change is written together with its audit entry.
type AgreementRepository interface {
	Create(ctx context.Context, agreement *models.Agreement, entry *models.AuditEntry) error
	FindByID(ctx context.Context, id string) (*models.Agreement, error)
	FindByToken(ctx context.Context, token string) (*models.Agreement, error)
	List(ctx context.Context, query *AgreementQuery) ([]models.Agreement, int64, error)
	FindExpiring(ctx context.Context, now time.Time, limit int) ([]models.Agreement, error)
	Update(ctx context.Context, id string, expectedVersion int, mutate Mutation) (*models.Agreement, error)
	Delete(ctx context.Context, id string, expectedVersion int, entry *models.AuditEntry) error
}

// AgreementQuery extends ListQuery with agreement-specific filters
type AgreementQuery struct {
	*ListQuery
	Status      models.AgreementStatus
	ContractRef string
	CreatedBy   string
}

var agreementSortColumns = map[string]string{
	"created_at":  "created_at",
	"updated_at":  "updated_at",
	"expires_at":  "expires_at",
	"title":       "title",
	"client_name": "client_name",
	"status":      "status",
}

type agreementRepository struct {
	db *gorm.DB
}

// NewAgreementRepository creates a new agreement repository
func NewAgreementRepository(db *gorm.DB) AgreementRepository {
	return &agreementRepository{db: db}
}

func (r *agreementRepository) Create(ctx context.Context, agreement *models.Agreement, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(agreement).Error; err != nil {
			return err
		}
		return appendAudit(tx, agreement.ID, entry)
	})
}

func (r *agreementRepository) FindByID(ctx context.Context, id string) (*models.Agreement, error) {
	var agreement models.Agreement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&agreement).Error; err != nil {
		return nil, translateError(err)
	}
	return &agreement, nil
}

func (r *agreementRepository) FindByToken(ctx context.Context, token string) (*models.Agreement, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var agreement models.Agreement
	if err := r.db.WithContext(ctx).Where("signing_token = ?", token).First(&agreement).Error; err != nil {
		return nil, translateError(err)
	}
	return &agreement, nil
}

func (r *agreementRepository) List(ctx context.Context, query *AgreementQuery) ([]models.Agreement, int64, error) {
	var agreements []models.Agreement
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Agreement{})

	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.ContractRef != "" {
		db = db.Where("contract_ref = ?", query.ContractRef)
	}
	if query.CreatedBy != "" {
		db = db.Where("created_by = ?", query.CreatedBy)
	}
	if query.Filters != nil {
		if val := query.Filters["client_email"]; val != "" {
			db = db.Where("client_email = ?", val)
		}
		if val := query.Filters["start_date"]; val != "" {
			db = db.Where("created_at >= ?", val)
		}
		if val := query.Filters["end_date"]; val != "" {
			// Include the full day if only a date is provided
			if len(val) == 10 {
				val += " 23:59:59"
			}
			db = db.Where("created_at <= ?", val)
		}
	}

	if query.Search != "" {
		search := "%" + query.Search + "%"
		db = db.Where("title ILIKE ? OR client_name ILIKE ? OR client_email ILIKE ?", search, search, search)
	}

	// Count on a separate session so the main query is not altered by Count()
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if col, ok := agreementSortColumns[query.SortBy]; ok {
		order = col
		if query.SortDir == "desc" {
			order += " DESC"
		}
	}
	db = db.Order(order)

	if query.PerPage > 0 {
		db = db.Offset(query.offset()).Limit(query.PerPage)
	}

	if err := db.Find(&agreements).Error; err != nil {
		return nil, 0, err
	}
	return agreements, total, nil
}

func (r *agreementRepository) FindExpiring(ctx context.Context, now time.Time, limit int) ([]models.Agreement, error) {
	var agreements []models.Agreement
	db := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.AgreementStatusSent, now).
		Order("expires_at ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	err := db.Find(&agreements).Error
	return agreements, err
}

// Update loads the agreement, applies mutate and writes it back only if the
// stored version still equals expectedVersion. The audit entry returned by
// mutate is sealed onto the agreement's chain in the same transaction.
func (r *agreementRepository) Update(ctx context.Context, id string, expectedVersion int, mutate Mutation) (*models.Agreement, error) {
	var updated models.Agreement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Agreement
		if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
			return translateError(err)
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		entry, err := mutate(&current)
		if err != nil {
			return err
		}
		current.ID = id
		current.Version = expectedVersion + 1

		res := tx.Model(&current).
			Where("version = ?", expectedVersion).
			Select("*").
			Omit("created_at").
			Updates(&current)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}

		if entry != nil {
			if err := appendAudit(tx, id, entry); err != nil {
				return err
			}
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *agreementRepository) Delete(ctx context.Context, id string, expectedVersion int, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", id, expectedVersion).Delete(&models.Agreement{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Agreement{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		if entry == nil {
			return nil
		}
		return appendAudit(tx, id, entry)
	})
}

// appendAudit seals entry after the agreement's latest entry and inserts it.
func appendAudit(tx *gorm.DB, agreementID string, entry *models.AuditEntry) error {
	if entry == nil {
		return nil
	}
	var last []models.AuditEntry
	if err := tx.Where("agreement_id = ?", agreementID).Order("seq DESC").Limit(1).Find(&last).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrAuditAppend, err)
	}
	var prev *models.AuditEntry
	if len(last) > 0 {
		prev = &last[0]
	}

	entry.AgreementID = agreementID
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := entry.Seal(prev); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditAppend, err)
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrAuditAppend, err)
	}
	return nil
}
