package repository

import (
	"errors"

	"github.com/sjperalta/fintera-sign/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a write was based on a stale version
	ErrVersionConflict = errors.New("version conflict")
	// ErrAuditAppend is returned when the audit entry could not be written;
	// the state change it describes is rolled back with it
	ErrAuditAppend = errors.New("audit append failed")
)

// Mutation applies a state change to the current agreement and returns the
// audit entry describing it. Returning an error aborts the write.
type Mutation func(agreement *models.Agreement) (*models.AuditEntry, error)

// Repositories holds all repository instances
type Repositories struct {
	Agreement AgreementRepository
	Audit     AuditRepository
}

// NewRepositories creates all repository instances backed by the database
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Agreement: NewAgreementRepository(db),
		Audit:     NewAuditRepository(db),
	}
}

// NewMemoryRepositories creates repositories sharing one in-process store
func NewMemoryRepositories() *Repositories {
	store := newMemoryStore()
	return &Repositories{
		Agreement: &memoryAgreementRepository{store: store},
		Audit:     &memoryAuditRepository{store: store},
	}
}

// ListQuery represents common query parameters
type ListQuery struct {
	Page    int
	PerPage int
	Search  string
	SortBy  string
	SortDir string
	Filters map[string]string
}

// NewListQuery creates a ListQuery with defaults
func NewListQuery() *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: 20,
		Filters: make(map[string]string),
	}
}

func (q *ListQuery) offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PerPage
}

func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
