package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-sign/internal/models"
)

// memoryStore keeps agreements and their audit chains in process.
// All reads and writes go through clones so callers never alias stored state.
type memoryStore struct {
	mu         sync.RWMutex
	agreements map[string]*models.Agreement
	tokens     map[string]string
	audit      map[string][]*models.AuditEntry
	order      []*models.AuditEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		agreements: make(map[string]*models.Agreement),
		tokens:     make(map[string]string),
		audit:      make(map[string][]*models.AuditEntry),
	}
}

// appendLocked seals entry onto the agreement's chain. Caller holds mu.
func (s *memoryStore) appendLocked(agreementID string, entry *models.AuditEntry) error {
	if entry == nil {
		return nil
	}
	chain := s.audit[agreementID]
	var prev *models.AuditEntry
	if len(chain) > 0 {
		prev = chain[len(chain)-1]
	}
	stored := entry.Clone()
	stored.AgreementID = agreementID
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if err := stored.Seal(prev); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditAppend, err)
	}
	s.audit[agreementID] = append(chain, stored)
	s.order = append(s.order, stored)
	*entry = *stored.Clone()
	return nil
}

func (s *memoryStore) indexTokenLocked(before, after *models.Agreement) {
	if before != nil && before.SigningToken != nil {
		delete(s.tokens, *before.SigningToken)
	}
	if after != nil && after.SigningToken != nil && *after.SigningToken != "" {
		s.tokens[*after.SigningToken] = after.ID
	}
}

type memoryAgreementRepository struct {
	store *memoryStore
}

func (r *memoryAgreementRepository) Create(ctx context.Context, agreement *models.Agreement, entry *models.AuditEntry) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agreements[agreement.ID]; exists {
		return ErrVersionConflict
	}
	now := time.Now()
	if agreement.CreatedAt.IsZero() {
		agreement.CreatedAt = now
	}
	agreement.UpdatedAt = now

	stored := agreement.Clone()
	if err := s.appendLocked(stored.ID, entry); err != nil {
		return err
	}
	s.agreements[stored.ID] = stored
	s.indexTokenLocked(nil, stored)
	return nil
}

func (r *memoryAgreementRepository) FindByID(ctx context.Context, id string) (*models.Agreement, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agreements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *memoryAgreementRepository) FindByToken(ctx context.Context, token string) (*models.Agreement, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok || token == "" {
		return nil, ErrNotFound
	}
	a, ok := s.agreements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *memoryAgreementRepository) List(ctx context.Context, query *AgreementQuery) ([]models.Agreement, int64, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end, err := createdRange(query.Filters)
	if err != nil {
		return nil, 0, err
	}

	search := strings.ToLower(query.Search)
	var matched []models.Agreement
	for _, a := range s.agreements {
		if query.Status != "" && a.Status != query.Status {
			continue
		}
		if !start.IsZero() && a.CreatedAt.Before(start) {
			continue
		}
		if !end.IsZero() && a.CreatedAt.After(end) {
			continue
		}
		if query.ContractRef != "" && (a.ContractRef == nil || *a.ContractRef != query.ContractRef) {
			continue
		}
		if query.CreatedBy != "" && a.CreatedBy != query.CreatedBy {
			continue
		}
		if query.Filters != nil && query.Filters["client_email"] != "" && a.ClientEmail != query.Filters["client_email"] {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.Title), search) &&
			!strings.Contains(strings.ToLower(a.ClientName), search) &&
			!strings.Contains(strings.ToLower(a.ClientEmail), search) {
			continue
		}
		matched = append(matched, *a.Clone())
	}

	sortAgreements(matched, query.ListQuery)

	total := int64(len(matched))
	if query.PerPage > 0 {
		start := query.offset()
		if start >= len(matched) {
			return []models.Agreement{}, total, nil
		}
		end := start + query.PerPage
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

// createdRange parses the start_date/end_date filters. A bare date as
// end_date covers the whole day.
func createdRange(filters map[string]string) (start, end time.Time, err error) {
	if val := filters["start_date"]; val != "" {
		if start, err = ParseDateFilter(val); err != nil {
			return start, end, fmt.Errorf("invalid start_date %q: %w", val, err)
		}
	}
	if val := filters["end_date"]; val != "" {
		if end, err = ParseDateFilter(val); err != nil {
			return start, end, fmt.Errorf("invalid end_date %q: %w", val, err)
		}
		if len(val) == len(time.DateOnly) {
			end = end.Add(24*time.Hour - time.Second)
		}
	}
	return start, end, nil
}

// ParseDateFilter accepts the start_date/end_date formats both drivers
// understand: a bare date, "2006-01-02 15:04:05" or RFC3339.
func ParseDateFilter(val string) (time.Time, error) {
	if len(val) == len(time.DateOnly) {
		return time.Parse(time.DateOnly, val)
	}
	if t, err := time.Parse(time.DateTime, val); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, val)
}

// sortAgreements orders like the postgres driver: newest first by default,
// otherwise by a whitelisted column, NULL expires_at last when ascending.
func sortAgreements(items []models.Agreement, q *ListQuery) {
	column := ""
	desc := true
	if q != nil {
		if _, ok := agreementSortColumns[q.SortBy]; ok {
			column = q.SortBy
			desc = q.SortDir == "desc"
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		c := compareAgreements(&items[i], &items[j], column)
		if c == 0 {
			return items[i].ID > items[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareAgreements(a, b *models.Agreement, column string) int {
	switch column {
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case "expires_at":
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return 0
		case a.ExpiresAt == nil:
			return 1
		case b.ExpiresAt == nil:
			return -1
		}
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "client_name":
		return strings.Compare(a.ClientName, b.ClientName)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (r *memoryAgreementRepository) FindExpiring(ctx context.Context, now time.Time, limit int) ([]models.Agreement, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.Agreement
	for _, a := range s.agreements {
		if a.Status == models.AgreementStatusSent && a.IsPastDeadline(now) {
			due = append(due, *a.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memoryAgreementRepository) Update(ctx context.Context, id string, expectedVersion int, mutate Mutation) (*models.Agreement, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.agreements[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := current.Clone()
	entry, err := mutate(next)
	if err != nil {
		return nil, err
	}
	next.ID = id
	next.Version = expectedVersion + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now()

	if err := s.appendLocked(id, entry); err != nil {
		return nil, err
	}
	s.indexTokenLocked(current, next)
	s.agreements[id] = next
	return next.Clone(), nil
}

func (r *memoryAgreementRepository) Delete(ctx context.Context, id string, expectedVersion int, entry *models.AuditEntry) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.agreements[id]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	if err := s.appendLocked(id, entry); err != nil {
		return err
	}
	s.indexTokenLocked(current, nil)
	delete(s.agreements, id)
	return nil
}

type memoryAuditRepository struct {
	store *memoryStore
}

func (r *memoryAuditRepository) ListByAgreement(ctx context.Context, agreementID string) ([]models.AuditEntry, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.audit[agreementID]
	entries := make([]models.AuditEntry, 0, len(chain))
	for _, e := range chain {
		entries = append(entries, *e.Clone())
	}
	return entries, nil
}

func (r *memoryAuditRepository) List(ctx context.Context, query *AuditQuery) ([]models.AuditEntry, int64, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.AuditEntry
	// Newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.order[i]
		if query.AgreementID != "" && e.AgreementID != query.AgreementID {
			continue
		}
		if query.Kind != "" && e.Kind != query.Kind {
			continue
		}
		if query.Actor != "" && e.Actor != query.Actor {
			continue
		}
		if query.From != nil && e.Timestamp.Before(*query.From) {
			continue
		}
		if query.To != nil && e.Timestamp.After(*query.To) {
			continue
		}
		matched = append(matched, *e.Clone())
	}

	total := int64(len(matched))
	if query.PerPage > 0 {
		start := query.offset()
		if start >= len(matched) {
			return []models.AuditEntry{}, total, nil
		}
		end := start + query.PerPage
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}
