package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func seedAgreement(t *testing.T, repos *Repositories, id string) *models.Agreement {
	t.Helper()
	a := &models.Agreement{
		ID:          id,
		Status:      models.AgreementStatusDraft,
		ClientName:  "Jane Doe",
		ClientEmail: "jane@example.com",
		Title:       "Web Dev Contract " + id,
	}
	entry := models.NewAuditEntry(id, models.AuditKindCreated, models.ActorSystem, time.Now(), nil)
	require.NoError(t, repos.Agreement.Create(context.Background(), a, entry))
	return a
}

func setStatus(status models.AgreementStatus, kind models.AuditKind) Mutation {
	return func(a *models.Agreement) (*models.AuditEntry, error) {
		a.Status = status
		return models.NewAuditEntry(a.ID, kind, models.ActorSystem, time.Now(), nil), nil
	}
}

func TestMemoryAgreementRepository_CreateAndFind(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")

	got, err := repos.Agreement.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", got.ClientName)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repos.Agreement.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := repos.Audit.ListByAgreement(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditKindCreated, entries[0].Kind)
	assert.Equal(t, 1, entries[0].Seq)
}

func TestMemoryAgreementRepository_ReadsAreIsolated(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")

	got, err := repos.Agreement.FindByID(ctx, "a1")
	require.NoError(t, err)
	got.Status = models.AgreementStatusSigned
	got.Notes = append(got.Notes, models.Note{Content: "leak"})

	again, err := repos.Agreement.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusDraft, again.Status)
	assert.Empty(t, again.Notes)
}

func TestMemoryAgreementRepository_UpdateRequiresCurrentVersion(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")

	updated, err := repos.Agreement.Update(ctx, "a1", 0, setStatus(models.AgreementStatusSent, models.AuditKindSent))
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, models.AgreementStatusSent, updated.Status)

	_, err = repos.Agreement.Update(ctx, "a1", 0, setStatus(models.AgreementStatusCancelled, models.AuditKindCancelled))
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = repos.Agreement.Update(ctx, "missing", 0, setStatus(models.AgreementStatusSent, models.AuditKindSent))
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := repos.Audit.ListByAgreement(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Nil(t, models.VerifyChain(entries))
}

func TestMemoryAgreementRepository_MutationErrorLeavesStateUntouched(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")

	boom := errors.New("boom")
	_, err := repos.Agreement.Update(ctx, "a1", 0, func(a *models.Agreement) (*models.AuditEntry, error) {
		a.Status = models.AgreementStatusSigned
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repos.Agreement.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusDraft, got.Status)
	assert.Equal(t, 0, got.Version)

	entries, _ := repos.Audit.ListByAgreement(ctx, "a1")
	assert.Len(t, entries, 1)
}

func TestMemoryAgreementRepository_ConcurrentUpdatesSingleWinner(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")

	var wins, conflicts atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := repos.Agreement.Update(ctx, "a1", 0, setStatus(models.AgreementStatusSent, models.AuditKindSent))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrVersionConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), conflicts.Load())

	entries, _ := repos.Audit.ListByAgreement(ctx, "a1")
	assert.Len(t, entries, 2)
}

func TestMemoryAgreementRepository_TokenIndexFollowsUpdates(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")

	withToken := func(token string) Mutation {
		return func(a *models.Agreement) (*models.AuditEntry, error) {
			a.SigningToken = &token
			return models.NewAuditEntry(a.ID, models.AuditKindLinkRegenerated, models.ActorSystem, time.Now(), nil), nil
		}
	}

	_, err := repos.Agreement.Update(ctx, "a1", 0, withToken("old"))
	require.NoError(t, err)
	got, err := repos.Agreement.FindByToken(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = repos.Agreement.Update(ctx, "a1", 1, withToken("new"))
	require.NoError(t, err)

	_, err = repos.Agreement.FindByToken(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repos.Agreement.FindByToken(ctx, "new")
	assert.NoError(t, err)
	_, err = repos.Agreement.FindByToken(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAgreementRepository_DeleteKeepsAuditTrail(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")

	entry := models.NewAuditEntry("a1", models.AuditKindDeleted, models.OperatorActor(3), time.Now(), nil)
	assert.ErrorIs(t, repos.Agreement.Delete(ctx, "a1", 5, entry), ErrVersionConflict)
	require.NoError(t, repos.Agreement.Delete(ctx, "a1", 0, entry))
	assert.Equal(t, 2, entry.Seq)

	_, err := repos.Agreement.FindByID(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := repos.Audit.ListByAgreement(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditKindDeleted, entries[1].Kind)
	assert.Nil(t, models.VerifyChain(entries))
}

func TestMemoryAgreementRepository_ListFiltersAndPaginates(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedAgreement(t, repos, fmt.Sprintf("a%d", i))
	}
	_, err := repos.Agreement.Update(ctx, "a2", 0, setStatus(models.AgreementStatusSent, models.AuditKindSent))
	require.NoError(t, err)

	q := &AgreementQuery{ListQuery: NewListQuery(), Status: models.AgreementStatusSent}
	items, total, err := repos.Agreement.List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "a2", items[0].ID)

	page := NewListQuery()
	page.PerPage = 2
	page.Page = 3
	items, total, err = repos.Agreement.List(ctx, &AgreementQuery{ListQuery: page})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 1)

	search := NewListQuery()
	search.Search = "contract a4"
	items, _, err = repos.Agreement.List(ctx, &AgreementQuery{ListQuery: search})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a4", items[0].ID)
}

func TestMemoryAgreementRepository_ListDateRangeAndSort(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, title := range []string{"Charlie", "alpha", "Bravo"} {
		a := &models.Agreement{
			ID:          fmt.Sprintf("d%d", i),
			Status:      models.AgreementStatusDraft,
			ClientName:  "Jane Doe",
			ClientEmail: "jane@example.com",
			Title:       title,
			CreatedAt:   base.AddDate(0, 0, i),
		}
		entry := models.NewAuditEntry(a.ID, models.AuditKindCreated, models.ActorSystem, a.CreatedAt, nil)
		require.NoError(t, repos.Agreement.Create(ctx, a, entry))
	}

	ids := func(items []models.Agreement) []string {
		var out []string
		for _, a := range items {
			out = append(out, a.ID)
		}
		return out
	}

	q := NewListQuery()
	q.Filters = map[string]string{"start_date": "2026-03-02", "end_date": "2026-03-02"}
	items, total, err := repos.Agreement.List(ctx, &AgreementQuery{ListQuery: q})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, []string{"d1"}, ids(items))

	q = NewListQuery()
	q.Filters = map[string]string{"start_date": "2026-03-02T00:00:00Z"}
	items, _, err = repos.Agreement.List(ctx, &AgreementQuery{ListQuery: q})
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1"}, ids(items))

	q = NewListQuery()
	q.SortBy = "created_at"
	items, _, err = repos.Agreement.List(ctx, &AgreementQuery{ListQuery: q})
	require.NoError(t, err)
	assert.Equal(t, []string{"d0", "d1", "d2"}, ids(items))

	q = NewListQuery()
	q.SortBy = "title"
	q.SortDir = "desc"
	items, _, err = repos.Agreement.List(ctx, &AgreementQuery{ListQuery: q})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d0", "d2"}, ids(items))

	q = NewListQuery()
	q.Filters = map[string]string{"end_date": "yesterday"}
	_, _, err = repos.Agreement.List(ctx, &AgreementQuery{ListQuery: q})
	assert.ErrorContains(t, err, "end_date")
}

func TestMemoryAgreementRepository_FindExpiring(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	seedAgreement(t, repos, "due")
	seedAgreement(t, repos, "later")
	seedAgreement(t, repos, "draft")

	sendWithDeadline := func(deadline time.Time) Mutation {
		return func(a *models.Agreement) (*models.AuditEntry, error) {
			a.Status = models.AgreementStatusSent
			a.ExpiresAt = &deadline
			return models.NewAuditEntry(a.ID, models.AuditKindSent, models.ActorSystem, now, nil), nil
		}
	}
	_, err := repos.Agreement.Update(ctx, "due", 0, sendWithDeadline(now.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = repos.Agreement.Update(ctx, "later", 0, sendWithDeadline(now.Add(time.Hour)))
	require.NoError(t, err)

	due, err := repos.Agreement.FindExpiring(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}

func TestMemoryAuditRepository_List(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	seedAgreement(t, repos, "a1")
	seedAgreement(t, repos, "a2")
	_, err := repos.Agreement.Update(ctx, "a1", 0, setStatus(models.AgreementStatusSent, models.AuditKindSent))
	require.NoError(t, err)

	all, total, err := repos.Audit.List(ctx, &AuditQuery{ListQuery: NewListQuery()})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, models.AuditKindSent, all[0].Kind)

	sent, total, err := repos.Audit.List(ctx, &AuditQuery{ListQuery: NewListQuery(), Kind: models.AuditKindSent})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "a1", sent[0].AgreementID)

	byAgreement, _, err := repos.Audit.List(ctx, &AuditQuery{ListQuery: NewListQuery(), AgreementID: "a2"})
	require.NoError(t, err)
	assert.Len(t, byAgreement, 1)
}
