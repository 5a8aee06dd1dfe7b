package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newGormWithMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func agreementRow(version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "status", "client_name", "client_email", "title", "version"}).
		AddRow("a1", "draft", "Jane Doe", "jane@example.com", "Web Dev Contract", version)
}

func TestAgreementRepository_UpdateAppendsSealedEntry(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewAgreementRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "agreements" WHERE id = \$1`).WillReturnRows(agreementRow(2))
	mock.ExpectExec(`UPDATE "agreements" SET .* WHERE .*version = `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "agreement_audit_entries" WHERE agreement_id = \$1 ORDER BY seq DESC LIMIT \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agreement_id", "seq", "hash"}).AddRow("e4", "a1", 4, "abc"))
	mock.ExpectExec(`INSERT INTO "agreement_audit_entries"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var entry *models.AuditEntry
	updated, err := repo.Update(context.Background(), "a1", 2, func(a *models.Agreement) (*models.AuditEntry, error) {
		a.Status = models.AgreementStatusSent
		entry = models.NewAuditEntry(a.ID, models.AuditKindSent, models.ActorSystem, time.Now(), nil)
		return entry, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
	assert.Equal(t, models.AgreementStatusSent, updated.Status)
	assert.Equal(t, 5, entry.Seq)
	assert.Equal(t, "abc", entry.PrevHash)
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgreementRepository_UpdateStaleVersion(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewAgreementRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "agreements"`).WillReturnRows(agreementRow(3))
	mock.ExpectRollback()

	called := false
	_, err := repo.Update(context.Background(), "a1", 2, func(a *models.Agreement) (*models.AuditEntry, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgreementRepository_UpdateLosesRace(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewAgreementRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "agreements"`).WillReturnRows(agreementRow(2))
	mock.ExpectExec(`UPDATE "agreements"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "a1", 2, func(a *models.Agreement) (*models.AuditEntry, error) {
		a.Status = models.AgreementStatusCancelled
		return models.NewAuditEntry(a.ID, models.AuditKindCancelled, models.ActorSystem, time.Now(), nil), nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgreementRepository_FindByIDNotFound(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewAgreementRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "agreements" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgreementRepository_CreateWritesFirstEntry(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewAgreementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "agreements"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "agreement_audit_entries"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO "agreement_audit_entries"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a := &models.Agreement{ID: "a1", Status: models.AgreementStatusDraft, ClientName: "Jane", ClientEmail: "j@x.io", Title: "T"}
	entry := models.NewAuditEntry("a1", models.AuditKindCreated, models.ActorSystem, time.Now(), nil)
	require.NoError(t, repo.Create(context.Background(), a, entry))
	assert.Equal(t, 1, entry.Seq)
	assert.Empty(t, entry.PrevHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgreementRepository_DeleteDistinguishesMissingFromStale(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		db, mock := newGormWithMock(t)
		repo := NewAgreementRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "agreements"`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "agreements"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectRollback()

		err := repo.Delete(context.Background(), "a1", 0, nil)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale", func(t *testing.T) {
		db, mock := newGormWithMock(t)
		repo := NewAgreementRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "agreements"`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "agreements"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		err := repo.Delete(context.Background(), "a1", 0, nil)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditRepository_ListByAgreementOrdersBySeq(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewAuditRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "agreement_audit_entries" WHERE agreement_id = \$1 ORDER BY seq ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agreement_id", "seq", "kind"}).
			AddRow("e1", "a1", 1, "created").
			AddRow("e2", "a1", 2, "sent"))

	entries, err := repo.ListByAgreement(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditKindSent, entries[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}
