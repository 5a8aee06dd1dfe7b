package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAgreementService_Create(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	assert.Equal(t, models.AgreementStatusDraft, a.Status)
	assert.Equal(t, 1, a.Version)
	assert.Nil(t, a.SigningToken)
	assert.Equal(t, []models.AuditKind{models.AuditKindCreated}, h.kinds(t, a.ID))
}

func TestAgreementService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	past := h.clock.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		input CreateAgreementInput
		field string
	}{
		{"missing client name", CreateAgreementInput{ClientEmail: "c@x.com", Title: "T"}, "client_name"},
		{"missing email", CreateAgreementInput{ClientName: "C", Title: "T"}, "client_email"},
		{"invalid email", CreateAgreementInput{ClientName: "C", ClientEmail: "nope", Title: "T"}, "client_email"},
		{"missing title", CreateAgreementInput{ClientName: "C", ClientEmail: "c@x.com", Title: "  "}, "title"},
		{"deadline in the past", CreateAgreementInput{ClientName: "C", ClientEmail: "c@x.com", Title: "T", ExpiresAt: &past}, "expires_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.agreement.Create(ctx, tt.input, "operator:1")
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAgreementService_SendWithoutPdfFails(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	_, err := h.agreement.Send(context.Background(), a.ID, "operator:1")
	assert.ErrorIs(t, err, ErrPrecondition)

	current, err := h.agreement.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusDraft, current.Status)
	assert.Len(t, h.kinds(t, a.ID), 1)
}

func TestAgreementService_BindAndSend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t)

	bound, err := h.agreement.BindPdf(ctx, a.ID, "contract.pdf", samplePDF, "operator:1")
	require.NoError(t, err)
	require.True(t, bound.HasPdf())
	require.NotNil(t, bound.PdfSHA256)
	assert.Len(t, *bound.PdfSHA256, 64)

	res, err := h.agreement.Send(ctx, a.ID, "operator:1")
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusSent, res.Agreement.Status)
	require.NotNil(t, res.Agreement.SigningToken)
	assert.NotEmpty(t, *res.Agreement.SigningToken)
	assert.NotNil(t, res.Agreement.SentAt)
	assert.Equal(t, "https://app.example.com/sign/"+*res.Agreement.SigningToken, res.SignURL)
	assert.Equal(t, 3, res.Agreement.Version)
	assert.Equal(t, []models.AuditKind{models.AuditKindCreated, models.AuditKindPdfUploaded, models.AuditKindSent}, h.kinds(t, a.ID))
	assert.Equal(t, []string{TemplateSigningRequest}, h.notifier.templates())
}

func TestAgreementService_SendIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, token := h.sent(t)

	again, err := h.agreement.Send(ctx, a.ID, "operator:1")
	require.NoError(t, err)
	assert.True(t, again.AlreadySent)
	assert.Equal(t, token, *again.Agreement.SigningToken)
	assert.Equal(t, "https://app.example.com/sign/"+token, again.SignURL)

	sent := 0
	for _, k := range h.kinds(t, a.ID) {
		if k == models.AuditKindSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
	assert.Len(t, h.notifier.templates(), 1)
}

func TestAgreementService_ConcurrentSendsIssueOneToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t)
	_, err := h.agreement.BindPdf(ctx, a.ID, "contract.pdf", samplePDF, "operator:1")
	require.NoError(t, err)

	const n = 10
	results := make([]*SendResult, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := h.agreement.Send(ctx, a.ID, "operator:1")
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	fresh := 0
	for _, res := range results {
		if !res.AlreadySent {
			fresh++
		}
		assert.Equal(t, results[0].SignURL, res.SignURL)
	}
	assert.Equal(t, 1, fresh)

	sent := 0
	for _, k := range h.kinds(t, a.ID) {
		if k == models.AuditKindSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{TemplateSigningRequest}, h.notifier.templates())
}

func TestAgreementService_SendAppliesDefaultDeadline(t *testing.T) {
	h := newHarness(t)
	h.config.DefaultSigningDays = 7
	a, _ := h.sent(t)

	require.NotNil(t, a.ExpiresAt)
	assert.Equal(t, h.clock.Now().AddDate(0, 0, 7), *a.ExpiresAt)
}

func TestAgreementService_SendDeliveryFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.notifier.err = errors.New("provider down")

	a := h.create(t)
	_, err := h.agreement.BindPdf(ctx, a.ID, "contract.pdf", samplePDF, "operator:1")
	require.NoError(t, err)

	res, err := h.agreement.Send(ctx, a.ID, "operator:1")
	require.NoError(t, err)
	assert.ErrorIs(t, res.DeliveryErr, ErrDelivery)
	assert.Equal(t, models.AgreementStatusSent, res.Agreement.Status)
}

func TestAgreementService_BindPdfReplacesPreviousBlob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t)

	first, err := h.agreement.BindPdf(ctx, a.ID, "v1.pdf", samplePDF, "operator:1")
	require.NoError(t, err)
	oldPath := *first.PdfPath

	second, err := h.agreement.BindPdf(ctx, a.ID, "v2.pdf", append(append([]byte{}, samplePDF...), '\n'), "operator:1")
	require.NoError(t, err)
	assert.NotEqual(t, oldPath, *second.PdfPath)
	assert.NotEqual(t, *first.PdfSHA256, *second.PdfSHA256)
	assert.False(t, h.blobs.Exists(oldPath))
	assert.True(t, h.blobs.Exists(*second.PdfPath))
}

func TestAgreementService_BindPdfRejectsInvalidFiles(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	_, err := h.agreement.BindPdf(context.Background(), a.ID, "x.pdf", nil, "operator:1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.agreement.BindPdf(context.Background(), a.ID, "x.pdf", []byte("not a pdf"), "operator:1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAgreementService_RemovePdf(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t)

	bound, err := h.agreement.BindPdf(ctx, a.ID, "contract.pdf", samplePDF, "operator:1")
	require.NoError(t, err)

	removed, err := h.agreement.RemovePdf(ctx, a.ID, "operator:1")
	require.NoError(t, err)
	assert.False(t, removed.HasPdf())
	assert.Nil(t, removed.PdfSHA256)
	assert.False(t, h.blobs.Exists(*bound.PdfPath))

	_, err = h.agreement.RemovePdf(ctx, a.ID, "operator:1")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestAgreementService_RenderPdf(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	rendered, err := h.agreement.RenderPdf(context.Background(), a.ID, "operator:1")
	require.NoError(t, err)
	assert.True(t, rendered.HasPdf())
	assert.Contains(t, h.kinds(t, a.ID), models.AuditKindPdfUploaded)
}

func TestAgreementService_Cancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.sent(t)

	cancelled, err := h.agreement.Cancel(ctx, a.ID, "cliente desistió", "operator:1")
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "cliente desistió", *cancelled.CancelReason)

	_, err = h.agreement.Cancel(ctx, a.ID, "", "operator:1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAgreementService_TerminalAgreementsAreImmutable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, token := h.sent(t)

	_, err := h.signing.Sign(ctx, token, SignInput{SignerName: "Jane Doe", IP: "10.0.0.1"})
	require.NoError(t, err)
	before := h.kinds(t, a.ID)

	_, err = h.agreement.BindPdf(ctx, a.ID, "new.pdf", samplePDF, "operator:1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = h.agreement.RemovePdf(ctx, a.ID, "operator:1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = h.agreement.Cancel(ctx, a.ID, "", "operator:1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = h.agreement.RegenerateLink(ctx, a.ID, "operator:1")
	assert.ErrorIs(t, err, ErrInvalidState)
	err = h.agreement.Delete(ctx, a.ID, "operator:1")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.agreement.Send(ctx, a.ID, "operator:1")
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, before, h.kinds(t, a.ID))
}

func TestAgreementService_RegenerateLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, oldToken := h.sent(t)

	res, err := h.agreement.RegenerateLink(ctx, a.ID, "operator:1")
	require.NoError(t, err)
	newToken := *res.Agreement.SigningToken
	assert.NotEqual(t, oldToken, newToken)

	_, err = h.signing.View(ctx, oldToken, "10.0.0.1", "test")
	assert.ErrorIs(t, err, ErrNotFound)

	view, err := h.signing.View(ctx, newToken, "10.0.0.1", "test")
	require.NoError(t, err)
	assert.Equal(t, a.ID, view.Agreement.ID)
	assert.Equal(t, []string{TemplateSigningRequest, TemplateLinkRegenerated}, h.notifier.templates())
}

func TestAgreementService_AddNote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t)

	updated, err := h.agreement.AddNote(ctx, a.ID, "llamar al cliente", true, "operator:1")
	require.NoError(t, err)
	require.Len(t, updated.Notes, 1)
	assert.True(t, updated.Notes[0].IsPrivate)

	_, err = h.agreement.AddNote(ctx, a.ID, "   ", false, "operator:1")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []models.AuditKind{models.AuditKindCreated, models.AuditKindNoteAdded}, h.kinds(t, a.ID))
}

func TestAgreementService_DeleteKeepsAuditTrail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.create(t)
	bound, err := h.agreement.BindPdf(ctx, a.ID, "contract.pdf", samplePDF, "operator:1")
	require.NoError(t, err)

	require.NoError(t, h.agreement.Delete(ctx, a.ID, "operator:1"))

	_, err = h.agreement.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, h.blobs.Exists(*bound.PdfPath))
	assert.Equal(t, []models.AuditKind{models.AuditKindCreated, models.AuditKindPdfUploaded, models.AuditKindDeleted}, h.kinds(t, a.ID))
}

func TestAgreementService_ExpireSweep(t *testing.T) {
	h := newHarness(t)
	h.config.DefaultSigningDays = 1
	ctx := context.Background()

	due, _ := h.sent(t)
	h.clock.Advance(2 * time.Hour)
	h.config.DefaultSigningDays = 30
	fresh, _ := h.sent(t)

	h.clock.Advance(24 * time.Hour)

	n, err := h.agreement.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := h.agreement.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusExpired, expired.Status)
	assert.Equal(t, models.AuditKindExpired, h.kinds(t, due.ID)[3])

	stillSent, err := h.agreement.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementStatusSent, stillSent.Status)

	// Idempotent
	n, err = h.agreement.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, h.kinds(t, due.ID), 4)
}

func TestAgreementService_ConcurrentExpireSweeps(t *testing.T) {
	h := newHarness(t)
	h.config.DefaultSigningDays = 1
	ctx := context.Background()

	const due = 6
	var ids []string
	for i := 0; i < due; i++ {
		a, _ := h.sent(t)
		ids = append(ids, a.ID)
	}
	h.clock.Advance(48 * time.Hour)

	const sweeps = 8
	counts := make([]int, sweeps)
	var g errgroup.Group
	for i := 0; i < sweeps; i++ {
		g.Go(func() error {
			n, err := h.agreement.ExpireSweep(ctx)
			counts[i] = n
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, due, total)

	for _, id := range ids {
		expired := 0
		for _, k := range h.kinds(t, id) {
			if k == models.AuditKindExpired {
				expired++
			}
		}
		assert.Equal(t, 1, expired, id)
		a, err := h.agreement.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.AgreementStatusExpired, a.Status)
	}
}

func TestAgreementService_List(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.sent(t)

	query := &repository.AgreementQuery{Status: models.AgreementStatusSent}
	items, total, err := h.agreement.List(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, models.AgreementStatusSent, items[0].Status)
}
