package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sjperalta/fintera-sign/internal/config"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/storage"
	"github.com/sjperalta/fintera-sign/pkg/logger"
	"github.com/stretchr/testify/require"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF")

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		out = append(out, m.Template)
	}
	return out
}

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, a *models.Agreement) ([]byte, error) {
	return append([]byte(nil), samplePDF...), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	repos     *repository.Repositories
	blobs     *storage.LocalStorage
	notifier  *recordingNotifier
	clock     *testClock
	agreement *AgreementService
	signing   *SigningService
	audit     *AuditService
	config    *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger.Setup("test")

	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		AppURL:      "https://app.example.com",
		BlobTimeout: 5 * time.Second,
	}
	repos := repository.NewMemoryRepositories()
	notifier := &recordingNotifier{}
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	agreementSvc := NewAgreementService(repos.Agreement, blobs, NewTokenIssuer(), notifier, stubRenderer{}, nil, cfg)
	agreementSvc.now = clock.Now
	signingSvc := NewSigningService(repos.Agreement, blobs, notifier, nil, cfg)
	signingSvc.now = clock.Now

	return &harness{
		repos:     repos,
		blobs:     blobs,
		notifier:  notifier,
		clock:     clock,
		agreement: agreementSvc,
		signing:   signingSvc,
		audit:     NewAuditService(repos.Audit, repos.Agreement),
		config:    cfg,
	}
}

func (h *harness) create(t *testing.T) *models.Agreement {
	t.Helper()
	a, err := h.agreement.Create(context.Background(), CreateAgreementInput{
		ClientName:  "Jane Doe",
		ClientEmail: "c@x.com",
		CompanyName: "Acme",
		Title:       "Web Dev Contract",
	}, "operator:1")
	require.NoError(t, err)
	return a
}

// sent returns a sent agreement and its signing token
func (h *harness) sent(t *testing.T) (*models.Agreement, string) {
	t.Helper()
	ctx := context.Background()
	a := h.create(t)
	_, err := h.agreement.BindPdf(ctx, a.ID, "contract.pdf", samplePDF, "operator:1")
	require.NoError(t, err)
	res, err := h.agreement.Send(ctx, a.ID, "operator:1")
	require.NoError(t, err)
	require.NotNil(t, res.Agreement.SigningToken)
	return res.Agreement, *res.Agreement.SigningToken
}

func (h *harness) kinds(t *testing.T, id string) []models.AuditKind {
	t.Helper()
	entries, err := h.repos.Audit.ListByAgreement(context.Background(), id)
	require.NoError(t, err)
	kinds := make([]models.AuditKind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
