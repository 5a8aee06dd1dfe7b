package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/SebastiaanKlippert/go-wkhtmltopdf"
	"github.com/jung-kurt/gofpdf"
	"github.com/sjperalta/fintera-sign/internal/config"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/pkg/logger"
)

//go:embed templates/documents/*.html
var documentTemplates embed.FS

// DocumentRenderer turns an agreement into PDF bytes
type DocumentRenderer interface {
	Render(ctx context.Context, a *models.Agreement) ([]byte, error)
}

type documentData struct {
	ID                string
	Title             string
	Description       string
	ContractRef       string
	CompanyName       string
	CompanySignerName string
	ClientName        string
	ClientCompany     string
	ClientEmail       string
	ExpiresAt         string
	Date              string
}

// RenderService renders agreements with wkhtmltopdf when available and
// falls back to a plain gofpdf layout otherwise.
type RenderService struct {
	useWkhtmltopdf bool
	now            func() time.Time
}

func NewRenderService(cfg *config.Config) *RenderService {
	return &RenderService{useWkhtmltopdf: cfg.WkhtmltopdfEnabled, now: defaultNow}
}

func (s *RenderService) data(a *models.Agreement) documentData {
	d := documentData{
		ID:                a.ID,
		Title:             a.Title,
		Description:       a.Description,
		CompanyName:       a.CompanyName,
		CompanySignerName: a.CompanySignerName,
		ClientName:        a.ClientName,
		ClientEmail:       a.ClientEmail,
		Date:              s.now().Format("02/01/2006"),
	}
	if a.ContractRef != nil {
		d.ContractRef = *a.ContractRef
	}
	if a.ClientCompany != nil {
		d.ClientCompany = *a.ClientCompany
	}
	if a.ExpiresAt != nil {
		d.ExpiresAt = a.ExpiresAt.UTC().Format("02/01/2006 15:04 MST")
	}
	return d
}

// RenderHTML executes the document template
func (s *RenderService) RenderHTML(a *models.Agreement) ([]byte, error) {
	tmpl, err := template.ParseFS(documentTemplates, "templates/documents/agreement.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, s.data(a)); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *RenderService) Render(ctx context.Context, a *models.Agreement) ([]byte, error) {
	if s.useWkhtmltopdf {
		data, err := s.renderWkhtmltopdf(ctx, a)
		if err == nil {
			return data, nil
		}
		logger.Warn("wkhtmltopdf failed, using fallback renderer", "agreement_id", a.ID, "error", err)
	}
	return s.renderFallback(a)
}

func (s *RenderService) renderWkhtmltopdf(ctx context.Context, a *models.Agreement) ([]byte, error) {
	html, err := s.RenderHTML(a)
	if err != nil {
		return nil, err
	}

	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf generator: %w", err)
	}
	pdfg.Dpi.Set(300)
	pdfg.Orientation.Set(wkhtmltopdf.OrientationPortrait)
	pdfg.Grayscale.Set(false)

	page := wkhtmltopdf.NewPageReader(bytes.NewReader(html))
	pdfg.AddPage(page)

	if err := pdfg.CreateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to create pdf: %w", err)
	}
	return pdfg.Bytes(), nil
}

func (s *RenderService) renderFallback(a *models.Agreement) ([]byte, error) {
	d := s.data(a)

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.MultiCell(0, 9, tr(d.Title), "", "L", false)
	pdf.SetFont("Arial", "", 8)
	ref := fmt.Sprintf("Documento %s - %s", d.ID, d.Date)
	if d.ContractRef != "" {
		ref += " - Contrato " + d.ContractRef
	}
	pdf.Cell(0, 6, tr(ref))
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	row := func(label, value string) {
		if value == "" {
			return
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(40, 7, tr(label))
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 7, tr(value), "", "L", false)
	}
	row("Empresa:", d.CompanyName)
	row("Representante:", d.CompanySignerName)
	client := d.ClientName
	if d.ClientCompany != "" {
		client += " (" + d.ClientCompany + ")"
	}
	row("Cliente:", client)
	row("Correo:", d.ClientEmail)
	row("Firmar antes de:", d.ExpiresAt)
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 6, tr(d.Description), "", "J", false)
	pdf.Ln(30)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(85, 6, tr(d.CompanySignerName), "T", 0, "C", false, 0, "")
	pdf.Cell(10, 6, "")
	pdf.CellFormat(85, 6, tr(d.ClientName), "T", 1, "C", false, 0, "")

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
