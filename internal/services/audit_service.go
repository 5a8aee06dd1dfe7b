package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/xuri/excelize/v2"
)

const auditTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// AuditRecord is the compliance export format of one audit entry
type AuditRecord struct {
	Kind      models.AuditKind `json:"kind"`
	Timestamp string           `json:"timestamp"`
	Actor     string           `json:"actor"`
	Metadata  map[string]any   `json:"metadata"`
}

// VerifyResult reports whether an agreement's audit chain is intact
type VerifyResult struct {
	AgreementID string             `json:"agreement_id"`
	Valid       bool               `json:"valid"`
	Entries     int                `json:"entries"`
	HeadHash    string             `json:"head_hash"`
	Break       *models.ChainBreak `json:"break,omitempty"`
}

// AuditService reads, exports and verifies audit trails
type AuditService struct {
	repo       repository.AuditRepository
	agreements repository.AgreementRepository
}

func NewAuditService(repo repository.AuditRepository, agreements repository.AgreementRepository) *AuditService {
	return &AuditService{repo: repo, agreements: agreements}
}

// Trail returns an agreement's entries in sequence order. The trail outlives
// the agreement, so deleted agreements still resolve.
func (s *AuditService) Trail(ctx context.Context, agreementID string) ([]models.AuditEntry, error) {
	entries, err := s.repo.ListByAgreement(ctx, agreementID)
	if err != nil {
		return nil, translateError(err)
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// List returns audit entries across agreements, newest first
func (s *AuditService) List(ctx context.Context, query *repository.AuditQuery) ([]models.AuditEntry, int64, error) {
	if query.ListQuery == nil {
		query.ListQuery = repository.NewListQuery()
	}
	return s.repo.List(ctx, query)
}

// Records converts entries into their export representation
func Records(entries []models.AuditEntry) []AuditRecord {
	records := make([]AuditRecord, 0, len(entries))
	for _, e := range entries {
		metadata := map[string]any(e.Metadata)
		if metadata == nil {
			metadata = map[string]any{}
		}
		records = append(records, AuditRecord{
			Kind:      e.Kind,
			Timestamp: e.Timestamp.UTC().Format(auditTimeLayout),
			Actor:     e.Actor,
			Metadata:  metadata,
		})
	}
	return records
}

// ExportJSON renders the trail as a JSON array. The output is deterministic
// for a given trail.
func (s *AuditService) ExportJSON(ctx context.Context, agreementID string) ([]byte, error) {
	entries, err := s.Trail(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(Records(entries), "", "  ")
}

// ExportCSV renders the trail as CSV with metadata as a JSON column
func (s *AuditService) ExportCSV(ctx context.Context, agreementID string) ([]byte, string, error) {
	entries, err := s.Trail(ctx, agreementID)
	if err != nil {
		return nil, "", err
	}

	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	if err := w.Write([]string{"seq", "kind", "timestamp", "actor", "metadata", "hash"}); err != nil {
		return nil, "", err
	}
	for i, r := range Records(entries) {
		metadata, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, "", err
		}
		record := []string{
			fmt.Sprintf("%d", entries[i].Seq),
			string(r.Kind),
			r.Timestamp,
			r.Actor,
			string(metadata),
			entries[i].Hash,
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), fmt.Sprintf("audit_%s.csv", agreementID), nil
}

// ExportXLSX renders the trail as a spreadsheet
func (s *AuditService) ExportXLSX(ctx context.Context, agreementID string) ([]byte, string, error) {
	entries, err := s.Trail(ctx, agreementID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Auditoria"
	_ = f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	headers := []string{"Secuencia", "Evento", "Fecha", "Actor", "Detalles", "Hash"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetCellStyle(sheet, "A1", "F1", headerStyle)

	for i, r := range Records(entries) {
		row := i + 2
		metadata, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, "", err
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entries[i].Seq)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), string(r.Kind))
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), r.Timestamp)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), r.Actor)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), string(metadata))
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), entries[i].Hash)
	}
	_ = f.SetColWidth(sheet, "C", "C", 30)
	_ = f.SetColWidth(sheet, "E", "E", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("audit_%s.xlsx", agreementID), nil
}

// Verify recomputes the hash chain of an agreement's trail
func (s *AuditService) Verify(ctx context.Context, agreementID string) (*VerifyResult, error) {
	entries, err := s.Trail(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	result := &VerifyResult{
		AgreementID: agreementID,
		Entries:     len(entries),
		HeadHash:    entries[len(entries)-1].Hash,
	}
	result.Break = models.VerifyChain(entries)
	result.Valid = result.Break == nil
	return result, nil
}

// Certificate renders a completion certificate for a signed agreement
func (s *AuditService) Certificate(ctx context.Context, agreementID string) ([]byte, string, error) {
	a, err := s.agreements.FindByID(ctx, agreementID)
	if err != nil {
		return nil, "", translateError(err)
	}
	if a.Status != models.AgreementStatusSigned || a.Signature == nil {
		return nil, "", preconditionError("el acuerdo no está firmado")
	}
	verification, err := s.Verify(ctx, agreementID)
	if err != nil {
		return nil, "", err
	}
	entries, err := s.Trail(ctx, agreementID)
	if err != nil {
		return nil, "", err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, tr("Certificado de Firma"))
	pdf.Ln(14)

	field := func(label, value string) {
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(50, 7, tr(label))
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 7, tr(value), "", "L", false)
	}

	field("Documento:", a.Title)
	field("ID:", a.ID)
	field("Cliente:", fmt.Sprintf("%s <%s>", a.ClientName, a.ClientEmail))
	if a.CompanyName != "" {
		field("Empresa:", a.CompanyName)
	}
	field("Firmado por:", a.Signature.SignerName)
	field("Fecha de firma:", a.Signature.SignedAt.UTC().Format(time.RFC3339))
	field("IP:", a.Signature.IP)
	if a.PdfSHA256 != nil {
		field("SHA-256 del documento:", *a.PdfSHA256)
	}
	status := "íntegra"
	if !verification.Valid {
		status = fmt.Sprintf("alterada en la secuencia %d", verification.Break.Seq)
	}
	field("Cadena de auditoría:", status)
	field("Hash final:", verification.HeadHash)
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, tr("Historial"))
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 9)
	for _, r := range Records(entries) {
		line := fmt.Sprintf("%s  %-18s %s", r.Timestamp, r.Kind, r.Actor)
		pdf.MultiCell(0, 5, tr(strings.TrimSpace(line)), "", "L", false)
	}

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("certificado_%s.pdf", a.ID), nil
}
