package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/services"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// @Summary List Audit Entries
// @Description Get a paginated list of audit entries across agreements
// @Tags Audit
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(50)
// @Param agreement_id query string false "Filter by agreement"
// @Param kind query string false "Filter by kind"
// @Param actor query string false "Filter by actor"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /audits [get]
func (h *AuditHandler) Index(c *gin.Context) {
	query := &repository.AuditQuery{ListQuery: repository.NewListQuery()}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PerPage < 1 || query.PerPage > 200 {
		query.PerPage = 50
	}
	query.AgreementID = c.Query("agreement_id")
	query.Kind = models.AuditKind(c.Query("kind"))
	query.Actor = c.Query("actor")
	for param, target := range map[string]**time.Time{"from": &query.From, "to": &query.To} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("El parámetro %s debe tener formato RFC3339", param)})
			return
		}
		*target = &t
	}

	entries, total, err := h.auditService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audits": entries, "pagination": pagination(query.Page, query.PerPage, total)})
}

// @Summary Agreement Audit Trail
// @Description Export an agreement's audit trail in timestamp order
// @Tags Audit
// @Produce json
// @Param id path string true "Agreement ID"
// @Param format query string false "json, csv or xlsx" default(json)
// @Success 200 {array} services.AuditRecord
// @Security BearerAuth
// @Router /agreements/{id}/audit [get]
func (h *AuditHandler) Trail(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var (
		data        []byte
		filename    string
		contentType string
		err         error
	)
	switch c.DefaultQuery("format", "json") {
	case "json":
		data, err = h.auditService.ExportJSON(ctx, id)
		contentType = "application/json; charset=utf-8"
	case "csv":
		data, filename, err = h.auditService.ExportCSV(ctx, id)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		data, filename, err = h.auditService.ExportXLSX(ctx, id)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formato no soportado"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if filename != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	}
	c.Data(http.StatusOK, contentType, data)
}

// @Summary Verify Audit Chain
// @Tags Audit
// @Produce json
// @Param id path string true "Agreement ID"
// @Success 200 {object} services.VerifyResult
// @Security BearerAuth
// @Router /agreements/{id}/audit/verify [get]
func (h *AuditHandler) Verify(c *gin.Context) {
	result, err := h.auditService.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Signing Certificate
// @Description Download the completion certificate of a signed agreement
// @Tags Audit
// @Produce application/pdf
// @Param id path string true "Agreement ID"
// @Success 200 {file} file "certificado.pdf"
// @Security BearerAuth
// @Router /agreements/{id}/certificate [get]
func (h *AuditHandler) Certificate(c *gin.Context) {
	data, filename, err := h.auditService.Certificate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}
