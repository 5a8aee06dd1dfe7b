package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign/internal/middleware"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/services"
	"github.com/sjperalta/fintera-sign/internal/storage"
)

type AgreementHandler struct {
	agreementService *services.AgreementService
}

func NewAgreementHandler(agreementService *services.AgreementService) *AgreementHandler {
	return &AgreementHandler{agreementService: agreementService}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type noteRequest struct {
	Content   string `json:"content"`
	IsPrivate bool   `json:"is_private"`
}

func sendResponse(res *services.SendResult) gin.H {
	body := gin.H{
		"agreement":    res.Agreement.ToResponse(),
		"signUrl":      res.SignURL,
		"sign_url":     res.SignURL,
		"already_sent": res.AlreadySent,
	}
	if res.DeliveryErr != nil {
		body["warning"] = res.DeliveryErr.Error()
	}
	return body
}

// @Summary List Agreements
// @Description Get a paginated list of agreements
// @Tags Agreements
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param search_term query string false "Search in title, client name and email"
// @Param status query string false "Filter by status"
// @Param contract_ref query string false "Filter by external contract reference"
// @Param sort_by query string false "Sort column"
// @Param sort_dir query string false "asc or desc"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /agreements [get]
func (h *AgreementHandler) Index(c *gin.Context) {
	query := &repository.AgreementQuery{ListQuery: repository.NewListQuery()}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PerPage < 1 || query.PerPage > 100 {
		query.PerPage = 20
	}
	query.Search = c.Query("search_term")
	query.SortBy = c.Query("sort_by")
	query.SortDir = c.Query("sort_dir")
	query.ContractRef = c.Query("contract_ref")
	if email := c.Query("client_email"); email != "" {
		query.Filters["client_email"] = strings.ToLower(email)
	}
	for _, param := range []string{"start_date", "end_date"} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		if _, err := repository.ParseDateFilter(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("El parámetro %s debe ser una fecha válida", param), "field": param})
			return
		}
		query.Filters[param] = raw
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseAgreementStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Estado inválido"})
			return
		}
		query.Status = status
	}

	agreements, total, err := h.agreementService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]models.AgreementResponse, 0, len(agreements))
	for i := range agreements {
		responses = append(responses, agreements[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"agreements": responses,
		"pagination": pagination(query.Page, query.PerPage, total),
	})
}

// @Summary Get Agreement
// @Tags Agreements
// @Produce json
// @Param id path string true "Agreement ID"
// @Success 200 {object} models.AgreementResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /agreements/{id} [get]
func (h *AgreementHandler) Show(c *gin.Context) {
	agreement, err := h.agreementService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement.ToResponse()})
}

// @Summary Create Agreement
// @Description Create a draft agreement. Accepts {"agreement": {...}} or a flat body.
// @Tags Agreements
// @Accept json
// @Produce json
// @Param agreement body services.CreateAgreementInput true "Agreement fields"
// @Success 201 {object} models.AgreementResponse
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /agreements [post]
func (h *AgreementHandler) Create(c *gin.Context) {
	var input services.CreateAgreementInput
	if err := BindNestedOrFlat(c, "agreement", &input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos: " + err.Error()})
		return
	}

	agreement, err := h.agreementService.Create(c.Request.Context(), input, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agreement": agreement.ToResponse()})
}

// @Summary Upload Agreement PDF
// @Description Bind a PDF document to a draft or sent agreement
// @Tags Agreements
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Agreement ID"
// @Param file formData file true "PDF document"
// @Success 200 {object} models.AgreementResponse
// @Security BearerAuth
// @Router /agreements/{id}/upload [post]
func (h *AgreementHandler) UploadPdf(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "El archivo es requerido"})
		return
	}
	defer file.Close()

	if !storage.IsValidContentType(header.Header.Get("Content-Type")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "El archivo debe ser un PDF", "field": "file"})
		return
	}
	if header.Size > storage.MaxFileSize() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "El archivo excede el tamaño máximo de 10MB"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, storage.MaxFileSize()+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No se pudo leer el archivo"})
		return
	}

	agreement, err := h.agreementService.BindPdf(c.Request.Context(), c.Param("id"), header.Filename, data, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement.ToResponse()})
}

// @Summary Remove Agreement PDF
// @Tags Agreements
// @Produce json
// @Param id path string true "Agreement ID"
// @Success 200 {object} models.AgreementResponse
// @Security BearerAuth
// @Router /agreements/{id}/upload [delete]
func (h *AgreementHandler) RemovePdf(c *gin.Context) {
	agreement, err := h.agreementService.RemovePdf(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement.ToResponse()})
}

// @Summary Generate Agreement PDF
// @Description Render a PDF from the agreement fields and bind it
// @Tags Agreements
// @Produce json
// @Param id path string true "Agreement ID"
// @Success 200 {object} models.AgreementResponse
// @Security BearerAuth
// @Router /agreements/{id}/generate [post]
func (h *AgreementHandler) Generate(c *gin.Context) {
	agreement, err := h.agreementService.RenderPdf(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement.ToResponse()})
}

// @Summary Send Agreement
// @Description Issue the signing link and notify the client. Repeated calls return the same link.
// @Tags Agreements
// @Produce json
// @Param id path string true "Agreement ID"
// @Success 200 {object} map[string]interface{}
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /agreements/{id}/send [post]
func (h *AgreementHandler) Send(c *gin.Context) {
	res, err := h.agreementService.Send(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sendResponse(res))
}

// @Summary Regenerate Signing Link
// @Description Replace the signing token; the previous link stops working
// @Tags Agreements
// @Produce json
// @Param id path string true "Agreement ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /agreements/{id}/regenerate_link [post]
func (h *AgreementHandler) RegenerateLink(c *gin.Context) {
	res, err := h.agreementService.RegenerateLink(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sendResponse(res))
}

// @Summary Cancel Agreement
// @Tags Agreements
// @Accept json
// @Produce json
// @Param id path string true "Agreement ID"
// @Param request body cancelRequest false "Cancellation reason"
// @Success 200 {object} models.AgreementResponse
// @Security BearerAuth
// @Router /agreements/{id}/cancel [post]
func (h *AgreementHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := BindNestedOrFlat(c, "agreement", &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos"})
			return
		}
	}

	agreement, err := h.agreementService.Cancel(c.Request.Context(), c.Param("id"), req.Reason, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": agreement.ToResponse()})
}

// @Summary Add Note
// @Tags Agreements
// @Accept json
// @Produce json
// @Param id path string true "Agreement ID"
// @Param request body noteRequest true "Note"
// @Success 201 {object} models.AgreementResponse
// @Security BearerAuth
// @Router /agreements/{id}/notes [post]
func (h *AgreementHandler) AddNote(c *gin.Context) {
	var req noteRequest
	if err := BindNestedOrFlat(c, "note", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos"})
		return
	}

	agreement, err := h.agreementService.AddNote(c.Request.Context(), c.Param("id"), req.Content, req.IsPrivate, middleware.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agreement": agreement.ToResponse()})
}

// @Summary Delete Agreement
// @Description Delete an unsigned agreement. Its audit trail is kept.
// @Tags Agreements
// @Param id path string true "Agreement ID"
// @Success 200 {object} map[string]string
// @Security BearerAuth
// @Router /agreements/{id} [delete]
func (h *AgreementHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.agreementService.Delete(c.Request.Context(), id, middleware.Actor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Acuerdo %s eliminado", id)})
}
