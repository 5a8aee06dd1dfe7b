package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign/internal/services"
)

// SigningHandler serves the token-authenticated signer routes. Responses only
// ever carry the signer view of the agreement the token resolves to.
type SigningHandler struct {
	signingService *services.SigningService
}

func NewSigningHandler(signingService *services.SigningService) *SigningHandler {
	return &SigningHandler{signingService: signingService}
}

// signRequest accepts both signerName and the snake_case signer_name.
type signRequest struct {
	SignerName      string `json:"signerName"`
	SignerNameSnake string `json:"signer_name"`
}

func (r signRequest) name() string {
	if r.SignerName != "" {
		return r.SignerName
	}
	return r.SignerNameSnake
}

// @Summary View Agreement
// @Description Resolve a signing link and record a view
// @Tags Signing
// @Produce json
// @Param token path string true "Signing token"
// @Success 200 {object} models.SignerView
// @Failure 404 {object} map[string]string
// @Router /sign/{token} [get]
func (h *SigningHandler) Show(c *gin.Context) {
	res, err := h.signingService.View(c.Request.Context(), c.Param("token"), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": res.View})
}

// @Summary Sign Agreement
// @Description Record the signature. IP and user agent are taken from the request.
// @Tags Signing
// @Accept json
// @Produce json
// @Param token path string true "Signing token"
// @Param request body signRequest true "Signer"
// @Success 200 {object} models.SignerView
// @Failure 409 {object} map[string]string
// @Failure 410 {object} map[string]string
// @Router /sign/{token} [post]
func (h *SigningHandler) Sign(c *gin.Context) {
	var req signRequest
	if err := BindNestedOrFlat(c, "signature", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos"})
		return
	}

	res, err := h.signingService.Sign(c.Request.Context(), c.Param("token"), services.SignInput{
		SignerName: req.name(),
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreement": res.View, "already_signed": res.AlreadySigned})
}

// @Summary Download Document
// @Tags Signing
// @Produce application/pdf
// @Param token path string true "Signing token"
// @Success 200 {file} file "document.pdf"
// @Router /sign/{token}/document [get]
func (h *SigningHandler) Document(c *gin.Context) {
	agreement, data, err := h.signingService.Document(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=acuerdo_%s.pdf", agreement.ID))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", data)
}
