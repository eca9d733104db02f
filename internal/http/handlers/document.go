package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	"github.com/hivemindhq/hivemind-backend/internal/http/response"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/ctxutil"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/services"
)

type DocumentHandler struct {
	log       *logger.Logger
	documents docsrepo.DocumentRepo
	replay    services.ReplayService
}

func NewDocumentHandler(log *logger.Logger, documents docsrepo.DocumentRepo, replay services.ReplayService) *DocumentHandler {
	return &DocumentHandler{
		log:       log.With("handler", "DocumentHandler"),
		documents: documents,
		replay:    replay,
	}
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("invalid document id"))
		return
	}

	doc, err := h.documents.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if doc.TenantID != ctxutil.GetTenant(c.Request.Context()) {
		response.RespondServiceError(c, gorm.ErrRecordNotFound)
		return
	}
	response.RespondOK(c, doc)
}

// Reclassify queues the document for a fresh embed and classification pass.
func (h *DocumentHandler) Reclassify(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("invalid document id"))
		return
	}

	tenantID := ctxutil.GetTenant(c.Request.Context())
	if err := h.replay.Reclassify(c.Request.Context(), tenantID, id); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"doc_id": id, "status": "queued"})
}
