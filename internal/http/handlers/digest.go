package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	memoryrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/memory"
	"github.com/hivemindhq/hivemind-backend/internal/http/response"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/ctxutil"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type DigestHandler struct {
	log     *logger.Logger
	digests memoryrepo.DigestRepo
}

func NewDigestHandler(log *logger.Logger, digests memoryrepo.DigestRepo) *DigestHandler {
	return &DigestHandler{
		log:     log.With("handler", "DigestHandler"),
		digests: digests,
	}
}

func (h *DigestHandler) ListDigests(c *gin.Context) {
	tenantID := ctxutil.GetTenant(c.Request.Context())

	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("invalid since timestamp"))
			return
		}
		since = parsed
	}

	digests, err := h.digests.ListByTenantUpdatedSince(c.Request.Context(), nil, tenantID, since, 100)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"digests": digests})
}

func (h *DigestHandler) GetDigest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("invalid digest id"))
		return
	}

	digest, err := h.digests.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if digest.TenantID != ctxutil.GetTenant(c.Request.Context()) {
		response.RespondServiceError(c, gorm.ErrRecordNotFound)
		return
	}
	response.RespondOK(c, digest)
}
