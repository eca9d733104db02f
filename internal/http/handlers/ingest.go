package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hivemindhq/hivemind-backend/internal/http/response"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/ctxutil"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/services"
)

type IngestHandler struct {
	log    *logger.Logger
	ingest services.IngestService
}

func NewIngestHandler(log *logger.Logger, ingest services.IngestService) *IngestHandler {
	return &IngestHandler{
		log:    log.With("handler", "IngestHandler"),
		ingest: ingest,
	}
}

// Ingest accepts one webhook delivery. The delivery id comes from the
// X-Delivery-Id header (or delivery_id query for sources that cannot set
// headers); a missing id is a bad request, not a silent dedup bypass.
func (h *IngestHandler) Ingest(c *gin.Context) {
	source := c.Param("source")
	tenantID := ctxutil.GetTenant(c.Request.Context())

	deliveryID := strings.TrimSpace(c.GetHeader("X-Delivery-Id"))
	if deliveryID == "" {
		deliveryID = strings.TrimSpace(c.Query("delivery_id"))
	}
	if deliveryID == "" {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("missing delivery id"))
		return
	}

	payload, err := c.GetRawData()
	if err != nil || len(payload) == 0 {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("empty payload"))
		return
	}

	result, err := h.ingest.Accept(c.Request.Context(), source, deliveryID, tenantID, payload)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if result.Duplicate {
		response.RespondOK(c, result)
		return
	}
	response.RespondAccepted(c, result)
}
