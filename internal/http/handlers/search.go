package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/http/response"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/ctxutil"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/services"
)

type SearchHandler struct {
	log    *logger.Logger
	search services.SearchService
}

func NewSearchHandler(log *logger.Logger, search services.SearchService) *SearchHandler {
	return &SearchHandler{
		log:    log.With("handler", "SearchHandler"),
		search: search,
	}
}

func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("missing q parameter"))
		return
	}

	topK := 10
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 50 {
			topK = parsed
		}
	}

	filters := services.SearchFilters{
		Source:  strings.TrimSpace(c.Query("source")),
		DocType: strings.TrimSpace(c.Query("doc_type")),
	}
	if filters.Source != "" && !types.KnownSource(filters.Source) {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("unknown source %q", filters.Source))
		return
	}

	tenantID := ctxutil.GetTenant(c.Request.Context())
	resp, err := h.search.Search(c.Request.Context(), tenantID, query, filters, topK)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, resp)
}
