package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/http/response"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/ctxutil"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/services"
)

type ReplayHandler struct {
	log         *logger.Logger
	replay      services.ReplayService
	checkpoints pipelinerepo.CheckpointRepo
	deadLetters pipelinerepo.DeadLetterRepo
}

func NewReplayHandler(
	log *logger.Logger,
	replay services.ReplayService,
	checkpoints pipelinerepo.CheckpointRepo,
	deadLetters pipelinerepo.DeadLetterRepo,
) *ReplayHandler {
	return &ReplayHandler{
		log:         log.With("handler", "ReplayHandler"),
		replay:      replay,
		checkpoints: checkpoints,
		deadLetters: deadLetters,
	}
}

type replayRequest struct {
	Source       string `json:"source" binding:"required"`
	AfterEventID string `json:"after_event_id"`
	Limit        int    `json:"limit"`
}

func (h *ReplayHandler) Replay(c *gin.Context) {
	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}
	if !types.KnownSource(req.Source) {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("unknown source %q", req.Source))
		return
	}

	tenantID := ctxutil.GetTenant(c.Request.Context())
	report, err := h.replay.Replay(c.Request.Context(), req.Source, tenantID, req.AfterEventID, req.Limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondAccepted(c, report)
}

func (h *ReplayHandler) Reconcile(c *gin.Context) {
	tenantID := ctxutil.GetTenant(c.Request.Context())
	report, err := h.replay.Reconcile(c.Request.Context(), tenantID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, report)
}

func (h *ReplayHandler) ListCheckpoints(c *gin.Context) {
	tenantID := ctxutil.GetTenant(c.Request.Context())
	checkpoints, err := h.checkpoints.List(c.Request.Context(), nil, tenantID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"checkpoints": checkpoints})
}

func (h *ReplayHandler) ListDeadLetters(c *gin.Context) {
	msgs, err := h.deadLetters.List(c.Request.Context(), nil, c.Query("stage"), c.Query("status"), 100)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"dead_letters": msgs})
}

func (h *ReplayHandler) ReplayDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, fmt.Errorf("invalid dead letter id"))
		return
	}
	msg, err := h.replay.ReplayDeadLetter(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondAccepted(c, msg)
}
