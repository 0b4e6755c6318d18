package handler

import (
	"net/http"
	"strconv"

	"tradedispatch_backend/internal/dispatch/domain"
	"tradedispatch_backend/internal/dispatch/engine"
	"tradedispatch_backend/internal/dispatch/service"
	"tradedispatch_backend/internal/dispatch/transport"
	"tradedispatch_backend/platform/httpkit"
	"tradedispatch_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc    *service.Service
	engine *engine.Engine
	val    *validator.Validator
}

func New(svc *service.Service, eng *engine.Engine, val *validator.Validator) *Handler {
	return &Handler{svc: svc, engine: eng, val: val}
}

// RegisterJobRoutes mounts the job-facing routes.
func (h *Handler) RegisterJobRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.CreateJob)
	rg.GET("", httpkit.RequireRole(httpkit.RoleOperator), h.ListQueue)
	rg.GET("/:id", h.GetJob)
	rg.GET("/:id/attempts", h.ListAttempts)
	rg.POST("/:id/dispatch", httpkit.RequireRole(httpkit.RoleOperator), h.StartDispatch)
	rg.POST("/:id/cancel", h.CancelJob)
	rg.POST("/:id/override", httpkit.RequireRole(httpkit.RoleOperator), h.Override)
}

// RegisterAttemptRoutes mounts the professional-facing routes.
func (h *Handler) RegisterAttemptRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/respond", httpkit.RequireRole(httpkit.RoleProfessional), h.Respond)
}

func (h *Handler) CreateJob(c *gin.Context) {
	var req transport.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	job, err := h.svc.Create(c.Request.Context(), service.CreateJobInput{
		ServiceCategory: req.ServiceCategory,
		Urgency:         domain.UrgencyTier(req.Urgency),
		Lat:             req.Lat,
		Lng:             req.Lng,
		Address:         req.Address,
		RegionID:        req.RegionID,
		OrganizationID:  req.OrganizationID,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.ToJobResponse(job))
}

func (h *Handler) ListQueue(c *gin.Context) {
	var filter service.QueueFilter
	if raw := c.Query("status"); raw != "" {
		status := domain.JobStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("escalated"); raw != "" {
		escalated, err := strconv.ParseBool(raw)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		filter.Escalated = &escalated
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, err := h.svc.ListQueue(c.Request.Context(), filter)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToJobResponses(jobs))
}

func (h *Handler) GetJob(c *gin.Context) {
	jobID, ok := parseID(c)
	if !ok {
		return
	}
	job, err := h.engine.GetJob(c.Request.Context(), jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToJobResponse(job))
}

func (h *Handler) ListAttempts(c *gin.Context) {
	jobID, ok := parseID(c)
	if !ok {
		return
	}
	attempts, err := h.engine.ListAttempts(c.Request.Context(), jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToAttemptResponses(attempts))
}

func (h *Handler) StartDispatch(c *gin.Context) {
	jobID, ok := parseID(c)
	if !ok {
		return
	}
	job, err := h.engine.StartDispatch(c.Request.Context(), jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToJobResponse(job))
}

func (h *Handler) CancelJob(c *gin.Context) {
	jobID, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	job, err := h.engine.Cancel(c.Request.Context(), jobID, req.Reason)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToJobResponse(job))
}

func (h *Handler) Override(c *gin.Context) {
	jobID, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	action, err := engine.ParseOverrideAction(req.Action)
	if httpkit.HandleError(c, err) {
		return
	}

	job, err := h.engine.OverrideEscalation(c.Request.Context(), jobID, action, req.Note, req.ExpectedVersion)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToJobResponse(job))
}

func (h *Handler) Respond(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.MustGetIdentity(c)
	job, err := h.engine.RecordResponse(c.Request.Context(), attemptID, identity.UserID(), req.Action == "ACCEPT", req.Reason)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToJobResponse(job))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}
