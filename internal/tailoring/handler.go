package tailoring

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"resume-tailor/internal/credits"
	"resume-tailor/internal/ledger"
	"resume-tailor/internal/llm"
	"resume-tailor/internal/projects"
	"resume-tailor/internal/shared/server/middleware"
	"resume-tailor/internal/shared/server/respond"
	"resume-tailor/internal/shared/util"
	"resume-tailor/internal/versions"
	"resume-tailor/resume/model"
)

// Handler exposes tailoring and version endpoints.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches tailoring routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/projects/:id/tailor", h.tailor)
	rg.GET("/projects/:id/versions", h.listVersions)
	rg.PUT("/projects/:id/versions/:section", h.activate)
	rg.DELETE("/projects/:id/versions", h.reset)
}

type tailorRequest struct {
	JobDescription string   `json:"jobDescription" binding:"required"`
	Sections       []string `json:"sections"`
}

// TailorResponse is the outcome of a tailoring request.
type TailorResponse struct {
	ProjectID       string                    `json:"projectId"`
	TransactionID   string                    `json:"transactionId"`
	Charge          string                    `json:"charge"`
	BalanceAfter    string                    `json:"balanceAfter"`
	ChangedSections []string                  `json:"changedSections"`
	Outcomes        []versions.SectionOutcome `json:"outcomes,omitempty"`
	Usage           usageResponse             `json:"usage"`
	Model           string                    `json:"model,omitempty"`
	Replayed        bool                      `json:"replayed"`
	Project         projects.ProjectResponse  `json:"project"`
}

type usageResponse struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type versionsResponse struct {
	ProjectID string            `json:"projectId"`
	History   versions.History  `json:"history"`
	Pointers  versions.Pointers `json:"pointers"`
}

type activateRequest struct {
	Version *int `json:"version" binding:"required"`
}

func (h *Handler) tailor(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	projectID := c.Param("id")
	middleware.SetProjectID(c, projectID)

	var req tailorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "jobDescription is required", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}
	key, err := util.IdempotencyKey(c.GetHeader("Idempotency-Key"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
		return
	}
	sections := make([]model.Section, 0, len(req.Sections))
	for _, raw := range req.Sections {
		s, err := model.ParseSection(raw)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
			return
		}
		sections = append(sections, s)
	}

	res, err := h.Svc.Tailor(c.Request.Context(), TailorRequest{
		UserID:         userID,
		ProjectID:      projectID,
		JobDescription: req.JobDescription,
		Sections:       sections,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(c, err, "failed to tailor project")
		return
	}
	respond.OK(c, toTailorResponse(res))
}

func (h *Handler) listVersions(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	projectID := c.Param("id")
	middleware.SetProjectID(c, projectID)

	p, err := h.Svc.Projects.Get(c.Request.Context(), userID, projectID)
	if err != nil {
		writeError(c, err, "failed to fetch versions")
		return
	}
	state := p.Versions.Clone()
	respond.OK(c, versionsResponse{
		ProjectID: p.ID,
		History:   state.History,
		Pointers:  state.Pointers,
	})
}

func (h *Handler) activate(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	projectID := c.Param("id")
	middleware.SetProjectID(c, projectID)

	section, err := model.ParseSection(c.Param("section"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
		return
	}
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "version is required", nil)
		return
	}

	p, err := h.Svc.Coordinator.Activate(c.Request.Context(), userID, projectID, section, *req.Version)
	if err != nil {
		writeError(c, err, "failed to activate version")
		return
	}
	respond.OK(c, projects.ToResponse(p))
}

func (h *Handler) reset(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	projectID := c.Param("id")
	middleware.SetProjectID(c, projectID)

	p, err := h.Svc.Coordinator.Reset(c.Request.Context(), userID, projectID)
	if err != nil {
		writeError(c, err, "failed to reset versions")
		return
	}
	respond.OK(c, projects.ToResponse(p))
}

func toTailorResponse(res TailorResult) TailorResponse {
	return TailorResponse{
		ProjectID:       res.Project.ID,
		TransactionID:   res.Transaction.ID,
		Charge:          res.Charge.StringFixed(2),
		BalanceAfter:    res.BalanceAfter.StringFixed(2),
		ChangedSections: sectionNames(res.ChangedSections),
		Outcomes:        res.Outcomes,
		Usage: usageResponse{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		},
		Model:    res.Model,
		Replayed: res.Replayed,
		Project:  projects.ToResponse(res.Project),
	}
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		respond.Error(c, http.StatusPaymentRequired, respond.CodeInsufficientCredits, "not enough credits to tailor", nil)
	case errors.Is(err, ledger.ErrLockTimeout):
		c.Header("Retry-After", "1")
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeLedgerBusy, "another request is updating your credits, retry shortly", nil)
	case errors.Is(err, ledger.ErrUserNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "user not found", nil)
	case errors.Is(err, ledger.ErrProjectNotFound), errors.Is(err, projects.ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "project not found", nil)
	case errors.Is(err, ErrIdempotencyConflict):
		respond.Error(c, http.StatusConflict, respond.CodeIdempotencyConflict, "idempotency key already used for another request", nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, projects.ErrInvalidInput),
		errors.Is(err, versions.ErrVersionNotFound), errors.Is(err, model.ErrUnknownSection):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	case errors.Is(err, ErrLLMUnavailable), errors.Is(err, llm.ErrNotImplemented):
		respond.Error(c, http.StatusBadGateway, respond.CodeLLMUnavailable, "tailoring provider unavailable", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Canceled(c)
	default:
		respond.Internal(c, fallback)
	}
}
