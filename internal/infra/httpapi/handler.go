package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"lead_email_automation/internal/app"
	"lead_email_automation/internal/domain/automation"
)

// Controller is the automation service as seen by the HTTP layer.
type Controller interface {
	InitializeAll(ctx context.Context) (app.InitializeResult, error)
	OnStageChanged(ctx context.Context, leadID int64, stage automation.Stage) (*automation.Record, error)
	OnReplyDetected(ctx context.Context, leadID int64) (*automation.Record, error)
	Pause(ctx context.Context, leadID int64, reason string) (*automation.Record, error)
	Resume(ctx context.Context, leadID int64, reason string) (*automation.Record, error)
	ProcessNow(ctx context.Context) app.SweepSummary
	Stats(ctx context.Context, recentN int) (*app.Stats, error)
	LeadSummary(ctx context.Context, leadID int64) (*app.LeadSummary, error)
	SummaryOf(ctx context.Context, rec *automation.Record) (*app.LeadSummary, error)
	EmailHistory(ctx context.Context, leadID int64, n int) ([]app.EmailLogView, error)
}

const (
	actionProcessDue    = "process_due_emails"
	actionInitializeAll = "initialize_all_automations"

	defaultRecent = 20
	maxRecent     = 200
)

type ActionRequest struct {
	Action string `json:"action" validate:"required,oneof=process_due_emails initialize_all_automations"`
}

type LeadActionRequest struct {
	LeadID int64  `json:"leadId" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"max=200"`
}

type StageChangeRequest struct {
	Stage string `json:"stage" validate:"required"`
}

// LeadDetail is a lead summary with its recent emails.
type LeadDetail struct {
	app.LeadSummary
	Emails []app.EmailLogView `json:"emails"`
}

// AutomationHandler serves the automation control endpoints.
type AutomationHandler struct {
	svc       Controller
	validator *validator.Validate
	logger    *logrus.Entry
}

func NewAutomationHandler(svc Controller, logger *logrus.Entry) *AutomationHandler {
	return &AutomationHandler{
		svc:       svc,
		validator: validator.New(),
		logger:    logger.WithField("component", "http_api"),
	}
}

// Stats handles GET /stats?recent=N.
func (h *AutomationHandler) Stats(c echo.Context) error {
	recent := defaultRecent
	if raw := c.QueryParam("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxRecent {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_recent",
				Message: fmt.Sprintf("recent must be a number between 0 and %d", maxRecent),
			})
		}
		recent = n
	}

	st, err := h.svc.Stats(c.Request().Context(), recent)
	if err != nil {
		return domainError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Action handles POST /actions.
func (h *AutomationHandler) Action(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return validationError(c, err)
	}

	ctx := c.Request().Context()
	switch req.Action {
	case actionProcessDue:
		return c.JSON(http.StatusOK, h.svc.ProcessNow(ctx))
	default:
		res, err := h.svc.InitializeAll(ctx)
		if err != nil {
			return domainError(c, h.logger, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// Resume handles POST /resume.
func (h *AutomationHandler) Resume(c echo.Context) error {
	return h.leadAction(c, h.svc.Resume)
}

// Pause handles POST /pause.
func (h *AutomationHandler) Pause(c echo.Context) error {
	return h.leadAction(c, h.svc.Pause)
}

func (h *AutomationHandler) leadAction(c echo.Context, op func(context.Context, int64, string) (*automation.Record, error)) error {
	var req LeadActionRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return validationError(c, err)
	}

	ctx := c.Request().Context()
	rec, err := op(ctx, req.LeadID, req.Reason)
	if err != nil {
		return domainError(c, h.logger, err)
	}
	return h.respondSummary(c, rec)
}

// ChangeStage handles POST /leads/:id/stage.
func (h *AutomationHandler) ChangeStage(c echo.Context) error {
	leadID, ok := leadIDParam(c)
	if !ok {
		return invalidLeadID(c)
	}
	var req StageChangeRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return validationError(c, err)
	}
	stage, err := automation.ParseStage(req.Stage)
	if err != nil {
		return domainError(c, h.logger, err)
	}

	rec, err := h.svc.OnStageChanged(c.Request().Context(), leadID, stage)
	if err != nil {
		return domainError(c, h.logger, err)
	}
	return h.respondSummary(c, rec)
}

// Reply handles POST /leads/:id/reply.
func (h *AutomationHandler) Reply(c echo.Context) error {
	leadID, ok := leadIDParam(c)
	if !ok {
		return invalidLeadID(c)
	}
	rec, err := h.svc.OnReplyDetected(c.Request().Context(), leadID)
	if err != nil {
		return domainError(c, h.logger, err)
	}
	return h.respondSummary(c, rec)
}

// Lead handles GET /leads/:id.
func (h *AutomationHandler) Lead(c echo.Context) error {
	leadID, ok := leadIDParam(c)
	if !ok {
		return invalidLeadID(c)
	}
	ctx := c.Request().Context()
	sum, err := h.svc.LeadSummary(ctx, leadID)
	if err != nil {
		return domainError(c, h.logger, err)
	}
	emails, err := h.svc.EmailHistory(ctx, leadID, defaultRecent)
	if err != nil {
		return domainError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, LeadDetail{LeadSummary: *sum, Emails: emails})
}

func (h *AutomationHandler) respondSummary(c echo.Context, rec *automation.Record) error {
	sum, err := h.svc.SummaryOf(c.Request().Context(), rec)
	if err != nil {
		return domainError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func leadIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func invalidLeadID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_id",
		Message: "Lead ID must be a positive number",
	})
}
