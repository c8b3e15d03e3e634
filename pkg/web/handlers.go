// Package web provides the REST API for process flows.
package web

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/processflow/pkg/audit"
	"github.com/dukex/processflow/pkg/auth"
	"github.com/dukex/processflow/pkg/export"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService     *services.Flow
	approvalService *services.Approval
	validator       *validator.Validate
	media           export.Media
	logger          *slog.Logger
	audit           AuditReporter
}

// AuditReporter reports the most recent pass of the validation audit.
type AuditReporter interface {
	LastRun() (audit.Result, time.Time)
}

func NewAPIHandlers(
	flowService *services.Flow,
	approvalService *services.Approval,
	validator *validator.Validate,
	media export.Media,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		flowService:     flowService,
		approvalService: approvalService,
		validator:       validator,
		media:           media,
		logger:          logger.With("module", "web"),
	}
}

// WithAudit adds the validation audit to the health report.
func (h *APIHandlers) WithAudit(reporter AuditReporter) *APIHandlers {
	h.audit = reporter

	return h
}

// Register mounts the flow routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	f := router.Group("/flows")

	f.Get("/", RequireRole(auth.RoleViewer), h.GetFlows)
	f.Post("/", RequireRole(auth.RoleEditor), h.CreateFlow)
	f.Get("/:id", RequireRole(auth.RoleViewer), h.GetFlow)
	f.Put("/:id", RequireRole(auth.RoleEditor), h.SaveFlow)
	f.Delete("/:id", RequireRole(auth.RoleEditor), h.DeleteFlow)
	f.Put("/:id/approval", RequireRole(auth.RoleViewer), h.RequestApproval)
	f.Get("/:id/validation", RequireRole(auth.RoleViewer), h.GetValidation)
	f.Get("/:id/export/:kind", RequireRole(auth.RoleViewer), h.ExportFlow)
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	req, err := parseListFlowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.flowService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":         result.Flows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListFlowsRequest parses query parameters for listing flows.
func parseListFlowsRequest(c fiber.Ctx) (*services.ListFlowsRequest, error) {
	req := &services.ListFlowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ApprovalStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func flowID(c fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id, ok := flowID(c)
	if !ok {
		return badRequest(c, "Flow ID must be a positive integer")
	}

	flow, err := h.flowService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.Flow{
		Name:            req.Name,
		Nodes:           req.Nodes,
		Edges:           req.Edges,
		SummaryVideoRef: req.SummaryVideoRef,
		Acyclic:         req.Acyclic,
	}

	created, err := h.flowService.Create(c.Context(), flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	id, ok := flowID(c)
	if !ok {
		return badRequest(c, "Flow ID must be a positive integer")
	}

	var req SaveFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.flowService.Save(c.Context(), id, services.SaveRequest{
		Nodes:           req.Nodes,
		Edges:           req.Edges,
		ExpectedVersion: req.ExpectedVersion,
		Origin:          req.Origin,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SaveFlowResponse{
		Version:        saved.Version,
		ApprovalStatus: saved.ApprovalStatus,
	})
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	id, ok := flowID(c)
	if !ok {
		return badRequest(c, "Flow ID must be a positive integer")
	}

	err := h.flowService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) RequestApproval(c fiber.Ctx) error {
	id, ok := flowID(c)
	if !ok {
		return badRequest(c, "Flow ID must be a positive integer")
	}

	var req ApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.approvalService.RequestApproval(c.Context(), id, req.Status, principalFrom(c), req.Origin)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ApprovalResponse{
		Status:  flow.ApprovalStatus,
		Version: flow.Version,
	})
}

func (h *APIHandlers) GetValidation(c fiber.Ctx) error {
	id, ok := flowID(c)
	if !ok {
		return badRequest(c, "Flow ID must be a positive integer")
	}

	flow, report, err := h.flowService.Validate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ValidationResponse{
		FlowID:  flow.ID,
		Version: flow.Version,
		Valid:   report.Valid(),
		Defects: report,
	})
}

func (h *APIHandlers) ExportFlow(c fiber.Ctx) error {
	id, ok := flowID(c)
	if !ok {
		return badRequest(c, "Flow ID must be a positive integer")
	}

	kind, err := export.ParseKind(c.Params("kind"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var buf bytes.Buffer

	flow, err := h.flowService.Export(c.Context(), id, kind, h.media, &buf)
	if errors.Is(err, export.ErrExportFailed) {
		h.logger.ErrorContext(c.Context(), "Export failed", "flow_id", id, "kind", kind, "error", err)

		return internalError(c, err)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	c.Attachment(kind.Filename(flow))
	c.Set(fiber.HeaderContentType, kind.ContentType())

	return c.Send(buf.Bytes())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Process flow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Process flow API is healthy"
		httpStatus = http.StatusOK
	}

	checkers := fiber.Map{
		"repository": repositoryCheck,
	}

	if h.audit != nil {
		result, at := h.audit.LastRun()

		pass := fiber.Map{"last_run": nil, "checked": result.Checked, "defective": result.Defective}
		if !at.IsZero() {
			pass["last_run"] = at
		}

		checkers["audit"] = pass
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"checkers":  checkers,
		"timestamp": time.Now().UTC(),
	})
}
