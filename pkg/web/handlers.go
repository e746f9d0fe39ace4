// Package web provides HTTP handlers and REST API endpoints for the runtime.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/queue"
	"github.com/ordino-dev/ordino/pkg/services"
)

type APIHandlers struct {
	scheduleService *services.Schedule
	workflowService *services.Workflow
	runService      *services.Run
	approvalService *services.Approval
	queue           *queue.Queue
	persistence     persistence.Persistence
	validator       *validator.Validate
}

func NewAPIHandlers(
	scheduleService *services.Schedule,
	workflowService *services.Workflow,
	runService *services.Run,
	approvalService *services.Approval,
	workQueue *queue.Queue,
	persist persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		scheduleService: scheduleService,
		workflowService: workflowService,
		runService:      runService,
		approvalService: approvalService,
		queue:           workQueue,
		persistence:     persist,
		validator:       validator,
	}
}

// Register mounts every API route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Post("/schedules", h.CreateSchedule)
	app.Get("/schedules", h.GetSchedules)
	app.Get("/schedules/:id", h.GetSchedule)
	app.Patch("/schedules/:id", h.UpdateSchedule)

	app.Post("/workflows", h.PublishWorkflow)
	app.Get("/workflows", h.GetWorkflows)
	app.Get("/workflows/:id", h.GetWorkflow)

	app.Post("/runs", h.TriggerRun)
	app.Get("/runs", h.GetRuns)
	app.Get("/runs/:id", h.GetRun)
	app.Post("/runs/:id/cancel", h.CancelRun)

	app.Post("/work-items", h.EnqueueWorkItem)
	app.Get("/work-items", h.GetWorkItems)
	app.Post("/work-items/claim", h.ClaimWorkItem)
	app.Post("/work-items/:id/ack", h.AckWorkItem)

	app.Get("/approvals", h.GetApprovals)
	app.Post("/approvals/:id/decide", h.DecideApproval)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var req CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	schedule := &models.Schedule{
		ID:         req.ID,
		WorkflowID: req.WorkflowID,
		Version:    req.Version,
		Enabled:    req.Enabled,
		Policy:     req.Policy,
	}

	created, err := h.scheduleService.Create(c.Context(), schedule)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetSchedules(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return badRequest(c, "Invalid limit parameter")
	}

	schedules, cursor, err := h.scheduleService.List(c.Context(), c.Query("workflow_id"), limit, c.Query("cursor"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"schedules":   schedules,
		"next_cursor": cursor,
	})
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	schedule, err := h.scheduleService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	triggers, err := h.scheduleService.TriggerHistory(c.Context(), id, 20)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ScheduleDetailResponse{Schedule: schedule, Triggers: triggers})
}

func (h *APIHandlers) UpdateSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	var req UpdateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.scheduleService.Update(c.Context(), id, services.UpdateScheduleRequest{
		Enabled: req.Enabled,
		Policy:  req.Policy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	var req PublishWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		WorkflowID: req.WorkflowID,
		Version:    req.Version,
		DAG:        req.DAG,
		Metadata:   req.Metadata,
	}

	published, err := h.workflowService.Publish(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(published)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if versionStr := c.Query("version"); versionStr != "" {
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return badRequest(c, "Invalid version parameter")
		}

		workflow, err := h.workflowService.FetchByVersion(c.Context(), id, version)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(workflow)
	}

	workflow, err := h.workflowService.FetchLatest(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) TriggerRun(c fiber.Ctx) error {
	var req TriggerRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.runService.Trigger(c.Context(), req.WorkflowID, req.ConfigSnapshot)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return badRequest(c, "Invalid limit parameter")
	}

	runs, cursor, err := h.runService.List(c.Context(), c.Query("workflow_id"), limit, c.Query("cursor"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"next_cursor": cursor,
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	detail, err := h.runService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.Cancel(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) EnqueueWorkItem(c fiber.Ctx) error {
	var req EnqueueWorkItemRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	item, err := h.queue.Enqueue(c.Context(), req.TaskID, req.Priority, req.Payload, req.IdempotencyKey)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

func (h *APIHandlers) GetWorkItems(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return badRequest(c, "Invalid limit parameter")
	}

	items, err := h.persistence.ListWorkItems(c.Context(), models.WorkItemStatus(c.Query("status")), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"work_items": items})
}

func (h *APIHandlers) ClaimWorkItem(c fiber.Ctx) error {
	var req ClaimWorkItemRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	item, err := h.queue.Claim(c.Context(), req.AgentID, req.MaxPriority, req.LeaseTTLSec)
	if err != nil {
		return internalError(c, err)
	}

	if item == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	return c.JSON(item)
}

func (h *APIHandlers) AckWorkItem(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Work item ID is required")
	}

	var req AckWorkItemRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var err error
	if req.Outcome == "success" {
		err = h.queue.Ack(c.Context(), id, req.AgentID)
	} else {
		err = h.queue.Nack(c.Context(), id, req.AgentID, req.Reason)
	}

	if err != nil {
		if errors.Is(err, persistence.ErrNotLeaseOwner) {
			return conflict(c, "agent does not hold the lease")
		}

		if persistence.IsNotFound(err) {
			return notFound(c, "Work item not found")
		}

		return internalError(c, err)
	}

	item, err := h.persistence.WorkItemByID(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(item)
}

func (h *APIHandlers) GetApprovals(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return badRequest(c, "Invalid limit parameter")
	}

	approvals, err := h.approvalService.List(c.Context(), models.ApprovalStatus(c.Query("status")), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals})
}

func (h *APIHandlers) DecideApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Approval ID is required")
	}

	var req DecideApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	approval, err := h.approvalService.Decide(c.Context(), id, &models.ApprovalDecision{
		Decision:   req.Decision,
		Approver:   req.Approver,
		Reason:     req.Reason,
		Conditions: req.Conditions,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func queryInt(c fiber.Ctx, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}

	return strconv.Atoi(raw)
}
