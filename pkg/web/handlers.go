// Package web provides HTTP handlers and REST API endpoints for workflows and executions.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"

	"github.com/dukex/aef/pkg/graph"
	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/services"
)

type APIHandlers struct {
	workflowService   *services.Workflow
	executionService  *services.Execution
	memoryService     *services.Memory
	credentialService *services.Credential
	validator         *validator.Validate
	logger            *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	memoryService *services.Memory,
	credentialService *services.Credential,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		executionService:  executionService,
		memoryService:     memoryService,
		credentialService: credentialService,
		validator:         validator,
		logger:            logger,
	}
}

// Register mounts the health endpoints and every /api/aef route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", h.HealthCheck)

	api := app.Group("/api/aef")

	api.Post("/execute", h.Execute)
	api.Post("/execute-nodes", h.ExecuteNodes)

	e := api.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/logs", h.GetExecutionLogs)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	m := api.Group("/memory")
	m.Get("/:executionId", h.GetMemory)
	m.Get("/:executionId/:nodeId", h.GetNodeMemory)
	m.Delete("/:executionId", h.DeleteMemory)

	w := api.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/validate", h.ValidateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.ReplaceWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Get("/:id/graph", h.GetWorkflowGraph)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	cr := api.Group("/credentials")
	cr.Get("/", h.GetCredentials)
	cr.Put("/:service", h.PutCredential)
	cr.Delete("/:service", h.DeleteCredential)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "AEF API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "AEF API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// documentFormat reads the document format from ?format= or the content type.
func documentFormat(c fiber.Ctx) (loader.Format, error) {
	if f := c.Query("format"); f != "" {
		return loader.ParseFormat(f)
	}

	if strings.Contains(c.Get(fiber.HeaderContentType), "yaml") {
		return loader.FormatYAML, nil
	}

	return loader.FormatJSON, nil
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	format, err := documentFormat(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	created, err := h.workflowService.Create(c.Context(), c.Body(), format)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ReplaceWorkflow(c fiber.Ctx) error {
	format, err := documentFormat(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	replaced, err := h.workflowService.Replace(c.Context(), c.Params("id"), c.Body(), format)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(replaced)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	format, err := documentFormat(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	issues := h.workflowService.Validate(c.Body(), format)
	errs := loader.Errors(issues)

	return c.JSON(ValidateResponse{
		Valid:    len(errs) == 0,
		Errors:   append([]loader.Issue{}, errs...),
		Warnings: append([]loader.Issue{}, loader.Warnings(issues)...),
	})
}

func (h *APIHandlers) GetWorkflowGraph(c fiber.Ctx) error {
	opts := graph.Options{Direction: graph.Direction(strings.ToUpper(c.Query("direction")))}

	if flatten := c.Query("flatten"); flatten != "" {
		v, err := strconv.ParseBool(flatten)
		if err != nil {
			return badRequest(c, "Invalid flatten parameter: "+err.Error())
		}

		opts.Flatten = v
	}

	if opts.Direction != "" && opts.Direction != graph.DirectionRight && opts.Direction != graph.DirectionDown {
		return badRequest(c, "direction must be RIGHT or DOWN")
	}

	result, err := h.workflowService.Graph(c.Context(), c.Params("id"), services.GraphFormat(c.Query("format")), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	states, err := h.executionService.ListByWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	executions := make([]ExecutionResponse, 0, len(states))
	for _, state := range states {
		executions = append(executions, NewExecutionResponse(state, false))
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) Execute(c fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var inline *models.Workflow

	if len(req.Workflow) > 0 {
		wf, err := h.workflowService.Parse(req.Workflow, loader.FormatJSON)
		if err != nil {
			return handleServiceError(c, err)
		}

		inline = wf
	}

	state, err := h.executionService.Execute(c.Context(), services.ExecuteRequest{
		WorkflowID:    req.WorkflowID,
		Workflow:      inline,
		SessionID:     req.SessionID,
		Variables:     req.Variables,
		PauseOnErrors: req.PauseOnErrors,
		Wait:          req.Wait,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Wait {
		return c.JSON(NewExecutionResponse(state, true))
	}

	return c.Status(fiber.StatusAccepted).JSON(NewExecutionResponse(state, false))
}

func (h *APIHandlers) ExecuteNodes(c fiber.Ctx) error {
	var req ExecuteNodesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := h.executionService.ExecuteNodes(c.Context(), services.ExecuteNodesRequest{
		WorkflowID: req.WorkflowID,
		NodeIDs:    req.NodeIDs,
		SessionID:  req.SessionID,
		Variables:  req.Variables,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resp)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	state, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewExecutionResponse(state, true))
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	logs, err := h.executionService.Logs(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if logs == nil {
		logs = []*models.ExecutionLog{}
	}

	return c.JSON(fiber.Map{"executionId": c.Params("id"), "logs": logs})
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	wait := false

	if v := c.Query("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "Invalid wait parameter: "+err.Error())
		}

		wait = parsed
	}

	state, err := h.executionService.Resume(c.Context(), c.Params("id"), wait)
	if err != nil {
		return handleServiceError(c, err)
	}

	if wait {
		return c.JSON(NewExecutionResponse(state, true))
	}

	return c.Status(fiber.StatusAccepted).JSON(NewExecutionResponse(state, false))
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if err := h.executionService.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"executionId": c.Params("id"),
		"status":      "cancelling",
	})
}

func (h *APIHandlers) GetMemory(c fiber.Ctx) error {
	artifacts, err := h.memoryService.ByExecution(c.Context(), c.Params("executionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if artifacts == nil {
		artifacts = []*models.MemoryArtifact{}
	}

	return c.JSON(fiber.Map{"executionId": c.Params("executionId"), "artifacts": artifacts})
}

func (h *APIHandlers) GetNodeMemory(c fiber.Ctx) error {
	artifact, err := h.memoryService.ByNode(c.Context(), c.Params("executionId"), c.Params("nodeId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(artifact)
}

func (h *APIHandlers) DeleteMemory(c fiber.Ctx) error {
	if err := h.memoryService.Purge(c.Context(), c.Params("executionId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetCredentials(c fiber.Ctx) error {
	names, err := h.credentialService.Services(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	if names == nil {
		names = []string{}
	}

	return c.JSON(fiber.Map{"services": names})
}

func (h *APIHandlers) PutCredential(c fiber.Ctx) error {
	var req CredentialRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	service := c.Params("service")
	if err := h.credentialService.Put(c.Context(), service, req.Fields); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"service": service, "stored": true})
}

func (h *APIHandlers) DeleteCredential(c fiber.Ctx) error {
	if err := h.credentialService.Delete(c.Context(), c.Params("service")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
