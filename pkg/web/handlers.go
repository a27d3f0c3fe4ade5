// Package web provides HTTP handlers for the bridge pipeline and workflow runs.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/TilepMony-Project/engine/pkg/actions"
	"github.com/TilepMony-Project/engine/pkg/bridge"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/nodes"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/TilepMony-Project/engine/pkg/runner"
	"github.com/TilepMony-Project/engine/pkg/settlement"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	// runs outlive the request that starts them and stop with this context
	runContext context.Context
	store      persistence.Persistence
	watcher    *bridge.Watcher
	executor   *settlement.Executor
	runner     *runner.Runner
	compiler   *actions.Compiler
	validator  *validator.Validate
}

func NewAPIHandlers(
	runContext context.Context,
	store persistence.Persistence,
	watcher *bridge.Watcher,
	executor *settlement.Executor,
	workflowRunner *runner.Runner,
	compiler *actions.Compiler,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		runContext: runContext,
		store:      store,
		watcher:    watcher,
		executor:   executor,
		runner:     workflowRunner,
		compiler:   compiler,
		validator:  validator,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	b := router.Group("/bridge")
	b.Post("/poll", h.Poll)
	b.Post("/execute", h.ExecuteSettlement)
	b.Post("/process-all", h.ProcessAll)
	b.Get("/settlements", h.ListSettlements)
	b.Get("/settlements/:messageId", h.GetSettlement)

	router.Get("/nodes", h.ListNodeTypes)
	router.Post("/workflows/compile", h.CompileWorkflow)

	e := router.Group("/executions")
	e.Post("/", h.StartExecution)
	e.Get("/:id", h.GetExecution)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) Poll(c fiber.Ctx) error {
	var req PollRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	var chainIDs []uint64
	if req.ChainID != nil {
		chainIDs = append(chainIDs, *req.ChainID)
	}

	results, err := h.watcher.PollOnce(c.Context(), chainIDs...)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(PollResponse{Results: results})
}

func (h *APIHandlers) ExecuteSettlement(c fiber.Ctx) error {
	var req ExecuteSettlementRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(h.executor.Execute(c.Context(), req.MessageID))
}

func (h *APIHandlers) ProcessAll(c fiber.Ctx) error {
	summary, err := h.executor.ProcessAll(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) GetSettlement(c fiber.Ctx) error {
	messageID := c.Params("messageId")

	s, err := h.store.SettlementRepository().GetByMessageID(c.Context(), messageID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(s)
}

func (h *APIHandlers) ListSettlements(c fiber.Ctx) error {
	var (
		settlements []*models.PendingSettlement
		err         error
	)

	if raw := c.Query("status"); raw != "" {
		status := models.SettlementStatus(raw)
		if !status.Valid() {
			return badRequest(c, "Unknown settlement status: "+raw)
		}

		settlements, err = h.store.SettlementRepository().ListByStatus(c.Context(), status)
	} else {
		settlements, err = h.store.SettlementRepository().List(c.Context())
	}

	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"settlements": settlements,
		"total_count": len(settlements),
	})
}

// ListNodeTypes returns the authorable node types with their property schemas.
func (h *APIHandlers) ListNodeTypes(c fiber.Ctx) error {
	definitions := nodes.Definitions()

	return c.JSON(fiber.Map{
		"nodes": definitions,
		"total": len(definitions),
	})
}

func (h *APIHandlers) CompileWorkflow(c fiber.Ctx) error {
	var req CompileRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	compilation, err := h.compiler.CompileGraph(req.ChainID,
		models.WorkflowGraph{Nodes: req.Nodes, Edges: req.Edges},
		req.InitialToken, req.InitialAmount)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(compilation)
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.runner.Start(h.runContext, req.WorkflowID, req.UserID, req.Graph())
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	execution, err := h.store.ExecutionRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	transactions, err := h.store.TransactionRepository().ListByExecution(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: execution, Transactions: transactions})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "TilepMony engine is healthy"
	httpStatus := http.StatusOK
	check := "ok"

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "TilepMony engine is unhealthy"
		httpStatus = http.StatusInternalServerError
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": check,
		},
		"chains":    h.watcher.ChainIDs(),
		"timestamp": time.Now().UTC(),
	})
}
