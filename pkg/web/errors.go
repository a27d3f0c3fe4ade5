package web

import (
	"errors"

	"github.com/TilepMony-Project/engine/pkg/bridge"
	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps domain and persistence errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, bridge.ErrPollInProgress):
		return problem(c, fiber.StatusConflict, "poll_in_progress", err.Error())

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "Execution not found")

	case persistence.IsSettlementNotFound(err):
		return notFound(c, "Settlement not found")
	}

	kind, ok := failure.KindOf(err)
	if !ok {
		return internalError(c, err)
	}

	switch kind {
	case failure.KindConfiguration:
		return problem(c, fiber.StatusBadRequest, string(kind), err.Error())
	case failure.KindNetwork:
		return problem(c, fiber.StatusBadGateway, string(kind), failure.UserMessage(err))
	default:
		return problem(c, fiber.StatusUnprocessableEntity, string(kind), failure.UserMessage(err))
	}
}
