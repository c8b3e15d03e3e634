package web

import (
	"errors"

	"github.com/dukex/processflow/pkg/approval"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

const problemContentType = "application/problem+json"

// ConflictDetail is shown to a user whose save lost the race for a version.
const ConflictDetail = "someone else changed this flow, reload to see their version"

// DefectsProblem is the 422 document returned when validation blocks an approval.
type DefectsProblem struct {
	*problems.DefaultProblem

	Defects models.Report `json:"defects"`
}

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p, problemContentType)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnauthorized, "unauthorized", detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusForbidden, "forbidden", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p, problemContentType)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	var (
		failed     *approval.ValidationFailedError
		serviceErr *services.ServiceError
	)

	switch {
	case errors.As(err, &failed):
		p := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("validation_failed").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(DefectsProblem{
			DefaultProblem: p,
			Defects:        failed.Report,
		}, problemContentType)

	case errors.As(err, &serviceErr) && services.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, serviceErr.Code, serviceErr.Error())

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsNotFoundError(err):
		return problem(c, fiber.StatusNotFound, "flow_not_found", "flow not found")

	case errors.Is(err, services.ErrVersionConflict):
		return problem(c, fiber.StatusConflict, "version_conflict", ConflictDetail)

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "invalid_transition", err.Error())

	case services.IsForbiddenError(err):
		return forbidden(c, err.Error())

	default:
		return internalError(c, err)
	}
}
