package web

import (
	"github.com/dukex/processflow/pkg/auth"
	"github.com/gofiber/fiber/v3"
)

const principalKey = "principal"

// RequireRole authenticates the bearer token and rejects callers below minimum.
func RequireRole(minimum auth.Role) fiber.Handler {
	return func(c fiber.Ctx) error {
		principal, err := auth.ParseBearer(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return unauthorized(c, err.Error())
		}

		if !principal.Role.AtLeast(minimum) {
			return forbidden(c, "role "+string(principal.Role)+" cannot perform this action")
		}

		c.Locals(principalKey, principal)

		return c.Next()
	}
}

func principalFrom(c fiber.Ctx) auth.Principal {
	principal, _ := c.Locals(principalKey).(auth.Principal)

	return principal
}
