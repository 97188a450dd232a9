package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	fibercors "github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/seu-repo/ocpp-csms/pkg/config"
)

// The control plane only serves reads and operator commands.
var (
	controlPlaneMethods = []string{fiber.MethodGet, fiber.MethodPost}
	controlPlaneHeaders = []string{fiber.HeaderAuthorization, fiber.HeaderContentType, fiber.HeaderAccept}
)

// NewCORS builds the CORS middleware for the /api and /health routes.
// Unset lists fall back to the control plane's own methods and headers.
func NewCORS(cfg config.CORSConfig) fiber.Handler {
	return fibercors.New(fibercors.Config{
		AllowOrigins:     joinOr(cfg.AllowedOrigins, []string{"*"}),
		AllowMethods:     joinOr(cfg.AllowedMethods, controlPlaneMethods),
		AllowHeaders:     joinOr(cfg.AllowedHeaders, controlPlaneHeaders),
		ExposeHeaders:    strings.Join(cfg.ExposeHeaders, ","),
		AllowCredentials: cfg.Credentials,
		MaxAge:           cfg.MaxAge,
	})
}

func joinOr(values, fallback []string) string {
	if len(values) == 0 {
		values = fallback
	}
	return strings.Join(values, ",")
}
