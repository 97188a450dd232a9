package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/pkg/config"
)

// CircuitBreaker sheds requests with 503 once too many of them fail with a
// server error. Zero fields in cfg fall back to 3 requests, 1m, 30s and 60%.
func CircuitBreaker(name string, cfg config.CircuitBreakerConfig, log *zap.Logger) fiber.Handler {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 3
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.6
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return func(c *fiber.Ctx) error {
		var handlerErr error
		_, err := cb.Execute(func() (interface{}, error) {
			handlerErr = c.Next()
			if isServerError(c, handlerErr) {
				return nil, errServerError
			}
			return nil, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Service temporarily unavailable",
			})
		}
		return handlerErr
	}
}

var errServerError = errors.New("server error")

func isServerError(c *fiber.Ctx, err error) bool {
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe.Code >= fiber.StatusInternalServerError
		}
		return true
	}
	return c.Response().StatusCode() >= fiber.StatusInternalServerError
}
