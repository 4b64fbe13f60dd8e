package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/i474232898/ski-conditions/internal/alerts"
	"github.com/i474232898/ski-conditions/internal/resort"
	"github.com/i474232898/ski-conditions/internal/scheduler"
)

const serviceName = "ski-conditions"

// NewApp builds the Fiber app with the shared error handler, request logging,
// /health and, when gatherer is non-nil, /metrics.
func NewApp(log zerolog.Logger, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Refreshes can walk the whole source chain.
		WriteTimeout: 2 * time.Minute,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: errorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestLogger(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return app
}

func errorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		}
		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
		}
		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": msg,
		})
	}
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		log.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
		return err
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, resort.ErrAllSourcesExhausted):
		return fiber.StatusBadGateway
	case errors.Is(err, resort.ErrResortNotFound), errors.Is(err, resort.ErrNoRecord):
		return fiber.StatusNotFound
	case errors.Is(err, alerts.ErrInvalidThreshold),
		errors.Is(err, alerts.ErrInvalidTimeframe),
		errors.Is(err, alerts.ErrInvalidSubscription):
		return fiber.StatusBadRequest
	case errors.Is(err, scheduler.ErrRunInProgress):
		return fiber.StatusConflict
	case errors.Is(err, resort.ErrUnsupported):
		return fiber.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// apiError converts err to a *fiber.Error. Internal failures keep their
// detail out of the response; the error handler logs it.
func apiError(err error) error {
	code := statusFor(err)
	if code == fiber.StatusInternalServerError {
		return err
	}
	return fiber.NewError(code, err.Error())
}
