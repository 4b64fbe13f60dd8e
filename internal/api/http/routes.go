package httpapi

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/ski-conditions/internal/alerts"
	"github.com/i474232898/ski-conditions/internal/resort"
	"github.com/i474232898/ski-conditions/internal/scheduler"
)

// OwnerHeader carries the caller's identity. Authentication happens upstream.
const OwnerHeader = "X-User-ID"

var validate = validator.New()

// ResortService serves resort data.
type ResortService interface {
	GetResort(ctx context.Context, id string, force bool) (resort.View, error)
	GetForecast(ctx context.Context, id string) ([]resort.Forecast, error)
	TopByRegion(ctx context.Context, region string, limit int) ([]resort.Ranked, error)
	MapView(ctx context.Context) ([]resort.MapPoint, error)
	Preload(ctx context.Context, regions []string, limit int) (int, error)
	Ask(ctx context.Context, question string) (string, error)
}

// AlertService manages subscriptions and notifications.
type AlertService interface {
	Subscribe(ctx context.Context, req alerts.SubscribeRequest) (resort.Subscription, error)
	Unsubscribe(ctx context.Context, id, ownerID string, hard bool) error
	ListSubscriptions(ctx context.Context, ownerID string) ([]resort.Subscription, error)
	CheckOwned(ctx context.Context, id, ownerID string) (bool, error)
	ListNotifications(ctx context.Context, ownerID string, unreadOnly bool) ([]resort.Notification, error)
	MarkRead(ctx context.Context, id, ownerID string) error
}

// Jobs runs background work on demand.
type Jobs interface {
	RunRefresh(ctx context.Context, limit int, delay time.Duration) (scheduler.Result, error)
	RunDiscoverAndRefresh(ctx context.Context, regions []string, limit int, delay time.Duration) (scheduler.Result, error)
	RunDiscovery(ctx context.Context, regions []string) (scheduler.DiscoveryResult, error)
	RunAlerts(ctx context.Context) (alerts.BatchResult, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Resorts ResortService
	Alerts  AlertService
	Jobs    Jobs
	// Regions is used by discovery and preload when the request names none.
	Regions []string
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/resorts/:id", func(c *fiber.Ctx) error {
		view, err := d.Resorts.GetResort(c.UserContext(), c.Params("id"), c.QueryBool("refresh"))
		if err != nil {
			return apiError(err)
		}
		return c.JSON(view)
	})

	v1.Get("/resorts/:id/forecast", func(c *fiber.Ctx) error {
		forecasts, err := d.Resorts.GetForecast(c.UserContext(), c.Params("id"))
		if err != nil {
			return apiError(err)
		}
		return c.JSON(fiber.Map{
			"resortId":  c.Params("id"),
			"forecasts": forecasts,
		})
	})

	v1.Get("/rankings", func(c *fiber.Ctx) error {
		q := rankingQuery{
			Region: strings.ToLower(strings.TrimSpace(c.Query("region"))),
			Limit:  c.QueryInt("limit", 10),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if q.Region != "" && !resort.KnownRegion(q.Region) {
			return fiber.NewError(fiber.StatusBadRequest, "unknown region: "+q.Region)
		}
		ranked, err := d.Resorts.TopByRegion(c.UserContext(), q.Region, q.Limit)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(fiber.Map{
			"region":  q.Region,
			"resorts": ranked,
		})
	})

	v1.Get("/map", func(c *fiber.Ctx) error {
		points, err := d.Resorts.MapView(c.UserContext())
		if err != nil {
			return apiError(err)
		}
		return c.JSON(points)
	})

	v1.Post("/ask", func(c *fiber.Ctx) error {
		var req askRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		answer, err := d.Resorts.Ask(c.UserContext(), req.Question)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(fiber.Map{"answer": answer})
	})

	registerAlertRoutes(v1, d)
	registerAdminRoutes(v1, d)
}

func registerAlertRoutes(v1 fiber.Router, d Deps) {
	v1.Post("/alerts", func(c *fiber.Ctx) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		var req alerts.SubscribeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		req.OwnerID = owner
		sub, err := d.Alerts.Subscribe(c.UserContext(), req)
		if err != nil {
			return apiError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(sub)
	})

	v1.Get("/alerts", func(c *fiber.Ctx) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		subs, err := d.Alerts.ListSubscriptions(c.UserContext(), owner)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(subs)
	})

	v1.Delete("/alerts/:id", func(c *fiber.Ctx) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		if err := d.Alerts.Unsubscribe(c.UserContext(), c.Params("id"), owner, c.QueryBool("hard")); err != nil {
			return apiError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Post("/alerts/:id/check", func(c *fiber.Ctx) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		triggered, err := d.Alerts.CheckOwned(c.UserContext(), c.Params("id"), owner)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(fiber.Map{"triggered": triggered})
	})

	v1.Get("/notifications", func(c *fiber.Ctx) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		notes, err := d.Alerts.ListNotifications(c.UserContext(), owner, c.QueryBool("unread"))
		if err != nil {
			return apiError(err)
		}
		return c.JSON(notes)
	})

	v1.Post("/notifications/:id/read", func(c *fiber.Ctx) error {
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		if err := d.Alerts.MarkRead(c.UserContext(), c.Params("id"), owner); err != nil {
			return apiError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func registerAdminRoutes(v1 fiber.Router, d Deps) {
	admin := v1.Group("/admin")

	admin.Post("/refresh", func(c *fiber.Ctx) error {
		q, err := parseRefreshQuery(c)
		if err != nil {
			return err
		}
		var res scheduler.Result
		if c.QueryBool("discover") {
			if len(d.Regions) == 0 {
				return fiber.NewError(fiber.StatusBadRequest, "no regions to discover")
			}
			res, err = d.Jobs.RunDiscoverAndRefresh(c.UserContext(), d.Regions, q.Max, q.Delay)
		} else {
			res, err = d.Jobs.RunRefresh(c.UserContext(), q.Max, q.Delay)
		}
		if err != nil {
			return apiError(err)
		}
		return c.JSON(res)
	})

	admin.Post("/discover", func(c *fiber.Ctx) error {
		var req regionsRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			return err
		}
		regions := req.regionsOr(d.Regions)
		if len(regions) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "no regions to discover")
		}
		res, err := d.Jobs.RunDiscovery(c.UserContext(), regions)
		if err != nil && res.Regions == 0 {
			return apiError(err)
		}
		body := fiber.Map{"result": res}
		if err != nil {
			body["errors"] = err.Error()
		}
		return c.JSON(body)
	})

	admin.Post("/preload", func(c *fiber.Ctx) error {
		var req regionsRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			return err
		}
		regions := req.regionsOr(d.Regions)
		if len(regions) == 0 {
			regions = resort.Regions()
		}
		limit := req.Limit
		if limit == 0 {
			limit = 10
		}
		loaded, err := d.Resorts.Preload(c.UserContext(), regions, limit)
		body := fiber.Map{"regions": regions, "loaded": loaded}
		if err != nil {
			body["errors"] = err.Error()
		}
		return c.JSON(body)
	})

	admin.Post("/alerts/check", func(c *fiber.Ctx) error {
		res, err := d.Jobs.RunAlerts(c.UserContext())
		if err != nil {
			return apiError(err)
		}
		return c.JSON(res)
	})
}

func ownerOf(c *fiber.Ctx) (string, error) {
	owner := strings.TrimSpace(c.Get(OwnerHeader))
	if owner == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing "+OwnerHeader+" header")
	}
	return owner, nil
}

type rankingQuery struct {
	Region string
	Limit  int `validate:"gte=1,lte=50"`
}

type askRequest struct {
	Question string `json:"question" validate:"required,max=1000"`
}

type regionsRequest struct {
	Regions []string `json:"regions" validate:"omitempty,dive,required"`
	Limit   int      `json:"limit" validate:"gte=0,lte=50"`
}

func (r regionsRequest) regionsOr(fallback []string) []string {
	if len(r.Regions) > 0 {
		return r.Regions
	}
	return fallback
}

type refreshQuery struct {
	Max   int           `validate:"gte=0"`
	Delay time.Duration `validate:"gte=0"`
}

// parseRefreshQuery reads max (a count) and delay (a Go duration or whole
// seconds).
func parseRefreshQuery(c *fiber.Ctx) (refreshQuery, error) {
	q := refreshQuery{Max: c.QueryInt("max", 0)}
	if s := c.Query("delay"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			secs, convErr := strconv.Atoi(s)
			if convErr != nil {
				return q, fiber.NewError(fiber.StatusBadRequest, "invalid delay; use a duration like 2s")
			}
			d = time.Duration(secs) * time.Second
		}
		q.Delay = d
	}
	if err := validate.Struct(q); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return q, nil
}

func bindJSON(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty.
func bindOptionalJSON(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return bindJSON(c, dst)
}
