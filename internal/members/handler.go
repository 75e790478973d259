package members

import (
	"strconv"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
)

type ArchiveRequest struct {
	Reason string `json:"reason"`
}

// POST /api/members
func CreateMemberHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		scope, id, err := res.FromBody(c, body.DojoID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		// The resolver already decided which dojo this write goes to.
		body.DojoID = nil

		m, err := svc.Create(c.UserContext(), scope, body, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	}
}

// GET /api/members?payment_method=&q=&archived=true
func ListMembersHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := svc.List(c.UserContext(), scope, Filter{
			IncludeArchived: c.QueryBool("archived", false),
			PaymentMethod:   models.PaymentMethod(c.Query("payment_method")),
			Search:          c.Query("q"),
		})
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// GET /api/members/:id
func GetMemberHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		memberID, err := paramID(c)
		if err != nil {
			return err
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		m, err := svc.Get(c.UserContext(), scope, memberID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(m)
	}
}

// POST /api/members/:id/archive
func ArchiveMemberHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		memberID, err := paramID(c)
		if err != nil {
			return err
		}
		var body ArchiveRequest
		_ = c.BodyParser(&body)
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := svc.Archive(c.UserContext(), scope, memberID, body.Reason, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

func paramID(c *fiber.Ctx) (uint, error) {
	n, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(n), nil
}
