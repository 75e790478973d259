package mandates

import (
	"strconv"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
)

type CreateMandateRequest struct {
	IBAN       string `json:"iban"`
	BIC        string `json:"bic"`
	Holder     string `json:"holder"`
	CreditorID string `json:"creditor_id"`
	SignedAt   string `json:"signed_at"` // "2025-01-01"
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// POST /api/members/:id/mandates
func CreateMandateHandler(reg *Registry, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		memberID, err := paramID(c)
		if err != nil {
			return err
		}
		var body CreateMandateRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		var signed time.Time
		if body.SignedAt != "" {
			if signed, err = time.Parse("2006-01-02", body.SignedAt); err != nil {
				return apperr.ToFiber(apperr.Validation("signed_at", "expected YYYY-MM-DD"))
			}
		}
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		m, err := reg.Create(c.UserContext(), scope, CreateInput{
			MemberID:   memberID,
			IBAN:       body.IBAN,
			BIC:        body.BIC,
			Holder:     body.Holder,
			CreditorID: body.CreditorID,
			SignedAt:   signed,
		}, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	}
}

// GET /api/members/:id/mandates
func ListMandatesHandler(reg *Registry, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		memberID, err := paramID(c)
		if err != nil {
			return err
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := reg.ListForMember(c.UserContext(), scope, memberID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// POST /api/mandates/:id/revoke
func RevokeMandateHandler(reg *Registry, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mandateID, err := paramID(c)
		if err != nil {
			return err
		}
		var body ReasonRequest
		_ = c.BodyParser(&body)
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		m, err := reg.Revoke(c.UserContext(), scope, mandateID, body.Reason, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(m)
	}
}

// POST /api/mandates/:id/archive
func ArchiveMandateHandler(reg *Registry, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mandateID, err := paramID(c)
		if err != nil {
			return err
		}
		var body ReasonRequest
		_ = c.BodyParser(&body)
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		m, err := reg.Archive(c.UserContext(), scope, mandateID, body.Reason, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(m)
	}
}

func paramID(c *fiber.Ctx) (uint, error) {
	n, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(n), nil
}
