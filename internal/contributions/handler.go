package contributions

import (
	"strconv"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type CreateContractRequest struct {
	MemberID          uint   `json:"member_id"`
	StartDate         string `json:"start_date"` // "2025-01-01"
	EndDate           string `json:"end_date"`
	MinimumTermMonths int    `json:"minimum_term_months"`
	TariffAmount      string `json:"tariff_amount"`
	BillingCycle      string `json:"billing_cycle"`
	SignupFee         string `json:"signup_fee"`
	PaymentMethod     string `json:"payment_method"`
}

type MarkPaidRequest struct {
	Method string `json:"method"`
}

type DunningRequest struct {
	ContributionIDs []uint `json:"contribution_ids"`
}

// POST /api/contracts
func CreateContractHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateContractRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		in, err := body.toInput()
		if err != nil {
			return apperr.ToFiber(err)
		}
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		contract, gen, err := svc.CreateContract(c.UserContext(), scope, in, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"contract": contract, "generation": gen})
	}
}

// POST /api/contracts/:id/generate
func GenerateMissingHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		contractID, err := paramID(c)
		if err != nil {
			return err
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := svc.Generator().GenerateMissing(c.UserContext(), scope, contractID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// POST /api/contributions/regenerate
func RegenerateAllHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := svc.Generator().RegenerateAll(c.UserContext(), scope)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// GET /api/contributions?member_id=&contract_id=&period=&unpaid=true
func ListContributionsHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := svc.List(c.UserContext(), scope, Filter{
			MemberID:   uint(c.QueryInt("member_id", 0)),
			ContractID: uint(c.QueryInt("contract_id", 0)),
			Period:     c.Query("period"),
			UnpaidOnly: c.QueryBool("unpaid", false),
		})
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// POST /api/contributions/:id/mark-paid
func MarkPaidHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cid, err := paramID(c)
		if err != nil {
			return err
		}
		var body MarkPaidRequest
		_ = c.BodyParser(&body)
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		out, err := svc.MarkPaid(c.UserContext(), scope, cid, models.PaymentMethod(body.Method), id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// POST /api/contributions/dunning
func AdvanceDunningHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body DunningRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		n, err := svc.AdvanceDunning(c.UserContext(), scope, body.ContributionIDs)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(fiber.Map{"advanced": n})
	}
}

// GET /api/contracts/tariff-deviations
func TariffDeviationsHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := svc.TariffDeviations(c.UserContext(), scope)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

func (r CreateContractRequest) toInput() (ContractInput, error) {
	in := ContractInput{
		MemberID:          r.MemberID,
		MinimumTermMonths: r.MinimumTermMonths,
		BillingCycle:      models.BillingCycle(r.BillingCycle),
		PaymentMethod:     models.PaymentMethod(r.PaymentMethod),
	}
	start, err := time.Parse("2006-01-02", r.StartDate)
	if err != nil {
		return in, apperr.Validation("start_date", "expected YYYY-MM-DD")
	}
	in.StartDate = start
	if r.EndDate != "" {
		end, err := time.Parse("2006-01-02", r.EndDate)
		if err != nil {
			return in, apperr.Validation("end_date", "expected YYYY-MM-DD")
		}
		in.EndDate = &end
	}
	if in.TariffAmount, err = parseAmount("tariff_amount", r.TariffAmount); err != nil {
		return in, err
	}
	if in.SignupFee, err = parseAmount("signup_fee", r.SignupFee); err != nil {
		return in, err
	}
	return in, nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Validation(field, "not a decimal number")
	}
	return d, nil
}

func paramID(c *fiber.Ctx) (uint, error) {
	n, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(n), nil
}
