package invoices

import (
	"strconv"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type CreateInvoiceRequest struct {
	MemberID  uint        `json:"member_id"`
	IssueDate string      `json:"issue_date"` // "2025-02-01", empty = today
	Lines     []LineInput `json:"lines"`
}

type FromContributionsRequest struct {
	MemberID        uint   `json:"member_id"`
	ContributionIDs []uint `json:"contribution_ids"`
	IssueDate       string `json:"issue_date"`
}

type FeeInvoiceRequest struct {
	IssueDate string `json:"issue_date"`
}

type PaymentRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method"`
	PaidAt string `json:"paid_at"`
}

// POST /api/invoices
func CreateInvoiceHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateInvoiceRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		issue, err := parseDate("issue_date", body.IssueDate)
		if err != nil {
			return apperr.ToFiber(err)
		}
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		inv, err := svc.Create(c.UserContext(), scope, CreateInput{
			MemberID:  body.MemberID,
			IssueDate: issue,
			Lines:     body.Lines,
		}, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(inv)
	}
}

// POST /api/invoices/from-contributions
func InvoiceContributionsHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body FromContributionsRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		issue, err := parseDate("issue_date", body.IssueDate)
		if err != nil {
			return apperr.ToFiber(err)
		}
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		inv, err := svc.InvoiceContributions(c.UserContext(), scope, body.MemberID, body.ContributionIDs, issue, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(inv)
	}
}

// POST /api/contributions/:id/fee-invoice
func CreateFeeInvoiceHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cid, err := paramID(c)
		if err != nil {
			return err
		}
		var body FeeInvoiceRequest
		_ = c.BodyParser(&body)
		issue, err := parseDate("issue_date", body.IssueDate)
		if err != nil {
			return apperr.ToFiber(err)
		}
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		fee, err := svc.CreateFeeInvoice(c.UserContext(), scope, cid, issue, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fee)
	}
}

// POST /api/invoices/:id/sync-status
func SyncStatusHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		invoiceID, err := paramID(c)
		if err != nil {
			return err
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		status, err := svc.SyncStatus(c.UserContext(), scope, invoiceID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(fiber.Map{"id": invoiceID, "status": status})
	}
}

// POST /api/invoices/:id/payments
func RecordPaymentHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		invoiceID, err := paramID(c)
		if err != nil {
			return err
		}
		var body PaymentRequest
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

		p, status, err := svc.RecordPayment(c.UserContext(), scope, invoiceID, in, id.Actor())
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"payment": p, "status": status})
	}
}

// GET /api/invoices
func ListInvoicesHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := svc.List(c.UserContext(), scope, uint(c.QueryInt("member_id", 0)))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// GET /api/invoices/:id
func GetInvoiceHandler(svc *Service, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		invoiceID, err := paramID(c)
		if err != nil {
			return err
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		inv, err := svc.Get(c.UserContext(), scope, invoiceID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(inv)
	}
}

func (r PaymentRequest) toInput() (PaymentInput, error) {
	var in PaymentInput
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return in, err
	}
	paidAt, err := parseDate("paid_at", r.PaidAt)
	if err != nil {
		return in, err
	}
	in.Amount = amount
	in.Method = models.PaymentMethod(r.Method)
	in.PaidAt = paidAt
	return in, nil
}

func paramID(c *fiber.Ctx) (uint, error) {
	n, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(n), nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, apperr.Validation(field, "expected YYYY-MM-DD")
	}
	return t, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Validation("amount", "not a decimal number")
	}
	return d, nil
}
