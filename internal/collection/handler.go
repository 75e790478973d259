package collection

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/sepa"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type WindowRequest struct {
	DojoID *uint  `json:"dojo_id"`
	Period string `json:"period"` // "2025-03", used when from/to are empty
	From   string `json:"from"`
	To     string `json:"to"`
}

type ExportBody struct {
	WindowRequest
	CreditorAccountID uint   `json:"creditor_account_id"`
	Format            string `json:"format"` // csv | xml | xlsx
}

type WebhookEvent struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// GET /api/collections/preview?period=2025-03
func PreviewHandler(eng *Engine, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		w, err := queryWindow(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		p, err := eng.Preview(c.UserContext(), scope, w)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(p)
	}
}

// GET /api/collections/missing-mandates?period=2025-03
func MissingMandatesHandler(eng *Engine, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		w, err := queryWindow(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := eng.MissingMandates(c.UserContext(), scope, w)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// POST /api/collections/export
// Responds with the file; the batch id travels in X-Batch-ID.
func ExportHandler(eng *Engine, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ExportBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		w, err := body.window()
		if err != nil {
			return apperr.ToFiber(err)
		}
		format, err := sepa.ParseFormat(body.Format)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		scope, id, err := res.FromBody(c, body.DojoID)
		if err != nil {
			return apperr.ToFiber(err)
		}

		out, err := eng.Export(c.UserContext(), scope, ExportRequest{
			Window:            w,
			CreditorAccountID: body.CreditorAccountID,
			Format:            format,
			Actor:             id.Actor(),
		})
		if err != nil {
			return apperr.ToFiber(err)
		}
		c.Set(fiber.HeaderContentType, out.ContentType)
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+out.Filename+`"`)
		c.Set("X-Batch-ID", strconv.FormatUint(uint64(out.Batch.ID), 10))
		c.Set("X-Missing-Mandates", strconv.Itoa(len(out.MissingMandates)))
		return c.Send(out.Content)
	}
}

// POST /api/collections/execute
func ExecuteHandler(eng *Engine, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body WindowRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		w, err := body.window()
		if err != nil {
			return apperr.ToFiber(err)
		}
		scope, id, err := res.FromBody(c, body.DojoID)
		if err != nil {
			return apperr.ToFiber(err)
		}

		out, err := eng.Execute(c.UserContext(), scope, ExecuteRequest{Window: w, Actor: id.Actor()})
		if err != nil {
			if out.Batch.ID == 0 {
				return apperr.ToFiber(err)
			}
			// The batch exists and holds the recorded outcomes; report both.
			return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{"result": out, "error": "batch aborted, remaining members were not attempted"})
		}
		return c.Status(fiber.StatusCreated).JSON(out)
	}
}

// GET /api/collections
func ListBatchesHandler(eng *Engine, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := eng.Batches(c.UserContext(), scope, c.QueryInt("limit", 50))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// GET /api/collections/:id
func GetBatchHandler(eng *Engine, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil || n == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid id")
		}
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		b, err := eng.Batch(c.UserContext(), scope, uint(n))
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(b)
	}
}

// POST /api/collections/poll
func PollHandler(rec *Reconciler, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}
		out, err := rec.PollProcessing(c.UserContext(), scope)
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// POST /api/webhooks/processor
// Unauthenticated; the body must carry a hex HMAC-SHA256 in X-Signature.
func ProcessorWebhookHandler(rec *Reconciler, secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return fiber.NewError(fiber.StatusServiceUnavailable, "webhook not configured")
		}
		body := c.Body()
		if !VerifySignature(secret, body, c.Get("X-Signature")) {
			log.Warn("processor webhook with bad signature", zap.String("ip", c.IP()))
			return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
		}

		var ev WebhookEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		out, err := rec.ApplyEvent(c.UserContext(), EventInput{
			Provider:      "processor",
			EventID:       ev.ID,
			Reference:     ev.Reference,
			Outcome:       MapStatus(ev.Status),
			FailureReason: ev.FailureReason,
			Payload:       append([]byte(nil), body...),
		})
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(out)
	}
}

// VerifySignature checks a hex HMAC-SHA256 of body.
func VerifySignature(secret string, body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil || len(want) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

func queryWindow(c *fiber.Ctx) (Window, error) {
	r := WindowRequest{Period: c.Query("period"), From: c.Query("from"), To: c.Query("to")}
	return r.window()
}

func (r WindowRequest) window() (Window, error) {
	if r.From == "" && r.To == "" {
		if r.Period == "" {
			return Window{}, apperr.Validation("period", "period or from/to required")
		}
		return MonthWindow(r.Period)
	}
	from, err := time.Parse("2006-01-02", r.From)
	if err != nil {
		return Window{}, apperr.Validation("from", "expected YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", r.To)
	if err != nil {
		return Window{}, apperr.Validation("to", "expected YYYY-MM-DD")
	}
	w := Window{From: from, To: to}
	return w, w.Validate()
}
