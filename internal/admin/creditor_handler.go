package admin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/sepa"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateCreditorAccountRequest struct {
	Name        string `json:"name"`
	CreditorID  string `json:"creditor_id"`
	IBAN        string `json:"iban"`
	BIC         string `json:"bic"`
	Description string `json:"description"`
	DojoID      *uint  `json:"dojo_id"` // super_admin only
}

type UpdateCreditorAccountRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type CreditorAccountResponse struct {
	ID          uint   `json:"id"`
	DojoID      uint   `json:"dojo_id"`
	Name        string `json:"name"`
	CreditorID  string `json:"creditor_id"`
	IBAN        string `json:"iban"`
	BIC         string `json:"bic"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toCreditorResponse(a models.CreditorAccount) CreditorAccountResponse {
	return CreditorAccountResponse{
		ID:          a.ID,
		DojoID:      a.DojoID,
		Name:        a.Name,
		CreditorID:  a.CreditorID,
		IBAN:        a.IBAN,
		BIC:         a.BIC,
		Description: a.Description,
		IsActive:    a.IsActive,
		CreatedAt:   a.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:   a.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

func (r CreateCreditorAccountRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.Validation("name", "required")
	}
	if strings.TrimSpace(r.CreditorID) == "" {
		return apperr.Validation("creditor_id", "required")
	}
	if err := sepa.ValidateIBAN(r.IBAN); err != nil {
		return err
	}
	return sepa.ValidateBIC(r.BIC)
}

// POST /api/creditor-accounts
func CreateCreditorAccountHandler(db *gorm.DB, res *tenant.Resolver, rec audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateCreditorAccountRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := body.validate(); err != nil {
			return apperr.ToFiber(err)
		}
		scope, id, err := res.FromBody(c, body.DojoID)
		if err != nil {
			return apperr.ToFiber(err)
		}
		dojoID, err := scope.Require()
		if err != nil {
			return apperr.ToFiber(err)
		}

		account := models.CreditorAccount{
			DojoID:      dojoID,
			Name:        strings.TrimSpace(body.Name),
			CreditorID:  strings.ToUpper(strings.TrimSpace(body.CreditorID)),
			IBAN:        sepa.NormalizeIBAN(body.IBAN),
			BIC:         strings.ToUpper(strings.TrimSpace(body.BIC)),
			Description: body.Description,
			IsActive:    true,
		}
		if err := db.WithContext(c.UserContext()).Omit("Dojo").Create(&account).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create creditor account")
		}

		rec.Record(c.UserContext(), audit.Event{
			Actor:       id.Actor(),
			DojoID:      audit.DojoRef(dojoID),
			Action:      models.AuditActionCreate,
			EntityType:  "creditor_account",
			EntityID:    account.ID,
			Description: fmt.Sprintf("creditor account added: %s", account.Name),
			After:       toCreditorResponse(account),
			At:          time.Now().UTC(),
		})
		return c.Status(fiber.StatusCreated).JSON(toCreditorResponse(account))
	}
}

// GET /api/creditor-accounts
func ListCreditorAccountsHandler(db *gorm.DB, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		var accounts []models.CreditorAccount
		q := scope.Apply(db.WithContext(c.UserContext()).Model(&models.CreditorAccount{}), "dojo_id")
		if c.QueryBool("active") {
			q = q.Where("is_active = ?", true)
		}
		if err := q.Order("dojo_id ASC, name ASC").Find(&accounts).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list creditor accounts")
		}

		out := make([]CreditorAccountResponse, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, toCreditorResponse(a))
		}
		return c.JSON(out)
	}
}

// PUT /api/creditor-accounts/:id
// IBAN and creditor id are fixed; create a new account instead.
func UpdateCreditorAccountHandler(db *gorm.DB, res *tenant.Resolver, rec audit.Recorder, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountID, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil || accountID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid id")
		}
		var body UpdateCreditorAccountRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		scope, id, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		var account models.CreditorAccount
		if err := tenant.Find(c.UserContext(), db, log, scope, uint(accountID), &account); err != nil {
			return apperr.ToFiber(err)
		}
		before := toCreditorResponse(account)

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return apperr.ToFiber(apperr.Validation("name", "required"))
			}
			account.Name = name
		}
		if body.Description != nil {
			account.Description = *body.Description
		}
		if body.IsActive != nil {
			account.IsActive = *body.IsActive
		}

		err = db.WithContext(c.UserContext()).Model(&models.CreditorAccount{}).
			Where("id = ? AND dojo_id = ?", account.ID, account.DojoID).
			Updates(map[string]any{
				"name":        account.Name,
				"description": account.Description,
				"is_active":   account.IsActive,
			}).Error
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not update creditor account")
		}

		rec.Record(c.UserContext(), audit.Event{
			Actor:       id.Actor(),
			DojoID:      audit.DojoRef(account.DojoID),
			Action:      models.AuditActionUpdate,
			EntityType:  "creditor_account",
			EntityID:    account.ID,
			Description: fmt.Sprintf("creditor account updated: %s", account.Name),
			Before:      before,
			After:       toCreditorResponse(account),
			At:          time.Now().UTC(),
		})
		return c.JSON(toCreditorResponse(account))
	}
}
