package admin

import (
	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/gofiber/fiber/v2"
)

// GET /api/audit-logs?entity_type=member&entity_id=3&action=archive
// Dojo users only see their own dojo; rows without dojo stay with super admins.
func ListAuditLogsHandler(store *audit.Store, res *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, _, err := res.FromQuery(c)
		if err != nil {
			return apperr.ToFiber(err)
		}

		rows, err := store.List(c.UserContext(), scope.Apply(store.DB(), "dojo_id"), audit.Filter{
			EntityType: c.Query("entity_type"),
			EntityID:   uint(c.QueryInt("entity_id", 0)),
			ActorID:    uint(c.QueryInt("actor_id", 0)),
			Action:     models.AuditAction(c.Query("action")),
			Limit:      c.QueryInt("limit", 100),
		})
		if err != nil {
			return apperr.ToFiber(err)
		}
		return c.JSON(rows)
	}
}
