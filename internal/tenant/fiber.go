package tenant

import (
	"dojo-backend/internal/auth"
	"dojo-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// IdentityFromCtx reads the claims stored by auth.JWTMiddleware.
func IdentityFromCtx(c *fiber.Ctx) (Identity, error) {
	userID, ok := c.Locals(auth.CtxUserIDKey).(uint)
	if !ok {
		return Identity{}, fiber.NewError(fiber.StatusUnauthorized, "user missing from token")
	}
	role, ok := c.Locals(auth.CtxUserRoleKey).(models.UserRole)
	if !ok {
		return Identity{}, fiber.NewError(fiber.StatusForbidden, "role missing from token")
	}
	email, _ := c.Locals(auth.CtxUserEmailKey).(string)
	dojoID, _ := c.Locals(auth.CtxDojoIDKey).(*uint)

	return Identity{
		UserID: userID,
		Email:  email,
		Role:   role,
		DojoID: dojoID,
		IP:     c.IP(),
		Path:   c.Path(),
		Method: c.Method(),
	}, nil
}

// FromQuery resolves the scope of a read using the dojo_id query parameter as hint.
func (r *Resolver) FromQuery(c *fiber.Ctx) (Scope, Identity, error) {
	id, err := IdentityFromCtx(c)
	if err != nil {
		return Scope{}, Identity{}, err
	}
	s, err := r.Resolve(c.UserContext(), id, c.Query("dojo_id"))
	return s, id, err
}

// FromBody resolves the scope of a write whose body may name a dojo.
func (r *Resolver) FromBody(c *fiber.Ctx, target *uint) (Scope, Identity, error) {
	id, err := IdentityFromCtx(c)
	if err != nil {
		return Scope{}, Identity{}, err
	}
	s, err := r.ResolveTarget(c.UserContext(), id, target)
	return s, id, err
}
