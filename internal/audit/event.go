package audit

import (
	"context"
	"time"

	"dojo-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Actor is who did something and from which request.
type Actor struct {
	ID     uint
	Email  string
	Role   models.UserRole
	IP     string
	Path   string
	Method string
}

// System is the actor of background jobs and processor callbacks.
var System = Actor{Email: "system", Role: models.RoleSuperAdmin}

// WithRequest copies the request origin from the fiber context. The IP is
// only taken from the proxy header when the peer is a trusted proxy.
func (a Actor) WithRequest(c *fiber.Ctx) Actor {
	a.IP = c.IP()
	a.Path = c.Path()
	a.Method = c.Method()
	return a
}

type Event struct {
	Actor       Actor
	DojoID      *uint
	Action      models.AuditAction
	EntityType  string
	EntityID    uint
	Description string
	Before      any
	After       any
	At          time.Time
}

// Recorder consumes audit events. Implementations must not block the caller
// for long and must never report failures back to it.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

func DojoRef(id uint) *uint {
	return &id
}
