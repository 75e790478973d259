package tenant

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"

	"go.uber.org/zap"
)

// Identity is what the JWT middleware vouches for, plus the request origin.
type Identity struct {
	UserID uint
	Email  string
	Role   models.UserRole
	DojoID *uint

	IP     string
	Path   string
	Method string
}

func (i Identity) Actor() audit.Actor {
	return audit.Actor{
		ID:     i.UserID,
		Email:  i.Email,
		Role:   i.Role,
		IP:     i.IP,
		Path:   i.Path,
		Method: i.Method,
	}
}

type Resolver struct {
	log   *zap.Logger
	audit audit.Recorder
}

func NewResolver(log *zap.Logger, rec audit.Recorder) *Resolver {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Resolver{log: log, audit: rec}
}

// Resolve derives the effective scope. For bound roles the hint never changes
// the result; a differing hint is logged and audited as a cross-tenant attempt.
func (r *Resolver) Resolve(ctx context.Context, id Identity, hint string) (Scope, error) {
	hint = strings.TrimSpace(hint)

	if id.Role.Privileged() {
		if hint == "" || strings.EqualFold(hint, "all") {
			return AllDojos(), nil
		}
		n, err := strconv.ParseUint(hint, 10, 64)
		if err != nil || n == 0 {
			return Scope{}, apperr.Validation("dojo_id", "must be a positive integer or 'all'")
		}
		return ForDojo(uint(n)), nil
	}

	if id.DojoID == nil || *id.DojoID == 0 {
		r.log.Warn("user without dojo denied", zap.Uint("user_id", id.UserID), zap.String("role", string(id.Role)))
		return Scope{}, fmt.Errorf("user %d: %w", id.UserID, apperr.ErrNoTenant)
	}
	own := *id.DojoID

	if hint != "" && hint != strconv.FormatUint(uint64(own), 10) {
		r.log.Warn("cross-tenant access attempt",
			zap.Uint("user_id", id.UserID),
			zap.String("email", id.Email),
			zap.Uint("dojo_id", own),
			zap.String("requested", hint),
			zap.String("path", id.Path),
		)
		r.audit.Record(ctx, audit.Event{
			Actor:       id.Actor(),
			DojoID:      audit.DojoRef(own),
			Action:      models.AuditActionCrossTenant,
			EntityType:  "dojo",
			Description: fmt.Sprintf("requested dojo %q, scoped to %d", truncateHint(hint), own),
		})
	}
	return ForDojo(own), nil
}

// ResolveTarget is Resolve for writes that carry a dojo id in the body.
func (r *Resolver) ResolveTarget(ctx context.Context, id Identity, target *uint) (Scope, error) {
	hint := ""
	if target != nil {
		hint = strconv.FormatUint(uint64(*target), 10)
	}
	return r.Resolve(ctx, id, hint)
}

func truncateHint(s string) string {
	r := []rune(s)
	if len(r) > 32 {
		return string(r[:32])
	}
	return s
}
