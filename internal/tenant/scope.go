// Package tenant turns a trusted caller identity into the dojo scope that every
// query filter is derived from.
package tenant

import (
	"errors"

	"dojo-backend/internal/apperr"

	"gorm.io/gorm"
)

// ErrUnresolvedScope is attached to queries built from a zero Scope.
var ErrUnresolvedScope = errors.New("tenant scope not resolved")

// Scope is either one dojo or, for privileged callers, all dojos.
// The zero value is unresolved and matches nothing.
type Scope struct {
	dojoID   uint
	all      bool
	resolved bool
}

func ForDojo(id uint) Scope {
	return Scope{dojoID: id, resolved: true}
}

// AllDojos is the unrestricted scope of super admins and background jobs.
func AllDojos() Scope {
	return Scope{all: true, resolved: true}
}

func (s Scope) Resolved() bool { return s.resolved }
func (s Scope) All() bool      { return s.resolved && s.all }

// DojoID returns the bound dojo. ok is false for the all scope.
func (s Scope) DojoID() (id uint, ok bool) {
	if !s.resolved || s.all {
		return 0, false
	}
	return s.dojoID, true
}

// Allows reports whether a row of the given dojo is visible.
func (s Scope) Allows(dojoID uint) bool {
	if !s.resolved {
		return false
	}
	return s.all || s.dojoID == dojoID
}

// Apply adds the tenant filter on column. It is the only place such a filter is built.
func (s Scope) Apply(db *gorm.DB, column string) *gorm.DB {
	switch {
	case !s.resolved:
		q := db.Where("1 = 0")
		_ = q.AddError(ErrUnresolvedScope)
		return q
	case s.all:
		return db
	default:
		return db.Where(column+" = ?", s.dojoID)
	}
}

// Require returns the single dojo a write must be bound to.
func (s Scope) Require() (uint, error) {
	if !s.resolved {
		return 0, ErrUnresolvedScope
	}
	if s.all {
		return 0, apperr.Validation("dojo_id", "a single dojo must be selected for this operation")
	}
	return s.dojoID, nil
}

// Narrow binds an all scope to one dojo. A dojo scope ignores the target.
func (s Scope) Narrow(dojoID uint) Scope {
	if s.All() && dojoID > 0 {
		return ForDojo(dojoID)
	}
	return s
}

// Ref is the dojo id for audit events, nil for the all scope.
func (s Scope) Ref() *uint {
	if id, ok := s.DojoID(); ok {
		return &id
	}
	return nil
}
