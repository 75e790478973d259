// Package contributions derives membership dues from contracts and keeps the
// paid and dunning state of each due.
package contributions

import (
	"context"
	"fmt"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/billing"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const SkipNoAmount = "no amount defined"
const SkipInactive = "contract not active"

type Options struct {
	ProrateFirstMonth bool
	ContractTimeout   time.Duration
}

type Generator struct {
	db    *gorm.DB
	log   *zap.Logger
	audit audit.Recorder
	opts  Options
}

func NewGenerator(db *gorm.DB, log *zap.Logger, rec audit.Recorder, opts Options) *Generator {
	if opts.ContractTimeout <= 0 {
		opts.ContractTimeout = 10 * time.Second
	}
	return &Generator{db: db, log: log, audit: rec, opts: opts}
}

type InitialInput struct {
	MemberID          uint
	DojoID            uint
	ContractID        uint
	Start             time.Time
	MonthlyAmount     decimal.Decimal
	SignupFee         decimal.Decimal
	End               *time.Time
	MinimumTermMonths int
	PaymentMethod     models.PaymentMethod
}

type Result struct {
	InsertedIDs  []uint `json:"inserted_ids"`
	SkippedCount int    `json:"skipped_count"`
	SkipReason   string `json:"skip_reason,omitempty"`
}

// GenerateInitial creates one contribution per month of the contract term.
// Periods that already exist are counted as skipped, so repeated calls
// converge on the same rows.
func (g *Generator) GenerateInitial(ctx context.Context, in InitialInput) (Result, error) {
	res := Result{InsertedIDs: []uint{}}
	switch {
	case in.DojoID == 0:
		return res, apperr.Validation("dojo_id", "required")
	case in.MemberID == 0:
		return res, apperr.Validation("member_id", "required")
	case in.ContractID == 0:
		return res, apperr.Validation("contract_id", "required")
	case in.Start.IsZero():
		return res, apperr.Validation("start_date", "required")
	}
	if !in.MonthlyAmount.IsPositive() {
		res.SkipReason = SkipNoAmount
		return res, nil
	}

	term := in.MinimumTermMonths
	if term <= 0 {
		term = models.DefaultMinimumTermMonths
	}
	periods := billing.Periods(in.Start, billing.TermEnd(in.Start, in.End, term))
	method := in.PaymentMethod
	if method == "" {
		method = models.PaymentBankTransfer
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, p := range periods {
			amount := in.MonthlyAmount
			if i == 0 {
				if g.opts.ProrateFirstMonth {
					amount = billing.ProrateFirstMonth(amount, in.Start)
				}
				amount = amount.Add(in.SignupFee)
			}
			row := models.Contribution{
				DojoID:        in.DojoID,
				MemberID:      in.MemberID,
				ContractID:    in.ContractID,
				Period:        p.Key,
				Amount:        amount.Round(2),
				DueDate:       p.Due,
				PaymentMethod: method,
			}
			r := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if r.Error != nil {
				return fmt.Errorf("insert contribution %s: %w", p.Key, r.Error)
			}
			if r.RowsAffected == 0 {
				res.SkippedCount++
				continue
			}
			res.InsertedIDs = append(res.InsertedIDs, row.ID)
		}
		return nil
	})
	if err != nil {
		return Result{InsertedIDs: []uint{}}, err
	}

	if len(res.InsertedIDs) > 0 {
		g.audit.Record(ctx, audit.Event{
			Actor:       audit.System,
			DojoID:      audit.DojoRef(in.DojoID),
			Action:      models.AuditActionGenerate,
			EntityType:  "contract",
			EntityID:    in.ContractID,
			Description: fmt.Sprintf("%d contributions generated, %d already present", len(res.InsertedIDs), res.SkippedCount),
		})
	}
	return res, nil
}

// GenerateMissing fills the gaps of one contract in scope.
func (g *Generator) GenerateMissing(ctx context.Context, scope tenant.Scope, contractID uint) (Result, error) {
	var c models.Contract
	if err := tenant.Find(ctx, g.db, g.log, scope, contractID, &c); err != nil {
		return Result{InsertedIDs: []uint{}}, err
	}
	return g.forContract(ctx, c)
}

func (g *Generator) forContract(ctx context.Context, c models.Contract) (Result, error) {
	if c.Status != models.ContractActive {
		return Result{InsertedIDs: []uint{}, SkipReason: SkipInactive}, nil
	}
	return g.GenerateInitial(ctx, InitialInput{
		MemberID:          c.MemberID,
		DojoID:            c.DojoID,
		ContractID:        c.ID,
		Start:             c.StartDate,
		MonthlyAmount:     c.MonthlyAmount,
		SignupFee:         c.SignupFee,
		End:               c.EndDate,
		MinimumTermMonths: c.Term(),
		PaymentMethod:     c.PaymentMethod,
	})
}

type ContractError struct {
	ContractID uint   `json:"contract_id"`
	Error      string `json:"error"`
}

type PassResult struct {
	Contracts int             `json:"contracts"`
	Inserted  int             `json:"inserted"`
	Skipped   int             `json:"skipped"`
	Errors    []ContractError `json:"errors"`
}

// RegenerateAll runs GenerateMissing over every active contract in scope.
// A contract that fails, panics or times out is recorded and the pass goes on.
func (g *Generator) RegenerateAll(ctx context.Context, scope tenant.Scope) (PassResult, error) {
	out := PassResult{Errors: []ContractError{}}

	var ids []uint
	q := scope.Apply(g.db.WithContext(ctx).Model(&models.Contract{}), "dojo_id")
	if err := q.Where("status = ?", models.ContractActive).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return out, fmt.Errorf("list active contracts: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.Contracts++
		r, err := g.regenerateOne(ctx, id)
		if err != nil {
			g.log.Warn("contract regeneration failed", zap.Uint("contract_id", id), zap.Error(err))
			out.Errors = append(out.Errors, ContractError{ContractID: id, Error: err.Error()})
			continue
		}
		out.Inserted += len(r.InsertedIDs)
		out.Skipped += r.SkippedCount
	}

	g.log.Info("regeneration pass finished",
		zap.Int("contracts", out.Contracts),
		zap.Int("inserted", out.Inserted),
		zap.Int("skipped", out.Skipped),
		zap.Int("errors", len(out.Errors)),
	)
	return out, nil
}

func (g *Generator) regenerateOne(ctx context.Context, contractID uint) (res Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.ContractTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var c models.Contract
	if err := g.db.WithContext(ctx).First(&c, contractID).Error; err != nil {
		return res, fmt.Errorf("load contract: %w", err)
	}
	return g.forContract(ctx, c)
}
