package collection

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dojo-backend/collection"))

// IdempotencyKey is stable per (batch, member), so a resubmitted request for
// the same member within a batch is recognised by the processor.
func IdempotencyKey(batchRef string, memberID uint) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(batchRef+":"+strconv.FormatUint(uint64(memberID), 10))).String()
}

type Options struct {
	Workers          int
	ProcessorTimeout time.Duration
	Currency         string
}

type Engine struct {
	db     *gorm.DB
	log    *zap.Logger
	audit  audit.Recorder
	proc   Processor
	locker *Locker
	opts   Options
	now    func() time.Time
}

func NewEngine(db *gorm.DB, log *zap.Logger, rec audit.Recorder, proc Processor, locker *Locker, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ProcessorTimeout <= 0 {
		opts.ProcessorTimeout = 15 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "EUR"
	}
	return &Engine{
		db:     db,
		log:    log,
		audit:  rec,
		proc:   proc,
		locker: locker,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type PayableMember struct {
	MemberID         uint                  `json:"member_id"`
	DojoID           uint                  `json:"dojo_id"`
	Name             string                `json:"name"`
	CustomerRef      string                `json:"-"`
	PaymentMethodRef string                `json:"-"`
	Mandate          models.SepaMandate    `json:"mandate"`
	Contributions    []models.Contribution `json:"contributions"`
	Amount           decimal.Decimal       `json:"amount"`
	DueDate          time.Time             `json:"due_date"`
}

// Reasons a member with collectable dues is left out of a batch.
const (
	ReasonNoActiveMandate = "no active mandate"
	ReasonMemberArchived  = "member archived"
)

// MissingMandate is a member with collectable dues that cannot be debited.
type MissingMandate struct {
	MemberID        uint            `json:"member_id"`
	DojoID          uint            `json:"dojo_id"`
	Name            string          `json:"name"`
	ContributionIDs []uint          `json:"contribution_ids"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason"`
}

type Preview struct {
	Window          Window           `json:"window"`
	Payable         []PayableMember  `json:"payable"`
	MissingMandates []MissingMandate `json:"missing_mandates"`
	Total           decimal.Decimal  `json:"total"`
}

// Preview lists what a batch over the window would collect. It only reads.
func (e *Engine) Preview(ctx context.Context, scope tenant.Scope, w Window) (Preview, error) {
	if err := w.Validate(); err != nil {
		return Preview{}, err
	}
	return e.preview(ctx, e.db.WithContext(ctx), scope, w)
}

// MissingMandates lists members with collectable dues but no active mandate.
func (e *Engine) MissingMandates(ctx context.Context, scope tenant.Scope, w Window) ([]MissingMandate, error) {
	p, err := e.Preview(ctx, scope, w)
	if err != nil {
		return nil, err
	}
	return p.MissingMandates, nil
}

func (e *Engine) preview(ctx context.Context, db *gorm.DB, scope tenant.Scope, w Window) (Preview, error) {
	out := Preview{Window: w, Payable: []PayableMember{}, MissingMandates: []MissingMandate{}, Total: decimal.Zero}
	from, to := w.bounds()

	var due []models.Contribution
	q := scope.Apply(db.Model(&models.Contribution{}), "dojo_id")
	if err := q.Where("due_date >= ? AND due_date < ? AND paid = ? AND payment_method = ? AND pending_item_id IS NULL",
		from, to, false, models.PaymentDirectDebit).
		Order("member_id ASC, due_date ASC, id ASC").
		Find(&due).Error; err != nil {
		return out, fmt.Errorf("load due contributions: %w", err)
	}
	if len(due) == 0 {
		return out, nil
	}

	byMember := map[uint][]models.Contribution{}
	var memberIDs []uint
	for _, c := range due {
		if _, ok := byMember[c.MemberID]; !ok {
			memberIDs = append(memberIDs, c.MemberID)
		}
		byMember[c.MemberID] = append(byMember[c.MemberID], c)
	}

	var members []models.Member
	if err := db.Where("id IN ?", memberIDs).Find(&members).Error; err != nil {
		return out, fmt.Errorf("load members: %w", err)
	}
	var mandates []models.SepaMandate
	if err := db.Where("member_id IN ? AND status = ?", memberIDs, models.MandateActive).Find(&mandates).Error; err != nil {
		return out, fmt.Errorf("load mandates: %w", err)
	}
	active := map[uint]models.SepaMandate{}
	for _, m := range mandates {
		active[m.MemberID] = m
	}

	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	for _, m := range members {
		contribs := byMember[m.ID]
		amount := sum(contribs)

		mandate, ok := active[m.ID]
		reason := ""
		switch {
		case m.ArchivedAt != nil:
			reason = ReasonMemberArchived
		case !ok || mandate.DojoID != m.DojoID:
			reason = ReasonNoActiveMandate
		}
		if reason != "" {
			out.MissingMandates = append(out.MissingMandates, MissingMandate{
				MemberID:        m.ID,
				DojoID:          m.DojoID,
				Name:            m.FullName(),
				ContributionIDs: ids(contribs),
				Amount:          amount,
				Reason:          reason,
			})
			continue
		}
		out.Payable = append(out.Payable, PayableMember{
			MemberID:         m.ID,
			DojoID:           m.DojoID,
			Name:             m.FullName(),
			CustomerRef:      m.ProcessorCustomerRef,
			PaymentMethodRef: m.ProcessorPaymentMethodRef,
			Mandate:          mandate,
			Contributions:    contribs,
			Amount:           amount,
			DueDate:          contribs[0].DueDate,
		})
		out.Total = out.Total.Add(amount)
	}
	return out, nil
}

// Batches lists recent batches in scope, newest first.
func (e *Engine) Batches(ctx context.Context, scope tenant.Scope, limit int) ([]models.CollectionBatch, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.CollectionBatch
	q := scope.Apply(e.db.WithContext(ctx).Model(&models.CollectionBatch{}), "dojo_id")
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}

// Batch returns one batch with its items.
func (e *Engine) Batch(ctx context.Context, scope tenant.Scope, id uint) (models.CollectionBatch, error) {
	var b models.CollectionBatch
	if err := tenant.Find(ctx, e.db, e.log, scope, id, &b); err != nil {
		return b, err
	}
	if err := e.db.WithContext(ctx).Where("batch_id = ?", b.ID).Order("id ASC").Find(&b.Items).Error; err != nil {
		return b, fmt.Errorf("load batch items: %w", err)
	}
	return b, nil
}

func sum(cs []models.Contribution) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cs {
		total = total.Add(c.Amount)
	}
	return total
}

func ids(cs []models.Contribution) []uint {
	out := make([]uint, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func joinIDs(in []uint) string {
	parts := make([]string, len(in))
	for i, id := range in {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

func parseIDs(s string) []uint {
	var out []uint
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err == nil && n > 0 {
			out = append(out, uint(n))
		}
	}
	return out
}

// clip keeps at most n characters, never splitting a rune.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
