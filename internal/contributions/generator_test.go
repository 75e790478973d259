package contributions

import (
	"context"
	"testing"
	"time"

	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"
	"dojo-backend/internal/testutil"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newGenerator(t *testing.T, opts Options) (*Generator, *gorm.DB, *testutil.Fixtures, *audit.Memory) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	rec := &audit.Memory{}
	return NewGenerator(db, zap.NewNop(), rec, opts), db, testutil.NewFixtures(t, db), rec
}

// Contract from 2025-01-01, 50 per month, 12 month term: twelve monthly rows,
// and a second call inserts nothing.
func TestGenerateInitialIsIdempotent(t *testing.T) {
	g, db, f, rec := newGenerator(t, Options{})
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	c := f.CreateContract(d.ID, m.ID, testutil.Date(2025, time.January, 1), "50", 12)

	in := InitialInput{
		MemberID:          m.ID,
		DojoID:            d.ID,
		ContractID:        c.ID,
		Start:             c.StartDate,
		MonthlyAmount:     decimal.NewFromInt(50),
		MinimumTermMonths: 12,
		PaymentMethod:     models.PaymentDirectDebit,
	}
	first, err := g.GenerateInitial(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.InsertedIDs) != 12 || first.SkippedCount != 0 {
		t.Fatalf("first call inserted %d skipped %d", len(first.InsertedIDs), first.SkippedCount)
	}

	var rows []models.Contribution
	if err := db.Where("contract_id = ?", c.ID).Order("period ASC").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		want := testutil.Date(2025, time.Month(i+1), 1)
		if !r.DueDate.Equal(want) || r.Period != want.Format("2006-01") {
			t.Fatalf("row %d: period %s due %s", i, r.Period, r.DueDate)
		}
		if !r.Amount.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("row %d amount %s", i, r.Amount)
		}
	}

	second, err := g.GenerateInitial(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.InsertedIDs) != 0 || second.SkippedCount != 12 {
		t.Fatalf("second call inserted %d skipped %d", len(second.InsertedIDs), second.SkippedCount)
	}

	var n int64
	db.Model(&models.Contribution{}).Where("contract_id = ?", c.ID).Count(&n)
	if n != 12 {
		t.Fatalf("%d rows after two calls", n)
	}
	if rec.Count(models.AuditActionGenerate) != 1 {
		t.Fatalf("only the inserting call is audited, got %d", rec.Count(models.AuditActionGenerate))
	}
}

func TestGenerateInitialSkipsWithoutAmount(t *testing.T) {
	g, _, f, _ := newGenerator(t, Options{})
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")

	res, err := g.GenerateInitial(context.Background(), InitialInput{
		MemberID: m.ID, DojoID: d.ID, ContractID: 1,
		Start: testutil.Date(2025, time.January, 1), MonthlyAmount: decimal.Zero,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkipReason != SkipNoAmount || len(res.InsertedIDs) != 0 {
		t.Fatalf("got %+v", res)
	}
}

func TestGenerateInitialFirstPeriod(t *testing.T) {
	g, db, f, _ := newGenerator(t, Options{ProrateFirstMonth: true})
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	start := testutil.Date(2025, time.April, 16)

	res, err := g.GenerateInitial(context.Background(), InitialInput{
		MemberID: m.ID, DojoID: d.ID, ContractID: 3,
		Start:             start,
		MonthlyAmount:     decimal.NewFromInt(30),
		SignupFee:         decimal.NewFromInt(25),
		MinimumTermMonths: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	// 16 April + 3 months - 1 day = 15 July: April through July.
	if len(res.InsertedIDs) != 4 {
		t.Fatalf("inserted %d, want 4", len(res.InsertedIDs))
	}

	var first, second models.Contribution
	db.Where("contract_id = ? AND period = ?", 3, "2025-04").First(&first)
	db.Where("contract_id = ? AND period = ?", 3, "2025-05").First(&second)
	if !first.DueDate.Equal(start) {
		t.Fatalf("first period due %s, want start date", first.DueDate)
	}
	// 15 of 30 days plus signup fee.
	if !first.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("first amount %s, want 40", first.Amount)
	}
	if !second.Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("second amount %s, want 30", second.Amount)
	}
}

func TestGenerateMissingRespectsScope(t *testing.T) {
	g, _, f, _ := newGenerator(t, Options{})
	d1 := f.CreateDojo("Nord")
	d2 := f.CreateDojo("Sued")
	m := f.CreateMember(d2.ID, "Ben", "Sued")
	c := f.CreateContract(d2.ID, m.ID, testutil.Date(2025, time.January, 1), "40", 6)

	if _, err := g.GenerateMissing(context.Background(), tenant.ForDojo(d1.ID), c.ID); err == nil {
		t.Fatal("contract of another dojo must not be reachable")
	}
	res, err := g.GenerateMissing(context.Background(), tenant.ForDojo(d2.ID), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.InsertedIDs) != 6 {
		t.Fatalf("inserted %d, want 6", len(res.InsertedIDs))
	}
}

func TestRegenerateAllIsolatesFailures(t *testing.T) {
	g, db, f, _ := newGenerator(t, Options{ContractTimeout: 5 * time.Second})
	d := f.CreateDojo("Nord")
	a := f.CreateMember(d.ID, "Anna", "Nord")
	b := f.CreateMember(d.ID, "Ben", "Nord")
	f.CreateContract(d.ID, a.ID, testutil.Date(2025, time.January, 1), "50", 12)
	broken := f.CreateContract(d.ID, b.ID, testutil.Date(2025, time.January, 1), "50", 12)
	f.CreateContract(d.ID, b.ID, testutil.Date(2025, time.March, 1), "20", 2)
	ended := f.CreateContract(d.ID, b.ID, testutil.Date(2025, time.March, 1), "20", 2)
	db.Model(&models.Contract{}).Where("id = ?", ended.ID).Update("status", models.ContractEnded)
	// A contract without start date cannot be generated.
	db.Model(&models.Contract{}).Where("id = ?", broken.ID).Update("start_date", time.Time{})

	out, err := g.RegenerateAll(context.Background(), tenant.ForDojo(d.ID))
	if err != nil {
		t.Fatal(err)
	}
	if out.Contracts != 3 {
		t.Fatalf("contracts %d, want 3 active", out.Contracts)
	}
	if out.Inserted != 14 {
		t.Fatalf("inserted %d, want 14", out.Inserted)
	}
	if len(out.Errors) != 1 || out.Errors[0].ContractID != broken.ID {
		t.Fatalf("errors %+v", out.Errors)
	}

	again, err := g.RegenerateAll(context.Background(), tenant.ForDojo(d.ID))
	if err != nil {
		t.Fatal(err)
	}
	if again.Inserted != 0 || again.Skipped != 14 {
		t.Fatalf("second pass inserted %d skipped %d", again.Inserted, again.Skipped)
	}
}
