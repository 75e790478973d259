package invoices

import (
	"context"
	"sync"
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

func newService(t *testing.T) (*Service, *gorm.DB, *testutil.Fixtures) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop()
	svc := NewService(db, log, &audit.Memory{}, NewSequencer(db, log))
	return svc, db, testutil.NewFixtures(t, db)
}

func oneLine(amount string) []LineInput {
	return []LineInput{{
		Description: "Mitgliedsbeitrag",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.RequireFromString(amount),
	}}
}

func TestStatusFor(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		paid, total string
		want        models.InvoiceStatus
	}{
		{"0", "100", models.InvoiceOpen},
		{"0.01", "100", models.InvoicePartiallyPaid},
		{"99.99", "100", models.InvoicePartiallyPaid},
		{"100", "100", models.InvoicePaid},
		{"120", "100", models.InvoicePaid},
		{"0", "0", models.InvoiceOpen},
	}
	for _, tt := range tests {
		if got := StatusFor(d(tt.paid), d(tt.total)); got != tt.want {
			t.Errorf("StatusFor(%s, %s) = %s, want %s", tt.paid, tt.total, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	got := Format(time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), 0)
	if got != "2025/03/07-1000" {
		t.Fatalf("Format = %s", got)
	}
	if got := Format(time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), 9123); got != "2025/03/07-10123" {
		t.Fatalf("Format beyond four digits = %s", got)
	}
}

func TestNextNumberSeedsFromBothTables(t *testing.T) {
	svc, db, f := newService(t)
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	issued := testutil.Date(2025, time.January, 10)

	if err := db.Create(&models.Invoice{DojoID: d.ID, MemberID: m.ID, Number: "2025/01/10-1000", IssueDate: issued, Status: models.InvoiceOpen}).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&models.FeeInvoice{DojoID: d.ID, MemberID: m.ID, Number: "2025/01/10-1001", IssueDate: issued, Amount: decimal.NewFromInt(5)}).Error; err != nil {
		t.Fatal(err)
	}
	// Rows of another year do not count.
	if err := db.Create(&models.Invoice{DojoID: d.ID, MemberID: m.ID, Number: "2024/12/31-1000", IssueDate: testutil.Date(2024, time.December, 31), Status: models.InvoiceOpen}).Error; err != nil {
		t.Fatal(err)
	}

	got, err := svc.seq.NextNumber(context.Background(), testutil.Date(2025, time.February, 2))
	if err != nil {
		t.Fatal(err)
	}
	if got != "2025/02/02-1002" {
		t.Fatalf("NextNumber = %s, want 2025/02/02-1002", got)
	}
}

// Two invoices requested at the same time both succeed with distinct numbers.
func TestConcurrentInvoicesGetDistinctNumbers(t *testing.T) {
	svc, _, f := newService(t)
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	scope := tenant.ForDojo(d.ID)
	issue := testutil.Date(2025, time.May, 5)

	const n = 12
	contribs := make(map[int]models.Contribution)
	for i := 0; i < n; i += 3 {
		contribs[i] = f.CreateContribution(d.ID, m.ID, uint(100+i), issue, "20")
	}

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				fee, err := svc.CreateFeeInvoice(context.Background(), scope, contribs[i].ID, issue, audit.System)
				numbers[i], errs[i] = fee.Number, err
				return
			}
			inv, err := svc.Create(context.Background(), scope, CreateInput{MemberID: m.ID, IssueDate: issue, Lines: oneLine("50")}, audit.System)
			numbers[i], errs[i] = inv.Number, err
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range numbers {
		if errs[i] != nil {
			t.Fatalf("allocation %d failed: %v", i, errs[i])
		}
		if seen[numbers[i]] {
			t.Fatalf("duplicate invoice number %s", numbers[i])
		}
		seen[numbers[i]] = true
	}
	for off := 0; off < n; off++ {
		if !seen[Format(issue, off)] {
			t.Errorf("expected sequential number %s", Format(issue, off))
		}
	}
}

func TestCreateRetriesOnTakenNumber(t *testing.T) {
	svc, db, f := newService(t)
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	issue := testutil.Date(2025, time.June, 1)

	// Imported row with a number the counter will hand out first.
	if err := db.Create(&models.FeeInvoice{DojoID: d.ID, MemberID: m.ID, Number: Format(issue, 1), IssueDate: issue, Amount: decimal.NewFromInt(1)}).Error; err != nil {
		t.Fatal(err)
	}

	inv, err := svc.Create(context.Background(), tenant.ForDojo(d.ID), CreateInput{MemberID: m.ID, IssueDate: issue, Lines: oneLine("10")}, audit.System)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Number != Format(issue, 2) {
		t.Fatalf("number %s, want %s", inv.Number, Format(issue, 2))
	}
}

func TestCreateComputesTotals(t *testing.T) {
	svc, _, f := newService(t)
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")

	inv, err := svc.Create(context.Background(), tenant.ForDojo(d.ID), CreateInput{
		MemberID: m.ID,
		Lines: []LineInput{
			{Description: "Pruefungsgebuehr", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("12.50"), TaxRate: decimal.NewFromInt(19)},
			{Description: "Beitrag", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("40")},
		},
	}, audit.System)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Net.Equal(decimal.RequireFromString("65")) || !inv.Tax.Equal(decimal.RequireFromString("4.75")) || !inv.Gross.Equal(decimal.RequireFromString("69.75")) {
		t.Fatalf("totals net=%s tax=%s gross=%s", inv.Net, inv.Tax, inv.Gross)
	}
}

func TestCreateRejectsOtherDojoMember(t *testing.T) {
	svc, _, f := newService(t)
	d1 := f.CreateDojo("Nord")
	d2 := f.CreateDojo("Sued")
	foreign := f.CreateMember(d2.ID, "Ben", "Sued")

	_, err := svc.Create(context.Background(), tenant.ForDojo(d1.ID), CreateInput{MemberID: foreign.ID, Lines: oneLine("10")}, audit.System)
	if err == nil {
		t.Fatal("expected not found")
	}
}

func TestSyncStatusIsIdempotent(t *testing.T) {
	svc, _, f := newService(t)
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	scope := tenant.ForDojo(d.ID)
	ctx := context.Background()

	inv, err := svc.Create(ctx, scope, CreateInput{MemberID: m.ID, Lines: oneLine("100")}, audit.System)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		st, err := svc.SyncStatus(ctx, scope, inv.ID)
		if err != nil || st != models.InvoiceOpen {
			t.Fatalf("round %d: %s, %v", i, st, err)
		}
	}

	_, st, err := svc.RecordPayment(ctx, scope, inv.ID, PaymentInput{Amount: decimal.NewFromInt(40), Method: models.PaymentBankTransfer}, audit.System)
	if err != nil || st != models.InvoicePartiallyPaid {
		t.Fatalf("after partial payment: %s, %v", st, err)
	}
	for i := 0; i < 3; i++ {
		st, err := svc.SyncStatus(ctx, scope, inv.ID)
		if err != nil || st != models.InvoicePartiallyPaid {
			t.Fatalf("round %d: %s, %v", i, st, err)
		}
	}

	_, st, err = svc.RecordPayment(ctx, scope, inv.ID, PaymentInput{Amount: decimal.NewFromInt(60), Method: models.PaymentCash}, audit.System)
	if err != nil || st != models.InvoicePaid {
		t.Fatalf("after full payment: %s, %v", st, err)
	}
}

func TestInvoiceContributions(t *testing.T) {
	svc, db, f := newService(t)
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	c1 := f.CreateContribution(d.ID, m.ID, 1, testutil.Date(2025, time.January, 1), "50")
	c2 := f.CreateContribution(d.ID, m.ID, 1, testutil.Date(2025, time.February, 1), "50")
	paidAt := testutil.Date(2025, time.January, 3)
	if err := db.Model(&models.Contribution{}).Where("id = ?", c1.ID).Updates(map[string]any{"paid": true, "paid_at": paidAt}).Error; err != nil {
		t.Fatal(err)
	}
	scope := tenant.ForDojo(d.ID)

	inv, err := svc.InvoiceContributions(context.Background(), scope, m.ID, []uint{c1.ID, c2.ID}, testutil.Date(2025, time.February, 1), audit.System)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Gross.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("gross %s", inv.Gross)
	}
	if inv.Status != models.InvoicePartiallyPaid {
		t.Fatalf("status %s, want partially paid from the already paid contribution", inv.Status)
	}
	f.Reload(&c2)
	if c2.InvoiceID == nil || *c2.InvoiceID != inv.ID {
		t.Fatal("contribution not linked to invoice")
	}

	if _, err := svc.InvoiceContributions(context.Background(), scope, m.ID, []uint{c2.ID}, time.Time{}, audit.System); err == nil {
		t.Fatal("invoicing a contribution twice must conflict")
	}
}
