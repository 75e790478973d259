package testutil

import (
	"fmt"
	"testing"
	"time"

	"dojo-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fixtures creates rows directly, bypassing services.
type Fixtures struct {
	db *gorm.DB
	t  *testing.T
}

func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

func (f *Fixtures) DB() *gorm.DB {
	return f.db
}

func (f *Fixtures) create(v any) {
	f.t.Helper()
	if err := f.db.Create(v).Error; err != nil {
		f.t.Fatalf("create %T: %v", v, err)
	}
}

func (f *Fixtures) CreateDojo(name string) models.Dojo {
	f.t.Helper()
	d := models.Dojo{Name: name, CreditorName: name + " e.V."}
	f.create(&d)
	return d
}

// CreateMember creates a direct-debit member with valid German bank details.
func (f *Fixtures) CreateMember(dojoID uint, first, last string) models.Member {
	f.t.Helper()
	m := models.Member{
		DojoID:                    dojoID,
		FirstName:                 first,
		LastName:                  last,
		Email:                     fmt.Sprintf("%s.%s@example.test", first, last),
		PaymentMethod:             models.PaymentDirectDebit,
		IBAN:                      "DE89370400440532013000",
		BIC:                       "COBADEFFXXX",
		AccountHolder:             first + " " + last,
		ProcessorCustomerRef:      fmt.Sprintf("cus_%s", first),
		ProcessorPaymentMethodRef: fmt.Sprintf("pm_%s", first),
	}
	f.create(&m)
	return m
}

func (f *Fixtures) CreateContract(dojoID, memberID uint, start time.Time, monthly string, termMonths int) models.Contract {
	f.t.Helper()
	c := models.Contract{
		DojoID:            dojoID,
		MemberID:          memberID,
		Status:            models.ContractActive,
		StartDate:         start,
		MinimumTermMonths: termMonths,
		MonthlyAmount:     decimal.RequireFromString(monthly),
		BillingCycle:      models.CycleMonthly,
		TariffAmount:      decimal.RequireFromString(monthly),
		PaymentMethod:     models.PaymentDirectDebit,
	}
	f.create(&c)
	return c
}

func (f *Fixtures) CreateMandate(dojoID, memberID uint, ref string) models.SepaMandate {
	f.t.Helper()
	m := models.SepaMandate{
		DojoID:     dojoID,
		MemberID:   memberID,
		Reference:  ref,
		CreditorID: "DE98ZZZ09999999999",
		IBAN:       "DE89370400440532013000",
		BIC:        "COBADEFFXXX",
		Holder:     "Test Holder",
		Status:     models.MandateActive,
		SignedAt:   Date(2024, time.December, 1),
	}
	f.create(&m)
	return m
}

// CreateContribution creates an unpaid direct-debit contribution.
func (f *Fixtures) CreateContribution(dojoID, memberID, contractID uint, due time.Time, amount string) models.Contribution {
	f.t.Helper()
	c := models.Contribution{
		DojoID:        dojoID,
		MemberID:      memberID,
		ContractID:    contractID,
		Period:        due.Format("2006-01"),
		Amount:        decimal.RequireFromString(amount),
		DueDate:       due,
		PaymentMethod: models.PaymentDirectDebit,
	}
	f.create(&c)
	return c
}

func (f *Fixtures) CreateCreditorAccount(dojoID uint) models.CreditorAccount {
	f.t.Helper()
	a := models.CreditorAccount{
		DojoID:     dojoID,
		Name:       "Hauptkonto",
		CreditorID: "DE98ZZZ09999999999",
		IBAN:       "DE02120300000000202051",
		BIC:        "BYLADEM1001",
		IsActive:   true,
	}
	f.create(&a)
	return a
}

// Reload re-reads a contribution.
func (f *Fixtures) Reload(c *models.Contribution) {
	f.t.Helper()
	if err := f.db.First(c, c.ID).Error; err != nil {
		f.t.Fatalf("reload contribution %d: %v", c.ID, err)
	}
}
