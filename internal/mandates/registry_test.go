package mandates

import (
	"context"
	"errors"
	"testing"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"
	"dojo-backend/internal/testutil"

	"go.uber.org/zap"
)

func validInput(memberID uint) CreateInput {
	return CreateInput{
		MemberID:   memberID,
		IBAN:       "DE89 3704 0044 0532 0130 00",
		BIC:        "cobadeffxxx",
		Holder:     "Anna Nord",
		CreditorID: "DE98ZZZ09999999999",
		SignedAt:   testutil.Date(2025, time.January, 2),
	}
}

func TestCreateMandate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	f := testutil.NewFixtures(t, db)
	rec := &audit.Memory{}
	reg := NewRegistry(db, zap.NewNop(), rec)
	reg.now = func() time.Time { return time.Unix(1735689600, 0).UTC() }

	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	scope := tenant.ForDojo(d.ID)

	got, err := reg.Create(context.Background(), scope, validInput(m.ID), audit.System)
	if err != nil {
		t.Fatal(err)
	}
	wantRef := Reference(d.ID, m.ID, time.Unix(1735689600, 0))
	if got.Reference != wantRef || got.IBAN != "DE89370400440532013000" || got.BIC != "COBADEFFXXX" {
		t.Fatalf("mandate %+v", got)
	}

	if _, err := reg.Create(context.Background(), scope, validInput(m.ID), audit.System); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second active mandate: %v", err)
	}

	if _, err := reg.Revoke(context.Background(), scope, got.ID, "account closed", audit.System); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Revoke(context.Background(), scope, got.ID, "", audit.System); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("revoking twice: %v", err)
	}

	// Same clock second: the new reference moves on instead of colliding.
	next, err := reg.Create(context.Background(), scope, validInput(m.ID), audit.System)
	if err != nil {
		t.Fatal(err)
	}
	if next.Reference == got.Reference {
		t.Fatal("mandate references must be unique")
	}

	active, err := reg.Active(context.Background(), scope, m.ID)
	if err != nil || active.ID != next.ID {
		t.Fatalf("active mandate %d, %v", active.ID, err)
	}
	list, err := reg.ListForMember(context.Background(), scope, m.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("list %d, %v", len(list), err)
	}
	if rec.Count(models.AuditActionRevoke) != 1 || rec.Count(models.AuditActionCreate) != 2 {
		t.Fatalf("audit events %+v", rec.Events())
	}
}

func TestCreateMandateValidation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	f := testutil.NewFixtures(t, db)
	reg := NewRegistry(db, zap.NewNop(), audit.Nop{})
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")

	tests := []struct {
		name  string
		mod   func(*CreateInput)
		field string
	}{
		{"bad checksum", func(in *CreateInput) { in.IBAN = "DE89370400440532013001" }, "iban"},
		{"bad bic", func(in *CreateInput) { in.BIC = "XX" }, "bic"},
		{"no holder", func(in *CreateInput) { in.Holder = " " }, "holder"},
		{"no creditor", func(in *CreateInput) { in.CreditorID = "" }, "creditor_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput(m.ID)
			tt.mod(&in)
			_, err := reg.Create(context.Background(), tenant.ForDojo(d.ID), in, audit.System)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("got %v, want validation error on %s", err, tt.field)
			}
		})
	}

	var n int64
	db.Model(&models.SepaMandate{}).Count(&n)
	if n != 0 {
		t.Fatal("rejected input must not write")
	}
}

func TestMandateScope(t *testing.T) {
	db := testutil.SetupTestDB(t)
	f := testutil.NewFixtures(t, db)
	reg := NewRegistry(db, zap.NewNop(), audit.Nop{})
	d1 := f.CreateDojo("Nord")
	d2 := f.CreateDojo("Sued")
	foreign := f.CreateMember(d2.ID, "Ben", "Sued")
	mandate := f.CreateMandate(d2.ID, foreign.ID, "DOJO2-M1-1")

	ctx := context.Background()
	if _, err := reg.Create(ctx, tenant.ForDojo(d1.ID), validInput(foreign.ID), audit.System); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("create for foreign member: %v", err)
	}
	if _, err := reg.Revoke(ctx, tenant.ForDojo(d1.ID), mandate.ID, "", audit.System); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("revoke foreign mandate: %v", err)
	}
	if _, err := reg.Active(ctx, tenant.ForDojo(d1.ID), foreign.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("active of foreign member: %v", err)
	}
}

func TestArchiveRevokesActive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	f := testutil.NewFixtures(t, db)
	reg := NewRegistry(db, zap.NewNop(), audit.Nop{})
	d := f.CreateDojo("Nord")
	m := f.CreateMember(d.ID, "Anna", "Nord")
	mandate := f.CreateMandate(d.ID, m.ID, "DOJO1-M1-1")

	got, err := reg.Archive(context.Background(), tenant.ForDojo(d.ID), mandate.ID, "member left", audit.System)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.MandateRevoked || got.ArchivedAt == nil || got.ArchiveReason != "member left" {
		t.Fatalf("archived mandate %+v", got)
	}
	if _, err := reg.Archive(context.Background(), tenant.ForDojo(d.ID), mandate.ID, "again", audit.System); err != nil {
		t.Fatalf("archiving twice is a no-op, got %v", err)
	}
}
