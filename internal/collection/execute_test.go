package collection

import (
	"context"
	"errors"
	"testing"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/invoices"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"
	"dojo-backend/internal/testutil"

	"go.uber.org/zap"
)

func itemFor(t *testing.T, items []models.CollectionItem, memberID uint) models.CollectionItem {
	t.Helper()
	for _, it := range items {
		if it.MemberID == memberID {
			return it
		}
	}
	t.Fatalf("no item for member %d", memberID)
	return models.CollectionItem{}
}

func TestExecutePartialProcessorFailure(t *testing.T) {
	e := newEnv(t, 3)
	d := e.f.CreateDojo("Nord")
	m1, c1 := e.member(d.ID, "Anna", true)
	m2, c2 := e.member(d.ID, "Ben", true)
	m3, c3 := e.member(d.ID, "Cem", true)
	e.proc.errs[m2.ProcessorCustomerRef] = errors.New("connection reset by peer")

	out, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(out.Items))
	}
	if got := itemFor(t, out.Items, m1.ID).Outcome; got != models.OutcomeSucceeded {
		t.Fatalf("member 1 outcome %s", got)
	}
	if got := itemFor(t, out.Items, m3.ID).Outcome; got != models.OutcomeSucceeded {
		t.Fatalf("member 3 outcome %s", got)
	}
	stuck := itemFor(t, out.Items, m2.ID)
	if stuck.Outcome != models.OutcomeProcessing {
		t.Fatalf("member 2 outcome %s, want processing", stuck.Outcome)
	}
	if out.Batch.Status != models.BatchReconciling || out.Batch.Processing != 1 || out.Batch.Succeeded != 2 {
		t.Fatalf("batch = %+v", out.Batch)
	}

	e.f.Reload(&c1)
	e.f.Reload(&c2)
	e.f.Reload(&c3)
	if !c1.Paid || !c3.Paid {
		t.Fatal("members 1 and 3 should be paid")
	}
	if c2.Paid || c2.PendingItemID == nil || *c2.PendingItemID != stuck.ID {
		t.Fatalf("member 2 contribution should stay claimed: %+v", c2)
	}

	// The processor reports the outcome later.
	res, err := e.rc.ApplyEvent(context.Background(), EventInput{
		EventID:   "evt_1",
		Reference: stuck.IdempotencyKey,
		Outcome:   models.OutcomeSucceeded,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.Outcome != models.OutcomeSucceeded {
		t.Fatalf("apply = %+v", res)
	}
	e.f.Reload(&c2)
	if !c2.Paid || c2.PendingItemID != nil {
		t.Fatalf("member 2 not settled: %+v", c2)
	}
	b, err := e.eng.Batch(context.Background(), tenant.ForDojo(d.ID), out.Batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.BatchClosed || b.Succeeded != 3 {
		t.Fatalf("batch after reconcile = %s succeeded %d", b.Status, b.Succeeded)
	}

	again, err := e.rc.ApplyEvent(context.Background(), EventInput{
		EventID:   "evt_1",
		Reference: stuck.IdempotencyKey,
		Outcome:   models.OutcomeSucceeded,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Duplicate || again.Applied {
		t.Fatalf("redelivery = %+v", again)
	}
}

func TestExecuteFailedChargeReleasesAndDuns(t *testing.T) {
	e := newEnv(t, 1)
	d := e.f.CreateDojo("Nord")
	m, c := e.member(d.ID, "Anna", true)
	e.proc.results[m.ProcessorCustomerRef] = CollectResult{Reference: "ch_x", Outcome: models.OutcomeFailed, FailureReason: "insufficient_funds"}

	out, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
	if err != nil {
		t.Fatal(err)
	}
	it := itemFor(t, out.Items, m.ID)
	if it.Outcome != models.OutcomeFailed || it.FailureReason != "insufficient_funds" {
		t.Fatalf("item = %+v", it)
	}
	if out.Batch.Status != models.BatchClosed {
		t.Fatalf("batch status %s", out.Batch.Status)
	}
	e.f.Reload(&c)
	if c.Paid || c.PendingItemID != nil || c.DunningStage != 1 {
		t.Fatalf("contribution = %+v", c)
	}

	// Released rows are collectable again in a later run.
	delete(e.proc.results, m.ProcessorCustomerRef)
	if _, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System}); err != nil {
		t.Fatal(err)
	}
	e.f.Reload(&c)
	if !c.Paid {
		t.Fatal("second run should settle the contribution")
	}
}

func TestExecuteSkipsContributionSettledAfterPreview(t *testing.T) {
	e := newEnv(t, 1)
	d := e.f.CreateDojo("Nord")
	_, _ = e.member(d.ID, "Anna", true)
	ben, benDue := e.member(d.ID, "Ben", true)

	// With one worker members run in order; settle Ben's row while Anna is being charged.
	e.proc.hook = func(req CollectRequest) {
		if req.CustomerRef == "cus_Anna" {
			e.db.Model(&models.Contribution{}).Where("id = ?", benDue.ID).Update("paid", true)
		}
	}

	out, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
	if err != nil {
		t.Fatal(err)
	}
	it := itemFor(t, out.Items, ben.ID)
	if it.Outcome != models.OutcomeSkipped || it.FailureReason != ReasonAlreadySettled {
		t.Fatalf("ben item = %+v", it)
	}
	if e.proc.callCount() != 1 {
		t.Fatalf("processor called %d times, want 1", e.proc.callCount())
	}
}

func TestExecuteNeverSubmitsTwice(t *testing.T) {
	e := newEnv(t, 2)
	d := e.f.CreateDojo("Nord")
	e.member(d.ID, "Anna", true)
	e.member(d.ID, "Ben", true)

	if _, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System}); err != nil {
		t.Fatal(err)
	}
	second, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Items) != 0 {
		t.Fatalf("second run collected %d items", len(second.Items))
	}
	if e.proc.callCount() != 2 {
		t.Fatalf("processor called %d times, want 2", e.proc.callCount())
	}
}

func TestConcurrentExecuteFailsFast(t *testing.T) {
	e := newEnv(t, 1)
	d := e.f.CreateDojo("Nord")
	e.member(d.ID, "Anna", true)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	e.proc.hook = func(CollectRequest) {
		close(entered)
		<-unblock
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the processor")
	}
	_, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
	if !errors.Is(err, apperr.ErrBatchRunning) {
		t.Fatalf("expected batch running, got %v", err)
	}
	close(unblock)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if e.proc.callCount() != 1 {
		t.Fatalf("processor called %d times", e.proc.callCount())
	}
}

func TestExecuteMemberWithoutProcessorRefIsSkipped(t *testing.T) {
	e := newEnv(t, 1)
	d := e.f.CreateDojo("Nord")
	m, c := e.member(d.ID, "Anna", true)
	e.db.Model(&models.Member{}).Where("id = ?", m.ID).Update("processor_payment_method_ref", "")

	out, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
	if err != nil {
		t.Fatal(err)
	}
	if it := itemFor(t, out.Items, m.ID); it.Outcome != models.OutcomeSkipped || it.FailureReason != ReasonNoProcessorRef {
		t.Fatalf("item = %+v", it)
	}
	e.f.Reload(&c)
	if c.PendingItemID != nil {
		t.Fatal("claim should be released")
	}
	if e.proc.callCount() != 0 {
		t.Fatal("processor should not be called")
	}
}

func TestExecuteSettlesLinkedInvoice(t *testing.T) {
	e := newEnv(t, 1)
	d := e.f.CreateDojo("Nord")
	m, c := e.member(d.ID, "Anna", true)

	log := zap.NewNop()
	inv := invoices.NewService(e.db, log, e.rec, invoices.NewSequencer(e.db, log))
	invoice, err := inv.InvoiceContributions(context.Background(), tenant.ForDojo(d.ID), m.ID, []uint{c.ID}, testutil.Date(2025, time.March, 1), audit.System)
	if err != nil {
		t.Fatal(err)
	}
	if invoice.Status != models.InvoiceOpen {
		t.Fatalf("invoice status %s", invoice.Status)
	}

	if _, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System}); err != nil {
		t.Fatal(err)
	}
	status, err := inv.SyncStatus(context.Background(), tenant.ForDojo(d.ID), invoice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status != models.InvoicePaid {
		t.Fatalf("invoice status %s, want paid", status)
	}
}

func TestPollProcessingSettlesKnownCharges(t *testing.T) {
	e := newEnv(t, 1)
	d := e.f.CreateDojo("Nord")
	m, c := e.member(d.ID, "Anna", true)
	e.proc.results[m.ProcessorCustomerRef] = CollectResult{Reference: "ch_slow", Outcome: models.OutcomeProcessing}

	out, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System})
	if err != nil {
		t.Fatal(err)
	}
	if out.Batch.Status != models.BatchReconciling {
		t.Fatalf("batch status %s", out.Batch.Status)
	}

	res, err := e.rc.PollProcessing(context.Background(), tenant.ForDojo(d.ID))
	if err != nil {
		t.Fatal(err)
	}
	if res.Checked != 1 || res.Settled != 0 {
		t.Fatalf("first poll = %+v", res)
	}

	e.proc.statuses["ch_slow"] = CollectResult{Reference: "ch_slow", Outcome: models.OutcomeSucceeded}
	res, err = e.rc.PollProcessing(context.Background(), tenant.AllDojos())
	if err != nil {
		t.Fatal(err)
	}
	if res.Settled != 1 || len(res.Errors) != 0 {
		t.Fatalf("second poll = %+v", res)
	}
	e.f.Reload(&c)
	if !c.Paid {
		t.Fatal("contribution should be paid after poll")
	}
}

func TestApplyEventFailureAfterProcessing(t *testing.T) {
	e := newEnv(t, 1)
	d := e.f.CreateDojo("Nord")
	m, c := e.member(d.ID, "Anna", true)
	e.proc.results[m.ProcessorCustomerRef] = CollectResult{Reference: "ch_late", Outcome: models.OutcomeProcessing}

	if _, err := e.eng.Execute(context.Background(), tenant.ForDojo(d.ID), ExecuteRequest{Window: march(t), Actor: audit.System}); err != nil {
		t.Fatal(err)
	}
	res, err := e.rc.ApplyEvent(context.Background(), EventInput{EventID: "evt_9", Reference: "ch_late", Outcome: models.OutcomeFailed, FailureReason: "charged_back"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || res.Outcome != models.OutcomeFailed {
		t.Fatalf("apply = %+v", res)
	}
	e.f.Reload(&c)
	if c.Paid || c.PendingItemID != nil || c.DunningStage != 1 {
		t.Fatalf("contribution = %+v", c)
	}

	// A late success for a failed item changes nothing.
	late, err := e.rc.ApplyEvent(context.Background(), EventInput{EventID: "evt_10", Reference: "ch_late", Outcome: models.OutcomeSucceeded})
	if err != nil {
		t.Fatal(err)
	}
	if late.Applied {
		t.Fatal("terminal item must not flip")
	}
	e.f.Reload(&c)
	if c.Paid {
		t.Fatal("contribution must stay unpaid")
	}
}

func TestApplyEventValidation(t *testing.T) {
	e := newEnv(t, 1)
	tests := []struct {
		name string
		in   EventInput
	}{
		{"no event id", EventInput{Reference: "x", Outcome: models.OutcomeSucceeded}},
		{"no reference", EventInput{EventID: "e", Outcome: models.OutcomeSucceeded}},
		{"bad outcome", EventInput{EventID: "e", Reference: "x", Outcome: models.OutcomeSkipped}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.rc.ApplyEvent(context.Background(), tt.in); !apperr.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	res, err := e.rc.ApplyEvent(context.Background(), EventInput{EventID: "e1", Reference: "nobody", Outcome: models.OutcomeSucceeded})
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || res.ItemID != 0 {
		t.Fatalf("unknown reference applied: %+v", res)
	}
}
