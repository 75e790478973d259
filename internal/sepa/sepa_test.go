package sepa

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"dojo-backend/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestValidateIBAN(t *testing.T) {
	tests := []struct {
		iban string
		ok   bool
	}{
		{"DE89370400440532013000", true},
		{"de89 3704 0044 0532 0130 00", true},
		{"GB82WEST12345698765432", true},
		{"DE89370400440532013001", false},
		{"DE8937040044", false},
		{"", false},
		{"1234567890123456", false},
	}
	for _, tt := range tests {
		err := ValidateIBAN(tt.iban)
		if tt.ok && err != nil {
			t.Errorf("ValidateIBAN(%q) = %v, want ok", tt.iban, err)
		}
		if !tt.ok && !apperr.IsValidation(err) {
			t.Errorf("ValidateIBAN(%q) = %v, want validation error", tt.iban, err)
		}
	}
}

func TestValidateBIC(t *testing.T) {
	for _, bic := range []string{"", "COBADEFF", "COBADEFFXXX", "bylademm"} {
		if err := ValidateBIC(bic); err != nil {
			t.Errorf("ValidateBIC(%q) = %v", bic, err)
		}
	}
	for _, bic := range []string{"COBA", "COBADEFFX", "1OBADEFF"} {
		if err := ValidateBIC(bic); !apperr.IsValidation(err) {
			t.Errorf("ValidateBIC(%q) should fail", bic)
		}
	}
}

func sampleDocument() Document {
	return Document{
		MessageID: "batch-1",
		CreatedAt: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
		Currency:  "EUR",
		Creditor: Creditor{
			Name:       "Dojo Nord e.V.",
			CreditorID: "DE98ZZZ09999999999",
			IBAN:       "DE02120300000000202051",
			BIC:        "BYLADEM1001",
		},
		Debits: []Debit{
			{
				EndToEndID:  "e2e-1",
				MandateRef:  "DOJO1-M1-1735689600",
				MandateDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
				IBAN:        "DE89370400440532013000",
				BIC:         "COBADEFFXXX",
				Holder:      "Anna Nord",
				Amount:      decimal.RequireFromString("50"),
				DueDate:     time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
				Remittance:  "Beitrag 2025-02",
			},
			{
				EndToEndID:  "e2e-2",
				MandateRef:  "DOJO1-M2-1735689600",
				MandateDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
				IBAN:        "GB82WEST12345698765432",
				Holder:      "Ben Sued",
				Amount:      decimal.RequireFromString("35.5"),
				DueDate:     time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC),
				Remittance:  "Beitrag 2025-02",
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleDocument()); err != nil {
		t.Fatal(err)
	}
	r := csv.NewReader(&buf)
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "IBAN" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[2][6] != "35.50" || rows[1][5] != "DE98ZZZ09999999999" {
		t.Fatalf("unexpected row %v", rows[2])
	}
}

func TestWriteXML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXML(&buf, sampleDocument()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		pain008NS,
		"<NbOfTxs>2</NbOfTxs>",
		"<CtrlSum>85.50</CtrlSum>",
		`<InstdAmt Ccy="EUR">50.00</InstdAmt>`,
		"<MndtId>DOJO1-M1-1735689600</MndtId>",
		"<ReqdColltnDt>2025-02-15</ReqdColltnDt>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output misses %s", want)
		}
	}

	var parsed pain008Document
	if err := xml.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not well formed: %v", err)
	}
	if len(parsed.Init.PmtInf) != 2 {
		t.Fatalf("want one PmtInf per collection date, got %d", len(parsed.Init.PmtInf))
	}
	if parsed.Init.PmtInf[0].CdtrSchmeID.ID != "DE98ZZZ09999999999" {
		t.Fatalf("creditor id lost: %+v", parsed.Init.PmtInf[0].CdtrSchmeID)
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleDocument()); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][3] != "DOJO1-M1-1735689600" {
		t.Fatalf("unexpected sheet content %v", rows)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatXML {
		t.Fatalf("empty format = %q, %v", f, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatal("pdf is not an export format")
	}
}
