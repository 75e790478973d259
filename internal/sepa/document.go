package sepa

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatXML, FormatXLSX:
		return f, nil
	case "":
		return FormatXML, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/xml"
}

// Creditor is the collecting account of one export run.
type Creditor struct {
	Name       string
	CreditorID string
	IBAN       string
	BIC        string
}

// Debit is one payable member.
type Debit struct {
	EndToEndID  string
	MandateRef  string
	MandateDate time.Time
	IBAN        string
	BIC         string
	Holder      string
	Amount      decimal.Decimal
	DueDate     time.Time
	Remittance  string
}

type Document struct {
	MessageID string
	CreatedAt time.Time
	Currency  string
	Creditor  Creditor
	Debits    []Debit
}

func (d Document) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, x := range d.Debits {
		sum = sum.Add(x.Amount)
	}
	return sum
}

// Write renders doc in the given format.
func Write(w io.Writer, f Format, doc Document) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, doc)
	case FormatXML:
		return WriteXML(w, doc)
	case FormatXLSX:
		return WriteXLSX(w, doc)
	}
	return fmt.Errorf("unknown export format %q", f)
}

var columns = []string{
	"IBAN", "BIC", "Kontoinhaber", "Mandatsreferenz", "Mandatsdatum",
	"Glaeubiger-ID", "Betrag", "Faelligkeit", "Verwendungszweck",
}

func (d Debit) row(creditorID string) []string {
	return []string{
		d.IBAN,
		d.BIC,
		d.Holder,
		d.MandateRef,
		d.MandateDate.Format("2006-01-02"),
		creditorID,
		d.Amount.StringFixed(2),
		d.DueDate.Format("2006-01-02"),
		d.Remittance,
	}
}
