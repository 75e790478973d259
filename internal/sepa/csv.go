package sepa

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes a semicolon separated file with a header row.
func WriteCSV(w io.Writer, doc Document) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, d := range doc.Debits {
		if err := cw.Write(d.row(doc.Creditor.CreditorID)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
