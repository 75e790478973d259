package sepa

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Lastschriften"

// WriteXLSX writes the debits to a single sheet. Amounts are numeric cells.
func WriteXLSX(w io.Writer, doc Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, d := range doc.Debits {
		values := d.row(doc.Creditor.CreditorID)
		row := make([]any, len(values))
		for j, v := range values {
			row[j] = v
		}
		amount, _ := d.Amount.Round(2).Float64()
		row[6] = amount

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
