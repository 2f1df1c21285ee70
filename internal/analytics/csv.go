package analytics

import (
	"encoding/csv"
	"fmt"
	"io"

	"billfold/internal/core"
)

var csvHeader = []string{"Date", "Description", "Category", "Amount"}

// WriteCSV writes the given expenses as CSV in their current order, one row
// per expense after a header row. Fields with embedded separators or quotes
// are escaped per RFC 4180, which tightens the original unescaped export.
func WriteCSV(w io.Writer, expenses []core.Expense) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range expenses {
		row := []string{e.Date.String(), e.Description, e.Category, e.Amount.String()}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
