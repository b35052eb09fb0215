package google

import (
	"fmt"
	"strings"

	"cointraq/internal/core"
)

// header is written to row 1 of an empty sheet.
var header = []any{"ID", "User", "Type", "Date", "Source", "Amount"}

const lastColumn = "F"

// findRow returns the 1-based row whose first cell equals id, or 0. values
// is column A as returned by the Sheets API.
func findRow(values [][]any, id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0
	}
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i + 1
		}
	}
	return 0
}

// nextRow returns the first row after the used range, keeping row 1 for the
// header.
func nextRow(values [][]any) int {
	if len(values) == 0 {
		return 2
	}
	return len(values) + 1
}

// rowValues lays out one transaction in header order. Amounts are written
// as plain decimal strings so USER_ENTERED stores them as numbers without
// float rounding.
func rowValues(userID string, tx core.Transaction) []any {
	return []any{
		tx.ID,
		userID,
		string(tx.Kind),
		tx.DayString(),
		tx.Source,
		tx.Amount.StringFixed(2),
	}
}

func rowRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, row, lastColumn, row)
}
