// Package export serialises reconciliation views for treasurers' spreadsheets.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/commonfund/commonfund/internal/recon"
)

// WriteTotalsCSV serialises per-recipient totals to CSV.
func WriteTotalsCSV(w io.Writer, totals []recon.RecipientTotals, period string) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Period", "Recipient Unit", "Currency", "Pending", "Transferred", "Failed", "Reversed", "Net", "Entries"}); err != nil {
		return err
	}
	for _, t := range totals {
		record := []string{
			period,
			formatInt(t.RecipientUnitID),
			t.Currency,
			formatInt(t.Pending),
			formatInt(t.Transferred),
			formatInt(t.Failed),
			formatInt(t.Reversed),
			formatInt(t.Net),
			formatInt(t.EntryCount),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteStatementCSV emits a recipient statement as CSV, one row per entry.
func WriteStatementCSV(w io.Writer, statement recon.Statement) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Entry ID", "Contribution", "Source", "Amount", "Currency", "Status", "Transfer Ref", "Created At"}); err != nil {
		return err
	}
	for _, entry := range statement.Entries {
		record := []string{
			formatInt(entry.ID),
			entry.ContributionID,
			string(entry.SourceType),
			formatInt(entry.Amount),
			entry.Currency,
			string(entry.Status),
			entry.TransferRef,
			entry.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
