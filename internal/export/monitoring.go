package export

import (
	"context"
	"fmt"

	sheets "google.golang.org/api/sheets/v4"
)

// monitoringCol describes one column in the MONITORING sheet.
type monitoringCol struct {
	header string
	value  func(Report) any
}

// monitoringColumns defines the data columns (B onwards) in order.
// Column A (Date) is prepended separately in buildMonitoringRows.
var monitoringColumns = []monitoringCol{
	{header: "Owner", value: func(r Report) any { return r.Owner }},
	{header: "Currency", value: func(r Report) any { return r.ReportingCurrency }},
	{header: "Cost", value: func(r Report) any { return toFloat(r.Totals.Cost.Amount()) }},
	{header: "Market Value", value: func(r Report) any { return toFloat(r.Totals.MarketValue.Amount()) }},
	{header: "Unrealized", value: func(r Report) any { return toFloat(r.Totals.Unrealized.Amount()) }},
	{header: "Realized", value: func(r Report) any { return toFloat(r.Totals.Realized.Amount()) }},
	{header: "Positions", value: func(r Report) any { return float64(len(r.Positions)) }},
	{header: "Ledgers", value: func(r Report) any { return float64(len(r.Ledgers)) }},
	{header: "Week", value: func(r Report) any { return ptrFloat(r.WeekChange) }},
	{header: "Month", value: func(r Report) any { return ptrFloat(r.MonthChange) }},
	{header: "Quarter", value: func(r Report) any { return ptrFloat(r.QuarterChange) }},
	{header: "Year", value: func(r Report) any { return ptrFloat(r.YearChange) }},
	{header: "Complete", value: func(r Report) any {
		if r.Totals.Complete {
			return float64(1)
		}
		return float64(0)
	}},
}

// monitoringLastCol is the column letter of the last monitoring column.
const monitoringLastCol = "N"

// buildMonitoringRows builds the header row and a single data row for the MONITORING sheet.
func buildMonitoringRows(r Report) (header []any, data []any) {
	header = make([]any, 1+len(monitoringColumns))
	header[0] = "Date"
	for i, col := range monitoringColumns {
		header[i+1] = col.header
	}

	data = make([]any, 1+len(monitoringColumns))
	data[0] = r.AsOf.UTC().Format("02.01.2006")
	for i, col := range monitoringColumns {
		data[i+1] = col.value(r)
	}

	return header, data
}

// AppendMonitoring ensures the MONITORING sheet exists, writes the header row if the
// sheet is new or empty, then appends one data row for the report.
func (w *SheetsWriter) AppendMonitoring(ctx context.Context, r Report) error {
	meta, err := w.ensureSheets(ctx, "MONITORING")
	if err != nil {
		return fmt.Errorf("ensuring MONITORING sheet: %w", err)
	}

	header, data := buildMonitoringRows(r)

	existing, err := w.svc.Spreadsheets.Values.Get(
		w.spreadsheetID, "MONITORING!A1:A1",
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading MONITORING header: %w", err)
	}

	if len(existing.Values) < 1 {
		_, err = w.svc.Spreadsheets.Values.Update(
			w.spreadsheetID,
			"MONITORING!A1",
			&sheets.ValueRange{Values: [][]any{header}},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("writing MONITORING header: %w", err)
		}
		if err := w.freezeHeader(ctx, meta["MONITORING"]); err != nil {
			return fmt.Errorf("formatting MONITORING sheet: %w", err)
		}
	}

	_, err = w.svc.Spreadsheets.Values.Append(
		w.spreadsheetID,
		"MONITORING!A:"+monitoringLastCol,
		&sheets.ValueRange{Values: [][]any{data}},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending MONITORING row: %w", err)
	}

	return nil
}

// freezeHeader makes the first row bold on a light-green background and freezes it
// together with the date column.
func (w *SheetsWriter) freezeHeader(ctx context.Context, sheetID int64) error {
	// #D9EAD3
	lightGreen := &sheets.Color{Red: 0.851, Green: 0.918, Blue: 0.827}

	reqs := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(1 + len(monitoringColumns)),
				},
				Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
					BackgroundColor:     lightGreen,
					TextFormat:          &sheets.TextFormat{Bold: true},
					HorizontalAlignment: "CENTER",
				}},
				Fields: "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: sheetID,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount:    1,
						FrozenColumnCount: 1,
					},
				},
				Fields: "gridProperties.frozenRowCount,gridProperties.frozenColumnCount",
			},
		},
	}

	_, err := w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: reqs},
	).Context(ctx).Do()
	return err
}
