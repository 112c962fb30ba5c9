package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXWriter implements SheetWriter by writing one workbook per owner and date
// under a directory, and appending to a per-owner monitoring workbook.
type XLSXWriter struct {
	dir string
}

// NewXLSXWriter creates an XLSXWriter that writes into dir, creating it if needed.
func NewXLSXWriter(dir string) (*XLSXWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}
	return &XLSXWriter{dir: dir}, nil
}

func fileOwner(owner string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(owner), " ", "_"))
}

// ReportPath returns the workbook path for a report.
func (w *XLSXWriter) ReportPath(r Report) string {
	return filepath.Join(w.dir, fmt.Sprintf("holdings_%s_%s.xlsx", fileOwner(r.Owner), r.AsOf.UTC().Format("2006-01-02")))
}

// MonitoringPath returns the monitoring workbook path of an owner.
func (w *XLSXWriter) MonitoringPath(owner string) string {
	return filepath.Join(w.dir, fmt.Sprintf("monitoring_%s.xlsx", fileOwner(owner)))
}

// Write replaces the report workbook and appends a monitoring row.
func (w *XLSXWriter) Write(_ context.Context, r Report) error {
	if err := w.writeReport(r); err != nil {
		return err
	}
	return w.appendMonitoring(r)
}

func (w *XLSXWriter) writeReport(r Report) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing workbook: %w", cerr)
		}
	}()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D9EAD3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	sheets := []struct {
		name string
		rows [][]any
	}{
		{"SUMMARY", buildSummary(r)},
		{"POSITIONS", buildPositions(r)},
		{"LEDGERS", buildLedgers(r)},
	}
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return fmt.Errorf("renaming sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", s.name, err)
		}
		if err := writeRows(f, s.name, 1, s.rows); err != nil {
			return err
		}
		if s.name != "SUMMARY" {
			if err := f.SetRowStyle(s.name, 1, 1, header); err != nil {
				return fmt.Errorf("styling %s: %w", s.name, err)
			}
		}
	}

	if err := f.SaveAs(w.ReportPath(r)); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func (w *XLSXWriter) appendMonitoring(r Report) (err error) {
	const sheet = "MONITORING"
	path := w.MonitoringPath(r.Owner)

	f, err := excelize.OpenFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f = excelize.NewFile()
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("renaming sheet: %w", err)
		}
	case err != nil:
		return fmt.Errorf("opening monitoring workbook: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing monitoring workbook: %w", cerr)
		}
	}()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("reading monitoring rows: %w", err)
	}

	header, data := buildMonitoringRows(r)
	next := len(rows) + 1
	if len(rows) == 0 {
		if err := writeRows(f, sheet, 1, [][]any{header}); err != nil {
			return err
		}
		next = 2
	}
	if err := writeRows(f, sheet, next, [][]any{data}); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving monitoring workbook: %w", err)
	}
	return nil
}

// writeRows writes rows starting at column A of the given 1-based row.
func writeRows(f *excelize.File, sheet string, start int, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, start+i)
		if err != nil {
			return fmt.Errorf("resolving cell: %w", err)
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("writing %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
