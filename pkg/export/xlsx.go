package export

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet the table is written to.
const SheetName = "Tests"

// XLSXWriter writes export tables as xlsx workbooks.
type XLSXWriter struct {
	Sheet string
}

// NewXLSXWriter returns a writer using SheetName.
func NewXLSXWriter() *XLSXWriter {
	return &XLSXWriter{Sheet: SheetName}
}

// Write saves t to path. Row 1 holds the header, column A the first mapping
// entry. Null cells are left empty.
func (w *XLSXWriter) Write(path string, t Table) error {
	start := time.Now()

	sheet := w.Sheet
	if sheet == "" {
		sheet = SheetName
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, record := range t.Records() {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		row := record
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("rows", t.Len()).
		Dur("duration", time.Since(start)).
		Msg("Export written")

	return nil
}
