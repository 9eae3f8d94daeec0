package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// TableWriter renders one table into a file format.
type TableWriter interface {
	Write(w io.Writer, table Table) error
	Extension() string
	ContentType() string
}

// CSVWriter writes RFC 4180 CSV, header first.
type CSVWriter struct{}

func (CSVWriter) Write(w io.Writer, table Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(table.Rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

func (CSVWriter) Extension() string   { return "csv" }
func (CSVWriter) ContentType() string { return "text/csv" }

// XLSXWriter writes a workbook with a single sheet named after the table.
type XLSXWriter struct{}

func (XLSXWriter) Write(w io.Writer, table Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", table.Name); err != nil {
		return fmt.Errorf("failed to name sheet %s: %w", table.Name, err)
	}

	sw, err := f.NewStreamWriter(table.Name)
	if err != nil {
		return fmt.Errorf("failed to open sheet writer: %w", err)
	}
	rows := append([][]string{table.Header}, table.Rows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (XLSXWriter) Extension() string { return "xlsx" }
func (XLSXWriter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
