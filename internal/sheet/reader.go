// Package sheet loads the seminar export workbook into a model.Table.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	appLog "smartsign/internal/log"
	"smartsign/internal/model"
)

var (
	ErrNoSheets   = errors.New("workbook has no sheets")
	ErrEmptyTable = errors.New("sheet has no header row")
)

// PreferredSheets are tried in order before falling back to the first sheet.
var PreferredSheets = []string{
	"Data", "data",
	"Seminars", "seminars",
	"Program", "program",
	"ExportedPrograms", "exportedprograms",
}

// ReadFile opens an .xlsx workbook from disk.
func ReadFile(path string) (*model.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// Read parses an .xlsx workbook from r.
func Read(r io.Reader) (*model.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// SelectSheet picks the sheet to read from names.
func SelectSheet(names []string) (string, error) {
	if len(names) == 0 {
		return "", ErrNoSheets
	}
	for _, want := range PreferredSheets {
		for _, n := range names {
			if n == want {
				return n, nil
			}
		}
	}
	// Same names in any other capitalisation ("DATA", "Exportedprograms").
	for _, want := range PreferredSheets {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), want) {
				return n, nil
			}
		}
	}
	return names[0], nil
}

func readWorkbook(f *excelize.File) (*model.Table, error) {
	name, err := SelectSheet(f.GetSheetList())
	if err != nil {
		return nil, err
	}

	// Raw values keep dates as serial numbers and times as day fractions
	// instead of whatever display format the exporting tool chose.
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q: %w", name, ErrEmptyTable)
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	table := &model.Table{
		Sheet:   name,
		Columns: header,
		Rows:    make([]model.SourceRow, 0, len(rows)-1),
	}

	for _, cells := range rows[1:] {
		row := make(model.SourceRow, len(header))
		blank := true
		for i, col := range header {
			if col == "" || i >= len(cells) {
				continue
			}
			v := cellValue(cells[i])
			if !v.IsEmpty() {
				blank = false
			}
			row[col] = v
		}
		if blank {
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	appLog.Info("workbook sheet loaded",
		"sheet", name,
		"columns", len(header),
		"rows", len(table.Rows),
	)
	return table, nil
}

// cellValue classifies a raw cell string. Numbers keep their text so that a
// numeric title still displays as typed.
func cellValue(raw string) model.Value {
	if strings.TrimSpace(raw) == "" {
		return model.Value{}
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return model.Value{Kind: model.KindNumber, Number: n, Text: raw}
	}
	return model.TextValue(raw)
}
