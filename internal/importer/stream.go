package importer

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// streamCSV reads a CSV file and sends every row, header included, to
// the returned channel. The caller must drain the row channel; both
// channels close when the file is exhausted or the context ends.
func streamCSV(ctx context.Context, path string) (<-chan []string, <-chan error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "importer: open csv")
	}

	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		defer f.Close()

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1 // exports pad rows inconsistently

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "importer: csv cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "importer: read csv row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "importer: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh, nil
}

// streamXLSX reads one sheet of an XLSX file and sends every row,
// header included, to the returned channel. Empty sheet name means the
// first sheet.
func streamXLSX(ctx context.Context, path, sheetName string) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "importer: open xlsx")
			return
		}

		var sheet *xlsx.Sheet
		if sheetName != "" {
			s, ok := f.Sheet[sheetName]
			if !ok {
				errCh <- eris.Errorf("importer: sheet %q not found", sheetName)
				return
			}
			sheet = s
		} else {
			if len(f.Sheets) == 0 {
				errCh <- eris.New("importer: xlsx file has no sheets")
				return
			}
			sheet = f.Sheets[0]
		}

		for _, row := range sheet.Rows {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "importer: xlsx cancelled")
				return
			}

			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = cell.String()
			}

			select {
			case rowCh <- cells:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "importer: xlsx cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
