// Package export writes generated LBS reports to their output formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
)

// Header is the column layout of an exported report.
var Header = []string{"dsd_code", "value", "description", "formula"}

// WriteCSV writes the report records to w, one row per DSD target code, in
// the order the records were generated.
func WriteCSV(w io.Writer, records []domain.OutputRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Code,
			strconv.FormatFloat(rec.Value, 'f', -1, 64),
			rec.Description,
			rec.Formula,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %s: %w", rec.Code, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the report records to a file at path, truncating any
// existing file.
func WriteCSVFile(path string, records []domain.OutputRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
