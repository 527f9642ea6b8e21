// Package ingest parses GM_GQ return files into source datasets.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
)

// valueColumnHints are the header substrings that identify the value column.
var valueColumnHints = []string{"value", "amount", "balance", "total"}

// Parser reads GQ return CSV files, filtered against a structure definition:
// codes that are not part of the structure are dropped, since the return
// files routinely carry free-text and subtotal rows.
type Parser struct {
	structure map[int]domain.CodeInfo
}

// NewParser creates a parser bound to a GQ structure lookup.
func NewParser(structure map[int]domain.CodeInfo) *Parser {
	return &Parser{structure: structure}
}

// ParseFile parses a GQ return file into a source dataset. Only CSV input is
// supported.
func (p *Parser) ParseFile(path string) (domain.SourceDataset, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" {
		return nil, fmt.Errorf("unsupported file format %q (expected .csv)", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open GQ file: %w", err)
	}
	defer f.Close()

	dataset, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse GQ file %s: %w", path, err)
	}
	return dataset, nil
}

// Parse reads CSV rows from r and extracts code/value pairs. The code and
// value columns are located by header name; when the headers give no hint,
// the first two columns are assumed. Rows whose code or value does not parse
// are skipped rather than failing the whole filing; blank values count as
// zero.
func (p *Parser) Parse(r io.Reader) (domain.SourceDataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // returns are ragged in practice
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	codeCol, valueCol, err := detectColumns(header)
	if err != nil {
		return nil, err
	}

	dataset := domain.SourceDataset{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if codeCol >= len(row) || valueCol >= len(row) {
			continue
		}

		code, err := strconv.Atoi(strings.TrimSpace(row[codeCol]))
		if err != nil {
			continue
		}

		value := 0.0
		if raw := strings.TrimSpace(row[valueCol]); raw != "" {
			value, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
		}

		if _, known := p.structure[code]; !known {
			continue
		}
		dataset[code] = value
	}

	return dataset, nil
}

// Items enriches a dataset with structure metadata, returning one item per
// code in ascending code order.
func (p *Parser) Items(dataset domain.SourceDataset) []domain.SourceItem {
	items := make([]domain.SourceItem, 0, len(dataset))
	for _, code := range dataset.Codes() {
		info := p.structure[code]
		items = append(items, domain.SourceItem{
			Code:         code,
			Value:        dataset[code],
			Description:  info.Description,
			Part:         info.Part,
			Category:     info.Category,
			Counterparty: info.Counterparty,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items
}

// detectColumns locates the code and value columns by header name, falling
// back to the first two columns when the headers give no hint.
func detectColumns(header []string) (codeCol, valueCol int, err error) {
	codeCol, valueCol = -1, -1

	for i, name := range header {
		lower := strings.ToLower(strings.TrimSpace(name))
		if codeCol < 0 && strings.Contains(lower, "code") {
			codeCol = i
			continue
		}
		if valueCol < 0 {
			for _, hint := range valueColumnHints {
				if strings.Contains(lower, hint) {
					valueCol = i
					break
				}
			}
		}
	}

	if codeCol < 0 || valueCol < 0 {
		if len(header) < 2 {
			return 0, 0, fmt.Errorf("unable to identify code and value columns in header %v", header)
		}
		codeCol, valueCol = 0, 1
	}
	return codeCol, valueCol, nil
}
