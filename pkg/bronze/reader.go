// pkg/bronze/reader.go
package bronze

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/David-Botos/data-cleansing/pkg/columns"
)

// ErrEmptyFile is returned when a file has no header row
var ErrEmptyFile = errors.New("empty file: no header row found")

// ParseWarning is a non-fatal issue found while reading a file
type ParseWarning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ParsedFile is a decoded CSV file with a normalized header
type ParsedFile struct {
	Encoding string
	Header   []string
	Rows     [][]string
	Warnings []ParseWarning
}

// Parse decodes and reads a CSV file. Header names are normalized, short rows
// are padded and long rows truncated to the header width, each with a warning.
// Rows the csv reader cannot parse are skipped with a warning.
func Parse(data []byte) (*ParsedFile, error) {
	decoded, enc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("encoding detection failed: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	parsed := &ParsedFile{
		Encoding: enc,
		Header:   columns.NormalizeNames(header),
	}

	width := len(header)
	rowNum := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++

		if err != nil {
			parsed.Warnings = append(parsed.Warnings, ParseWarning{
				Row:     rowNum,
				Message: fmt.Sprintf("parse error: %v", err),
			})
			continue
		}

		switch {
		case len(row) < width:
			parsed.Warnings = append(parsed.Warnings, ParseWarning{
				Row:     rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; padding with empty values", len(row), width),
			})
			padded := make([]string, width)
			copy(padded, row)
			row = padded
		case len(row) > width:
			parsed.Warnings = append(parsed.Warnings, ParseWarning{
				Row:     rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; truncating extra columns", len(row), width),
			})
			row = row[:width]
		}

		parsed.Rows = append(parsed.Rows, row)
	}

	return parsed, nil
}
