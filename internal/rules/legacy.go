package rules

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Field is one column of a legacy CSV row.
type Field struct {
	Key   string
	Value string
}

// LegacyRow is one CSV record, kept in header order for prompt rendering.
type LegacyRow []Field

// LoadCSV reads a prohibited-activities CSV. The first record is the header.
func LoadCSV(path string) ([]LegacyRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prohibited list: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses CSV with a header row into ordered rows. Short records are
// padded with empty values; extra trailing columns are dropped.
func ReadCSV(r io.Reader) ([]LegacyRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []LegacyRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		row := make(LegacyRow, len(header))
		for i, key := range header {
			row[i].Key = key
			if i < len(record) {
				row[i].Value = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
