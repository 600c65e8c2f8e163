package baseline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"flexmarket/internal/timeseries"
)

// ErrEmptyBaselineFile is returned when a baseline file holds no rows.
var ErrEmptyBaselineFile = errors.New("baseline: empty baseline file")

// ReadCSV parses a baseline series from CSV rows of the form
// "timestamp,value" with RFC 3339 timestamps. A single header row is
// tolerated.
func ReadCSV(r io.Reader) (*timeseries.Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	series := timeseries.New()
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("baseline: read csv: %w", err)
		}
		line++

		slot, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			if line == 1 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("baseline: line %d: parse timestamp %q: %w", line, record[0], err)
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("baseline: line %d: parse value %q: %w", line, record[1], err)
		}
		series.Set(slot, value)
	}

	if series.Len() == 0 {
		return nil, ErrEmptyBaselineFile
	}
	return series, nil
}

// WriteCSV writes a baseline series as "timestamp,value" rows with a
// header, the format ReadCSV and the trading platform import accept.
func WriteCSV(w io.Writer, series *timeseries.Series) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "value"}); err != nil {
		return fmt.Errorf("baseline: write csv: %w", err)
	}
	for _, slot := range series.Timestamps() {
		value, _ := series.At(slot)
		record := []string{
			slot.Format(time.RFC3339),
			strconv.FormatFloat(value, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("baseline: write csv: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadCSVFile reads a baseline series from a CSV file template.
func LoadCSVFile(path string) (*timeseries.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("baseline: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}
