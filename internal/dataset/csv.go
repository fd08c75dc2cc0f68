package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadCSV parses a dataset whose first row holds the signal names
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", ErrInvalidDataset)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	names := make([]string, len(header))
	signals := make(map[string][]float64, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrInvalidDataset, i)
		}
		if _, dup := signals[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidDataset, name)
		}
		names[i] = name
		signals[name] = nil
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %v", ErrInvalidDataset, line, names[i], err)
			}
			signals[names[i]] = append(signals[names[i]], v)
		}
	}

	return New(signals)
}

// WriteCSV writes the dataset with the time axis as the first column
func (d *Dataset) WriteCSV(w io.Writer) error {
	columns := make([]string, 0, len(d.names))
	columns = append(columns, Time)
	for _, name := range d.names {
		if name != Time {
			columns = append(columns, name)
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}

	record := make([]string, len(columns))
	for i := 0; i < d.length; i++ {
		for j, name := range columns {
			record[j] = strconv.FormatFloat(d.signals[name][i], 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Load reads a CSV dataset from path
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return d, nil
}

// Save writes the dataset to path as CSV
func (d *Dataset) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
