package stations

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	networkColumn = "network"
	stationColumn = "uniqueID"
)

// LoadNetworks reads a subsetting file with a "network" column.
func LoadNetworks(path string) ([]string, error) {
	return loadColumn(path, networkColumn)
}

// LoadStations reads a subsetting file with a "uniqueID" column.
func LoadStations(path string) ([]string, error) {
	return loadColumn(path, stationColumn)
}

// LoadSubsetFile reads a subsetting file and decides from its header whether it lists
// networks or stations.
func LoadSubsetFile(path string) (Subsetting, error) {
	f, err := os.Open(path)
	if err != nil {
		return Subsetting{}, fmt.Errorf("failed to open subsetting file: %w", err)
	}
	defer f.Close()

	header, values, err := readTable(f, path)
	if err != nil {
		return Subsetting{}, err
	}

	hasNet := columnIndex(header, networkColumn) >= 0
	hasStn := columnIndex(header, stationColumn) >= 0
	switch {
	case hasNet && hasStn:
		return Subsetting{}, fmt.Errorf("%w: %s has both %q and %q columns", ErrValidation, path, networkColumn, stationColumn)
	case hasNet:
		list, err := pick(header, values, networkColumn, path)
		return Subsetting{Networks: list}, err
	case hasStn:
		list, err := pick(header, values, stationColumn, path)
		return Subsetting{Stations: list}, err
	default:
		return Subsetting{}, fmt.Errorf("%w: %s needs a %q or %q column", ErrValidation, path, networkColumn, stationColumn)
	}
}

func loadColumn(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subsetting file: %w", err)
	}
	defer f.Close()

	header, values, err := readTable(f, path)
	if err != nil {
		return nil, err
	}
	return pick(header, values, column, path)
}

func readTable(r io.Reader, path string) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrValidation, path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return header, rows, nil
}

func pick(header []string, rows [][]string, column, path string) ([]string, error) {
	idx := columnIndex(header, column)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s has no %q column", ErrValidation, path, column)
	}

	var out []string
	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[idx]); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: zero length %s list in %s", ErrValidation, column, path)
	}
	return out, nil
}

func columnIndex(header []string, column string) int {
	for i, h := range header {
		if h == column {
			return i
		}
	}
	return -1
}
