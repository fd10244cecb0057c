package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrMissingColumn is returned when the header row lacks a required column.
	ErrMissingColumn = errors.New("missing column")

	// ErrUnsupportedFormat is returned for files that are neither .xlsx nor .csv.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptySheet is returned when the source has no header row.
	ErrEmptySheet = errors.New("no header row")
)

// Columns names the header cells of the source sheet.
type Columns struct {
	Name             string `toml:"name" json:"name" yaml:"name"`
	RegistrationType string `toml:"registration_type" json:"registration_type" yaml:"registration_type"`
	AgeGroup         string `toml:"age_group" json:"age_group" yaml:"age_group"`
}

// DefaultColumns returns the header names used by the membership export.
func DefaultColumns() Columns {
	return Columns{Name: "이름", RegistrationType: "등록형태", AgeGroup: "연령"}
}

// Format is a supported source format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// FormatFor maps a file name to its format by extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// LoadError describes a failure to read a recipient source.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return "load recipients: " + e.Err.Error()
	}
	return fmt.Sprintf("load recipients from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads recipients from an .xlsx or .csv file.
func Load(path string, cols Columns) ([]Recipient, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	rs, err := Read(f, format, cols)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return nil, le
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	return rs, nil
}

// Read parses recipients from r. For spreadsheets the first sheet is used.
// Rows with an empty name are skipped and source order is preserved.
func Read(r io.Reader, format Format, cols Columns) ([]Recipient, error) {
	var (
		rows [][]string
		err  error
	)
	switch format {
	case FormatXLSX:
		rows, err = readXLSX(r)
	case FormatCSV:
		rows, err = readCSV(r)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	rs, err := fromRows(rows, cols)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	return rs, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		// Spreadsheet exports often prefix a UTF-8 BOM.
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func fromRows(rows [][]string, cols Columns) ([]Recipient, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := index[strings.TrimSpace(name)]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	nameCol := lookup(cols.Name)
	typeCol := lookup(cols.RegistrationType)
	ageCol := lookup(cols.AgeGroup)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	out := make([]Recipient, 0, len(rows)-1)
	for _, row := range rows[1:] {
		r := Recipient{
			Name:             cell(row, nameCol),
			RegistrationType: cell(row, typeCol),
			AgeGroup:         cell(row, ageCol),
		}
		if r.Name == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// cell tolerates short rows; excelize trims trailing empty cells.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
