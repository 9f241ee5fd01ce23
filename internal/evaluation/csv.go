package evaluation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/isotope/ragatouille/internal/models"
)

// Column headers read by ImportCSV.
const (
	ColumnQuestion          = "Question"
	ColumnAnswer            = "Answer"
	ColumnGroundTruth       = "Ground Truth phrases"
	ColumnRelevantDocuments = "Relevant Documents (File names)"
)

// skippedRows is the number of data rows after the header that are always dropped on import.
const skippedRows = 2

// ErrMalformedCSV wraps every parse failure of ImportCSV.
var ErrMalformedCSV = errors.New("malformed csv")

// ImportCSV parses an uploaded test-case sheet. The first row is the header; the two rows that follow
// it are discarded. Every remaining row becomes a test case numbered from 1 in file order, with zeroed
// metrics and no actual output. Stray quotes inside unquoted cells are kept as text; a sheet that is not
// UTF-8 is rejected.
func ImportCSV(r io.Reader) ([]models.TestCase, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []models.TestCase{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %w", ErrMalformedCSV, err)
	}
	if err := checkUTF8(cr, header); err != nil {
		return nil, err
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if _, ok := columns[name]; !ok {
			columns[name] = i
		}
	}

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	cases := []models.TestCase{}
	dataRow := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCSV, err)
		}
		if err := checkUTF8(cr, row); err != nil {
			return nil, err
		}

		dataRow++
		if dataRow <= skippedRows {
			continue
		}

		cases = append(cases, models.TestCase{
			ID:                 len(cases) + 1,
			Input:              field(row, ColumnQuestion),
			ExpectedOutput:     field(row, ColumnAnswer),
			GroundTruthPhrases: SplitList(field(row, ColumnGroundTruth)),
			RelevantDocuments:  SplitList(field(row, ColumnRelevantDocuments)),
		})
	}

	return cases, nil
}

func checkUTF8(cr *csv.Reader, row []string) error {
	for i, cell := range row {
		if !utf8.ValidString(cell) {
			line, _ := cr.FieldPos(i)
			return fmt.Errorf("%w: invalid UTF-8 on line %d", ErrMalformedCSV, line)
		}
	}
	return nil
}

// SplitList turns a comma separated cell into a trimmed list. A blank cell gives an empty list.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// JoinList is the inverse of SplitList used when a list is shown in a text field.
func JoinList(items []string) string {
	return strings.Join(items, ", ")
}
