package plan

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	enc "github.com/MrJamesThe3rd/immotrack/internal/encoding"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
)

// Parser reads installment plans exported from spreadsheets. It auto-detects
// the column layout by matching headers against known profiles, and the field
// separator from the header line.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(r io.Reader) ([]ledger.PlanItem, error) {
	utf8r, err := enc.NewUTF8Reader(r)
	if err != nil {
		return nil, fmt.Errorf("detect encoding: %w", err)
	}

	content, err := io.ReadAll(utf8r)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = detectComma(content)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	profile, colMap, headerIdx := detectProfile(rows)
	if profile == nil {
		return nil, fmt.Errorf("no matching plan format found: expected a due date and an amount column")
	}

	return parseRows(profile, colMap, rows[headerIdx+1:], headerIdx+1)
}

// detectComma picks ';' unless the first non-empty line only uses ','.
func detectComma(content []byte) rune {
	for line := range strings.Lines(string(content)) {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !strings.Contains(line, ";") && strings.Contains(line, ",") {
			return ','
		}

		break
	}

	return ';'
}

// colIndex maps column names to their index in the row.
type colIndex map[string]int

// detectProfile scans rows for a header that matches a known profile.
// Returns the matched profile, column index map, and header row index.
func detectProfile(rows [][]string) (*Profile, colIndex, int) {
	for rowIdx, row := range rows {
		cols := make(colIndex)

		for i, cell := range row {
			name := strings.TrimSpace(cell)
			if name != "" {
				cols[name] = i
			}
		}

		for i := range profiles {
			if matchesProfile(&profiles[i], cols) {
				return &profiles[i], cols, rowIdx
			}
		}
	}

	return nil, nil, 0
}

// matchesProfile checks if all required columns of a profile are present.
func matchesProfile(p *Profile, cols colIndex) bool {
	for _, name := range p.requiredCols() {
		if _, ok := cols[name]; !ok {
			return false
		}
	}

	return true
}

// parseRows extracts plan items from data rows using the matched profile.
// Rows without a parseable date are skipped (totals, footers); a dated row
// with an unreadable amount is an error.
func parseRows(p *Profile, cols colIndex, rows [][]string, headerRowNum int) ([]ledger.PlanItem, error) {
	dateIdx := cols[p.DateCol]
	amountIdx := cols[p.AmountCol]

	notesIdx := -1
	if idx, ok := cols[p.NotesCol]; ok {
		notesIdx = idx
	}

	var items []ledger.PlanItem

	for i, row := range rows {
		rowNum := headerRowNum + i + 1 // 1-based, skipping header

		date, ok := parseDate(row, dateIdx)
		if !ok {
			continue
		}

		s := cellValue(row, amountIdx)
		if s == "" {
			return nil, fmt.Errorf("row %d: missing amount", rowNum)
		}

		cents, err := parseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid amount %q", rowNum, s)
		}

		items = append(items, ledger.PlanItem{
			DueDate: date,
			Amount:  cents,
			Notes:   cellValue(row, notesIdx),
		})
	}

	return items, nil
}

// parseDate tries the known layouts on the given cell.
// Returns false for empty cells or unparseable values (footer rows, etc).
func parseDate(row []string, idx int) (time.Time, bool) {
	s := cellValue(row, idx)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// cellValue safely gets a trimmed cell value from a row.
func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[idx])
}
