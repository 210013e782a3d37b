// Package csv parses the portal's CSV transaction export. The download
// endpoint prefixes the data with page chrome, so everything before the
// column header row is discarded before parsing.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/volatileeight/autopilot/internal/statement"
)

// headerMarker starts the first real row of the export; anything above
// it is page chrome from the download endpoint.
const headerMarker = "Transaction Number"

// Parser implements CSV export parsing with a stateless design. The
// shared instance is safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared CSV parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier.
func (p *Parser) Name() string {
	return "csv-export"
}

// CanParse checks whether the payload contains the export header row.
func (p *Parser) CanParse(header []byte) bool {
	return strings.Contains(string(header), headerMarker)
}

// Parse extracts transaction records from a CSV export payload. Column
// layout: Transaction Number, Date, Description, Memo, Amount Debit,
// Amount Credit. Exactly one of the two amount columns is populated per
// row; debits are negated so the sign convention matches the OFX path.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]statement.RawTransaction, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV export: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content := string(raw)
	idx := strings.Index(content, headerMarker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: CSV export has no %q header row", statement.ErrMalformed, headerMarker)
	}
	content = content[idx:]

	reader := csv.NewReader(strings.NewReader(content))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", statement.ErrMalformed, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%w: CSV export is empty", statement.ErrMalformed)
	}

	var transactions []statement.RawTransaction
	for i, record := range records[1:] {
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		txn, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		transactions = append(transactions, *txn)
	}

	return transactions, nil
}

func parseRecord(record []string) (*statement.RawTransaction, error) {
	if len(record) < 6 {
		return nil, fmt.Errorf("%w: expected 6 columns, got %d", statement.ErrMalformed, len(record))
	}

	txn := &statement.RawTransaction{
		Name: strings.TrimSpace(record[2]),
		Memo: strings.TrimSpace(record[3]),
	}

	number := strings.TrimSpace(record[0])
	if number == "" {
		txn.MissingFitID = true
	} else {
		txn.FitID = number
	}

	posted, err := time.Parse("01/02/2006", strings.TrimSpace(record[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q", statement.ErrMalformed, record[1])
	}
	txn.PostedDate = posted

	debit := strings.TrimSpace(record[4])
	credit := strings.TrimSpace(record[5])
	switch {
	case debit != "":
		d, err := decimal.NewFromString(debit)
		if err != nil {
			return nil, fmt.Errorf("%w: bad debit amount %q", statement.ErrMalformed, debit)
		}
		txn.Amount = d.Neg()
		txn.Type = "DEBIT"
	case credit != "":
		d, err := decimal.NewFromString(credit)
		if err != nil {
			return nil, fmt.Errorf("%w: bad credit amount %q", statement.ErrMalformed, credit)
		}
		txn.Amount = d
		txn.Type = "CREDIT"
	default:
		return nil, fmt.Errorf("%w: row has neither debit nor credit amount", statement.ErrMalformed)
	}

	return txn, nil
}
