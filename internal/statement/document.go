// Package statement defines the parsed representation of a downloaded
// statement export. Parsers under internal/parsers produce these types;
// normalization consumes them.
package statement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformed reports a document missing a mandatory top-level
	// section. Parse failures are fatal per document; no partial
	// results are returned.
	ErrMalformed = errors.New("malformed statement document")

	// ErrUnsupportedVariant reports a statement-response block of a kind
	// the parser does not handle (anything other than bank or
	// credit-card).
	ErrUnsupportedVariant = errors.New("unsupported statement variant")
)

// Variant identifies which statement-response block a document carried.
type Variant string

const (
	// VariantBank is a deposit-account statement (STMTRS).
	VariantBank Variant = "bank"
	// VariantCreditCard is a credit-card statement (CCSTMTRS).
	VariantCreditCard Variant = "creditcard"
)

// Document is a fully parsed statement export. A document either parses
// completely or not at all; no partial documents are produced.
type Document struct {
	// Meta holds the colon-delimited header lines that precede the first
	// top-level tag (e.g. OFXHEADER, DATA, VERSION).
	Meta map[string]string

	// SignOn is the sign-on response status reported by the institution.
	SignOn SignOnStatus

	// Accounts holds the statement blocks in document order. The export
	// flow always yields exactly one.
	Accounts []Account
}

// SignOnStatus is the status block of the sign-on response.
type SignOnStatus struct {
	Code     int
	Severity string
}

// Account is one statement-response block: account identity, the bounded
// transaction list, and the closing balances.
type Account struct {
	Variant      Variant
	CurrencyCode string
	BankID       string // empty for credit-card statements
	AccountID    string
	AccountType  string // empty for credit-card statements
	Start        time.Time
	End          time.Time
	Transactions []RawTransaction
	Ledger       Balance
	Available    Balance
}

// Balance is a reported balance with its as-of date.
type Balance struct {
	Amount decimal.Decimal
	AsOf   time.Time
}

// RawTransaction is a single transaction record as it appears in the
// export, before normalization. Amount sign and scale are preserved
// exactly as written by the institution.
type RawTransaction struct {
	Type       string
	PostedDate time.Time
	Amount     decimal.Decimal
	FitID      string
	Name       string
	Memo       string

	// MissingFitID marks a record that parsed without the institution's
	// transaction id. Such records cannot be deduplicated downstream.
	MissingFitID bool
}

// FormatAmount renders an amount at its parsed scale. Decimal's own
// String trims trailing fractional zeros, which would turn a literal
// "-12.50" into "-12.5"; statements must read back exactly as the
// institution wrote them.
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() < 0 {
		return d.StringFixed(-d.Exponent())
	}
	return d.String()
}

// Validate checks the document-level invariants the retrieval flow relies
// on: a sign-on status and at least one statement block.
func (d *Document) Validate() error {
	if d.SignOn.Severity == "" {
		return fmt.Errorf("document has no sign-on status")
	}
	if len(d.Accounts) == 0 {
		return fmt.Errorf("document has no statement blocks")
	}
	return nil
}
