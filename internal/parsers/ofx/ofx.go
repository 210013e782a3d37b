// Package ofx parses the OFX 1.0.2 statement export served by the home
// banking portal. The format is tag-delimited SGML, not XML: leaf tags
// carry a bare value and are never closed, while section tags come in
// open/close pairs. Extraction works over the tag stream directly and
// treats any missing mandatory section as a typed error.
package ofx

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/volatileeight/autopilot/internal/statement"
)

// Parser implements OFX 1.0.2 parsing with a stateless design. Each call
// operates solely on the input document, so the shared instance is safe
// for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier.
func (p *Parser) Name() string {
	return "ofx-102"
}

var (
	openTagRe   = regexp.MustCompile(`(?i)<OFX>`)
	signOnRe    = regexp.MustCompile(`(?is)<SIGNONMSGSRSV1>(.*?)</SIGNONMSGSRSV1>`)
	statusRe    = regexp.MustCompile(`(?is)<STATUS>(.*?)</STATUS>`)
	stmtBlockRe = regexp.MustCompile(`(?is)<(BANKMSGSRSV1|CREDITCARDMSGSRSV1)>(.*?)</(?:BANK|CREDITCARD)MSGSRSV1>`)
	otherMsgRe  = regexp.MustCompile(`(?i)<([A-Z]+MSGSRSV1)>`)
	acctFromRe  = regexp.MustCompile(`(?is)<(BANK|CC)ACCTFROM>(.*?)</(?:BANK|CC)ACCTFROM>`)
	tranListRe  = regexp.MustCompile(`(?is)<BANKTRANLIST>(.*?)</BANKTRANLIST>`)
	stmtTrnRe   = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)
	ledgerRe    = regexp.MustCompile(`(?is)<LEDGERBAL>(.*?)</LEDGERBAL>`)
	availRe     = regexp.MustCompile(`(?is)<AVAILBAL>(.*?)</AVAILBAL>`)
	datePrefix  = regexp.MustCompile(`^\d{8}`)
)

// CanParse checks whether the document header looks like an OFX export.
func (p *Parser) CanParse(header []byte) bool {
	upper := strings.ToUpper(string(header))
	return strings.Contains(upper, "OFXHEADER") || strings.Contains(upper, "<OFX>")
}

// Parse extracts a complete statement document. It fails with
// statement.ErrMalformed when a mandatory section (sign-on status,
// statement block, bounded transaction list, balances) is absent, and
// with statement.ErrUnsupportedVariant when the document carries a
// statement kind other than bank or credit-card.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*statement.Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement document: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	text := string(raw)

	loc := openTagRe.FindStringIndex(text)
	if loc == nil {
		return nil, fmt.Errorf("%w: no <OFX> open tag", statement.ErrMalformed)
	}

	doc := &statement.Document{
		Meta: parseMeta(text[:loc[0]]),
	}

	// The portal renders tags across arbitrary line breaks; flatten once
	// so value extraction never has to consider whitespace.
	body := flatten(text[loc[0]:])

	signOn, err := parseSignOn(body)
	if err != nil {
		return nil, err
	}
	doc.SignOn = *signOn

	account, err := parseStatementBlock(body)
	if err != nil {
		return nil, err
	}
	doc.Accounts = append(doc.Accounts, *account)

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", statement.ErrMalformed, err)
	}
	return doc, nil
}

// parseMeta splits the header block preceding the first top-level tag
// into colon-delimited key/value pairs.
func parseMeta(header string) map[string]string {
	meta := make(map[string]string)
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return meta
}

func parseSignOn(body string) (*statement.SignOnStatus, error) {
	m := signOnRe.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: missing sign-on response block", statement.ErrMalformed)
	}
	s := statusRe.FindStringSubmatch(m[1])
	if s == nil {
		return nil, fmt.Errorf("%w: sign-on response has no status", statement.ErrMalformed)
	}

	code, ok := tagValue(s[1], "CODE")
	if !ok {
		return nil, fmt.Errorf("%w: sign-on status has no code", statement.ErrMalformed)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("%w: sign-on status code %q is not numeric", statement.ErrMalformed, code)
	}
	severity, ok := tagValue(s[1], "SEVERITY")
	if !ok {
		return nil, fmt.Errorf("%w: sign-on status has no severity", statement.ErrMalformed)
	}

	return &statement.SignOnStatus{Code: n, Severity: severity}, nil
}

func parseStatementBlock(body string) (*statement.Account, error) {
	m := stmtBlockRe.FindStringSubmatch(body)
	if m == nil {
		// Distinguish a document carrying some other statement kind
		// (e.g. investment) from one carrying none at all.
		for _, other := range otherMsgRe.FindAllStringSubmatch(body, -1) {
			name := strings.ToUpper(other[1])
			if name != "SIGNONMSGSRSV1" {
				return nil, fmt.Errorf("%w: %s", statement.ErrUnsupportedVariant, name)
			}
		}
		return nil, fmt.Errorf("%w: missing statement response block", statement.ErrMalformed)
	}

	variant := statement.VariantBank
	if strings.EqualFold(m[1], "CREDITCARDMSGSRSV1") {
		variant = statement.VariantCreditCard
	}
	block := m[2]

	account := &statement.Account{Variant: variant}

	currency, ok := tagValue(block, "CURDEF")
	if !ok {
		return nil, fmt.Errorf("%w: statement block has no currency", statement.ErrMalformed)
	}
	account.CurrencyCode = currency

	acct := acctFromRe.FindStringSubmatch(block)
	if acct == nil {
		return nil, fmt.Errorf("%w: statement block has no account section", statement.ErrMalformed)
	}
	acctID, ok := tagValue(acct[2], "ACCTID")
	if !ok {
		return nil, fmt.Errorf("%w: account section has no account id", statement.ErrMalformed)
	}
	account.AccountID = acctID
	account.BankID, _ = tagValue(acct[2], "BANKID")
	account.AccountType, _ = tagValue(acct[2], "ACCTTYPE")

	list := tranListRe.FindStringSubmatch(block)
	if list == nil {
		return nil, fmt.Errorf("%w: statement block has no bounded transaction list", statement.ErrMalformed)
	}
	if start, ok := tagValue(list[1], "DTSTART"); ok {
		t, err := ParseDate(start)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction list start date: %w", err)
		}
		account.Start = t
	}
	if end, ok := tagValue(list[1], "DTEND"); ok {
		t, err := ParseDate(end)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction list end date: %w", err)
		}
		account.End = t
	}

	for i, trn := range stmtTrnRe.FindAllStringSubmatch(list[1], -1) {
		txn, err := parseTransaction(trn[1])
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i+1, err)
		}
		account.Transactions = append(account.Transactions, *txn)
	}

	ledger, err := parseBalance(block, ledgerRe, "ledger")
	if err != nil {
		return nil, err
	}
	account.Ledger = *ledger

	avail, err := parseBalance(block, availRe, "available")
	if err != nil {
		return nil, err
	}
	account.Available = *avail

	return account, nil
}

// parseTransaction extracts one STMTTRN record. Every field is optional
// except the amount; a record without the institution id still parses
// but is flagged as non-deduplicable.
func parseTransaction(record string) (*statement.RawTransaction, error) {
	txn := &statement.RawTransaction{}

	txn.Type, _ = tagValue(record, "TRNTYPE")
	txn.Name, _ = tagValue(record, "NAME")
	txn.Memo, _ = tagValue(record, "MEMO")

	amount, ok := tagValue(record, "TRNAMT")
	if !ok {
		return nil, fmt.Errorf("%w: transaction has no amount", statement.ErrMalformed)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction amount %q is not decimal", statement.ErrMalformed, amount)
	}
	txn.Amount = d

	if posted, ok := tagValue(record, "DTPOSTED"); ok {
		t, err := ParseDate(posted)
		if err != nil {
			return nil, fmt.Errorf("invalid posted date: %w", err)
		}
		txn.PostedDate = t
	}

	fitID, ok := tagValue(record, "FITID")
	if !ok || fitID == "" {
		txn.MissingFitID = true
	} else {
		txn.FitID = fitID
	}

	return txn, nil
}

func parseBalance(block string, re *regexp.Regexp, kind string) (*statement.Balance, error) {
	m := re.FindStringSubmatch(block)
	if m == nil {
		return nil, fmt.Errorf("%w: statement block has no %s balance", statement.ErrMalformed, kind)
	}
	amount, ok := tagValue(m[1], "BALAMT")
	if !ok {
		return nil, fmt.Errorf("%w: %s balance has no amount", statement.ErrMalformed, kind)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s balance amount %q is not decimal", statement.ErrMalformed, kind, amount)
	}
	balance := &statement.Balance{Amount: d}
	if asOf, ok := tagValue(m[1], "DTASOF"); ok {
		t, err := ParseDate(asOf)
		if err != nil {
			return nil, fmt.Errorf("invalid %s balance as-of date: %w", kind, err)
		}
		balance.AsOf = t
	}
	return balance, nil
}

// ParseDate converts the export's fixed-width timestamp to a calendar
// date. The source writes YYYYMMDDHHMMSS plus an offset suffix; the
// time-of-day and zone are truncated, never converted, so the date that
// appears in the document is the date that comes out.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	digits := datePrefix.FindString(value)
	if digits == "" {
		return time.Time{}, fmt.Errorf("date %q does not start with YYYYMMDD", value)
	}
	year, _ := strconv.Atoi(digits[:4])
	month, _ := strconv.Atoi(digits[4:6])
	day, _ := strconv.Atoi(digits[6:8])
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 31 becomes Mar 2); a date that
	// does not round-trip was never on the calendar.
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, fmt.Errorf("date %q is not a calendar date", value)
	}
	return t, nil
}

// tagValue returns the bare value following a leaf tag. Leaf tags in
// OFX 1.0.2 are unclosed; the value runs until the next tag.
func tagValue(block, tag string) (string, bool) {
	re := regexp.MustCompile(`(?i)<` + tag + `>([^<]*)`)
	m := re.FindStringSubmatch(block)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// flatten removes line breaks and tabs so tag values never span lines.
func flatten(s string) string {
	return strings.NewReplacer("\r", "", "\n", "", "\t", "").Replace(s)
}
