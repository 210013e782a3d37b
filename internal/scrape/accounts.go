// Package scrape extracts structured data from the portal's HTML pages.
// The portal has no API; the account summary page is the only source
// for account numbers, balances, and the per-account export references.
package scrape

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/volatileeight/autopilot/internal/statement"
)

// AccountSummary is one row of the account summary table.
type AccountSummary struct {
	// Name is the account nickname with entity-encoded spaces restored.
	Name             string
	Number           string
	CurrentBalance   decimal.Decimal
	AvailableBalance decimal.Decimal

	// DetailsLink is the relative single-signon URL for the account's
	// transaction history page.
	DetailsLink string

	// ExportRef is the opaque account reference posted to the export
	// endpoints.
	ExportRef string
}

// accountRowRe matches one summary table row. The nickname cell anchors
// the row; the columns that follow are number, a skipped column, current
// balance, then available balance. The page is flattened before
// matching, so no [\s] runs cross line breaks.
var accountRowRe = regexp.MustCompile(`(?i)<td class="acct_nickname">\s*<a href="([^"]*accountRef=([a-z0-9]+)[^"]*)"[^>]*>([^<]*)</a>\s*</td>\s*` +
	`<td[^>]*><span class="text">([^<]*)</span>&nbsp;</td>\s*` +
	`<td[^>]*><span class="text">[^<]*</span>&nbsp;</td>\s*` +
	`<td[^>]*><span class="text">([0-9.,]*)</span>&nbsp;</td>\s*` +
	`<td[^>]*><span class="text">([0-9.,]*)</span>&nbsp;</td>`)

var lineBreaks = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")

// Accounts parses the account summary page into per-account records
// keyed by nickname.
func Accounts(body string) (map[string]AccountSummary, error) {
	flat := lineBreaks.Replace(body)
	rows := accountRowRe.FindAllStringSubmatch(flat, -1)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no account rows in summary page", statement.ErrMalformed)
	}

	accounts := make(map[string]AccountSummary, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(strings.ReplaceAll(row[3], "&nbsp;", " "))

		current, err := parseBalance(row[5])
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}
		available, err := parseBalance(row[6])
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}

		accounts[name] = AccountSummary{
			Name:             name,
			Number:           strings.TrimSpace(row[4]),
			CurrentBalance:   current,
			AvailableBalance: available,
			DetailsLink:      row[1],
			ExportRef:        row[2],
		}
	}
	return accounts, nil
}

// parseBalance reads a display balance like "1,204.33".
func parseBalance(s string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad balance %q", statement.ErrMalformed, s)
	}
	return d, nil
}
