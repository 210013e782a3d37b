// Package normalize converts raw statement transactions into the
// canonical ledger records the rest of the application consumes.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/volatileeight/autopilot/internal/statement"
)

// Transaction is a normalized ledger record. DedupKey is the idempotency
// contract with persistence: stable for the same (institution id, memo)
// pair across repeated downloads of overlapping date ranges.
type Transaction struct {
	SequenceID   int
	AccountID    string
	RawSubject   string
	Subject      string
	DedupKey     string
	Amount       decimal.Decimal
	PostedAt     time.Time
	DownloadedAt time.Time
	Cleared      bool

	// MissingFitID carries the parser's flag for records whose dedup key
	// is built from an empty institution id.
	MissingFitID bool
}

// noiseTokens are stripped (case-insensitively) from the display subject.
// "Eft Trans 1" is a site-specific artifact removed after title-casing.
var (
	noiseTokens   = []string{"/", "POS", "Pre-auth", "PURCHASE"}
	artifactToken = "Eft Trans 1"
	titleCaser    = cases.Title(language.English)
	spaceRun      = regexp.MustCompile(`\s{2,}`)
)

// Normalize maps raw transactions for one account into ledger records.
// Zero-amount entries are dropped: the portal emits them as non-economic
// placeholder rows. downloadedAt stamps every record; cleared is always
// true because only posted transactions are retrieved.
func Normalize(accountID string, txns []statement.RawTransaction, downloadedAt time.Time) []Transaction {
	out := make([]Transaction, 0, len(txns))
	seq := 0
	for _, txn := range txns {
		if txn.Amount.IsZero() {
			continue
		}
		seq++

		rawSubject := strings.TrimSpace(txn.Memo) + " / " + strings.TrimSpace(txn.Name)
		out = append(out, Transaction{
			SequenceID:   seq,
			AccountID:    accountID,
			RawSubject:   rawSubject,
			Subject:      cleanSubject(rawSubject),
			DedupKey:     DedupKey(txn.FitID, txn.Memo),
			Amount:       txn.Amount,
			PostedAt:     txn.PostedDate,
			DownloadedAt: downloadedAt,
			Cleared:      true,
			MissingFitID: txn.MissingFitID,
		})
	}
	return out
}

// DedupKey hashes the institution transaction id together with the memo.
// The memo, not the name, is the second input: the upstream behavior is
// preserved as-is even though two transactions sharing an id and memo
// but differing in name would collide.
func DedupKey(fitID, memo string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s", fitID, memo))
	return hex.EncodeToString(sum[:])
}

// cleanSubject strips noise tokens from the raw subject and title-cases
// what remains.
func cleanSubject(raw string) string {
	s := raw
	for _, token := range noiseTokens {
		s = removeFold(s, token)
	}
	s = titleCaser.String(strings.ToLower(strings.TrimSpace(s)))
	s = removeFold(s, artifactToken)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// removeFold deletes every case-insensitive occurrence of token from s.
func removeFold(s, token string) string {
	lower := strings.ToLower(s)
	needle := strings.ToLower(token)
	var b strings.Builder
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		s = s[i+len(token):]
		lower = lower[i+len(needle):]
	}
}
