// Package autopilot orchestrates full retrieval runs: authenticate,
// locate the account, download a statement, parse, normalize, and sign
// off. Each run gets a fresh session and a unique run id; nothing is
// retried automatically.
package autopilot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/volatileeight/autopilot/internal/answers"
	"github.com/volatileeight/autopilot/internal/authflow"
	"github.com/volatileeight/autopilot/internal/config"
	"github.com/volatileeight/autopilot/internal/normalize"
	csvparser "github.com/volatileeight/autopilot/internal/parsers/csv"
	"github.com/volatileeight/autopilot/internal/parsers/ofx"
	"github.com/volatileeight/autopilot/internal/scrape"
	"github.com/volatileeight/autopilot/internal/session"
	"github.com/volatileeight/autopilot/internal/statement"
	"github.com/volatileeight/autopilot/internal/trace"
)

// Retriever runs retrieval operations against the configured portal.
// Safe for concurrent use: every operation builds its own session and
// flow.
type Retriever struct {
	portal   config.Portal
	resolver answers.Resolver
	sink     trace.Sink

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Retriever.
func New(portal config.Portal, resolver answers.Resolver, sink trace.Sink) *Retriever {
	if sink == nil {
		sink = trace.Nop()
	}
	return &Retriever{
		portal:   portal,
		resolver: resolver,
		sink:     sink,
		now:      time.Now,
	}
}

// run is the per-operation state: one session, one flow, one id.
type run struct {
	id     string
	client *session.Client
	flow   *authflow.Flow
}

func (r *Retriever) newRun() (*run, error) {
	client, err := session.New(session.Options{
		Timeout:   time.Duration(r.portal.Timeout),
		UserAgent: r.portal.UserAgent,
		Sink:      r.sink,
	})
	if err != nil {
		return nil, err
	}
	return &run{
		id:     uuid.NewString(),
		client: client,
		flow:   authflow.New(client, r.portal, r.resolver, r.sink),
	}, nil
}

// PostedTransactions retrieves and normalizes the posted transactions
// for one account over a date range. The session is always signed off,
// also when the run fails.
func (r *Retriever) PostedTransactions(ctx context.Context, creds authflow.Credentials, accountName string, from, to time.Time) ([]normalize.Transaction, error) {
	var result []normalize.Transaction
	err := r.withSession(ctx, creds, func(ctx context.Context, run *run) error {
		account, err := r.locateAccount(ctx, run, accountName)
		if err != nil {
			return err
		}

		body, err := r.downloadExport(ctx, run, account, from, to, "OFX")
		if err != nil {
			return err
		}

		doc, err := ofx.NewParser().Parse(ctx, strings.NewReader(body))
		if err != nil {
			return err
		}
		if err := doc.Validate(); err != nil {
			return err
		}

		result = normalize.Normalize(account.Number, doc.Accounts[0].Transactions, r.now())
		trace.Emit(r.sink, "run", fmt.Sprintf("normalized %d transactions for %s", len(result), accountName))
		return nil
	})
	return result, err
}

// PostedTransactionsCSV retrieves the same range through the portal's
// CSV export instead of OFX.
func (r *Retriever) PostedTransactionsCSV(ctx context.Context, creds authflow.Credentials, accountName string, from, to time.Time) ([]normalize.Transaction, error) {
	var result []normalize.Transaction
	err := r.withSession(ctx, creds, func(ctx context.Context, run *run) error {
		account, err := r.locateAccount(ctx, run, accountName)
		if err != nil {
			return err
		}

		body, err := r.downloadExport(ctx, run, account, from, to, "CSV")
		if err != nil {
			return err
		}

		txns, err := csvparser.NewParser().Parse(ctx, strings.NewReader(body))
		if err != nil {
			return err
		}

		result = normalize.Normalize(account.Number, txns, r.now())
		return nil
	})
	return result, err
}

// PendingTransactions is not available: the portal's export endpoints
// only cover posted activity. Always returns an empty slice.
func (r *Retriever) PendingTransactions(ctx context.Context, creds authflow.Credentials, accountName string) ([]normalize.Transaction, error) {
	return []normalize.Transaction{}, nil
}

// AccountBalances signs on and returns the scraped account summary for
// every account visible to the credentials.
func (r *Retriever) AccountBalances(ctx context.Context, creds authflow.Credentials) (map[string]scrape.AccountSummary, error) {
	var result map[string]scrape.AccountSummary
	err := r.withSession(ctx, creds, func(ctx context.Context, run *run) error {
		accounts, err := run.flow.AccountSummary(ctx)
		if err != nil {
			return err
		}
		result = accounts
		return nil
	})
	return result, err
}

// withSession authenticates, runs fn, and always signs off. Errors are
// wrapped in *FlowError with the failing stage.
func (r *Retriever) withSession(ctx context.Context, creds authflow.Credentials, fn func(context.Context, *run) error) error {
	run, err := r.newRun()
	if err != nil {
		return err
	}
	trace.Emit(r.sink, "run", "starting run "+run.id)

	if err := run.flow.Authenticate(ctx, creds); err != nil {
		r.signOff(ctx, run)
		return &FlowError{Stage: StageAuthenticate, RunID: run.id, Err: err}
	}

	if err := fn(ctx, run); err != nil {
		r.signOff(ctx, run)
		return &FlowError{Stage: StageStatement, RunID: run.id, Err: err}
	}

	r.signOff(ctx, run)
	trace.Emit(r.sink, "run", "finished run "+run.id)
	return nil
}

func (r *Retriever) signOff(ctx context.Context, run *run) {
	if err := run.flow.Logout(ctx); err != nil {
		trace.EmitErr(r.sink, "run", "sign-off failed", err)
	}
}

// locateAccount finds an account on the summary page by display name.
func (r *Retriever) locateAccount(ctx context.Context, run *run, accountName string) (scrape.AccountSummary, error) {
	accounts, err := run.flow.AccountSummary(ctx)
	if err != nil {
		return scrape.AccountSummary{}, err
	}
	account, ok := accounts[accountName]
	if !ok {
		return scrape.AccountSummary{}, fmt.Errorf("%w: %q", ErrAccountNotFound, accountName)
	}
	return account, nil
}

// downloadExport loads the export page, then posts the export request
// for the account and date range. format is "OFX" or "CSV".
func (r *Retriever) downloadExport(ctx context.Context, run *run, account scrape.AccountSummary, from, to time.Time, format string) (string, error) {
	exportPage := r.portal.URL(r.portal.Endpoints.ExportPage)

	// The portal requires visiting the export page before the export
	// endpoints accept a request.
	client := run.client
	if _, err := client.Do(ctx, session.Request{
		URL:     exportPage,
		Referer: r.portal.URL(r.portal.Endpoints.Summary) + "?primaryButton=ACCOUNT_ACCESS",
		Cookies: []*http.Cookie{{Name: "AIBOnlineSurvey", Value: "TRUE"}},
	}); err != nil {
		return "", err
	}

	endpoint := r.portal.Endpoints.ExportOFX
	if format == "CSV" {
		endpoint = r.portal.Endpoints.ExportCSV
	}

	trace.Emit(r.sink, "export", fmt.Sprintf("requesting %s export for account %s", format, account.Number))
	resp, err := client.Do(ctx, session.Request{
		URL:     r.portal.URL(endpoint),
		Referer: exportPage,
		Form:    exportForm(account.ExportRef, from, to, format),
		Cookies: []*http.Cookie{
			{Name: "AIBOnlineSurvey", Value: "TRUE"},
			{Name: "2xClick", Value: ""},
		},
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: export endpoint returned %s", statement.ErrMalformed, resp.Status)
	}
	return resp.Body, nil
}

// exportForm builds the export request the portal's export form posts.
func exportForm(ref string, from, to time.Time, format string) url.Values {
	return url.Values{
		"ref":            {ref},
		"nextStartMonth": {from.Format("01")},
		"nextStartDay":   {from.Format("02")},
		"nextStartYear":  {from.Format("2006")},
		"nextEndMonth":   {to.Format("01")},
		"nextEndDay":     {to.Format("02")},
		"nextEndYear":    {to.Format("2006")},
		"startDate":      {from.Format("01/02/2006") + " 00:00:00"},
		"endDate":        {to.Format("01/02/2006") + " 00:00:00"},
		"state":          {"export"},
		"source":         {"export"},
		"foreignDates":   {"FALSE"},
		"type":           {format},
		"flaggedExport":  {"FALSE"},
		"typeList":       {format},
	}
}
