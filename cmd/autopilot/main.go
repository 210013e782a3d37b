package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/volatileeight/autopilot/internal/answers"
	"github.com/volatileeight/autopilot/internal/authflow"
	"github.com/volatileeight/autopilot/internal/autopilot"
	"github.com/volatileeight/autopilot/internal/config"
	"github.com/volatileeight/autopilot/internal/normalize"
	"github.com/volatileeight/autopilot/internal/push"
	"github.com/volatileeight/autopilot/internal/server"
	"github.com/volatileeight/autopilot/internal/statement"
	"github.com/volatileeight/autopilot/internal/store"
	"github.com/volatileeight/autopilot/internal/trace"
	"github.com/volatileeight/autopilot/internal/ui"
)

const (
	version = "0.1.0"

	dateLayout = "2006-01-02"
)

// operation is the closed set of things the CLI can do.
type operation string

const (
	opPosted   operation = "posted"
	opPending  operation = "pending"
	opBalances operation = "balances"
	opCSV      operation = "csv"
	opServe    operation = "serve"
)

var operations = map[string]operation{
	string(opPosted):   opPosted,
	string(opPending):  opPending,
	string(opBalances): opBalances,
	string(opCSV):      opCSV,
	string(opServe):    opServe,
}

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")

	// Core CLI flags
	opFlag     = flag.String("op", "", "Operation: posted, pending, balances, csv, serve (required)")
	configFile = flag.String("config", "autopilot.yaml", "Configuration file")
	account    = flag.String("account", "", "Account display name (required for transaction operations)")
	fromFlag   = flag.String("from", "", "Range start, YYYY-MM-DD (default: 30 days ago)")
	toFlag     = flag.String("to", "", "Range end, YYYY-MM-DD (default: today)")
	save       = flag.Bool("save", false, "Persist retrieved transactions to the local ledger")
	verbose    = flag.Bool("verbose", false, "Show every flow step")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `autopilot - bank transaction retrieval

Usage:
  autopilot -op <operation> [flags]

Credentials are read from AUTOPILOT_USERNAME and AUTOPILOT_PASSWORD.

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Last 30 days of posted transactions
  autopilot -op posted -account "Primary Checking"

  # A specific range, persisted to the ledger
  autopilot -op posted -account "Primary Checking" -from 2026-07-01 -to 2026-07-31 -save

  # All account balances
  autopilot -op balances

  # Run the device registration API
  autopilot -op serve

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("autopilot version %s\n", version)
		os.Exit(0)
	}

	op, ok := operations[*opFlag]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: -op must be one of posted, pending, balances, csv, serve\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(op); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

func run(op operation) error {
	ctx := context.Background()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	if op == opServe {
		return serve(cfg)
	}

	creds := authflow.Credentials{
		Username: os.Getenv("AUTOPILOT_USERNAME"),
		Password: os.Getenv("AUTOPILOT_PASSWORD"),
	}
	if creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("AUTOPILOT_USERNAME and AUTOPILOT_PASSWORD must be set")
	}

	resolver, err := answers.Load(cfg.AnswersPath)
	if err != nil {
		return err
	}

	sink := trace.Nop()
	if *verbose {
		sink = trace.SinkFunc(func(e trace.Event) {
			if e.Err != nil {
				ui.Warning(fmt.Sprintf("%s: %s: %v", e.Step, e.Detail, e.Err))
				return
			}
			ui.BlueText(fmt.Sprintf("%s: %s", e.Step, e.Detail))
		})
	}
	retriever := autopilot.New(cfg.Portal, resolver, sink)

	switch op {
	case opPosted, opCSV, opPending:
		return retrieveTransactions(ctx, retriever, cfg, creds, op)
	case opBalances:
		return showBalances(ctx, retriever, creds)
	}
	return fmt.Errorf("unhandled operation %q", op)
}

func retrieveTransactions(ctx context.Context, retriever *autopilot.Retriever, cfg config.Config, creds authflow.Credentials, op operation) error {
	if *account == "" {
		return fmt.Errorf("-account is required for the %s operation", op)
	}

	from, to, err := dateRange()
	if err != nil {
		return err
	}

	ui.Header("Transaction Retrieval")
	ui.Step(1, 2, fmt.Sprintf("Retrieving %s transactions for %s (%s to %s)",
		op, *account, from.Format(dateLayout), to.Format(dateLayout)))

	var retrieved int
	switch op {
	case opPosted:
		records, err := retriever.PostedTransactions(ctx, creds, *account, from, to)
		if err != nil {
			return err
		}
		retrieved = len(records)
		printTransactions(records)
		if *save {
			if err := persist(ctx, cfg, records); err != nil {
				return err
			}
		}
	case opCSV:
		records, err := retriever.PostedTransactionsCSV(ctx, creds, *account, from, to)
		if err != nil {
			return err
		}
		retrieved = len(records)
		printTransactions(records)
		if *save {
			if err := persist(ctx, cfg, records); err != nil {
				return err
			}
		}
	case opPending:
		records, err := retriever.PendingTransactions(ctx, creds, *account)
		if err != nil {
			return err
		}
		retrieved = len(records)
		printTransactions(records)
	}

	ui.Step(2, 2, "Done")
	ui.Success(fmt.Sprintf("Retrieved %d transactions", retrieved))
	return nil
}

func showBalances(ctx context.Context, retriever *autopilot.Retriever, creds authflow.Credentials) error {
	ui.Header("Account Balances")

	accounts, err := retriever.AccountBalances(ctx, creds)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		ui.BlueText(fmt.Sprintf("%s (%s)", account.Name, account.Number))
		ui.Info(fmt.Sprintf("  current:   %s", statement.FormatAmount(account.CurrentBalance)))
		ui.Info(fmt.Sprintf("  available: %s", statement.FormatAmount(account.AvailableBalance)))
	}
	ui.Success(fmt.Sprintf("%d accounts", len(accounts)))
	return nil
}

func serve(cfg config.Config) error {
	if cfg.Server.Token == "" {
		return fmt.Errorf("server.token must be configured to run the API")
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}

	s := server.New(st, cfg.Server.Token)
	defer s.Close()

	ui.Info("Device API listening on " + cfg.Server.Listen)
	return http.ListenAndServe(cfg.Server.Listen, s.Handler())
}

func printTransactions(records []normalize.Transaction) {
	for _, txn := range records {
		fmt.Printf("%s  %10s  %s\n", txn.PostedAt.Format(dateLayout), statement.FormatAmount(txn.Amount), txn.Subject)
	}
}

func persist(ctx context.Context, cfg config.Config, records []normalize.Transaction) error {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	inserted, err := st.SaveTransactions(ctx, records)
	if err != nil {
		return err
	}
	ui.Info(fmt.Sprintf("Saved %d new transactions to %s", inserted, cfg.StorePath))

	if inserted > 0 {
		if err := notifyDevices(ctx, cfg, st, inserted); err != nil {
			// Notification failures never fail the run; the data is saved.
			ui.Warning("push notification failed: " + err.Error())
		}
	}
	return nil
}

// notifyDevices alerts every registered device about new activity.
func notifyDevices(ctx context.Context, cfg config.Config, st *store.Store, count int) error {
	if cfg.Push.CertPath == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.Push.CertPath, cfg.Push.KeyPath)
	if err != nil {
		return err
	}
	devices, err := st.Devices(ctx)
	if err != nil {
		return err
	}

	sender := push.NewSender(cfg.Push.Gateway, cert)
	alert := fmt.Sprintf("%d new transactions", count)
	for _, device := range devices {
		if err := sender.Send(ctx, push.Notification{
			DeviceToken: device.Token,
			Alert:       alert,
			Badge:       count,
			Sound:       "default",
		}); err != nil {
			return err
		}
	}
	return nil
}

func dateRange() (time.Time, time.Time, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	from := now.AddDate(0, 0, -30)
	to := now

	var err error
	if *fromFlag != "" {
		if from, err = time.Parse(dateLayout, *fromFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from date: %w", err)
		}
	}
	if *toFlag != "" {
		if to, err = time.Parse(dateLayout, *toFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to date: %w", err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("-to must not be before -from")
	}
	return from, to, nil
}
