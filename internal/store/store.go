// Package store persists normalized transactions and push device
// registrations in SQLite. The transactions table is keyed by the
// dedup key, which makes repeated downloads of overlapping date ranges
// idempotent.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/volatileeight/autopilot/internal/normalize"
	"github.com/volatileeight/autopilot/internal/statement"
)

// ErrDeviceNotFound is returned for lookups and deletes of unknown
// device ids.
var ErrDeviceNotFound = errors.New("device not found")

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	dedup_key      TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	sequence_id    INTEGER NOT NULL,
	raw_subject    TEXT NOT NULL,
	subject        TEXT NOT NULL,
	amount         TEXT NOT NULL,
	posted_at      TEXT NOT NULL,
	downloaded_at  TEXT NOT NULL,
	cleared        INTEGER NOT NULL,
	missing_fit_id INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, posted_at);

CREATE TABLE IF NOT EXISTS devices (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	token       TEXT NOT NULL UNIQUE,
	environment TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// Device is a registered push notification target.
type Device struct {
	ID          string
	UserID      string
	Token       string
	Environment string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite writes are single-connection; more connections just fight
	// over the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTransactions upserts normalized transactions and reports how many
// were new. Existing rows only get their downloaded-at stamp refreshed;
// the economic fields never change once stored.
func (s *Store) SaveTransactions(ctx context.Context, txns []normalize.Transaction) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions
			(dedup_key, account_id, sequence_id, raw_subject, subject, amount, posted_at, downloaded_at, cleared, missing_fit_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO UPDATE SET downloaded_at = excluded.downloaded_at
			WHERE transactions.downloaded_at < excluded.downloaded_at`)
	if err != nil {
		return 0, err
	}
	defer insert.Close()

	inserted := 0
	for _, txn := range txns {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM transactions WHERE dedup_key = ?)`, txn.DedupKey).Scan(&exists); err != nil {
			return 0, err
		}

		_, err := insert.ExecContext(ctx,
			txn.DedupKey, txn.AccountID, txn.SequenceID, txn.RawSubject, txn.Subject,
			statement.FormatAmount(txn.Amount), txn.PostedAt.UTC().Format(time.RFC3339), txn.DownloadedAt.UTC().Format(time.RFC3339),
			boolInt(txn.Cleared), boolInt(txn.MissingFitID))
		if err != nil {
			return 0, fmt.Errorf("failed to save transaction %s: %w", txn.DedupKey, err)
		}
		if !exists {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Transactions returns the stored transactions for an account, oldest
// first.
func (s *Store) Transactions(ctx context.Context, accountID string) ([]normalize.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dedup_key, account_id, sequence_id, raw_subject, subject, amount, posted_at, downloaded_at, cleared, missing_fit_id
		FROM transactions WHERE account_id = ? ORDER BY posted_at, sequence_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []normalize.Transaction
	for rows.Next() {
		var (
			txn                  normalize.Transaction
			amount               string
			postedAt, downloaded string
			cleared, missing     int
		)
		if err := rows.Scan(&txn.DedupKey, &txn.AccountID, &txn.SequenceID, &txn.RawSubject, &txn.Subject,
			&amount, &postedAt, &downloaded, &cleared, &missing); err != nil {
			return nil, err
		}
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("stored amount %q is corrupt: %w", amount, err)
		}
		if txn.PostedAt, err = time.Parse(time.RFC3339, postedAt); err != nil {
			return nil, err
		}
		if txn.DownloadedAt, err = time.Parse(time.RFC3339, downloaded); err != nil {
			return nil, err
		}
		txn.Cleared = cleared != 0
		txn.MissingFitID = missing != 0
		out = append(out, txn)
	}
	return out, rows.Err()
}

// SaveDevice registers or refreshes a push device. Devices are upserted
// by token: re-registering an existing token updates its owner and
// environment but keeps the original id and creation time.
func (s *Store) SaveDevice(ctx context.Context, device Device) (Device, error) {
	if device.Token == "" {
		return Device{}, errors.New("device token must not be empty")
	}
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, token, environment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			environment = excluded.environment,
			updated_at = excluded.updated_at`,
		device.ID, device.UserID, device.Token, device.Environment,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return Device{}, fmt.Errorf("failed to save device: %w", err)
	}

	return s.deviceBy(ctx, "token", device.Token)
}

// DeviceByID fetches one device.
func (s *Store) DeviceByID(ctx context.Context, id string) (Device, error) {
	return s.deviceBy(ctx, "id", id)
}

// Devices lists all registered devices.
func (s *Store) Devices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, token, environment, created_at, updated_at FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		device, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, device)
	}
	return out, rows.Err()
}

// DeleteDevice removes a device by id.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return nil
}

func (s *Store) deviceBy(ctx context.Context, column, value string) (Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, environment, created_at, updated_at FROM devices WHERE `+column+` = ?`, value)
	device, err := scanDevice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, value)
	}
	return device, err
}

func scanDevice(scan func(...any) error) (Device, error) {
	var (
		device               Device
		createdAt, updatedAt string
	)
	if err := scan(&device.ID, &device.UserID, &device.Token, &device.Environment, &createdAt, &updatedAt); err != nil {
		return Device{}, err
	}
	var err error
	if device.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Device{}, err
	}
	if device.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Device{}, err
	}
	return device, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
