package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volatileeight/autopilot/internal/normalize"
	"github.com/volatileeight/autopilot/internal/statement"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTxn(dedupKey, amount string, downloadedAt time.Time) normalize.Transaction {
	d, _ := decimal.NewFromString(amount)
	return normalize.Transaction{
		SequenceID:   1,
		AccountID:    "0012345678",
		RawSubject:   "POS PURCHASE / GROCERY MART",
		Subject:      "Grocery Mart",
		DedupKey:     dedupKey,
		Amount:       d,
		PostedAt:     time.Date(2011, 3, 2, 0, 0, 0, 0, time.UTC),
		DownloadedAt: downloadedAt,
		Cleared:      true,
	}
}

func TestSaveTransactionsIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2011, 4, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	inserted, err := s.SaveTransactions(ctx, []normalize.Transaction{
		testTxn("key-1", "-12.50", day1),
		testTxn("key-2", "3.00", day1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Overlapping download: one old, one new.
	inserted, err = s.SaveTransactions(ctx, []normalize.Transaction{
		testTxn("key-2", "3.00", day2),
		testTxn("key-3", "-7.25", day2),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	stored, err := s.Transactions(ctx, "0012345678")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestTransactionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2011, 4, 1, 10, 0, 0, 0, time.UTC)

	txn := testTxn("key-rt", "-12.50", now)
	txn.MissingFitID = true
	_, err := s.SaveTransactions(ctx, []normalize.Transaction{txn})
	require.NoError(t, err)

	stored, err := s.Transactions(ctx, "0012345678")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	got := stored[0]
	assert.Equal(t, "key-rt", got.DedupKey)
	assert.Equal(t, "-12.50", statement.FormatAmount(got.Amount), "scale must survive the round trip")
	assert.Equal(t, txn.PostedAt, got.PostedAt)
	assert.Equal(t, now, got.DownloadedAt)
	assert.True(t, got.Cleared)
	assert.True(t, got.MissingFitID)
	assert.Equal(t, "Grocery Mart", got.Subject)
}

func TestSaveDeviceUpsertsByToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.SaveDevice(ctx, Device{UserID: "u1", Token: "tok-abc", Environment: "production"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	// Re-registering the same token keeps the id, updates the owner.
	updated, err := s.SaveDevice(ctx, Device{UserID: "u2", Token: "tok-abc", Environment: "sandbox"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "u2", updated.UserID)
	assert.Equal(t, "sandbox", updated.Environment)

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestSaveDeviceRejectsEmptyToken(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveDevice(context.Background(), Device{UserID: "u1"})
	assert.Error(t, err)
}

func TestDeviceLookupAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.SaveDevice(ctx, Device{UserID: "u1", Token: "tok-1", Environment: "production"})
	require.NoError(t, err)

	got, err := s.DeviceByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.Token)

	require.NoError(t, s.DeleteDevice(ctx, created.ID))

	_, err = s.DeviceByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	err = s.DeleteDevice(ctx, created.ID)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
