package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dairybooth/dairyledger/internal/platform/db/dbtest"
	"github.com/dairybooth/dairyledger/internal/shared"
)

func newPostgresService(t *testing.T) (*Service, *pgxpool.Pool) {
	t.Helper()
	pool := dbtest.Pool(t)
	svc := NewService(NewRepository(pool), Config{
		Convention: SignParty,
		Calendar:   shared.Calendar{Location: time.UTC, MonthStartDay: 1},
	}, nil)
	svc.now = func() time.Time { return testNow }
	return svc, pool
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func TestRepositoryConcurrentAppendsDoNotLoseUpdates(t *testing.T) {
	svc, pool := newPostgresService(t)
	ctx := context.Background()
	supplier := mustParty(t, svc, PartySupplier, "S-1")
	customer := mustParty(t, svc, PartyCustomer, "C-1")

	const writers = 24
	var wg sync.WaitGroup
	errs := make(chan error, 2*writers)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.RecordCollection(ctx, collection(supplier.ID, "1.5", "40"))
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := svc.RecordSale(ctx, collection(customer.ID, "2", "50"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.GetParty(ctx, supplier.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("1440")), "supplier balance %s", got.Balance)
	got, err = svc.GetParty(ctx, customer.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("2400")), "customer balance %s", got.Balance)

	// Each append saw the balance left by the one before it.
	records, err := svc.PartyRecords(ctx, supplier.ID, shared.Calendar{Location: time.UTC, MonthStartDay: 1}.Day(testNow))
	require.NoError(t, err)
	require.Len(t, records, writers)
	for i, rec := range records {
		require.True(t, rec.BalanceAfter.Equal(dec("60").Mul(decimal.NewFromInt(int64(i+1)))), "record %d balance_after %s", i, rec.BalanceAfter)
	}
	require.Equal(t, writers, countRows(t, pool, `SELECT count(*) FROM notification_events`))

	drifts, err := svc.VerifyBalances(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestRepositoryAppendIsIdempotent(t *testing.T) {
	svc, pool := newPostgresService(t)
	ctx := context.Background()
	supplier := mustParty(t, svc, PartySupplier, "S-1")

	in := collection(supplier.ID, "10", "40")
	in.ID = uuid.New()

	type outcome struct {
		res AppendResult
		err error
	}
	var wg sync.WaitGroup
	results := make(chan outcome, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RecordCollection(ctx, in)
			results <- outcome{res, err}
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	for o := range results {
		require.NoError(t, o.err)
		res := o.res
		require.Equal(t, in.ID, res.Record.ID)
		if !res.Replayed {
			fresh++
		}
	}
	require.Equal(t, 1, fresh)
	require.Equal(t, 1, countRows(t, pool, `SELECT count(*) FROM ledger_records WHERE id = $1`, in.ID))
	require.Equal(t, 1, countRows(t, pool, `SELECT count(*) FROM notification_events`))
	require.Equal(t, 1, countRows(t, pool, `SELECT count(*) FROM notification_transitions`))

	got, err := svc.GetParty(ctx, supplier.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("400")))
}

func TestRepositoryStoresExactAmounts(t *testing.T) {
	svc, _ := newPostgresService(t)
	ctx := context.Background()
	supplier := mustParty(t, svc, PartySupplier, "S-1")

	in := collection(supplier.ID, "10.25", "40.55")
	in.ID = uuid.New()
	first, err := svc.RecordCollection(ctx, in)
	require.NoError(t, err)

	replay, err := svc.RecordCollection(ctx, in)
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.True(t, replay.Record.Amount.Equal(first.Record.Amount), "stored %s, returned %s", replay.Record.Amount, first.Record.Amount)
	require.True(t, replay.Record.Amount.Equal(replay.Record.Quantity.Mul(replay.Record.Rate)))
	require.True(t, replay.Record.BalanceAfter.Equal(dec("415.6375")))
}

func TestRepositoryRangesAreHalfOpen(t *testing.T) {
	svc, _ := newPostgresService(t)
	ctx := context.Background()
	supplier := mustParty(t, svc, PartySupplier, "S-1")

	for _, day := range []int{1, 2, 3} {
		in := collection(supplier.ID, "1", "40")
		in.Date = time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC)
		_, err := svc.RecordCollection(ctx, in)
		require.NoError(t, err)
	}
	r := shared.DateRange{From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)}
	records, err := svc.Records(ctx, r, RecordCollection)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "2026-03-01", shared.FormatDate(records[0].Date))
	require.Equal(t, "2026-03-02", shared.FormatDate(records[1].Date))

	sales, err := svc.Records(ctx, r, RecordSale)
	require.NoError(t, err)
	require.Empty(t, sales)
}
