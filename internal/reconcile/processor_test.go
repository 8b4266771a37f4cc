package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/transaction"
	"github.com/ksred/steam-billing-api/internal/types"
)

// fakeGateway serves queued reports. Only GetReport is implemented.
type fakeGateway struct {
	steam.Gateway

	mu      sync.Mutex
	reports []*steam.Report
	err     error
	queries []steam.ReportQuery
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeGateway) GetReport(ctx context.Context, q steam.ReportQuery) (*steam.Report, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.reports) == 0 {
		return &steam.Report{}, nil
	}
	r := f.reports[0]
	f.reports = f.reports[1:]
	return r, nil
}

type failingStore struct {
	transaction.Store
	failOrder string
	upserted  []string
}

func (s *failingStore) Upsert(_ context.Context, tx *transaction.Transaction) error {
	if tx.OrderID == s.failOrder {
		return types.ErrPersistence
	}
	s.upserted = append(s.upserted, tx.OrderID)
	return nil
}

func newSQLStore(t *testing.T) *transaction.Database {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&transaction.Transaction{}))
	return transaction.NewDatabase(db)
}

func TestProcessor_Window(t *testing.T) {
	p := NewProcessor(&fakeGateway{}, &failingStore{}, Options{})
	now := time.Date(2024, 5, 1, 10, 0, 0, 500, time.UTC)

	assert.Equal(t, time.Date(2024, 5, 1, 9, 54, 55, 0, time.UTC), p.Window(now))
	assert.Equal(t, "2024-05-01T09:54:55Z", p.Window(now).Format(steam.ReportTimeFormat))
}

func TestProcessor_WindowAlwaysOverlapsPreviousTick(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, margin := range []time.Duration{0, -time.Second} {
		p := NewProcessor(&fakeGateway{}, &failingStore{}, Options{Interval: time.Minute, SafetyMargin: margin})
		previousTick := now.Add(-time.Minute)
		assert.True(t, p.Window(now).Before(previousTick), "margin %s", margin)
		assert.Equal(t, time.Date(2024, 5, 1, 9, 58, 55, 0, time.UTC), p.Window(now))
	}
}

func TestProcessor_RunOnceQueriesWindow(t *testing.T) {
	gw := &fakeGateway{}
	p := NewProcessor(gw, &failingStore{}, Options{Interval: time.Minute, SafetyMargin: 10 * time.Second, MaxResults: 50})
	p.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 58, 50, 0, time.UTC), res.WindowStart)

	require.Len(t, gw.queries, 1)
	assert.Equal(t, steam.ReportTypeSubscription, gw.queries[0].Type)
	assert.Equal(t, 50, gw.queries[0].MaxResults)
	assert.Equal(t, res.WindowStart, gw.queries[0].Since)
}

func TestProcessor_ApprovedThenSucceededLeavesOneRow(t *testing.T) {
	ctx := context.Background()
	store := newSQLStore(t)
	gw := &fakeGateway{reports: []*steam.Report{
		{Count: 1, Orders: []steam.ReportOrder{reportOrder("A1", "T1", types.StatusApproved, "2024-05-01T10:00:00Z")}},
		{Count: 1, Orders: []steam.ReportOrder{reportOrder("A1", "T1", types.StatusSucceeded, "2024-05-01T10:04:00Z")}},
	}}
	p := NewProcessor(gw, store, Options{})

	for i := 0; i < 2; i++ {
		res, err := p.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Upserted)
	}

	txs, err := store.ForAgreement(ctx, "7656", "AG1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, types.StatusSucceeded, txs[0].Status)
}

func TestProcessor_RecordFailuresDoNotStopBatch(t *testing.T) {
	bad := reportOrder("A2", "T2", types.StatusApproved, "not-a-time")
	gw := &fakeGateway{reports: []*steam.Report{{Orders: []steam.ReportOrder{
		reportOrder("A1", "T1", types.StatusApproved, "2024-05-01T10:00:00Z"),
		bad,
		reportOrder("A3", "T3", types.StatusApproved, "2024-05-01T10:00:00Z"),
		reportOrder("A4", "T4", types.StatusApproved, "2024-05-01T10:00:00Z"),
	}}}}
	store := &failingStore{failOrder: "A3"}
	p := NewProcessor(gw, store, Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Reported)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"A1", "A4"}, store.upserted)
}

func TestProcessor_PlatformFailureFailsTick(t *testing.T) {
	gw := &fakeGateway{err: &steam.PlatformError{Operation: "GetReport", Description: "boom"}}
	p := NewProcessor(gw, &failingStore{}, Options{})

	_, err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, types.ErrPlatform)

	gw.err = nil
	_, err = p.RunOnce(context.Background())
	assert.NoError(t, err)
}

func TestProcessor_SkipsWhileRunning(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := NewProcessor(gw, &failingStore{}, Options{})

	done := make(chan TickResult)
	go func() {
		res, _ := p.RunOnce(context.Background())
		done <- res
	}()
	<-gw.entered

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(gw.block)
	first := <-done
	assert.False(t, first.Skipped)

	gw.mu.Lock()
	assert.Len(t, gw.queries, 1)
	gw.mu.Unlock()
}

func TestProcessor_StartStopsOnCancel(t *testing.T) {
	gw := &fakeGateway{}
	p := NewProcessor(gw, &failingStore{}, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(stopped)
	}()

	assert.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.queries) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestProcessor_StoreErrorsAreCounted(t *testing.T) {
	gw := &fakeGateway{reports: []*steam.Report{{Orders: []steam.ReportOrder{
		reportOrder("A1", "T1", types.StatusApproved, "2024-05-01T10:00:00Z"),
	}}}}
	p := NewProcessor(gw, &failingStore{failOrder: "A1"}, Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, errors.Is(err, types.ErrPersistence))
}
